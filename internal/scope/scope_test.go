package scope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/store"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertPage(ctx, model.Page{Name: "uae", Data: map[string]any{"vat": "5%"}, UpdatedAt: t0}))
	require.NoError(t, st.UpsertPage(ctx, model.Page{Name: "ksa", Data: map[string]any{"vat": "15%"}, UpdatedAt: t0.Add(48 * time.Hour)}))
	require.NoError(t, st.UpsertDocument(ctx, model.Document{ID: "doc-1", Kind: model.DocumentArticle, Content: "a", UpdatedAt: t0}))
	require.NoError(t, st.UpsertDocument(ctx, model.Document{ID: "news-1", Kind: model.DocumentNews, Content: "b", UpdatedAt: t0.Add(72 * time.Hour)}))
	in := model.Insight{ID: "ins-1", Claim: "VAT is 5%", UpdatedAt: t0.Add(24 * time.Hour)}
	require.NoError(t, st.UpsertInsight(ctx, in))
	require.NoError(t, st.UpsertDocument(ctx, model.ProjectInsight(in)))
	return st
}

func TestLoadEverything(t *testing.T) {
	c, err := NewStoreProvider(seeded(t)).Load(context.Background(), model.Scope{})
	require.NoError(t, err)

	assert.Len(t, c.Pages, 2)
	require.Len(t, c.Documents, 2, "insight projections are skipped")
	assert.Equal(t, "news-1", c.Documents[0].ID)
	assert.Len(t, c.Insights, 1)
	assert.Equal(t, 5, c.Len())
}

func TestLoadPagesOnly(t *testing.T) {
	c, err := NewStoreProvider(seeded(t)).Load(context.Background(), model.Scope{Pages: []string{"uae"}})
	require.NoError(t, err)

	require.Len(t, c.Pages, 1)
	assert.Equal(t, "uae", c.Pages[0].Name)
	assert.Empty(t, c.Documents)
	assert.Empty(t, c.Insights)
}

func TestLoadDocumentIDs(t *testing.T) {
	c, err := NewStoreProvider(seeded(t)).Load(context.Background(), model.Scope{DocumentIDs: []string{"doc-1", "insight:ins-1"}})
	require.NoError(t, err)

	assert.Empty(t, c.Pages)
	require.Len(t, c.Documents, 1)
	assert.Equal(t, "doc-1", c.Documents[0].ID)
	require.Len(t, c.Insights, 1)
	assert.Equal(t, "ins-1", c.Insights[0].ID)
}

func TestLoadSince(t *testing.T) {
	since := t0.Add(36 * time.Hour)
	c, err := NewStoreProvider(seeded(t)).Load(context.Background(), model.Scope{Since: &since})
	require.NoError(t, err)

	require.Len(t, c.Pages, 1)
	assert.Equal(t, "ksa", c.Pages[0].Name)
	require.Len(t, c.Documents, 1)
	assert.Equal(t, "news-1", c.Documents[0].ID)
	assert.Empty(t, c.Insights)
}
