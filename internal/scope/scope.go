// Package scope loads the content a run looks at.
package scope

import (
	"context"
	"strings"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/store"
)

// Content is everything in one run scope
type Content struct {
	Pages     []model.Page
	Documents []model.Document
	Insights  []model.Insight
}

// Len returns the number of content items
func (c *Content) Len() int {
	return len(c.Pages) + len(c.Documents) + len(c.Insights)
}

// Provider returns current content for a scope
type Provider interface {
	Load(ctx context.Context, sc model.Scope) (*Content, error)
}

// StoreProvider reads scopes from the content store.
//
// An empty scope selects everything. Naming pages selects only those pages;
// naming document ids selects those documents and any insight whose id (or
// "insight:<id>" projection id) is listed. Since applies to all three.
// Insight projection documents are never returned as documents: the insight
// itself is checked instead.
type StoreProvider struct {
	content store.ContentStore
}

// NewStoreProvider creates a provider over content
func NewStoreProvider(content store.ContentStore) *StoreProvider {
	return &StoreProvider{content: content}
}

// Load implements Provider
func (p *StoreProvider) Load(ctx context.Context, sc model.Scope) (*Content, error) {
	all := len(sc.Pages) == 0 && len(sc.DocumentIDs) == 0
	out := &Content{}

	if all || len(sc.Pages) > 0 {
		pages, err := p.content.ListPages(ctx, store.ContentFilter{IDs: sc.Pages, Since: sc.Since})
		if err != nil {
			return nil, apperr.Upstream(err, "load pages")
		}
		out.Pages = pages
	}

	if all || len(sc.DocumentIDs) > 0 {
		docs, err := p.content.ListDocuments(ctx, store.ContentFilter{IDs: sc.DocumentIDs, Since: sc.Since})
		if err != nil {
			return nil, apperr.Upstream(err, "load documents")
		}
		for _, doc := range docs {
			if doc.Kind != model.DocumentInsight {
				out.Documents = append(out.Documents, doc)
			}
		}

		insights, err := p.content.ListInsights(ctx, store.ContentFilter{IDs: insightIDs(sc.DocumentIDs), Since: sc.Since})
		if err != nil {
			return nil, apperr.Upstream(err, "load insights")
		}
		out.Insights = insights
	}

	return out, nil
}

// insightIDs maps "insight:<id>" entries to insight ids and passes the rest
// through, since a plain id may name either kind.
func insightIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		out = append(out, strings.TrimPrefix(id, "insight:"))
	}
	return out
}
