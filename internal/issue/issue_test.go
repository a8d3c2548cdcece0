package issue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/apply"
	"github.com/ppiankov/evalagent/internal/events"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/store"
)

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func fixedClock() func() time.Time {
	return func() time.Time { return t0 }
}

// scenarioBIssue is the issue a needs_update verdict on the UAE corporate
// tax claim produces.
func scenarioBIssue() *model.Issue {
	return &model.Issue{
		RunID:          "run-1",
		ObjectType:     model.ObjectDocument,
		ObjectID:       "doc-42",
		ObjectLocator:  "document:doc-42#corporate_tax",
		Claim:          "UAE corporate tax rate is 5%",
		ClaimType:      model.ClaimTypeNumeric,
		Verdict:        model.VerdictNeedsUpdate,
		Severity:       model.SeverityMed,
		Confidence:     0.85,
		CurrentText:    strPtr("Since 2023 the corporate tax rate is 5% for large firms."),
		SuggestedFix:   strPtr("Since 2023 the corporate tax rate is 9% for large firms."),
		SuggestedPatch: &model.Patch{Field: "corporateTaxRate", OldValue: "5%", NewValue: "9%", AsOf: "2023-06"},
		References:     []string{"https://tax.gov.ae/en"},
	}
}

type fixture struct {
	svc    *Service
	store  store.Store
	events *events.Recorder
}

func newFixture(t *testing.T, st store.Store, fixer Fixer) fixture {
	t.Helper()
	rec := &events.Recorder{}
	n := 0
	svc := NewService(st, fixer,
		WithEvents(rec),
		WithClock(fixedClock()),
		WithIDFunc(func() string { n++; return "iss-" + string(rune('0'+n)) }))
	return fixture{svc: svc, store: st, events: rec}
}

func sqliteStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func backends(t *testing.T) map[string]store.Store {
	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": sqliteStore(t),
	}
}

type fixerFunc func(ctx context.Context, issue *model.Issue) (apply.Result, error)

func (f fixerFunc) Apply(ctx context.Context, issue *model.Issue) (apply.Result, error) {
	return f(ctx, issue)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	ctx := context.Background()

	issue := scenarioBIssue()
	issue.Status = model.IssueFixed
	issue.References = nil
	require.NoError(t, f.svc.Create(ctx, issue))

	assert.Equal(t, "iss-1", issue.ID)
	assert.Equal(t, model.IssueOpen, issue.Status)
	assert.Equal(t, t0, issue.CreatedAt)
	assert.Equal(t, []string{}, issue.References)
	assert.Equal(t, []string{events.IssueCreated}, f.events.Types())

	got, err := f.svc.Get(ctx, "iss-1")
	require.NoError(t, err)
	assert.Equal(t, model.SeverityMed, got.Severity)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	mutate := map[string]func(*model.Issue){
		"no run id":                   func(i *model.Issue) { i.RunID = "" },
		"bad object type":             func(i *model.Issue) { i.ObjectType = "video" },
		"no locator":                  func(i *model.Issue) { i.ObjectLocator = " " },
		"supported":                   func(i *model.Issue) { i.Verdict = model.VerdictSupported },
		"bad confidence":              func(i *model.Issue) { i.Confidence = 1.5 },
		"bad severity":                func(i *model.Issue) { i.Severity = "critical" },
		"needs update without fix":    func(i *model.Issue) { i.SuggestedFix = nil },
		"contradicted with blank fix": func(i *model.Issue) { i.Verdict, i.SuggestedFix = model.VerdictContradicted, strPtr("  ") },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			issue := scenarioBIssue()
			fn(issue)
			err := f.svc.Create(context.Background(), issue)
			assert.True(t, apperr.Is(err, apperr.KindInvalidRequest), "got %v", err)
		})
	}
	assert.Empty(t, f.events.Events())
}

func TestCreateAcceptsUnverifiableWithHintFix(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	issue := scenarioBIssue()
	issue.Verdict = model.VerdictUnverifiable
	issue.SuggestedFix = strPtr("tax: verify against Federal Tax Authority (regulator)")
	issue.SuggestedPatch = nil

	require.NoError(t, f.svc.Create(context.Background(), issue))
	assert.Equal(t, model.IssueOpen, issue.Status)
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	_, err := f.svc.Get(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	_, err := f.svc.List(context.Background(), "closed", 10)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

// Approving while the document still holds the old figure updates the
// content and marks the issue fixed.
func TestApproveAppliesFix(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.UpsertDocument(ctx, model.Document{
				ID: "doc-42", Kind: model.DocumentArticle, Title: "Tax",
				Content: "Since 2023 the corporate tax rate is 5% for large firms.", UpdatedAt: t0.Add(-time.Hour),
			}))
			applier := apply.New(st, apply.WithClock(fixedClock()))
			f := newFixture(t, st, applier)

			issue := scenarioBIssue()
			require.NoError(t, f.svc.Create(ctx, issue))

			dec, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "alice")
			require.NoError(t, err)
			require.NotNil(t, dec.Applied)
			assert.Equal(t, "doc-42", dec.Applied.TargetID)
			assert.Equal(t, model.IssueFixed, dec.Issue.Status)

			stored, err := f.svc.Get(ctx, issue.ID)
			require.NoError(t, err)
			assert.Equal(t, model.IssueFixed, stored.Status)
			require.NotNil(t, stored.ApprovedAt)
			assert.True(t, t0.Equal(*stored.ApprovedAt))
			assert.Equal(t, "alice", *stored.ApprovedBy)

			doc, err := st.GetDocument(ctx, "doc-42")
			require.NoError(t, err)
			assert.Equal(t, "Since 2023 the corporate tax rate is 9% for large firms.", doc.Content)

			assert.Equal(t, []string{events.IssueCreated, events.IssueFixed}, f.events.Types())
		})
	}
}

func TestApproveWithoutFixIsRejected(t *testing.T) {
	var applied atomic.Int32
	f := newFixture(t, store.NewMemoryStore(), fixerFunc(func(context.Context, *model.Issue) (apply.Result, error) {
		applied.Add(1)
		return apply.Result{}, nil
	}))
	ctx := context.Background()

	issue := scenarioBIssue()
	issue.Verdict = model.VerdictUnverifiable
	issue.SuggestedFix = nil
	issue.SuggestedPatch = nil
	require.NoError(t, f.svc.Create(ctx, issue))

	_, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	stored, _ := f.svc.Get(ctx, issue.ID)
	assert.Equal(t, model.IssueOpen, stored.Status)
	assert.Zero(t, applied.Load())
}

func TestApplyFailureRollsBackToOpen(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.UpsertDocument(ctx, model.Document{ID: "doc-42", Content: "The rate is now 9%.", UpdatedAt: t0}))
			f := newFixture(t, st, apply.New(st))

			issue := scenarioBIssue()
			require.NoError(t, f.svc.Create(ctx, issue))

			_, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "alice")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindConflict))

			stored, _ := f.svc.Get(ctx, issue.ID)
			assert.Equal(t, model.IssueOpen, stored.Status)
			assert.Nil(t, stored.ApprovedAt)
			assert.Nil(t, stored.ApprovedBy)

			doc, _ := st.GetDocument(ctx, "doc-42")
			assert.Equal(t, "The rate is now 9%.", doc.Content)
		})
	}
}

func TestDismiss(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	ctx := context.Background()
	issue := scenarioBIssue()
	require.NoError(t, f.svc.Create(ctx, issue))

	dec, err := f.svc.Decide(ctx, issue.ID, ActionDismiss, "bob")
	require.NoError(t, err)
	assert.Nil(t, dec.Applied)
	assert.Equal(t, model.IssueDismissed, dec.Issue.Status)
	assert.Equal(t, "bob", *dec.Issue.ApprovedBy)
	assert.Equal(t, []string{events.IssueCreated, events.IssueDismissed}, f.events.Types())
}

func TestTerminalIssuesRejectSecondDecision(t *testing.T) {
	var applied atomic.Int32
	fixer := fixerFunc(func(context.Context, *model.Issue) (apply.Result, error) {
		applied.Add(1)
		return apply.Result{AppliedTo: model.ObjectDocument, TargetID: "doc-42"}, nil
	})

	for _, first := range []Action{ActionApprove, ActionDismiss} {
		for _, second := range []Action{ActionApprove, ActionDismiss} {
			t.Run(string(first)+"_then_"+string(second), func(t *testing.T) {
				applied.Store(0)
				f := newFixture(t, store.NewMemoryStore(), fixer)
				ctx := context.Background()
				issue := scenarioBIssue()
				require.NoError(t, f.svc.Create(ctx, issue))

				_, err := f.svc.Decide(ctx, issue.ID, first, "alice")
				require.NoError(t, err)
				before, _ := f.svc.Get(ctx, issue.ID)

				_, err = f.svc.Decide(ctx, issue.ID, second, "mallory")
				assert.True(t, apperr.Is(err, apperr.KindConflict))

				after, _ := f.svc.Get(ctx, issue.ID)
				assert.Equal(t, before, after)
				if first == ActionApprove {
					assert.Equal(t, int32(1), applied.Load())
				}
			})
		}
	}
}

func TestApprovalInFlightBlocksOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fixer := fixerFunc(func(context.Context, *model.Issue) (apply.Result, error) {
		close(entered)
		<-release
		return apply.Result{AppliedTo: model.ObjectDocument, TargetID: "doc-42", Action: apply.ActionDocumentUpdated}, nil
	})
	f := newFixture(t, store.NewMemoryStore(), fixer)
	ctx := context.Background()
	issue := scenarioBIssue()
	require.NoError(t, f.svc.Create(ctx, issue))

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "alice")
		done <- err
	}()
	<-entered

	_, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "bob")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = f.svc.Decide(ctx, issue.ID, ActionDismiss, "bob")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	close(release)
	require.NoError(t, <-done)
	stored, _ := f.svc.Get(ctx, issue.ID)
	assert.Equal(t, model.IssueFixed, stored.Status)
	assert.Equal(t, "alice", *stored.ApprovedBy)
}

// Concurrent approvals on one open issue: exactly one reaches fixed and
// the fix is applied once.
func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var applied atomic.Int32
			fixer := fixerFunc(func(context.Context, *model.Issue) (apply.Result, error) {
				applied.Add(1)
				time.Sleep(5 * time.Millisecond)
				return apply.Result{AppliedTo: model.ObjectDocument, TargetID: "doc-42"}, nil
			})
			f := newFixture(t, st, fixer)
			ctx := context.Background()
			issue := scenarioBIssue()
			require.NoError(t, f.svc.Create(ctx, issue))

			const approvers = 8
			var wg sync.WaitGroup
			var wins, conflicts atomic.Int32
			for i := 0; i < approvers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "op")
					switch {
					case err == nil:
						wins.Add(1)
					case apperr.Is(err, apperr.KindConflict):
						conflicts.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(approvers-1), conflicts.Load())
			assert.Equal(t, int32(1), applied.Load())
			stored, _ := f.svc.Get(ctx, issue.ID)
			assert.Equal(t, model.IssueFixed, stored.Status)
		})
	}
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	ctx := context.Background()
	issue := scenarioBIssue()
	require.NoError(t, f.svc.Create(ctx, issue))

	got, err := f.svc.SetStatus(ctx, issue.ID, model.IssueTriaged)
	require.NoError(t, err)
	assert.Equal(t, model.IssueTriaged, got.Status)

	_, err = f.svc.SetStatus(ctx, issue.ID, model.IssueTriaged)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.svc.SetStatus(ctx, issue.ID, model.IssueOpen)
	require.NoError(t, err)
}

func TestDecideRejectsUnknownAction(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), nil)
	_, err := f.svc.Decide(context.Background(), "iss-1", "escalate", "alice")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestRollbackFailureStillReturnsApplyError(t *testing.T) {
	applyErr := errors.New("disk full")
	f := newFixture(t, store.NewMemoryStore(), fixerFunc(func(context.Context, *model.Issue) (apply.Result, error) {
		return apply.Result{}, applyErr
	}))
	ctx := context.Background()
	issue := scenarioBIssue()
	require.NoError(t, f.svc.Create(ctx, issue))

	_, err := f.svc.Decide(ctx, issue.ID, ActionApprove, "alice")
	assert.ErrorIs(t, err, applyErr)
	stored, _ := f.svc.Get(ctx, issue.ID)
	assert.Equal(t, model.IssueOpen, stored.Status)
}
