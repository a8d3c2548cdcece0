package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/events"
	"github.com/ppiankov/evalagent/internal/issue"
	"github.com/ppiankov/evalagent/internal/judge"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/registry"
	"github.com/ppiankov/evalagent/internal/scope"
	"github.com/ppiankov/evalagent/internal/store"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// scripted answers extraction and verification prompts separately
type scripted struct {
	mu      sync.Mutex
	extract func(user string) string
	verify  func(user string) string
	verifyN int
	prompts []string
}

func (s *scripted) Complete(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.Contains(system, "extract atomic factual claims") {
		return s.extract(user), nil
	}
	s.verifyN++
	s.prompts = append(s.prompts, user)
	return s.verify(user), nil
}

type fixture struct {
	store  *store.MemoryStore
	issues *issue.Service
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertSource(ctx, model.Source{
		ID: "fta", Name: "Federal Tax Authority", Category: model.CategoryRegulator,
		BaseURL: "https://tax.gov.ae", TrustLevel: 5, Active: true, Topics: []string{"tax"},
	}))
	require.NoError(t, st.UpsertSource(ctx, model.Source{
		ID: "reuters", Name: "Reuters", Category: model.CategoryReputableMedia,
		BaseURL: "https://www.reuters.com", TrustLevel: 3, Active: true,
	}))

	rec := &events.Recorder{}
	ids := 0
	return &fixture{
		store:  st,
		events: rec,
		issues: issue.NewService(st, nil, issue.WithEvents(rec), issue.WithClock(func() time.Time { return now }),
			issue.WithIDFunc(func() string { ids++; return "issue-" + string(rune('a'+ids-1)) })),
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{
		WithClock(func() time.Time { return now }),
		WithIDFunc(func() string { return "run-1" }),
		WithEvents(f.events),
		WithBatchOptions(judge.BatchOptions{
			Concurrency: 2, Pacing: time.Second, MaxClaims: 25, Prioritize: true,
			Sleep: func(context.Context, time.Duration) error { return nil },
		}),
	}
	return New(f.store, registry.New(f.store), scope.NewStoreProvider(f.store), f.issues, append(base, opts...)...)
}

func uaePage() model.Page {
	return model.Page{
		Name: "uae",
		Data: map[string]any{
			"asOf": "2020-01-15",
			"legal": map[string]any{
				"corporateTax": "9%",
			},
		},
		UpdatedAt: now.Add(-time.Hour),
	}
}

func TestDailyRulesRaisesHintedClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPage(ctx, uaePage()))

	res, err := f.orchestrator().Trigger(ctx, TriggerRequest{RunType: model.RunTypeDailyRules, TriggeredBy: "cron"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, res.Status)
	assert.Equal(t, "run-1", res.RunID)
	require.Equal(t, 1, res.IssuesFound)

	issues, err := f.store.ListIssues(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	got := issues[0]
	assert.Equal(t, model.ObjectPage, got.ObjectType)
	assert.Equal(t, "uae", got.ObjectID)
	assert.Equal(t, "uae.legal.corporateTax", got.ObjectLocator)
	assert.Equal(t, model.VerdictUnverifiable, got.Verdict)
	assert.Equal(t, model.SeverityLow, got.Severity)
	assert.Equal(t, 0.5, got.Confidence)
	require.NotNil(t, got.SuggestedFix)
	assert.Contains(t, *got.SuggestedFix, "tax: verify against Federal Tax Authority (regulator)")
	assert.Contains(t, *got.SuggestedFix, "; stale: last updated 2020-01-15")
	assert.Equal(t, []string{"https://tax.gov.ae"}, got.References)

	run, err := f.store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.NotNil(t, run.Summary)
	assert.Equal(t, []model.RunType{model.RunTypeDailyRules}, run.Summary.Strategies)
	assert.Equal(t, 1, run.Summary.IssuesFound)
	assert.Equal(t, 1, run.Summary.BySeverity[model.SeverityLow])
	assert.Equal(t, "cron", run.TriggeredBy)
	assert.NotEmpty(t, run.Logs)

	assert.Equal(t, []string{events.IssueCreated, events.RunFinished}, f.events.Types())
}

func TestDailyRulesCoversDocumentsAndInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertDocument(ctx, model.Document{
		ID: "n1", Kind: model.DocumentNews, Title: "Tax news",
		Content: "The new excise tax applies to sweetened drinks. Dubai weather was pleasant.", UpdatedAt: now,
	}))
	require.NoError(t, f.store.UpsertInsight(ctx, model.Insight{
		ID: "i1", Claim: "Golden visa holders may sponsor family members", UpdatedAt: now,
	}))

	res, err := f.orchestrator().Trigger(ctx, TriggerRequest{RunType: model.RunTypeDailyRules})
	require.NoError(t, err)
	assert.Equal(t, 2, res.IssuesFound)

	issues, err := f.store.ListIssues(ctx, model.IssueOpen, 0)
	require.NoError(t, err)
	byType := map[model.ObjectType]model.Issue{}
	for _, is := range issues {
		byType[is.ObjectType] = is
	}
	assert.Equal(t, "n1", byType[model.ObjectNews].ObjectID)
	assert.Equal(t, "document:n1#s0", byType[model.ObjectNews].ObjectLocator)
	assert.Equal(t, "i1", byType[model.ObjectInsight].ObjectID)
	assert.Contains(t, *byType[model.ObjectInsight].SuggestedFix, "visa: no regulator or official source registered")
}

func TestWeeklyFactcheckCreatesIssuesForNonSupportedVerdicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertDocument(ctx, model.Document{
		ID: "doc-1", Kind: model.DocumentArticle, Title: "Corporate tax",
		Content: "The UAE corporate tax rate is 5% for all companies. Dubai is busy.", UpdatedAt: now,
	}))

	llm := &scripted{
		extract: func(string) string {
			return `{"claims":[
				{"text":"UAE corporate tax rate is 5%","claim_type":"numeric","current_text":"5%","locator":"rate"},
				{"text":"Dubai is busy","claim_type":"definition","current_text":"Dubai is busy"}
			]}`
		},
		verify: func(string) string {
			return `{"verdict":"needs_update","confidence":0.8,"rationale":"rate changed",
				"suggested_fix":"The UAE corporate tax rate is 9% above AED 375,000.",
				"suggested_patch":{"field":"corporate_tax","old_value":"5%","new_value":"9%","as_of":"2023-06"},
				"references":["https://tax.gov.ae/en/ct","https://blog.example.com/tax"]}`
		},
	}

	res, err := f.orchestrator(WithCompleter(llm)).Trigger(ctx, TriggerRequest{RunType: model.RunTypeWeeklyFactcheck})
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesFound)
	assert.Equal(t, 1, llm.verifyN, "the definition claim is filtered by priority")

	issues, err := f.store.ListIssues(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	got := issues[0]
	assert.Equal(t, model.ObjectDocument, got.ObjectType)
	assert.Equal(t, "doc-1", got.ObjectID)
	assert.Equal(t, "document:doc-1#rate", got.ObjectLocator)
	assert.Equal(t, model.VerdictNeedsUpdate, got.Verdict)
	assert.Equal(t, model.SeverityMed, got.Severity)
	assert.Equal(t, "5%", got.CurrentTextValue())
	require.NotNil(t, got.SuggestedPatch)
	assert.Equal(t, "9%", got.SuggestedPatch.NewValue)
	assert.Equal(t, []string{"https://tax.gov.ae/en/ct"}, got.References)

	assert.Contains(t, llm.prompts[0], "Federal Tax Authority")
	assert.Contains(t, llm.prompts[0], "Rule hints:")

	run, err := f.store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Summary.ClaimsExtracted)
	assert.Equal(t, 1, run.Summary.ClaimsVerified)
	assert.Equal(t, 1, run.Summary.ByVerdict[model.VerdictNeedsUpdate])
	assert.InDelta(t, 0.8, run.Summary.MeanConfidence, 1e-9)
}

func TestWeeklyFactcheckAnchorsPageClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPage(ctx, uaePage()))

	llm := &scripted{
		extract: func(user string) string {
			if !strings.Contains(user, "corporateTax") {
				return `{"claims":[]}`
			}
			return `{"claims":[{"text":"UAE corporate tax is 9%","claim_type":"numeric","current_text":"9%"}]}`
		},
		verify: func(string) string {
			return `{"verdict":"contradicted","confidence":0.7,"rationale":"r",
				"suggested_fix":"UAE corporate tax is 9% above AED 375,000",
				"suggested_patch":{"field":"corporateTax","old_value":"9%","new_value":"9% above AED 375,000","as_of":"2023-06"},
				"references":[]}`
		},
	}

	_, err := f.orchestrator(WithCompleter(llm)).Trigger(ctx, TriggerRequest{
		RunType: model.RunTypeWeeklyFactcheck, Scope: model.Scope{Pages: []string{"uae"}},
	})
	require.NoError(t, err)

	issues, err := f.store.ListIssues(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.ObjectPage, issues[0].ObjectType)
	assert.Equal(t, "uae", issues[0].ObjectID)
	assert.Equal(t, "uae.legal.corporateTax", issues[0].ObjectLocator)
	assert.Equal(t, model.SeverityHigh, issues[0].Severity)
}

type recordingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingFetcher) SourceContent(_ context.Context, sources []model.Source) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "[" + sources[0].Name + "] " + sources[0].BaseURL + "\nCorporate tax is 9% above AED 375,000."
}

func TestWeeklyFactcheckAttachesSourceContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertDocument(ctx, model.Document{
		ID: "doc-1", Kind: model.DocumentArticle, Content: "Corporate tax is 9%.", UpdatedAt: now,
	}))
	llm := &scripted{
		extract: func(string) string {
			return `{"claims":[{"text":"Corporate tax is 9%","claim_type":"numeric","current_text":"9%"}]}`
		},
		verify: func(string) string { return `{"verdict":"supported","confidence":0.9,"references":[]}` },
	}
	fetcher := &recordingFetcher{}

	res, err := f.orchestrator(WithCompleter(llm), WithFetcher(fetcher)).Trigger(ctx, TriggerRequest{RunType: model.RunTypeWeeklyFactcheck})
	require.NoError(t, err)
	assert.Equal(t, 0, res.IssuesFound)
	assert.Equal(t, 1, fetcher.calls)
	assert.Contains(t, llm.prompts[0], "Source content:")
	assert.Contains(t, llm.prompts[0], "AED 375,000")
}

func TestOnDemandRunsBothStrategies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertDocument(ctx, model.Document{
		ID: "doc-1", Kind: model.DocumentArticle, Content: "The corporate tax rate is 5% on profits.", UpdatedAt: now,
	}))
	llm := &scripted{
		extract: func(string) string {
			return `{"claims":[{"text":"Corporate tax rate is 5%","claim_type":"numeric","current_text":"5%"}]}`
		},
		verify: func(string) string { return `{"verdict":"unverifiable","confidence":0.2,"references":[]}` },
	}

	res, err := f.orchestrator(WithCompleter(llm)).Trigger(ctx, TriggerRequest{RunType: model.RunTypeOnDemand})
	require.NoError(t, err)
	assert.Equal(t, 2, res.IssuesFound)

	run, err := f.store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []model.RunType{model.RunTypeDailyRules, model.RunTypeWeeklyFactcheck}, run.Summary.Strategies)
	assert.Equal(t, 2, run.Summary.ByVerdict[model.VerdictUnverifiable])
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPage(ctx, uaePage()))

	res, err := f.orchestrator(WithCompleter(&scripted{})).Trigger(ctx, TriggerRequest{RunType: model.RunTypeOnDemand, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDryRun, res.Status)
	assert.Empty(t, res.RunID)
	require.NotNil(t, res.Plan)
	assert.Equal(t, 1, res.Plan.Pages)
	assert.Len(t, res.Plan.Strategies, 2)

	runs, err := f.store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, f.events.Types())
}

func TestTriggerRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	future := now.Add(48 * time.Hour)

	for name, req := range map[string]TriggerRequest{
		"unknown run type": {RunType: "hourly"},
		"future since":     {RunType: model.RunTypeDailyRules, Scope: model.Scope{Since: &future}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.orchestrator().Trigger(context.Background(), req)
			assert.True(t, apperr.Is(err, apperr.KindInvalidRequest), "got %v", err)
		})
	}
}

func TestModelRunsRequireCompleter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertDocument(ctx, model.Document{
		ID: "doc-1", Kind: model.DocumentArticle, Content: "The corporate tax rate is 5%.", UpdatedAt: now,
	}))

	for _, rt := range []model.RunType{model.RunTypeWeeklyFactcheck, model.RunTypeOnDemand} {
		for _, dry := range []bool{false, true} {
			res, err := f.orchestrator().Trigger(ctx, TriggerRequest{RunType: rt, DryRun: dry})
			assert.True(t, apperr.Is(err, apperr.KindInvalidRequest), "%s dry=%t: got %v", rt, dry, err)
			assert.Empty(t, res.RunID)
		}
	}

	runs, err := f.store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, f.events.Types())

	res, err := f.orchestrator().Trigger(ctx, TriggerRequest{RunType: model.RunTypeDailyRules})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, res.Status)
}

func TestWeeklyInsightClaimsComeFromClaimOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertInsight(ctx, model.Insight{
		ID: "i1", Claim: "Corporate tax is 5% on profits.", Rationale: "The 2019 guidance set AED 500 filing fees.",
		Category: "tax", UpdatedAt: now,
	}))

	var extractInput string
	llm := &scripted{
		extract: func(user string) string {
			extractInput = user
			return `{"claims":[
				{"text":"Corporate tax is 5%","claim_type":"numeric","current_text":"5%"},
				{"text":"Filing fees are AED 500","claim_type":"numeric","current_text":"AED 500"}
			]}`
		},
		verify: func(string) string {
			return `{"verdict":"needs_update","confidence":0.8,
				"suggested_fix":"Corporate tax is 9% on profits.",
				"suggested_patch":{"field":"rate","old_value":"5%","new_value":"9%","as_of":"2023-06"},
				"references":["https://tax.gov.ae/rates"]}`
		},
	}

	res, err := f.orchestrator(WithCompleter(llm)).Trigger(ctx, TriggerRequest{RunType: model.RunTypeWeeklyFactcheck})
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesFound)
	assert.Contains(t, extractInput, "Corporate tax is 5% on profits.")
	assert.NotContains(t, extractInput, "AED 500")

	issues, err := f.issues.List(ctx, model.IssueOpen, 0)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.ObjectInsight, issues[0].ObjectType)
	assert.Equal(t, "5%", issues[0].CurrentTextValue())

	in, err := f.store.GetInsight(ctx, "i1")
	require.NoError(t, err)
	assert.Contains(t, in.Claim, issues[0].CurrentTextValue())
}

type failingSources struct{}

func (failingSources) Active(context.Context) ([]model.Source, error) {
	return nil, errors.New("registry offline")
}

func TestFailedStrategyFailsTheRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := New(f.store, failingSources{}, scope.NewStoreProvider(f.store), f.issues,
		WithIDFunc(func() string { return "run-1" }), WithEvents(f.events))

	res, err := o.Trigger(ctx, TriggerRequest{RunType: model.RunTypeDailyRules})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry offline")
	assert.Equal(t, model.RunStatusFailed, res.Status)

	run, err := f.store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, strings.Join(run.Logs, "\n"), "failed: load sources: registry offline")
	assert.Equal(t, []string{events.RunFinished}, f.events.Types())
}

type panickingIssues struct{}

func (panickingIssues) Create(context.Context, *model.Issue) error { panic("boom") }

func TestPanicFailsTheRunAndPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPage(ctx, uaePage()))
	o := New(f.store, registry.New(f.store), scope.NewStoreProvider(f.store), panickingIssues{},
		WithIDFunc(func() string { return "run-1" }))

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = o.Trigger(ctx, TriggerRequest{RunType: model.RunTypeDailyRules})
	})

	run, err := f.store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, strings.Join(run.Logs, "\n"), "panic: boom")
}

func TestWeeklyTargetsPrioritiseRecentContent(t *testing.T) {
	content := &scope.Content{
		Pages: []model.Page{uaePage()},
		Documents: []model.Document{
			{ID: "old", UpdatedAt: now.Add(-72 * time.Hour)},
			{ID: "new", Kind: model.DocumentNews, UpdatedAt: now},
		},
		Insights: []model.Insight{{ID: "mid", Claim: "c", UpdatedAt: now.Add(-time.Hour)}},
	}

	targets := weeklyTargets(content, 2)
	require.Len(t, targets, 3)
	assert.Equal(t, "uae", targets[0].prefix)
	assert.Contains(t, targets[0].text, `"corporateTax": "9%"`)
	assert.Equal(t, "document:new", targets[1].prefix)
	assert.Equal(t, model.ObjectNews, targets[1].objectType)
	assert.Equal(t, "insight:mid", targets[2].prefix)
}

func TestAnchorToPage(t *testing.T) {
	page := uaePage()
	claims := anchorToPage([]model.Claim{
		{Text: "tax is 9%", Locator: "uae#0", CurrentText: "9%"},
		{Text: "tax again", Locator: "uae#1", CurrentText: "9%"},
		{Text: "unknown", Locator: "uae#2", CurrentText: "42"},
	}, &page)

	assert.Equal(t, "uae.legal.corporateTax", claims[0].Locator)
	require.NotNil(t, claims[0].AsOf)
	assert.Equal(t, "uae#1", claims[1].Locator, "an anchor is used once")
	assert.Equal(t, "uae#2", claims[2].Locator)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	_, err := o.Trigger(context.Background(), TriggerRequest{RunType: model.RunTypeDailyRules})
	require.NoError(t, err)

	runs, err := o.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusDone, runs[0].Status)

	_, err = o.ListRuns(context.Background(), -1)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}
