// Package orchestrator runs verification strategies over a content scope
// and records each execution as a Run.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/events"
	"github.com/ppiankov/evalagent/internal/extract"
	"github.com/ppiankov/evalagent/internal/judge"
	"github.com/ppiankov/evalagent/internal/llm"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/rules"
	"github.com/ppiankov/evalagent/internal/scope"
	"github.com/ppiankov/evalagent/internal/score"
	"github.com/ppiankov/evalagent/internal/store"
)

const defaultMaxDocuments = 20

// SourceLister returns the active source registry
type SourceLister interface {
	Active(ctx context.Context) ([]model.Source, error)
}

// IssueCreator persists issues found by a run
type IssueCreator interface {
	Create(ctx context.Context, issue *model.Issue) error
}

// SourceFetcher supplies excerpts of source pages for the judge
type SourceFetcher interface {
	SourceContent(ctx context.Context, sources []model.Source) string
}

// TriggerRequest asks for one run
type TriggerRequest struct {
	RunType     model.RunType `json:"run_type"`
	Scope       model.Scope   `json:"scope"`
	DryRun      bool          `json:"dry_run"`
	TriggeredBy string        `json:"triggered_by,omitempty"`
}

// TriggerResult reports a finished (or dry) run
type TriggerResult struct {
	RunID       string          `json:"run_id,omitempty"`
	IssuesFound int             `json:"issues_found"`
	Status      model.RunStatus `json:"status"`
	// Set for dry runs only
	Plan *Plan `json:"plan,omitempty"`
}

// Plan describes what a dry run would have looked at
type Plan struct {
	RunType    model.RunType   `json:"run_type"`
	Strategies []model.RunType `json:"strategies"`
	Scope      model.Scope     `json:"scope"`
	Pages      int             `json:"pages"`
	Documents  int             `json:"documents"`
	Insights   int             `json:"insights"`
}

// Orchestrator triggers runs
type Orchestrator struct {
	runs      store.RunStore
	sources   SourceLister
	content   scope.Provider
	issues    IssueCreator
	completer llm.Completer
	extractor *extract.TextExtractor
	judge     *judge.Judge
	fetcher   SourceFetcher
	events    events.Publisher
	log       *zap.Logger
	now       func() time.Time
	newID     func() string

	rules        rules.Config
	batch        judge.BatchOptions
	maxDocuments int
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCompleter enables the weekly strategy's model calls.
func WithCompleter(c llm.Completer) Option {
	return func(o *Orchestrator) { o.completer = c }
}

// WithFetcher attaches source excerpts to judge requests.
func WithFetcher(f SourceFetcher) Option {
	return func(o *Orchestrator) { o.fetcher = f }
}

// WithEvents publishes run.finished events.
func WithEvents(pub events.Publisher) Option {
	return func(o *Orchestrator) { o.events = pub }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDFunc overrides run id generation.
func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithRules sets the rules checker configuration.
func WithRules(cfg rules.Config) Option {
	return func(o *Orchestrator) { o.rules = cfg }
}

// WithBatchOptions sets the judge batching.
func WithBatchOptions(opts judge.BatchOptions) Option {
	return func(o *Orchestrator) { o.batch = opts }
}

// WithMaxDocuments caps the documents and insights a weekly run verifies.
func WithMaxDocuments(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxDocuments = n
		}
	}
}

// New creates an orchestrator
func New(runs store.RunStore, sources SourceLister, content scope.Provider, issues IssueCreator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runs:         runs,
		sources:      sources,
		content:      content,
		issues:       issues,
		events:       events.Nop{},
		log:          zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		rules:        rules.DefaultConfig(),
		batch:        judge.DefaultBatchOptions(),
		maxDocuments: defaultMaxDocuments,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.extractor = extract.NewTextExtractor(o.completer, o.log)
	o.judge = judge.New(o.completer, o.log)
	return o
}

// Trigger validates req and, unless it is a dry run, executes it
// synchronously. A failing strategy fails the Run and its error is
// returned; issues created before the failure are kept.
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	if !req.RunType.Valid() {
		return TriggerResult{}, apperr.InvalidRequest("unknown run type %q", req.RunType)
	}
	if req.Scope.Since != nil && req.Scope.Since.After(o.now()) {
		return TriggerResult{}, apperr.InvalidRequest("scope since %s is in the future", req.Scope.Since.Format(time.RFC3339))
	}
	if o.completer == nil && needsModel(req.RunType) {
		return TriggerResult{}, apperr.InvalidRequest("run type %s needs a reasoning model, set llm.provider", req.RunType)
	}

	if req.DryRun {
		return o.plan(ctx, req)
	}

	run := &model.Run{
		ID:          o.newID(),
		Type:        req.RunType,
		Scope:       req.Scope,
		Status:      model.RunStatusRunning,
		StartedAt:   o.now(),
		TriggeredBy: req.TriggeredBy,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return TriggerResult{}, apperr.Upstream(err, "create run")
	}
	o.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("run_type", string(run.Type)),
		zap.String("triggered_by", run.TriggeredBy))

	ex := &execution{run: run, tally: score.NewTally()}

	defer func() {
		if r := recover(); r != nil {
			ex.logf("panic: %v", r)
			o.finish(ctx, ex, model.RunStatusFailed)
			panic(r)
		}
	}()

	if err := o.execute(ctx, ex); err != nil {
		ex.logf("failed: %v", err)
		o.finish(ctx, ex, model.RunStatusFailed)
		return TriggerResult{RunID: run.ID, IssuesFound: ex.tally.IssuesFound(), Status: model.RunStatusFailed}, err
	}

	o.finish(ctx, ex, model.RunStatusDone)
	return TriggerResult{RunID: run.ID, IssuesFound: ex.tally.IssuesFound(), Status: model.RunStatusDone}, nil
}

// ListRuns returns the most recent runs first
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit < 0 {
		return nil, apperr.InvalidRequest("limit must not be negative")
	}
	runs, err := o.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, apperr.Upstream(err, "list runs")
	}
	return runs, nil
}

// execution is the state of one run in progress
type execution struct {
	run   *model.Run
	tally *score.Tally
	logs  []string
}

func (e *execution) logf(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

func strategies(rt model.RunType) []model.RunType {
	if rt == model.RunTypeOnDemand {
		return []model.RunType{model.RunTypeDailyRules, model.RunTypeWeeklyFactcheck}
	}
	return []model.RunType{rt}
}

// needsModel reports whether rt extracts claims through the model. Without
// one such a run would report a clean audit that never happened.
func needsModel(rt model.RunType) bool {
	for _, s := range strategies(rt) {
		if s == model.RunTypeWeeklyFactcheck {
			return true
		}
	}
	return false
}

func (o *Orchestrator) execute(ctx context.Context, ex *execution) error {
	sources, err := o.sources.Active(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	content, err := o.content.Load(ctx, ex.run.Scope)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	ex.logf("scope: %d pages, %d documents, %d insights; %d active sources",
		len(content.Pages), len(content.Documents), len(content.Insights), len(sources))

	checker := rules.NewChecker(o.now(), o.rules)
	for _, strategy := range strategies(ex.run.Type) {
		ex.tally.Strategy(strategy)
		switch strategy {
		case model.RunTypeDailyRules:
			err = o.dailyRules(ctx, ex, checker, content, sources)
		case model.RunTypeWeeklyFactcheck:
			err = o.weeklyFactcheck(ctx, ex, checker, content, sources)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", strategy, err)
		}
	}
	return nil
}

// finish writes the terminal state. It runs even when ctx has ended so a
// cancelled request never leaves the Run running.
func (o *Orchestrator) finish(ctx context.Context, ex *execution, status model.RunStatus) {
	ctx = context.WithoutCancel(ctx)
	summary := ex.tally.Summary()
	ex.logf("%s", score.Describe(summary))

	finishedAt := o.now()
	err := o.runs.FinishRun(ctx, ex.run.ID, store.RunFinish{
		Status:     status,
		FinishedAt: finishedAt,
		Summary:    summary,
		Logs:       ex.logs,
	})
	if err != nil {
		o.log.Error("failed to finish run", zap.String("run_id", ex.run.ID), zap.Error(err))
	}

	ex.run.Status = status
	ex.run.FinishedAt = &finishedAt
	ex.run.Summary = summary
	ex.run.Logs = ex.logs

	o.log.Info("run finished",
		zap.String("run_id", ex.run.ID),
		zap.String("status", string(status)),
		zap.Int("issues_found", summary.IssuesFound))
	events.Emit(ctx, o.events, o.log, events.Event{
		Type: events.RunFinished, Key: ex.run.ID, At: finishedAt, Payload: ex.run,
	})
}

// plan loads the scope read-only and reports what a run would cover.
func (o *Orchestrator) plan(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	content, err := o.content.Load(ctx, req.Scope)
	if err != nil {
		return TriggerResult{}, err
	}
	return TriggerResult{
		Status: model.RunStatusDryRun,
		Plan: &Plan{
			RunType:    req.RunType,
			Strategies: strategies(req.RunType),
			Scope:      req.Scope,
			Pages:      len(content.Pages),
			Documents:  len(content.Documents),
			Insights:   len(content.Insights),
		},
	}, nil
}
