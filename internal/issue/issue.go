// Package issue owns the issue lifecycle: creation, listing and the
// approve/dismiss decision that applies fixes at most once.
package issue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/apply"
	"github.com/ppiankov/evalagent/internal/events"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/store"
)

// Action is an operator decision on an issue
type Action string

const (
	ActionApprove Action = "approve"
	ActionDismiss Action = "dismiss"
)

// DefaultActor is recorded when a decision names no operator.
const DefaultActor = "operator"

// Fixer applies an approved issue's fix
type Fixer interface {
	Apply(ctx context.Context, issue *model.Issue) (apply.Result, error)
}

// Decision is the outcome of Decide
type Decision struct {
	Issue   *model.Issue  `json:"issue"`
	Applied *apply.Result `json:"applied,omitempty"`
}

// Service manages issues over an IssueStore
type Service struct {
	store  store.IssueStore
	fixer  Fixer
	events events.Publisher
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service
type Option func(*Service)

// WithEvents publishes lifecycle events.
func WithEvents(pub events.Publisher) Option {
	return func(s *Service) { s.events = pub }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDFunc overrides issue id generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates an issue service. fixer may be nil when approvals are
// not served by this process.
func NewService(st store.IssueStore, fixer Fixer, opts ...Option) *Service {
	s := &Service{
		store:  st,
		fixer:  fixer,
		events: events.Nop{},
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new open issue, filling id and timestamps.
func (s *Service) Create(ctx context.Context, issue *model.Issue) error {
	if err := validateNew(issue); err != nil {
		return err
	}
	if issue.ID == "" {
		issue.ID = s.newID()
	}
	now := s.now()
	issue.Status = model.IssueOpen
	issue.CreatedAt = now
	issue.UpdatedAt = now
	issue.ApprovedAt = nil
	issue.ApprovedBy = nil
	if issue.References == nil {
		issue.References = []string{}
	}

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return apperr.Upstream(err, "create issue")
	}
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.IssueCreated, Key: issue.ID, At: now, Payload: issue,
	})
	return nil
}

// validateNew checks a new issue. needs_update and contradicted issues must
// carry a fix. Unverifiable issues may carry one too: rule hints are
// recorded as the suggested fix of daily issues.
func validateNew(issue *model.Issue) error {
	switch {
	case issue == nil:
		return apperr.InvalidRequest("issue is required")
	case issue.RunID == "":
		return apperr.InvalidRequest("issue must carry a run id")
	case !issue.ObjectType.Valid():
		return apperr.InvalidRequest("unknown object type %q", issue.ObjectType)
	case strings.TrimSpace(issue.ObjectLocator) == "":
		return apperr.InvalidRequest("issue must carry an object locator")
	case !issue.Verdict.Valid():
		return apperr.InvalidRequest("unknown verdict %q", issue.Verdict)
	case issue.Verdict == model.VerdictSupported:
		return apperr.InvalidRequest("supported claims do not become issues")
	case issue.Confidence < 0 || issue.Confidence > 1:
		return apperr.InvalidRequest("confidence %v outside [0,1]", issue.Confidence)
	case issue.Verdict.RequiresFix() && (issue.SuggestedFix == nil || strings.TrimSpace(*issue.SuggestedFix) == ""):
		return apperr.InvalidRequest("%s issue must carry a suggested fix", issue.Verdict)
	}
	switch issue.Severity {
	case model.SeverityHigh, model.SeverityMed, model.SeverityLow:
	default:
		return apperr.InvalidRequest("unknown severity %q", issue.Severity)
	}
	return nil
}

// Get returns one issue
func (s *Service) Get(ctx context.Context, id string) (*model.Issue, error) {
	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, storeErr(err, "issue %s", id)
	}
	return issue, nil
}

// List returns issues newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status model.IssueStatus, limit int) ([]model.Issue, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.InvalidRequest("unknown issue status %q", status)
	}
	issues, err := s.store.ListIssues(ctx, status, limit)
	if err != nil {
		return nil, apperr.Upstream(err, "list issues")
	}
	return issues, nil
}

// SetStatus moves an issue along the state machine, conditional on the
// status it was read with.
func (s *Service) SetStatus(ctx context.Context, id string, to model.IssueStatus) (*model.Issue, error) {
	issue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(issue.Status, to) {
		return nil, apperr.Conflict("issue %s cannot move from %s to %s", id, issue.Status, to)
	}
	if err := s.transition(ctx, issue, to, store.IssueUpdate{UpdatedAt: s.now()}); err != nil {
		return nil, err
	}
	return issue, nil
}

// transition writes from issue.Status to `to` and updates issue in place.
func (s *Service) transition(ctx context.Context, issue *model.Issue, to model.IssueStatus, upd store.IssueUpdate) error {
	if err := s.store.TransitionIssue(ctx, issue.ID, issue.Status, to, upd); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return apperr.Wrap(apperr.KindConflict, err, "issue %s is no longer %s", issue.ID, issue.Status)
		}
		return storeErr(err, "issue %s %s -> %s", issue.ID, issue.Status, to)
	}
	issue.Status = to
	issue.UpdatedAt = upd.UpdatedAt
	if upd.ApprovedAt != nil {
		issue.ApprovedAt = upd.ApprovedAt
	}
	if upd.ApprovedBy != nil {
		issue.ApprovedBy = upd.ApprovedBy
	}
	return nil
}

// Decide approves or dismisses an open issue. Approval claims the issue by
// moving it to triaged, applies the fix, then marks it fixed; a failed
// application puts it back to open and returns the failure. Of several
// concurrent decisions on one issue exactly one succeeds, the others get
// a Conflict.
func (s *Service) Decide(ctx context.Context, id string, action Action, actor string) (Decision, error) {
	if action != ActionApprove && action != ActionDismiss {
		return Decision{}, apperr.InvalidRequest("unknown action %q", action)
	}
	if strings.TrimSpace(actor) == "" {
		actor = DefaultActor
	}

	issue, err := s.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	switch issue.Status {
	case model.IssueFixed, model.IssueDismissed:
		return Decision{}, apperr.Conflict("issue %s is already %s", id, issue.Status)
	case model.IssueTriaged:
		return Decision{}, apperr.Conflict("issue %s has an approval in progress", id)
	}

	if action == ActionDismiss {
		return s.dismiss(ctx, issue, actor)
	}
	return s.approve(ctx, issue, actor)
}

func (s *Service) dismiss(ctx context.Context, issue *model.Issue, actor string) (Decision, error) {
	now := s.now()
	if err := s.transition(ctx, issue, model.IssueDismissed, store.IssueUpdate{
		UpdatedAt: now, ApprovedAt: &now, ApprovedBy: &actor,
	}); err != nil {
		return Decision{}, err
	}
	s.log.Info("issue dismissed", zap.String("issue", issue.ID), zap.String("actor", actor))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.IssueDismissed, Key: issue.ID, At: now, Payload: issue,
	})
	return Decision{Issue: issue}, nil
}

func (s *Service) approve(ctx context.Context, issue *model.Issue, actor string) (Decision, error) {
	if issue.SuggestedFix == nil || strings.TrimSpace(*issue.SuggestedFix) == "" {
		return Decision{}, apperr.InvalidRequest("issue %s has no suggested fix to approve", issue.ID)
	}
	if s.fixer == nil {
		return Decision{}, apperr.InvalidRequest("fix application is not configured")
	}

	if err := s.transition(ctx, issue, model.IssueTriaged, store.IssueUpdate{UpdatedAt: s.now()}); err != nil {
		return Decision{}, err
	}

	res, applyErr := s.fixer.Apply(ctx, issue)
	if applyErr != nil {
		if err := s.transition(ctx, issue, model.IssueOpen, store.IssueUpdate{UpdatedAt: s.now()}); err != nil {
			s.log.Error("issue rollback to open failed",
				zap.String("issue", issue.ID), zap.Error(err))
		}
		s.log.Warn("fix application failed",
			zap.String("issue", issue.ID), zap.String("actor", actor), zap.Error(applyErr))
		return Decision{}, applyErr
	}

	now := s.now()
	if err := s.transition(ctx, issue, model.IssueFixed, store.IssueUpdate{
		UpdatedAt: now, ApprovedAt: &now, ApprovedBy: &actor,
	}); err != nil {
		return Decision{}, err
	}
	s.log.Info("issue fixed",
		zap.String("issue", issue.ID),
		zap.String("actor", actor),
		zap.String("target", res.TargetID))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.IssueFixed, Key: issue.ID, At: now,
		Payload: map[string]any{"issue": issue, "applied": res},
	})
	return Decision{Issue: issue, Applied: &res}, nil
}

func storeErr(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, format, args...)
	}
	return apperr.Upstream(err, format, args...)
}
