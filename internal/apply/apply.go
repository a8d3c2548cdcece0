// Package apply writes approved corrections back into the content store.
package apply

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/store"
)

// Result describes what an approved fix changed
type Result struct {
	AppliedTo model.ObjectType `json:"applied_to"`
	TargetID  string           `json:"target_id"`
	Action    string           `json:"action"`
	Details   string           `json:"details,omitempty"`
}

// Actions reported in Result.Action
const (
	ActionDocumentUpdated = "document_updated"
	ActionInsightUpdated  = "insight_updated"
	ActionInsightCreated  = "insight_created"
	ActionNewsCorrection  = "news_correction_created"
)

// HandlerFunc applies an issue's fix for one object type
type HandlerFunc func(ctx context.Context, issue *model.Issue) (Result, error)

// Indexer receives documents whose content changed
type Indexer interface {
	IndexDocument(ctx context.Context, doc model.Document) error
}

// Applier dispatches issues to the handler registered for their object type
type Applier struct {
	content  store.ContentStore
	indexer  Indexer
	handlers map[model.ObjectType]HandlerFunc
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Applier
type Option func(*Applier)

// WithIndexer sends updated documents to a search index.
func WithIndexer(idx Indexer) Option {
	return func(a *Applier) { a.indexer = idx }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Applier) { a.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

// WithIDFunc overrides id generation for created insights.
func WithIDFunc(fn func() string) Option {
	return func(a *Applier) { a.newID = fn }
}

// New creates an applier with the document, insight, page and news handlers
func New(content store.ContentStore, opts ...Option) *Applier {
	a := &Applier{
		content:  content,
		handlers: make(map[model.ObjectType]HandlerFunc),
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Register(model.ObjectDocument, a.applyDocument)
	a.Register(model.ObjectInsight, a.applyInsight)
	a.Register(model.ObjectPage, a.applyPage)
	a.Register(model.ObjectNews, a.applyNews)
	return a
}

// Register installs or replaces the handler for an object type.
func (a *Applier) Register(objectType model.ObjectType, h HandlerFunc) {
	a.handlers[objectType] = h
}

// Apply writes the issue's suggested fix to the object it points at.
func (a *Applier) Apply(ctx context.Context, issue *model.Issue) (Result, error) {
	if issue.SuggestedFix == nil || strings.TrimSpace(*issue.SuggestedFix) == "" {
		return Result{}, apperr.InvalidRequest("issue %s has no suggested fix", issue.ID)
	}
	h, ok := a.handlers[issue.ObjectType]
	if !ok {
		return Result{}, apperr.InvalidRequest("no fix handler for object type %q", issue.ObjectType)
	}

	res, err := h(ctx, issue)
	if err != nil {
		return Result{}, err
	}
	a.log.Info("fix applied",
		zap.String("issue", issue.ID),
		zap.String("object_type", string(issue.ObjectType)),
		zap.String("target", res.TargetID),
		zap.String("action", res.Action))
	return res, nil
}

// Replace is the single validate-then-replace step for every handler.
// An empty currentText replaces the whole text. Otherwise currentText must
// still be present; every occurrence is replaced and the count returned.
func Replace(text, currentText, fix string) (string, int, error) {
	if currentText == "" {
		return fix, 1, nil
	}
	n := strings.Count(text, currentText)
	if n == 0 {
		return text, 0, apperr.Conflict("current text %q no longer present", currentText)
	}
	return strings.ReplaceAll(text, currentText, fix), n, nil
}

func (a *Applier) index(ctx context.Context, doc model.Document) {
	if a.indexer == nil {
		return
	}
	if err := a.indexer.IndexDocument(ctx, doc); err != nil {
		a.log.Warn("search index update failed", zap.String("document", doc.ID), zap.Error(err))
	}
}

// storeErr classifies content store failures.
func storeErr(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, format, args...)
	}
	return apperr.Upstream(err, format, args...)
}

var asOfLayouts = []string{time.RFC3339, "2006-01-02", "2006-01", "2006"}

func parseAsOf(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range asOfLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, true
		}
	}
	return nil, false
}
