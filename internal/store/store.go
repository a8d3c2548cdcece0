// Package store persists sources, runs, issues and the audited content.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/evalagent/internal/model"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleStatus is returned by conditional status updates when the
	// stored status no longer matches the expected one.
	ErrStaleStatus = errors.New("status changed concurrently")
)

// SourceStore holds the source registry
type SourceStore interface {
	UpsertSource(ctx context.Context, src model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]model.Source, error)
}

// RunStore holds runs
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// FinishRun moves a running run to a terminal status. It returns
	// ErrStaleStatus when the run is no longer running.
	FinishRun(ctx context.Context, id string, fin RunFinish) error
	// ListRuns returns the most recently started runs first
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// RunFinish is the terminal state written by FinishRun
type RunFinish struct {
	Status     model.RunStatus
	FinishedAt time.Time
	Summary    *model.RunSummary
	Logs       []string
}

// IssueStore holds issues
type IssueStore interface {
	CreateIssue(ctx context.Context, issue *model.Issue) error
	GetIssue(ctx context.Context, id string) (*model.Issue, error)
	// ListIssues filters by status when non-empty, newest first.
	ListIssues(ctx context.Context, status model.IssueStatus, limit int) ([]model.Issue, error)
	// TransitionIssue sets status to `to` only if it is currently `from`.
	// It returns ErrStaleStatus otherwise and ErrNotFound for unknown ids.
	TransitionIssue(ctx context.Context, id string, from, to model.IssueStatus, upd IssueUpdate) error
}

// IssueUpdate carries the fields written alongside a status change
type IssueUpdate struct {
	UpdatedAt  time.Time
	ApprovedAt *time.Time
	ApprovedBy *string
}

// ContentStore holds pages, documents and insights
type ContentStore interface {
	UpsertPage(ctx context.Context, page model.Page) error
	GetPage(ctx context.Context, name string) (*model.Page, error)
	ListPages(ctx context.Context, filter ContentFilter) ([]model.Page, error)

	UpsertDocument(ctx context.Context, doc model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter ContentFilter) ([]model.Document, error)

	UpsertInsight(ctx context.Context, in model.Insight) error
	GetInsight(ctx context.Context, id string) (*model.Insight, error)
	ListInsights(ctx context.Context, filter ContentFilter) ([]model.Insight, error)
}

// ContentFilter narrows content listings. Results are ordered by
// updated_at descending; a zero Limit means no limit.
type ContentFilter struct {
	IDs   []string // page names or document/insight ids
	Since *time.Time
	Limit int
}

// Store is the full storage surface
type Store interface {
	SourceStore
	RunStore
	IssueStore
	ContentStore
	Close() error
}

func (f ContentFilter) matches(id string, updatedAt time.Time) bool {
	if f.Since != nil && updatedAt.Before(*f.Since) {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, want := range f.IDs {
		if want == id {
			return true
		}
	}
	return false
}
