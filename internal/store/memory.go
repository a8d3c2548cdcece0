package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/ppiankov/evalagent/internal/model"
)

// MemoryStore keeps everything in process. Values are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	sources   map[string]model.Source
	runs      map[string]model.Run
	issues    map[string]model.Issue
	pages     map[string]model.Page
	documents map[string]model.Document
	insights  map[string]model.Insight
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:   make(map[string]model.Source),
		runs:      make(map[string]model.Run),
		issues:    make(map[string]model.Issue),
		pages:     make(map[string]model.Page),
		documents: make(map[string]model.Document),
		insights:  make(map[string]model.Insight),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) UpsertSource(_ context.Context, src model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src.Topics = slices.Clone(src.Topics)
	s.sources[src.ID] = src
	return nil
}

func (s *MemoryStore) GetSource(_ context.Context, id string) (*model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	src.Topics = slices.Clone(src.Topics)
	return &src, nil
}

func (s *MemoryStore) ListSources(_ context.Context, activeOnly bool) ([]model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Source
	for _, src := range s.sources {
		if activeOnly && !src.Active {
			continue
		}
		src.Topics = slices.Clone(src.Topics)
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	out := cloneRun(run)
	return &out, nil
}

func (s *MemoryStore) FinishRun(_ context.Context, id string, fin RunFinish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if run.Status != model.RunStatusRunning {
		return fmt.Errorf("run %s is %s: %w", id, run.Status, ErrStaleStatus)
	}
	finishedAt := fin.FinishedAt
	run.Status = fin.Status
	run.FinishedAt = &finishedAt
	run.Summary = fin.Summary
	run.Logs = slices.Clone(fin.Logs)
	s.runs[id] = cloneRun(run)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return capSlice(out, limit), nil
}

func (s *MemoryStore) CreateIssue(_ context.Context, issue *model.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.issues[issue.ID]; exists {
		return fmt.Errorf("issue %s already exists", issue.ID)
	}
	s.issues[issue.ID] = cloneIssue(*issue)
	return nil
}

func (s *MemoryStore) GetIssue(_ context.Context, id string) (*model.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	out := cloneIssue(issue)
	return &out, nil
}

func (s *MemoryStore) ListIssues(_ context.Context, status model.IssueStatus, limit int) ([]model.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Issue
	for _, issue := range s.issues {
		if status != "" && issue.Status != status {
			continue
		}
		out = append(out, cloneIssue(issue))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return capSlice(out, limit), nil
}

func (s *MemoryStore) TransitionIssue(_ context.Context, id string, from, to model.IssueStatus, upd IssueUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		return fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if issue.Status != from {
		return fmt.Errorf("issue %s is %s, expected %s: %w", id, issue.Status, from, ErrStaleStatus)
	}
	issue.Status = to
	issue.UpdatedAt = upd.UpdatedAt
	if upd.ApprovedAt != nil {
		at := *upd.ApprovedAt
		issue.ApprovedAt = &at
	}
	if upd.ApprovedBy != nil {
		by := *upd.ApprovedBy
		issue.ApprovedBy = &by
	}
	s.issues[id] = issue
	return nil
}

func (s *MemoryStore) UpsertPage(_ context.Context, page model.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page.Data = maps.Clone(page.Data)
	s.pages[page.Name] = page
	return nil
}

func (s *MemoryStore) GetPage(_ context.Context, name string) (*model.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[name]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", name, ErrNotFound)
	}
	page.Data = maps.Clone(page.Data)
	return &page, nil
}

func (s *MemoryStore) ListPages(_ context.Context, filter ContentFilter) ([]model.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Page
	for _, page := range s.pages {
		if filter.matches(page.Name, page.UpdatedAt) {
			page.Data = maps.Clone(page.Data)
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return capSlice(out, filter.Limit), nil
}

func (s *MemoryStore) UpsertDocument(_ context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &doc, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, filter ContentFilter) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, doc := range s.documents {
		if filter.matches(doc.ID, doc.UpdatedAt) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return capSlice(out, filter.Limit), nil
}

func (s *MemoryStore) UpsertInsight(_ context.Context, in model.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[in.ID] = cloneInsight(in)
	return nil
}

func (s *MemoryStore) GetInsight(_ context.Context, id string) (*model.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.insights[id]
	if !ok {
		return nil, fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	out := cloneInsight(in)
	return &out, nil
}

func (s *MemoryStore) ListInsights(_ context.Context, filter ContentFilter) ([]model.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Insight
	for _, in := range s.insights {
		if filter.matches(in.ID, in.UpdatedAt) {
			out = append(out, cloneInsight(in))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return capSlice(out, filter.Limit), nil
}

func capSlice[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func cloneRun(r model.Run) model.Run {
	r.Scope.Pages = slices.Clone(r.Scope.Pages)
	r.Scope.DocumentIDs = slices.Clone(r.Scope.DocumentIDs)
	r.Logs = slices.Clone(r.Logs)
	r.Summary = cloneSummary(r.Summary)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}

func cloneSummary(s *model.RunSummary) *model.RunSummary {
	if s == nil {
		return nil
	}
	out := *s
	out.Strategies = slices.Clone(s.Strategies)
	out.ByVerdict = maps.Clone(s.ByVerdict)
	out.BySeverity = maps.Clone(s.BySeverity)
	return &out
}

func cloneIssue(i model.Issue) model.Issue {
	i.References = slices.Clone(i.References)
	i.CurrentText = clonePtr(i.CurrentText)
	i.SuggestedFix = clonePtr(i.SuggestedFix)
	i.SuggestedPatch = clonePtr(i.SuggestedPatch)
	i.ApprovedAt = clonePtr(i.ApprovedAt)
	i.ApprovedBy = clonePtr(i.ApprovedBy)
	return i
}

func cloneInsight(in model.Insight) model.Insight {
	in.Tags = slices.Clone(in.Tags)
	in.References = slices.Clone(in.References)
	in.AsOf = clonePtr(in.AsOf)
	return in
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
