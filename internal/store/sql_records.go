package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/evalagent/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// Sources

const sourceColumns = `id, name, category, base_url, trust_level, active, topics`

func (s *SQLStore) UpsertSource(ctx context.Context, src model.Source) error {
	topics, err := toJSON(nonNil(src.Topics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			base_url = excluded.base_url,
			trust_level = excluded.trust_level,
			active = excluded.active,
			topics = excluded.topics`,
		src.ID, src.Name, string(src.Category), src.BaseURL, src.TrustLevel, src.Active, topics)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	src, err := scanSource(s.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}

func (s *SQLStore) ListSources(ctx context.Context, activeOnly bool) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var args []any
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

func scanSource(row rowScanner) (*model.Source, error) {
	var (
		src      model.Source
		category string
		topics   string
	)
	if err := row.Scan(&src.ID, &src.Name, &category, &src.BaseURL, &src.TrustLevel, &src.Active, &topics); err != nil {
		return nil, err
	}
	src.Category = model.SourceCategory(category)
	if err := json.Unmarshal([]byte(topics), &src.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if len(src.Topics) == 0 {
		src.Topics = nil
	}
	return &src, nil
}

// Runs

const runColumns = `id, run_type, scope, status, started_at, finished_at, summary, logs, triggered_by`

func (s *SQLStore) CreateRun(ctx context.Context, run *model.Run) error {
	scope, err := toJSON(run.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	logs, err := toJSON(nonNil(run.Logs))
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	summary, err := nullJSON(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.exec(ctx, `INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Type), scope, string(run.Status), formatTime(run.StartedAt),
		nullTime(run.FinishedAt), summary, logs, run.TriggeredBy)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	run, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *SQLStore) FinishRun(ctx context.Context, id string, fin RunFinish) error {
	logs, err := toJSON(nonNil(fin.Logs))
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	summary, err := nullJSON(fin.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	res, err := s.exec(ctx, `UPDATE runs SET status = ?, finished_at = ?, summary = ?, logs = ?
		WHERE id = ? AND status = ?`,
		string(fin.Status), formatTime(fin.FinishedAt), summary, logs, id, string(model.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return s.checkConditional(ctx, res, "runs", id)
}

func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*model.Run, error) {
	var (
		run        model.Run
		runType    string
		scope      string
		status     string
		startedAt  string
		finishedAt sql.NullString
		summary    sql.NullString
		logs       string
	)
	if err := row.Scan(&run.ID, &runType, &scope, &status, &startedAt, &finishedAt, &summary, &logs, &run.TriggeredBy); err != nil {
		return nil, err
	}
	run.Type = model.RunType(runType)
	run.Status = model.RunStatus(status)

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at: %w", err)
	}
	if run.FinishedAt, err = scanNullTime(finishedAt); err != nil {
		return nil, fmt.Errorf("decode finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(scope), &run.Scope); err != nil {
		return nil, fmt.Errorf("decode scope: %w", err)
	}
	if summary.Valid {
		run.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summary.String), run.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(logs), &run.Logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	if len(run.Logs) == 0 {
		run.Logs = nil
	}
	return &run, nil
}

// Issues

const issueColumns = `id, run_id, object_type, object_id, object_locator, claim, claim_type, status,
	verdict, severity, confidence, current_text, suggested_fix, suggested_patch, refs,
	approved_at, approved_by, created_at, updated_at`

func (s *SQLStore) CreateIssue(ctx context.Context, issue *model.Issue) error {
	patch, err := nullJSON(issue.SuggestedPatch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	refs, err := toJSON(nonNil(issue.References))
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}

	_, err = s.exec(ctx, `INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.RunID, string(issue.ObjectType), issue.ObjectID, issue.ObjectLocator,
		issue.Claim, string(issue.ClaimType), string(issue.Status), string(issue.Verdict),
		string(issue.Severity), issue.Confidence, nullString(issue.CurrentText),
		nullString(issue.SuggestedFix), patch, refs, nullTime(issue.ApprovedAt),
		nullString(issue.ApprovedBy), formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert issue %s: %w", issue.ID, err)
	}
	return nil
}

func (s *SQLStore) GetIssue(ctx context.Context, id string) (*model.Issue, error) {
	issue, err := scanIssue(s.queryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id, err)
	}
	return issue, nil
}

func (s *SQLStore) ListIssues(ctx context.Context, status model.IssueStatus, limit int) ([]model.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, *issue)
	}
	return out, rows.Err()
}

// TransitionIssue is a single conditional UPDATE, so two processes racing
// on the same issue cannot both succeed.
func (s *SQLStore) TransitionIssue(ctx context.Context, id string, from, to model.IssueStatus, upd IssueUpdate) error {
	res, err := s.exec(ctx, `UPDATE issues SET status = ?, updated_at = ?,
			approved_at = COALESCE(?, approved_at),
			approved_by = COALESCE(?, approved_by)
		WHERE id = ? AND status = ?`,
		string(to), formatTime(upd.UpdatedAt), nullTime(upd.ApprovedAt), nullString(upd.ApprovedBy),
		id, string(from))
	if err != nil {
		return fmt.Errorf("transition issue %s: %w", id, err)
	}
	return s.checkConditional(ctx, res, "issues", id)
}

func scanIssue(row rowScanner) (*model.Issue, error) {
	var (
		issue                            model.Issue
		objectType, claimType, status    string
		verdict, severity                string
		currentText, suggestedFix, patch sql.NullString
		refs                             string
		approvedAt, approvedBy           sql.NullString
		createdAt, updatedAt             string
	)
	if err := row.Scan(&issue.ID, &issue.RunID, &objectType, &issue.ObjectID, &issue.ObjectLocator,
		&issue.Claim, &claimType, &status, &verdict, &severity, &issue.Confidence,
		&currentText, &suggestedFix, &patch, &refs, &approvedAt, &approvedBy,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	issue.ObjectType = model.ObjectType(objectType)
	issue.ClaimType = model.ClaimType(claimType)
	issue.Status = model.IssueStatus(status)
	issue.Verdict = model.Verdict(verdict)
	issue.Severity = model.Severity(severity)
	issue.CurrentText = scanNullString(currentText)
	issue.SuggestedFix = scanNullString(suggestedFix)
	issue.ApprovedBy = scanNullString(approvedBy)

	if patch.Valid {
		issue.SuggestedPatch = &model.Patch{}
		if err := json.Unmarshal([]byte(patch.String), issue.SuggestedPatch); err != nil {
			return nil, fmt.Errorf("decode patch: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(refs), &issue.References); err != nil {
		return nil, fmt.Errorf("decode references: %w", err)
	}

	var err error
	if issue.ApprovedAt, err = scanNullTime(approvedAt); err != nil {
		return nil, fmt.Errorf("decode approved_at: %w", err)
	}
	if issue.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if issue.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &issue, nil
}

// checkConditional distinguishes a missing row from a lost race after a
// conditional UPDATE touched nothing.
func (s *SQLStore) checkConditional(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.queryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check %s %s: %w", table, id, err)
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrStaleStatus)
}

// Content

func (s *SQLStore) UpsertPage(ctx context.Context, page model.Page) error {
	data, err := toJSON(page.Data)
	if err != nil {
		return fmt.Errorf("marshal page data: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO pages (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		page.Name, data, formatTime(page.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert page %s: %w", page.Name, err)
	}
	return nil
}

func (s *SQLStore) GetPage(ctx context.Context, name string) (*model.Page, error) {
	page, err := scanPage(s.queryRow(ctx, `SELECT name, data, updated_at FROM pages WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", name, err)
	}
	return page, nil
}

func (s *SQLStore) ListPages(ctx context.Context, filter ContentFilter) ([]model.Page, error) {
	tail, args := contentWhere("name", filter)
	rows, err := s.query(ctx, `SELECT name, data, updated_at FROM pages`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, *page)
	}
	return out, rows.Err()
}

func scanPage(row rowScanner) (*model.Page, error) {
	var (
		page      model.Page
		data      string
		updatedAt string
	)
	if err := row.Scan(&page.Name, &data, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &page.Data); err != nil {
		return nil, fmt.Errorf("decode page data: %w", err)
	}
	var err error
	if page.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &page, nil
}

const documentColumns = `id, kind, title, content, summary, source_insight_id, updated_at`

func (s *SQLStore) UpsertDocument(ctx context.Context, doc model.Document) error {
	_, err := s.exec(ctx, `INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			content = excluded.content,
			summary = excluded.summary,
			source_insight_id = excluded.source_insight_id,
			updated_at = excluded.updated_at`,
		doc.ID, string(doc.Kind), doc.Title, doc.Content, doc.Summary, doc.SourceInsightID, formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanDocument(s.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

func (s *SQLStore) ListDocuments(ctx context.Context, filter ContentFilter) ([]model.Document, error) {
	tail, args := contentWhere("id", filter)
	rows, err := s.query(ctx, `SELECT `+documentColumns+` FROM documents`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		doc       model.Document
		kind      string
		updatedAt string
	)
	if err := row.Scan(&doc.ID, &kind, &doc.Title, &doc.Content, &doc.Summary, &doc.SourceInsightID, &updatedAt); err != nil {
		return nil, err
	}
	doc.Kind = model.DocumentKind(kind)
	var err error
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &doc, nil
}

const insightColumns = `id, claim, rationale, category, tags, as_of, refs, updated_at`

func (s *SQLStore) UpsertInsight(ctx context.Context, in model.Insight) error {
	tags, err := toJSON(nonNil(in.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	refs, err := toJSON(nonNil(in.References))
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO insights (`+insightColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			claim = excluded.claim,
			rationale = excluded.rationale,
			category = excluded.category,
			tags = excluded.tags,
			as_of = excluded.as_of,
			refs = excluded.refs,
			updated_at = excluded.updated_at`,
		in.ID, in.Claim, in.Rationale, in.Category, tags, nullTime(in.AsOf), refs, formatTime(in.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert insight %s: %w", in.ID, err)
	}
	return nil
}

func (s *SQLStore) GetInsight(ctx context.Context, id string) (*model.Insight, error) {
	in, err := scanInsight(s.queryRow(ctx, `SELECT `+insightColumns+` FROM insights WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get insight %s: %w", id, err)
	}
	return in, nil
}

func (s *SQLStore) ListInsights(ctx context.Context, filter ContentFilter) ([]model.Insight, error) {
	tail, args := contentWhere("id", filter)
	rows, err := s.query(ctx, `SELECT `+insightColumns+` FROM insights`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func scanInsight(row rowScanner) (*model.Insight, error) {
	var (
		in         model.Insight
		tags, refs string
		asOf       sql.NullString
		updatedAt  string
	)
	if err := row.Scan(&in.ID, &in.Claim, &in.Rationale, &in.Category, &tags, &asOf, &refs, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &in.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(refs), &in.References); err != nil {
		return nil, fmt.Errorf("decode references: %w", err)
	}
	if len(in.Tags) == 0 {
		in.Tags = nil
	}
	if len(in.References) == 0 {
		in.References = nil
	}
	var err error
	if in.AsOf, err = scanNullTime(asOf); err != nil {
		return nil, fmt.Errorf("decode as_of: %w", err)
	}
	if in.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &in, nil
}

func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := toJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: raw, Valid: true}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
