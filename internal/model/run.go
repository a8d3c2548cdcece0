package model

import "time"

// Run is one execution of the pipeline over a scope
type Run struct {
	ID          string      `json:"id"`
	Type        RunType     `json:"run_type"`
	Scope       Scope       `json:"scope"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
	Logs        []string    `json:"logs,omitempty"`
	TriggeredBy string      `json:"triggered_by,omitempty"`
}

// RunType selects the strategy a run executes
type RunType string

const (
	RunTypeDailyRules      RunType = "daily_rules"      // Rules checker only, no model calls
	RunTypeWeeklyFactcheck RunType = "weekly_factcheck" // Text extraction + batched judge
	RunTypeOnDemand        RunType = "on_demand"        // Both strategies over the same scope
)

// Valid reports whether t is a known run type.
func (t RunType) Valid() bool {
	switch t {
	case RunTypeDailyRules, RunTypeWeeklyFactcheck, RunTypeOnDemand:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
	RunStatusDryRun  RunStatus = "dry_run" // Reported for validated dry runs, never stored
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// Scope narrows the content a run looks at. An empty scope means everything.
type Scope struct {
	Pages       []string   `json:"pages,omitempty"`
	DocumentIDs []string   `json:"document_ids,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// RunSummary aggregates the outcome of a run
type RunSummary struct {
	Strategies      []RunType        `json:"strategies"`
	ClaimsExtracted int              `json:"claims_extracted"`
	ClaimsVerified  int              `json:"claims_verified"`
	IssuesFound     int              `json:"issues_found"`
	ByVerdict       map[Verdict]int  `json:"by_verdict"`
	BySeverity      map[Severity]int `json:"by_severity"`
	MeanConfidence  float64          `json:"mean_confidence"`
}
