package model

import "time"

// Issue is a persisted record of a non-trivial verdict awaiting disposition
type Issue struct {
	ID             string      `json:"id"`
	RunID          string      `json:"run_id"`
	ObjectType     ObjectType  `json:"object_type"`
	ObjectID       string      `json:"object_id,omitempty"`
	ObjectLocator  string      `json:"object_locator"`
	Claim          string      `json:"claim"`
	ClaimType      ClaimType   `json:"claim_type"`
	Status         IssueStatus `json:"status"`
	Verdict        Verdict     `json:"verdict"`
	Severity       Severity    `json:"severity"`
	Confidence     float64     `json:"confidence"`
	CurrentText    *string     `json:"current_text,omitempty"`
	SuggestedFix   *string     `json:"suggested_fix,omitempty"`
	SuggestedPatch *Patch      `json:"suggested_patch,omitempty"`
	References     []string    `json:"references"`
	ApprovedAt     *time.Time  `json:"approved_at,omitempty"`
	ApprovedBy     *string     `json:"approved_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CurrentTextValue returns the current text or "" when unset.
func (i *Issue) CurrentTextValue() string {
	if i.CurrentText == nil {
		return ""
	}
	return *i.CurrentText
}

// ObjectType names the store an issue points back into
type ObjectType string

const (
	ObjectPage     ObjectType = "page"
	ObjectDocument ObjectType = "document"
	ObjectInsight  ObjectType = "insight"
	ObjectNews     ObjectType = "news"
)

// Valid reports whether t is a known object type.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectPage, ObjectDocument, ObjectInsight, ObjectNews:
		return true
	}
	return false
}

// IssueStatus is the lifecycle state of an issue
type IssueStatus string

const (
	IssueOpen      IssueStatus = "open"
	IssueTriaged   IssueStatus = "triaged"
	IssueFixed     IssueStatus = "fixed"
	IssueDismissed IssueStatus = "dismissed"
)

// Valid reports whether s is a known issue status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueOpen, IssueTriaged, IssueFixed, IssueDismissed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s IssueStatus) Terminal() bool {
	return s == IssueFixed || s == IssueDismissed
}

// issueTransitions lists allowed moves. triaged -> open is the rollback
// taken when applying a fix fails.
var issueTransitions = map[IssueStatus][]IssueStatus{
	IssueOpen:    {IssueTriaged, IssueDismissed},
	IssueTriaged: {IssueFixed, IssueDismissed, IssueOpen},
}

// CanTransition reports whether an issue may move from one status to another.
func CanTransition(from, to IssueStatus) bool {
	for _, next := range issueTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
