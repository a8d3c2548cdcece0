package model

import "time"

// Claim is an atomic factual assertion extracted from content.
// Claims are transient: produced per extraction call and never stored on their own.
type Claim struct {
	Text        string     `json:"text"`                   // The claim as a readable sentence
	Type        ClaimType  `json:"claim_type"`             // numeric, definition, policy, timeline, comparison
	Locator     string     `json:"locator"`                // Opaque path to where the claim lives (e.g., "uae.legal.corporateTax")
	CurrentText string     `json:"current_text,omitempty"` // Verbatim snippet as it appears in the content
	AsOf        *time.Time `json:"as_of,omitempty"`        // Effective date of the claim, when known
}

// ClaimType categorizes the nature of the claim
type ClaimType string

const (
	ClaimTypeNumeric    ClaimType = "numeric"    // Figures, rates, amounts
	ClaimTypeDefinition ClaimType = "definition" // "X is a Y" statements
	ClaimTypePolicy     ClaimType = "policy"     // Laws, rules, named programmes
	ClaimTypeTimeline   ClaimType = "timeline"   // Dates and effective periods
	ClaimTypeComparison ClaimType = "comparison" // "X is higher than Y"
)

// Valid reports whether t is one of the known claim types.
func (t ClaimType) Valid() bool {
	switch t {
	case ClaimTypeNumeric, ClaimTypeDefinition, ClaimTypePolicy, ClaimTypeTimeline, ClaimTypeComparison:
		return true
	}
	return false
}

// Verdict is the outcome of verifying a claim
type Verdict string

const (
	VerdictSupported    Verdict = "supported"
	VerdictNeedsUpdate  Verdict = "needs_update"
	VerdictContradicted Verdict = "contradicted"
	VerdictUnverifiable Verdict = "unverifiable"
)

// Valid reports whether v is one of the four verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSupported, VerdictNeedsUpdate, VerdictContradicted, VerdictUnverifiable:
		return true
	}
	return false
}

// RequiresFix reports whether the verdict must carry a suggested fix and patch.
func (v Verdict) RequiresFix() bool {
	return v == VerdictNeedsUpdate || v == VerdictContradicted
}

// Severity ranks how urgent an issue is
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityMed  Severity = "med"
	SeverityLow  Severity = "low"
)

// Patch is a structured, machine-applicable correction
type Patch struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
	AsOf     string `json:"as_of"`
}

// Complete reports whether all four patch fields are present.
func (p *Patch) Complete() bool {
	if p == nil {
		return false
	}
	return p.Field != "" && p.OldValue != "" && p.NewValue != "" && p.AsOf != ""
}
