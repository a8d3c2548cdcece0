package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/evalagent/internal/model"
)

// Tally accumulates the outcome of a run into a summary. It is safe for
// concurrent use.
type Tally struct {
	mu            sync.Mutex
	strategies    []model.RunType
	extracted     int
	verified      int
	issues        int
	byVerdict     map[model.Verdict]int
	bySeverity    map[model.Severity]int
	confidenceSum float64
	confidenceN   int
}

// NewTally creates an empty tally
func NewTally() *Tally {
	return &Tally{
		byVerdict:  make(map[model.Verdict]int),
		bySeverity: make(map[model.Severity]int),
	}
}

// Strategy records that a strategy ran. Repeats are ignored.
func (t *Tally) Strategy(rt model.RunType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.strategies {
		if s == rt {
			return
		}
	}
	t.strategies = append(t.strategies, rt)
}

// Extracted adds n extracted claims
func (t *Tally) Extracted(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.extracted += n
	t.mu.Unlock()
}

// Verdict records one claim outcome. Confidence outside [0,1] is clamped.
func (t *Tally) Verdict(v model.Verdict, confidence float64) {
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.verified++
	t.byVerdict[v]++
	t.confidenceSum += confidence
	t.confidenceN++
}

// Issue records a created issue
func (t *Tally) Issue(issue *model.Issue) {
	if issue == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issues++
	t.bySeverity[issue.Severity]++
}

// IssuesFound returns the number of issues recorded so far
func (t *Tally) IssuesFound() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issues
}

// Summary returns a snapshot of the tally
func (t *Tally) Summary() *model.RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := &model.RunSummary{
		Strategies:      append([]model.RunType{}, t.strategies...),
		ClaimsExtracted: t.extracted,
		ClaimsVerified:  t.verified,
		IssuesFound:     t.issues,
		ByVerdict:       make(map[model.Verdict]int, len(t.byVerdict)),
		BySeverity:      make(map[model.Severity]int, len(t.bySeverity)),
	}
	for k, v := range t.byVerdict {
		summary.ByVerdict[k] = v
	}
	for k, v := range t.bySeverity {
		summary.BySeverity[k] = v
	}
	if t.confidenceN > 0 {
		// Round to 3 decimals so summaries compare cleanly
		summary.MeanConfidence = math.Round(t.confidenceSum/float64(t.confidenceN)*1000) / 1000
	}
	return summary
}

// Describe renders a one-line summary for run logs
func Describe(s *model.RunSummary) string {
	if s == nil {
		return "no summary"
	}

	verdicts := make([]string, 0, len(s.ByVerdict))
	for v, n := range s.ByVerdict {
		verdicts = append(verdicts, fmt.Sprintf("%s=%d", v, n))
	}
	sort.Strings(verdicts)

	severities := make([]string, 0, len(s.BySeverity))
	for _, sev := range []model.Severity{model.SeverityHigh, model.SeverityMed, model.SeverityLow} {
		if n := s.BySeverity[sev]; n > 0 {
			severities = append(severities, fmt.Sprintf("%s=%d", sev, n))
		}
	}

	line := fmt.Sprintf("claims extracted=%d verified=%d issues=%d", s.ClaimsExtracted, s.ClaimsVerified, s.IssuesFound)
	if len(verdicts) > 0 {
		line += " verdicts[" + strings.Join(verdicts, " ") + "]"
	}
	if len(severities) > 0 {
		line += " severity[" + strings.Join(severities, " ") + "]"
	}
	if s.ClaimsVerified > 0 {
		line += fmt.Sprintf(" mean_confidence=%.2f", s.MeanConfidence)
	}
	return line
}
