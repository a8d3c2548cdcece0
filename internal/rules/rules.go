// Package rules holds the cheap deterministic checks run before (or
// instead of) model verification.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ppiankov/evalagent/internal/model"
)

// Config tunes the checker
type Config struct {
	StalenessThreshold time.Duration
	MaxSources         int
}

// DefaultConfig returns a one-year staleness threshold and five sources.
func DefaultConfig() Config {
	return Config{StalenessThreshold: 365 * 24 * time.Hour, MaxSources: 5}
}

// ConfigFromModel converts the rules section of the app config
func ConfigFromModel(c model.RulesConfig) Config {
	cfg := DefaultConfig()
	if c.StalenessDays > 0 {
		cfg.StalenessThreshold = time.Duration(c.StalenessDays) * 24 * time.Hour
	}
	if c.MaxSources > 0 {
		cfg.MaxSources = c.MaxSources
	}
	return cfg
}

// Result is the outcome of checking one claim
type Result struct {
	NeedsLLMVerification bool           `json:"needs_llm_verification"`
	Hints                []string       `json:"hints"`
	RelevantSources      []model.Source `json:"relevant_sources"`
}

type topicRule struct {
	name     string
	keywords []string
}

// Topic rules, checked in this order so hints come out stable.
var topicRules = []topicRule{
	{name: "tax", keywords: []string{"tax", "taxes", "vat", "excise", "zakat", "withholding", "duty", "duties", "tariff", "levy"}},
	{name: "legal", keywords: []string{"law", "laws", "legal", "decree", "regulation", "regulations", "statute", "court", "penalty", "penalties", "fine", "fines", "licence", "license", "licensing", "compliance", "labour", "labor"}},
	{name: "visa", keywords: []string{"visa", "visas", "residency", "residence", "immigration", "passport", "entry", "sponsorship"}},
}

var asOfYearPattern = regexp.MustCompile(`(?i)\bas of (?:[a-z]+ )?((?:19|20)\d{2})\b`)

// Checker applies the rules. Its reference time is fixed at construction,
// so the same claim and sources always produce the same result.
type Checker struct {
	now time.Time
	cfg Config
}

// NewChecker creates a checker evaluating staleness relative to now
func NewChecker(now time.Time, cfg Config) *Checker {
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultConfig().MaxSources
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = DefaultConfig().StalenessThreshold
	}
	return &Checker{now: now, cfg: cfg}
}

// Check runs every rule against claim. It does no I/O.
func (c *Checker) Check(claim model.Claim, sources []model.Source) Result {
	var (
		hints    []string
		relevant []model.Source
		seen     = make(map[string]bool)
	)

	topics := Topics(claim)
	for _, topic := range topics {
		matched := topicSources(topic, sources)
		hints = append(hints, topicHint(topic, matched))
		for _, src := range matched {
			if !seen[src.ID] {
				seen[src.ID] = true
				relevant = append(relevant, src)
			}
		}
	}
	if len(topics) == 0 {
		for _, src := range sources {
			if src.Active {
				relevant = append(relevant, src)
			}
		}
	}

	if hint, stale := c.staleness(claim); stale {
		hints = append(hints, hint)
	}

	relevant = RankSources(relevant)
	if len(relevant) > c.cfg.MaxSources {
		relevant = relevant[:c.cfg.MaxSources]
	}

	return Result{
		NeedsLLMVerification: len(hints) > 0 || claim.Type == model.ClaimTypeNumeric ||
			claim.Type == model.ClaimTypePolicy || claim.Type == model.ClaimTypeTimeline,
		Hints:           hints,
		RelevantSources: relevant,
	}
}

// Topics returns the rule topics a claim touches, from its locator and text.
func Topics(claim model.Claim) []string {
	words := tokenize(claim.Text + " " + claim.Locator)
	var topics []string
	for _, rule := range topicRules {
		for _, kw := range rule.keywords {
			if words[kw] {
				topics = append(topics, rule.name)
				break
			}
		}
	}
	return topics
}

// IsPriorityLocator reports whether a locator falls under a rule topic.
func IsPriorityLocator(locator string) bool {
	return len(Topics(model.Claim{Locator: locator})) > 0
}

func topicSources(topic string, sources []model.Source) []model.Source {
	var out []model.Source
	for _, src := range sources {
		if !src.Active || !src.HasTopic(topic) {
			continue
		}
		if src.Category == model.CategoryRegulator || src.Category == model.CategoryOfficial {
			out = append(out, src)
		}
	}
	return RankSources(out)
}

func topicHint(topic string, matched []model.Source) string {
	if len(matched) == 0 {
		return fmt.Sprintf("%s: no regulator or official source registered for this topic", topic)
	}
	names := make([]string, len(matched))
	for i, src := range matched {
		names[i] = fmt.Sprintf("%s (%s)", src.Name, src.Category)
	}
	return fmt.Sprintf("%s: verify against %s", topic, strings.Join(names, ", "))
}

func (c *Checker) staleness(claim model.Claim) (string, bool) {
	if claim.AsOf != nil {
		if c.now.Sub(*claim.AsOf) > c.cfg.StalenessThreshold {
			return fmt.Sprintf("stale: last updated %s, older than %d days",
				claim.AsOf.Format("2006-01-02"), c.thresholdDays()), true
		}
		return "", false
	}

	m := asOfYearPattern.FindStringSubmatch(claim.Text + " " + claim.CurrentText)
	if m == nil {
		return "", false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	endOfYear := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)
	if c.now.Sub(endOfYear) > c.cfg.StalenessThreshold {
		return fmt.Sprintf("stale: stated as of %d, older than %d days", year, c.thresholdDays()), true
	}
	return "", false
}

func (c *Checker) thresholdDays() int {
	return int(c.cfg.StalenessThreshold / (24 * time.Hour))
}

// RankSources orders sources by trust level, then category
// (official, international-org, regulator, reputable-media), then name.
// The input is not modified.
func RankSources(sources []model.Source) []model.Source {
	out := make([]model.Source, len(sources))
	copy(out, sources)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TrustLevel != b.TrustLevel {
			return a.TrustLevel > b.TrustLevel
		}
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out
}

// DetermineSeverity is the single severity policy for both the rule and
// model paths.
func DetermineSeverity(claim model.Claim, verdict model.Verdict) model.Severity {
	switch verdict {
	case model.VerdictSupported, model.VerdictUnverifiable:
		return model.SeverityLow
	}
	switch claim.Type {
	case model.ClaimTypeComparison, model.ClaimTypeDefinition:
		return model.SeverityLow
	}
	if verdict == model.VerdictContradicted &&
		(claim.Type == model.ClaimTypeNumeric || claim.Type == model.ClaimTypePolicy) {
		return model.SeverityHigh
	}
	return model.SeverityMed
}

// tokenize lowercases s and splits it into words, breaking camelCase
// and path separators.
func tokenize(s string) map[string]bool {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteRune(' ')
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(' ')
		}
	}
	words := make(map[string]bool)
	for _, w := range strings.Fields(b.String()) {
		words[w] = true
	}
	return words
}
