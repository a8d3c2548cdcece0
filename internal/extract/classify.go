package extract

import (
	"regexp"
	"strings"

	"github.com/ppiankov/evalagent/internal/model"
)

var (
	quantityPattern = regexp.MustCompile(`(?i)\d[\d,.]*\s*(%|percent|per cent|aed|usd|eur|gbp|\$|€|£|days?|months?|years?|hours?|km|kg|million|billion|bn|m\b)|[$€£]\s*\d`)
	datePattern     = regexp.MustCompile(`(?i)\b(19|20)\d{2}-\d{2}(-\d{2})?\b|\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sep(tember)?|oct(ober)?|nov(ember)?|dec(ember)?)\s+(\d{1,2},?\s+)?(19|20)\d{2}\b|\b(in|since|from|until|by|effective)\s+(19|20)\d{2}\b`)
	digitPattern    = regexp.MustCompile(`\d`)
)

var comparisonMarkers = []string{
	"higher than", "lower than", "more than", "less than", "greater than",
	"compared to", "compared with", " versus ", " vs ", "the largest",
	"the smallest", "the highest", "the lowest", "ranked",
}

var policyMarkers = []string{
	"law", "act", "decree", "regulation", "policy", "visa", "permit",
	"licence", "license", "requirement", "required", "must", "shall",
	"tax", "programme", "program", "scheme", "exempt",
}

// Classify assigns a claim type from the claim text and, for structured
// data, its locator.
func Classify(text, locator string) model.ClaimType {
	lower := " " + strings.ToLower(text) + " "

	for _, marker := range comparisonMarkers {
		if strings.Contains(lower, marker) {
			return model.ClaimTypeComparison
		}
	}
	if quantityPattern.MatchString(text) {
		return model.ClaimTypeNumeric
	}
	if datePattern.MatchString(text) {
		return model.ClaimTypeTimeline
	}

	words := splitWords(lower + " " + strings.ToLower(splitCamel(locator)))
	for _, marker := range policyMarkers {
		if words[marker] {
			return model.ClaimTypePolicy
		}
	}
	if digitPattern.MatchString(text) {
		return model.ClaimTypeNumeric
	}
	return model.ClaimTypeDefinition
}

func splitWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		words[w] = true
	}
	return words
}
