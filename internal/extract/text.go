package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/llm"
	"github.com/ppiankov/evalagent/internal/model"
)

const maxTextChars = 12000

const textExtractionSystem = `You extract atomic factual claims from content for fact-checking.
Return only JSON of the form:
{"claims":[{"text":"...","claim_type":"numeric|definition|policy|timeline|comparison","current_text":"...","locator":"..."}]}
Rules:
- "text" is one self-contained factual statement.
- "current_text" is copied verbatim from the content (the exact words that would change if the claim were wrong).
- "locator" is optional: a short field or section name.
- Skip opinions, forecasts and marketing language.
- Return {"claims":[]} when there is nothing checkable.`

// TextContext describes where the text came from
type TextContext struct {
	LocatorPrefix string
	Title         string
	Kind          string // document kind or "page"
}

// TextExtractor pulls claims out of unstructured prose through a model
type TextExtractor struct {
	llm llm.Completer
	log *zap.Logger
}

// NewTextExtractor creates a text extractor
func NewTextExtractor(completer llm.Completer, log *zap.Logger) *TextExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &TextExtractor{llm: completer, log: log}
}

type rawClaim struct {
	Text        string `json:"text"`
	ClaimType   string `json:"claim_type"`
	CurrentText string `json:"current_text"`
	Locator     string `json:"locator"`
}

// ExtractFromText asks the model for claims. Entries missing text, with an
// unknown type, or whose current text does not appear verbatim in text are
// dropped. Model failures and unparseable output yield no claims.
func (e *TextExtractor) ExtractFromText(ctx context.Context, text string, tc TextContext) []model.Claim {
	if strings.TrimSpace(text) == "" || e.llm == nil {
		return nil
	}

	resp, err := e.llm.Complete(ctx, textExtractionSystem, buildTextPrompt(text, tc))
	if err != nil {
		e.log.Warn("claim extraction failed", zap.String("locator", tc.LocatorPrefix), zap.Error(err))
		return nil
	}

	raws, err := parseRawClaims(resp)
	if err != nil {
		e.log.Warn("claim extraction returned unparseable output",
			zap.String("locator", tc.LocatorPrefix), zap.Error(err))
		return nil
	}

	var claims []model.Claim
	used := make(map[string]bool)
	seen := make(map[string]bool)
	for _, raw := range raws {
		claimText := strings.TrimSpace(raw.Text)
		claimType := model.ClaimType(strings.ToLower(strings.TrimSpace(raw.ClaimType)))
		current := strings.TrimSpace(raw.CurrentText)
		if claimText == "" || !claimType.Valid() {
			continue
		}
		if current != "" && !strings.Contains(text, current) {
			e.log.Debug("dropping claim with non-verbatim current text",
				zap.String("locator", tc.LocatorPrefix), zap.String("current_text", current))
			continue
		}
		key := normalizeClaimText(claimText)
		if seen[key] {
			continue
		}
		seen[key] = true

		locator := textLocator(tc.LocatorPrefix, raw.Locator, len(claims))
		if used[locator] {
			locator = textLocator(tc.LocatorPrefix, "", len(claims))
		}
		used[locator] = true

		claims = append(claims, model.Claim{
			Text:        claimText,
			Type:        claimType,
			Locator:     locator,
			CurrentText: current,
		})
	}

	return claims
}

func buildTextPrompt(text string, tc TextContext) string {
	var b strings.Builder
	if tc.Kind != "" {
		fmt.Fprintf(&b, "Content kind: %s\n", tc.Kind)
	}
	if tc.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", tc.Title)
	}
	b.WriteString("Content:\n")
	b.WriteString(truncateRunes(text, maxTextChars))
	return b.String()
}

// parseRawClaims accepts {"claims":[...]} or a bare array, fenced or not.
func parseRawClaims(resp string) ([]rawClaim, error) {
	if obj := llm.ExtractJSON(resp); obj != "" {
		var envelope struct {
			Claims []rawClaim `json:"claims"`
		}
		if err := json.Unmarshal([]byte(obj), &envelope); err == nil && envelope.Claims != nil {
			return envelope.Claims, nil
		}
	}
	if arr := llm.ExtractJSONArray(resp); arr != "" {
		var list []rawClaim
		if err := json.Unmarshal([]byte(arr), &list); err == nil {
			return list, nil
		}
	}
	return nil, fmt.Errorf("no claims JSON in response")
}

func textLocator(prefix, hint string, index int) string {
	hint = strings.Join(strings.Fields(hint), "_")
	if hint == "" {
		return fmt.Sprintf("%s#%d", prefix, index)
	}
	return prefix + "#" + hint
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
