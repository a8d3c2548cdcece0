// Package judge asks the reasoning capability for a verdict on one claim
// and validates what comes back before anything downstream trusts it.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/llm"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/rules"
	"github.com/ppiankov/evalagent/internal/validate"
)

// coercedConfidenceCap bounds the confidence of any result the judge had to
// downgrade to unverifiable.
const coercedConfidenceCap = 0.3

const maxSourceContentChars = 8000

const verifySystem = `You verify one factual claim against trusted sources.
Return only JSON of the form:
{"verdict":"supported|needs_update|contradicted|unverifiable","confidence":0.0,"rationale":"...","suggested_fix":"...","suggested_patch":{"field":"...","old_value":"...","new_value":"...","as_of":"YYYY-MM"},"references":["https://..."]}
Rules:
- "supported": the sources agree with the claim. "needs_update": the claim was true but is out of date. "contradicted": the sources say otherwise. "unverifiable": the sources do not settle it.
- For needs_update and contradicted, "suggested_fix" is a complete replacement sentence that can be published as is, not an instruction. "suggested_patch" must fill all four fields; "old_value" is the exact text being replaced.
- For supported and unverifiable, set "suggested_fix" and "suggested_patch" to null.
- "references" lists URLs on the provided sources only.
- "confidence" is between 0 and 1.`

// Request is one claim to verify
type Request struct {
	Claim             model.Claim
	SourceContent     string
	RelevantSources   []model.Source
	AdditionalContext string
}

// Result is a validated verdict
type Result struct {
	Verdict        model.Verdict  `json:"verdict"`
	Severity       model.Severity `json:"severity"`
	Confidence     float64        `json:"confidence"`
	Rationale      string         `json:"rationale,omitempty"`
	SuggestedFix   *string        `json:"suggested_fix"`
	SuggestedPatch *model.Patch   `json:"suggested_patch"`
	References     []string       `json:"references"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// Judge verifies claims through a Completer
type Judge struct {
	llm llm.Completer
	log *zap.Logger
}

// New creates a judge
func New(completer llm.Completer, log *zap.Logger) *Judge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Judge{llm: completer, log: log}
}

type rawVerdict struct {
	Verdict        string       `json:"verdict"`
	Confidence     *float64     `json:"confidence"`
	Rationale      string       `json:"rationale"`
	SuggestedFix   *string      `json:"suggested_fix"`
	SuggestedPatch *model.Patch `json:"suggested_patch"`
	References     []string     `json:"references"`
}

// Verify asks for a verdict on req.Claim. A capability failure returns an
// unverifiable result with zero confidence together with the error; every
// other problem is folded into the result.
func (j *Judge) Verify(ctx context.Context, req Request) (Result, error) {
	if j.llm == nil {
		return unverifiable(req.Claim, 0), apperr.Upstream(nil, "no reasoning capability configured")
	}

	resp, err := j.llm.Complete(ctx, verifySystem, buildPrompt(req))
	if err != nil {
		return unverifiable(req.Claim, 0), apperr.Wrap(apperr.KindUpstream, err, "verify %s", req.Claim.Locator)
	}

	return j.interpret(req, resp), nil
}

func (j *Judge) interpret(req Request, resp string) Result {
	var raw rawVerdict
	obj := llm.ExtractJSON(resp)
	if obj == "" || json.Unmarshal([]byte(obj), &raw) != nil {
		j.log.Warn("judge returned unparseable output", zap.String("locator", req.Claim.Locator))
		res := unverifiable(req.Claim, 0)
		res.Warnings = append(res.Warnings, "unparseable response")
		return res
	}

	confidence := 0.0
	if raw.Confidence != nil {
		confidence = clamp(*raw.Confidence)
	}

	res := Result{
		Verdict:    model.Verdict(strings.ToLower(strings.TrimSpace(raw.Verdict))),
		Confidence: confidence,
		Rationale:  strings.TrimSpace(raw.Rationale),
	}

	switch {
	case !res.Verdict.Valid():
		res = coerce(req.Claim, res, fmt.Sprintf("unknown verdict %q", raw.Verdict))
	case res.Verdict.RequiresFix():
		fix := ""
		if raw.SuggestedFix != nil {
			fix = strings.TrimSpace(*raw.SuggestedFix)
		}
		switch {
		case fix == "":
			res = coerce(req.Claim, res, "missing suggested fix")
		case !raw.SuggestedPatch.Complete():
			res = coerce(req.Claim, res, "incomplete suggested patch")
		default:
			res.SuggestedFix = &fix
			patch := *raw.SuggestedPatch
			res.SuggestedPatch = &patch
		}
	}

	kept, dropped := validate.NewAllowlist(req.RelevantSources).Filter(raw.References)
	res.References = kept
	for _, ref := range dropped {
		res.Warnings = append(res.Warnings, "dropped reference outside registered sources: "+ref)
	}
	res.Severity = rules.DetermineSeverity(req.Claim, res.Verdict)
	return res
}

// coerce downgrades res to unverifiable, keeping the rationale.
func coerce(claim model.Claim, res Result, reason string) Result {
	out := unverifiable(claim, math.Min(res.Confidence, coercedConfidenceCap))
	out.Rationale = res.Rationale
	out.Warnings = append(res.Warnings, "coerced to unverifiable: "+reason)
	return out
}

func unverifiable(claim model.Claim, confidence float64) Result {
	return Result{
		Verdict:    model.VerdictUnverifiable,
		Severity:   rules.DetermineSeverity(claim, model.VerdictUnverifiable),
		Confidence: confidence,
		References: []string{},
	}
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n", req.Claim.Text)
	fmt.Fprintf(&b, "Claim type: %s\n", req.Claim.Type)
	fmt.Fprintf(&b, "Location: %s\n", req.Claim.Locator)
	if req.Claim.CurrentText != "" {
		fmt.Fprintf(&b, "Current text: %s\n", req.Claim.CurrentText)
	}
	if req.Claim.AsOf != nil {
		fmt.Fprintf(&b, "Stated as of: %s\n", req.Claim.AsOf.Format("2006-01-02"))
	}

	b.WriteString("\nTrusted sources:\n")
	if len(req.RelevantSources) == 0 {
		b.WriteString("(none registered)\n")
	}
	for _, src := range req.RelevantSources {
		fmt.Fprintf(&b, "- %s (%s, trust %d): %s\n", src.Name, src.Category, src.TrustLevel, src.BaseURL)
	}

	if content := strings.TrimSpace(req.SourceContent); content != "" {
		b.WriteString("\nSource content:\n")
		runes := []rune(content)
		if len(runes) > maxSourceContentChars {
			runes = runes[:maxSourceContentChars]
		}
		b.WriteString(string(runes))
		b.WriteString("\n")
	}
	if extra := strings.TrimSpace(req.AdditionalContext); extra != "" {
		b.WriteString("\nAdditional context:\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}
