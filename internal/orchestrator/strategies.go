package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/extract"
	"github.com/ppiankov/evalagent/internal/judge"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/rules"
	"github.com/ppiankov/evalagent/internal/scope"
)

// rulesConfidence is recorded on issues raised by the rules checker alone.
const rulesConfidence = 0.5

// origin points a claim back at the object it came from
type origin struct {
	objectType model.ObjectType
	objectID   string
}

type located struct {
	origin
	claim model.Claim
}

func documentType(doc model.Document) model.ObjectType {
	if doc.Kind == model.DocumentNews {
		return model.ObjectNews
	}
	return model.ObjectDocument
}

func documentPrefix(id string) string {
	return "document:" + id
}

// dailyRules runs the rules checker over every claim the heuristics find
// and raises an issue for each claim with at least one hint.
func (o *Orchestrator) dailyRules(ctx context.Context, ex *execution, checker *rules.Checker, content *scope.Content, sources []model.Source) error {
	var claims []located
	for _, page := range content.Pages {
		for _, c := range extract.ExtractFromObject(page.Data, page.Name) {
			claims = append(claims, located{origin{model.ObjectPage, page.Name}, c})
		}
	}
	for _, in := range content.Insights {
		if strings.TrimSpace(in.Claim) == "" {
			continue
		}
		claims = append(claims, located{origin{model.ObjectInsight, in.ID}, model.Claim{
			Text:        in.Claim,
			Type:        extract.Classify(in.Claim, in.Category),
			Locator:     model.InsightDocumentID(in.ID),
			CurrentText: in.Claim,
			AsOf:        in.AsOf,
		}})
	}
	for _, doc := range content.Documents {
		for _, c := range extract.ExtractFromProse(doc.Content, documentPrefix(doc.ID)) {
			claims = append(claims, located{origin{documentType(doc), doc.ID}, c})
		}
	}
	ex.tally.Extracted(len(claims))

	flagged, created := 0, 0
	for _, lc := range claims {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := checker.Check(lc.claim, sources)
		if len(res.Hints) == 0 {
			continue
		}
		flagged++
		ex.tally.Verdict(model.VerdictUnverifiable, rulesConfidence)

		fix := strings.Join(res.Hints, "; ")
		issue := &model.Issue{
			RunID:         ex.run.ID,
			ObjectType:    lc.objectType,
			ObjectID:      lc.objectID,
			ObjectLocator: lc.claim.Locator,
			Claim:         lc.claim.Text,
			ClaimType:     lc.claim.Type,
			Verdict:       model.VerdictUnverifiable,
			Severity:      rules.DetermineSeverity(lc.claim, model.VerdictUnverifiable),
			Confidence:    rulesConfidence,
			CurrentText:   optional(lc.claim.CurrentText),
			SuggestedFix:  &fix,
			References:    sourceURLs(res.RelevantSources),
		}
		if o.createIssue(ctx, ex, issue) {
			created++
		}
	}

	ex.logf("%s: %d claims checked, %d flagged, %d issues created",
		model.RunTypeDailyRules, len(claims), flagged, created)
	return nil
}

// textTarget is one object the weekly strategy sends through text extraction
type textTarget struct {
	origin
	prefix    string
	title     string
	kind      string
	text      string
	page      *model.Page
	updatedAt time.Time
}

// weeklyTargets serialises pages and picks the most recently updated
// documents and insights, at most maxDocuments of them.
func weeklyTargets(content *scope.Content, maxDocuments int) []textTarget {
	var recent []textTarget
	for _, doc := range content.Documents {
		recent = append(recent, textTarget{
			origin:    origin{documentType(doc), doc.ID},
			prefix:    documentPrefix(doc.ID),
			title:     doc.Title,
			kind:      string(doc.Kind),
			text:      doc.Content,
			updatedAt: doc.UpdatedAt,
		})
	}
	// only the claim of an insight is sent: fixes are applied to the claim,
	// so text quoted from the rationale could never be replaced
	for _, in := range content.Insights {
		proj := model.ProjectInsight(in)
		recent = append(recent, textTarget{
			origin:    origin{model.ObjectInsight, in.ID},
			prefix:    proj.ID,
			title:     proj.Title,
			kind:      string(model.DocumentInsight),
			text:      in.Claim,
			updatedAt: in.UpdatedAt,
		})
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].updatedAt.After(recent[j].updatedAt)
	})
	if maxDocuments > 0 && len(recent) > maxDocuments {
		recent = recent[:maxDocuments]
	}

	targets := make([]textTarget, 0, len(content.Pages)+len(recent))
	for i := range content.Pages {
		page := &content.Pages[i]
		data, err := json.MarshalIndent(page.Data, "", "  ")
		if err != nil {
			continue
		}
		targets = append(targets, textTarget{
			origin:    origin{model.ObjectPage, page.Name},
			prefix:    page.Name,
			title:     page.Name,
			kind:      "page",
			text:      string(data),
			page:      page,
			updatedAt: page.UpdatedAt,
		})
	}
	return append(targets, recent...)
}

// weeklyFactcheck extracts claims through the model, narrows sources with
// the rules checker and verifies the claims in paced batches. Every verdict
// other than supported becomes an issue.
func (o *Orchestrator) weeklyFactcheck(ctx context.Context, ex *execution, checker *rules.Checker, content *scope.Content, sources []model.Source) error {
	targets := weeklyTargets(content, o.maxDocuments)

	var requests []judge.Request
	origins := make(map[string]origin)
	for _, t := range targets {
		claims := o.extractor.ExtractFromText(ctx, t.text, extract.TextContext{
			LocatorPrefix: t.prefix,
			Title:         t.title,
			Kind:          t.kind,
		})
		if t.page != nil {
			claims = anchorToPage(claims, t.page)
		}
		ex.tally.Extracted(len(claims))

		for _, c := range claims {
			if _, dup := origins[c.Locator]; dup {
				continue
			}
			origins[c.Locator] = t.origin
			res := checker.Check(c, sources)
			req := judge.Request{Claim: c, RelevantSources: res.RelevantSources}
			if len(res.Hints) > 0 {
				req.AdditionalContext = "Rule hints:\n- " + strings.Join(res.Hints, "\n- ")
			}
			requests = append(requests, req)
		}
	}

	selected := judge.Select(requests, o.batch)
	if o.fetcher != nil {
		for i := range selected {
			if len(selected[i].RelevantSources) > 0 {
				selected[i].SourceContent = o.fetcher.SourceContent(ctx, selected[i].RelevantSources)
			}
		}
	}

	results := o.judge.VerifyBatch(ctx, selected, o.batch)

	verified, created := 0, 0
	for _, req := range selected {
		res, ok := results[req.Claim.Locator]
		if !ok {
			continue
		}
		verified++
		ex.tally.Verdict(res.Verdict, res.Confidence)
		for _, w := range res.Warnings {
			o.log.Debug("judge warning", zap.String("locator", req.Claim.Locator), zap.String("warning", w))
		}
		if res.Verdict == model.VerdictSupported {
			continue
		}

		from := origins[req.Claim.Locator]
		issue := &model.Issue{
			RunID:          ex.run.ID,
			ObjectType:     from.objectType,
			ObjectID:       from.objectID,
			ObjectLocator:  req.Claim.Locator,
			Claim:          req.Claim.Text,
			ClaimType:      req.Claim.Type,
			Verdict:        res.Verdict,
			Severity:       res.Severity,
			Confidence:     res.Confidence,
			CurrentText:    optional(req.Claim.CurrentText),
			SuggestedFix:   res.SuggestedFix,
			SuggestedPatch: res.SuggestedPatch,
			References:     res.References,
		}
		if o.createIssue(ctx, ex, issue) {
			created++
		}
	}

	ex.logf("%s: %d targets, %d claims extracted, %d selected, %d verified, %d issues created",
		model.RunTypeWeeklyFactcheck, len(targets), len(requests), len(selected), verified, created)

	if verified < len(selected) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// anchorToPage rewrites text-path locators on page claims to the object
// locator of the leaf holding the same text, so approved fixes can be
// checked against the live page. Claims without a unique anchor keep their
// text locator.
func anchorToPage(claims []model.Claim, page *model.Page) []model.Claim {
	leaves := extract.ExtractFromObject(page.Data, page.Name)
	used := make(map[string]bool)
	for i, c := range claims {
		if c.CurrentText == "" {
			continue
		}
		leaf, ok := findLeaf(leaves, c.CurrentText)
		if !ok || used[leaf.Locator] {
			continue
		}
		used[leaf.Locator] = true
		claims[i].Locator = leaf.Locator
		claims[i].CurrentText = leaf.CurrentText
		if claims[i].AsOf == nil {
			claims[i].AsOf = leaf.AsOf
		}
	}
	return claims
}

func findLeaf(leaves []model.Claim, text string) (model.Claim, bool) {
	for _, leaf := range leaves {
		if leaf.CurrentText == text {
			return leaf, true
		}
	}
	var match model.Claim
	n := 0
	for _, leaf := range leaves {
		if strings.Contains(leaf.CurrentText, text) {
			match = leaf
			n++
		}
	}
	return match, n == 1
}

// createIssue persists one issue. A failure is logged against the run and
// does not stop the strategy.
func (o *Orchestrator) createIssue(ctx context.Context, ex *execution, issue *model.Issue) bool {
	if err := o.issues.Create(ctx, issue); err != nil {
		o.log.Warn("failed to create issue",
			zap.String("run_id", ex.run.ID),
			zap.String("locator", issue.ObjectLocator),
			zap.Error(err))
		ex.logf("issue for %s not created: %v", issue.ObjectLocator, err)
		return false
	}
	ex.tally.Issue(issue)
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sourceURLs(sources []model.Source) []string {
	urls := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.BaseURL != "" {
			urls = append(urls, src.BaseURL)
		}
	}
	return urls
}
