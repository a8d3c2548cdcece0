package apply

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/extract"
	"github.com/ppiankov/evalagent/internal/model"
)

func (a *Applier) applyDocument(ctx context.Context, issue *model.Issue) (Result, error) {
	if issue.ObjectID == "" {
		return Result{}, apperr.InvalidRequest("document issue %s has no object id", issue.ID)
	}
	doc, err := a.content.GetDocument(ctx, issue.ObjectID)
	if err != nil {
		return Result{}, storeErr(err, "load document %s", issue.ObjectID)
	}

	current := issue.CurrentTextValue()
	fix := *issue.SuggestedFix
	content, n, err := Replace(doc.Content, current, fix)
	if err != nil {
		return Result{}, err
	}
	doc.Content = content
	if current != "" && strings.Contains(doc.Summary, current) {
		doc.Summary, _, _ = Replace(doc.Summary, current, fix)
	}
	doc.UpdatedAt = a.now()

	if err := a.content.UpsertDocument(ctx, *doc); err != nil {
		return Result{}, storeErr(err, "save document %s", doc.ID)
	}
	a.index(ctx, *doc)

	return Result{
		AppliedTo: model.ObjectDocument,
		TargetID:  doc.ID,
		Action:    ActionDocumentUpdated,
		Details:   fmt.Sprintf("replaced %d occurrence(s)", n),
	}, nil
}

func (a *Applier) applyInsight(ctx context.Context, issue *model.Issue) (Result, error) {
	if issue.ObjectID == "" {
		return Result{}, apperr.InvalidRequest("insight issue %s has no object id", issue.ID)
	}
	in, err := a.content.GetInsight(ctx, issue.ObjectID)
	if err != nil {
		return Result{}, storeErr(err, "load insight %s", issue.ObjectID)
	}

	claim, n, err := Replace(in.Claim, issue.CurrentTextValue(), *issue.SuggestedFix)
	if err != nil {
		return Result{}, err
	}
	in.Claim = claim
	if issue.SuggestedPatch != nil {
		if asOf, ok := parseAsOf(issue.SuggestedPatch.AsOf); ok {
			in.AsOf = asOf
		}
	}
	in.UpdatedAt = a.now()

	if err := a.saveInsight(ctx, *in); err != nil {
		return Result{}, err
	}
	return Result{
		AppliedTo: model.ObjectInsight,
		TargetID:  in.ID,
		Action:    ActionInsightUpdated,
		Details:   fmt.Sprintf("replaced %d occurrence(s)", n),
	}, nil
}

// applyPage leaves the page itself untouched: page data is owned upstream,
// so the correction is published as an insight next to it.
func (a *Applier) applyPage(ctx context.Context, issue *model.Issue) (Result, error) {
	name := pageName(issue)
	page, err := a.content.GetPage(ctx, name)
	if err != nil {
		return Result{}, storeErr(err, "load page %s", name)
	}

	current := issue.CurrentTextValue()
	live, ok := extract.ValueAt(page.Data, page.Name, issue.ObjectLocator)
	if !ok {
		return Result{}, apperr.Conflict("locator %s no longer exists on page %s", issue.ObjectLocator, name)
	}
	if current != "" && live != current {
		return Result{}, apperr.Conflict("page value at %s changed from %q to %q", issue.ObjectLocator, current, live)
	}

	in := a.correction(issue, "page-correction", name)
	in.Rationale = fmt.Sprintf("Correction for %s on page %s. Original claim: %q. Prior value: %q.",
		issue.ObjectLocator, name, issue.Claim, live)
	if err := a.saveInsight(ctx, in); err != nil {
		return Result{}, err
	}
	return Result{
		AppliedTo: model.ObjectPage,
		TargetID:  in.ID,
		Action:    ActionInsightCreated,
		Details:   "page " + name + " at " + issue.ObjectLocator,
	}, nil
}

// applyNews corrects the news document in place when it still exists and
// otherwise records the correction as an insight.
func (a *Applier) applyNews(ctx context.Context, issue *model.Issue) (Result, error) {
	if issue.ObjectID != "" {
		res, err := a.applyDocument(ctx, issue)
		if err == nil {
			res.AppliedTo = model.ObjectNews
			return res, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return Result{}, err
		}
	}

	in := a.correction(issue, "news-correction", "news")
	in.Rationale = fmt.Sprintf("Correction for news item %s. Original claim: %q. Prior text: %q.",
		firstNonEmpty(issue.ObjectID, issue.ObjectLocator), issue.Claim, issue.CurrentTextValue())
	if err := a.saveInsight(ctx, in); err != nil {
		return Result{}, err
	}
	return Result{
		AppliedTo: model.ObjectNews,
		TargetID:  in.ID,
		Action:    ActionNewsCorrection,
	}, nil
}

// correction builds a new insight carrying the issue's full suggested fix.
func (a *Applier) correction(issue *model.Issue, category string, tags ...string) model.Insight {
	in := model.Insight{
		ID:         a.newID(),
		Claim:      *issue.SuggestedFix,
		Category:   category,
		Tags:       append([]string{category}, tags...),
		References: append([]string(nil), issue.References...),
		UpdatedAt:  a.now(),
	}
	if issue.SuggestedPatch != nil {
		if asOf, ok := parseAsOf(issue.SuggestedPatch.AsOf); ok {
			in.AsOf = asOf
		}
	}
	return in
}

// saveInsight stores the insight and refreshes its document projection.
func (a *Applier) saveInsight(ctx context.Context, in model.Insight) error {
	if err := a.content.UpsertInsight(ctx, in); err != nil {
		return storeErr(err, "save insight %s", in.ID)
	}
	doc := model.ProjectInsight(in)
	if err := a.content.UpsertDocument(ctx, doc); err != nil {
		return storeErr(err, "save insight projection %s", doc.ID)
	}
	a.index(ctx, doc)
	return nil
}

// pageName is the object id when set, else the first locator segment.
func pageName(issue *model.Issue) string {
	if issue.ObjectID != "" {
		return issue.ObjectID
	}
	name, _, _ := strings.Cut(issue.ObjectLocator, ".")
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
