package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to IssueStatus
		want     bool
	}{
		{IssueOpen, IssueTriaged, true},
		{IssueOpen, IssueDismissed, true},
		{IssueOpen, IssueFixed, false},
		{IssueTriaged, IssueFixed, true},
		{IssueTriaged, IssueDismissed, true},
		{IssueTriaged, IssueOpen, true},
		{IssueFixed, IssueOpen, false},
		{IssueFixed, IssueDismissed, false},
		{IssueDismissed, IssueTriaged, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPatchComplete(t *testing.T) {
	var nilPatch *Patch
	if nilPatch.Complete() {
		t.Error("nil patch should not be complete")
	}

	p := &Patch{Field: "corporateTaxRate", OldValue: "5%", NewValue: "9%", AsOf: "2023-06"}
	if !p.Complete() {
		t.Error("expected full patch to be complete")
	}

	p.AsOf = ""
	if p.Complete() {
		t.Error("patch without as_of should not be complete")
	}
}

func TestSourceCategoryRank(t *testing.T) {
	order := []SourceCategory{CategoryOfficial, CategoryInternationalOrg, CategoryRegulator, CategoryReputableMedia}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("expected %s to rank before %s", order[i-1], order[i])
		}
	}
	if SourceCategory("blog").Valid() {
		t.Error("unknown category should be invalid")
	}
}

func TestProjectInsight(t *testing.T) {
	doc := ProjectInsight(Insight{ID: "abc", Claim: "Rate is 9%", Rationale: "Per FTA", Category: "tax"})
	if doc.ID != "insight:abc" {
		t.Errorf("unexpected id %q", doc.ID)
	}
	if doc.Summary != "Rate is 9%" {
		t.Errorf("unexpected summary %q", doc.Summary)
	}
	if doc.Content != "Rate is 9%\n\nPer FTA" {
		t.Errorf("unexpected content %q", doc.Content)
	}
	if doc.Kind != DocumentInsight || doc.SourceInsightID != "abc" {
		t.Errorf("unexpected projection %+v", doc)
	}
}
