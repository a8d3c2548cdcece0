package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ppiankov/evalagent/internal/model"
)

func TestExtractFromObject_Leaves(t *testing.T) {
	content := map[string]any{
		"legal": map[string]any{
			"corporateTax": "5%",
			"asOf":         "2022-01-15",
			"notes":        "See the ministry website",
		},
		"visa": map[string]any{
			"goldenVisa": map[string]any{
				"minimumInvestment": "AED 2 million",
				"url":               "https://example.gov/visa",
			},
		},
		"population": 9.4,
		"id":         "uae-123",
		"languages":  []any{"Arabic", "English"},
	}

	claims := ExtractFromObject(content, "uae")

	want := map[string]string{
		"uae.legal.corporateTax":                  "5%",
		"uae.population":                          "9.4",
		"uae.visa.goldenVisa.minimumInvestment":   "AED 2 million",
	}
	if len(claims) != len(want) {
		t.Fatalf("Expected %d claims, got %d: %+v", len(want), len(claims), claims)
	}
	for _, c := range claims {
		current, ok := want[c.Locator]
		if !ok {
			t.Errorf("Unexpected claim at %s", c.Locator)
			continue
		}
		if c.CurrentText != current {
			t.Errorf("%s: current text %q, want %q", c.Locator, c.CurrentText, current)
		}
	}

	// Sorted key order: legal < population < visa
	if claims[0].Locator != "uae.legal.corporateTax" {
		t.Errorf("Expected sorted traversal, first locator %s", claims[0].Locator)
	}
	if claims[0].Text != "legal corporate tax: 5%" {
		t.Errorf("Unexpected claim text %q", claims[0].Text)
	}
	if claims[0].Type != model.ClaimTypeNumeric {
		t.Errorf("Expected numeric, got %s", claims[0].Type)
	}
	if claims[0].AsOf == nil || !claims[0].AsOf.Equal(time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected as_of from sibling key, got %v", claims[0].AsOf)
	}
	if claims[1].AsOf != nil {
		t.Errorf("Expected no as_of outside the dated record, got %v", claims[1].AsOf)
	}
}

func TestExtractFromObject_ArrayLocators(t *testing.T) {
	content := map[string]any{
		"fees": []any{
			map[string]any{"amount": "AED 300"},
			map[string]any{"amount": "AED 500"},
		},
	}

	claims := ExtractFromObject(content, "")
	if len(claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d", len(claims))
	}
	if claims[0].Locator != "fees[0].amount" || claims[1].Locator != "fees[1].amount" {
		t.Errorf("Unexpected locators: %s, %s", claims[0].Locator, claims[1].Locator)
	}
}

func TestExtractFromObject_Cycles(t *testing.T) {
	inner := map[string]any{"rate": "9%"}
	outer := map[string]any{"tax": inner}
	inner["parent"] = outer

	list := []any{"AED 100", nil}
	list[1] = list
	outer["fees"] = list

	claims := ExtractFromObject(outer, "x")
	if len(claims) != 2 {
		t.Fatalf("Expected cycle edges to be dropped leaving 2 claims, got %d: %+v", len(claims), claims)
	}
}

func TestExtractFromObject_Deterministic(t *testing.T) {
	content := map[string]any{"b": "10%", "a": "AED 5", "c": map[string]any{"z": "2020-01-01", "y": "100 days"}}

	first := ExtractFromObject(content, "p")
	for i := 0; i < 5; i++ {
		again := ExtractFromObject(content, "p")
		if len(again) != len(first) {
			t.Fatalf("Run %d produced %d claims, want %d", i, len(again), len(first))
		}
		for j := range first {
			if first[j].Locator != again[j].Locator {
				t.Errorf("Run %d claim %d locator %s, want %s", i, j, again[j].Locator, first[j].Locator)
			}
		}
	}
}

func TestValueAt(t *testing.T) {
	page := map[string]any{
		"legal": map[string]any{"corporateTax": "5%"},
		"rates": []any{
			map[string]any{"value": 3.5},
			[]any{"a", json.Number("42")},
		},
		"population": 9900000,
	}

	tests := []struct {
		locator string
		want    string
		ok      bool
	}{
		{"uae.legal.corporateTax", "5%", true},
		{"uae.rates[0].value", "3.5", true},
		{"uae.rates[1][1]", "42", true},
		{"uae.population", "9900000", true},
		{"uae.legal", "", false},
		{"uae.rates[7].value", "", false},
		{"uae.rates[x]", "", false},
		{"ksa.legal.corporateTax", "", false},
		{"uae.missing", "", false},
	}
	for _, tt := range tests {
		got, ok := ValueAt(page, "uae", tt.locator)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ValueAt(%q) = %q, %v; want %q, %v", tt.locator, got, ok, tt.want, tt.ok)
		}
	}
}

func TestValueAt_RoundTripsExtractedClaims(t *testing.T) {
	page := map[string]any{
		"economy": map[string]any{"gdpGrowth": "3.1%", "inflation": []any{2.3, 1.9}},
	}
	for _, c := range ExtractFromObject(page, "uae") {
		got, ok := ValueAt(page, "uae", c.Locator)
		if !ok || got != c.CurrentText {
			t.Errorf("Locator %q resolved to %q, %v; want %q", c.Locator, got, ok, c.CurrentText)
		}
	}
}
