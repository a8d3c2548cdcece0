package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/evalagent/internal/model"
)

type fakeCompleter struct {
	resp string
	err  error
	user string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.user = user
	return f.resp, f.err
}

const sampleText = "The UAE introduced a federal corporate tax of 9% in June 2023. Dubai hosts Expo City."

func TestExtractFromText_FiltersInvalid(t *testing.T) {
	llm := &fakeCompleter{resp: "```json\n" + `{"claims":[
		{"text":"UAE corporate tax is 9%","claim_type":"numeric","current_text":"9%","locator":"corporate tax"},
		{"text":"UAE corporate tax is 9%","claim_type":"numeric","current_text":"9%"},
		{"text":"","claim_type":"numeric","current_text":"9%"},
		{"text":"Expo City is in Abu Dhabi","claim_type":"rumour","current_text":"Expo City"},
		{"text":"Tax started in 2022","claim_type":"timeline","current_text":"in 2022"},
		{"text":"Corporate tax began June 2023","claim_type":"timeline","current_text":"June 2023"},
	]}` + "\n```"}

	ex := NewTextExtractor(llm, nil)
	claims := ex.ExtractFromText(context.Background(), sampleText, TextContext{LocatorPrefix: "document:7", Title: "Tax"})

	if len(claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d: %+v", len(claims), claims)
	}
	if claims[0].Locator != "document:7#corporate_tax" {
		t.Errorf("Unexpected locator %q", claims[0].Locator)
	}
	if claims[1].Type != model.ClaimTypeTimeline || claims[1].CurrentText != "June 2023" {
		t.Errorf("Unexpected second claim %+v", claims[1])
	}
	if claims[1].Locator != "document:7#1" {
		t.Errorf("Expected indexed locator, got %q", claims[1].Locator)
	}
}

func TestExtractFromText_BareArray(t *testing.T) {
	llm := &fakeCompleter{resp: `[{"text":"Tax is 9%","claim_type":"numeric","current_text":"9%"}]`}
	claims := NewTextExtractor(llm, nil).ExtractFromText(context.Background(), sampleText, TextContext{LocatorPrefix: "d"})
	if len(claims) != 1 {
		t.Fatalf("Expected 1 claim, got %d", len(claims))
	}
}

func TestExtractFromText_Degrades(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeCompleter
	}{
		{"capability error", &fakeCompleter{err: errors.New("503")}},
		{"malformed", &fakeCompleter{resp: "I could not find claims"}},
		{"empty", &fakeCompleter{resp: `{"claims":[]}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := NewTextExtractor(tt.llm, nil).ExtractFromText(context.Background(), sampleText, TextContext{})
			if len(claims) != 0 {
				t.Errorf("Expected no claims, got %d", len(claims))
			}
		})
	}
}

func TestExtractFromText_EmptyInputSkipsModel(t *testing.T) {
	llm := &fakeCompleter{resp: `{"claims":[]}`}
	NewTextExtractor(llm, nil).ExtractFromText(context.Background(), "   ", TextContext{})
	if llm.user != "" {
		t.Error("Expected no model call for empty text")
	}
}
