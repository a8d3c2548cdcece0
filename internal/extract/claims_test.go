package extract

import (
	"strings"
	"testing"

	"github.com/ppiankov/evalagent/internal/model"
)

func TestExtractFromProse_KeywordsAndFigures(t *testing.T) {
	text := "The corporate tax rate is 9% for profits above AED 375,000. " +
		"Dubai is a popular destination for travellers from Europe. " +
		"Under the law, a residence visa must be renewed every two years."

	claims := ExtractFromProse(text, "document:42")
	if len(claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d: %+v", len(claims), claims)
	}

	if claims[0].Type != model.ClaimTypeNumeric {
		t.Errorf("Expected numeric claim, got %s", claims[0].Type)
	}
	if claims[0].Locator != "document:42#s0" {
		t.Errorf("Unexpected locator %q", claims[0].Locator)
	}
	if claims[0].CurrentText != claims[0].Text {
		t.Error("Expected prose claims to carry the whole sentence as current text")
	}
	if claims[1].Locator != "document:42#s2" {
		t.Errorf("Expected sentence index 2, got %q", claims[1].Locator)
	}
	if claims[1].Type != model.ClaimTypePolicy {
		t.Errorf("Expected policy claim, got %s", claims[1].Type)
	}
}

func TestExtractFromProse_Deterministic(t *testing.T) {
	text := "Visa fees increased to AED 500 in 2024. Visa fees increased to AED 500 in 2024. The minimum salary for a golden visa is AED 30,000."

	first := ExtractFromProse(text, "p")
	second := ExtractFromProse(text, "p")
	if len(first) != 2 {
		t.Fatalf("Expected duplicates to collapse to 2 claims, got %d", len(first))
	}
	for i := range first {
		if first[i].Text != second[i].Text || first[i].Locator != second[i].Locator {
			t.Errorf("Claim %d differs between runs", i)
		}
	}
}

func TestVisibleText_SkipsScripts(t *testing.T) {
	text, err := VisibleText(`<html><head><style>p{}</style><script>var x = "tax";</script></head>
		<body><nav>Menu</nav><p>The VAT rate is 5%.</p></body></html>`)
	if err != nil {
		t.Fatalf("VisibleText failed: %v", err)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "Menu") {
		t.Errorf("Expected scripts and navigation to be skipped, got %q", text)
	}
	if !strings.Contains(text, "The VAT rate is 5%.") {
		t.Errorf("Expected paragraph text, got %q", text)
	}
}

func TestSplitSentences_MinMaxLength(t *testing.T) {
	long := strings.Repeat("a", 600) + ". "
	sentences := splitSentences("Too short. " + long + "This sentence is long enough to be kept as a claim.")
	if len(sentences) != 1 {
		t.Fatalf("Expected 1 sentence, got %d: %v", len(sentences), sentences)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text    string
		locator string
		want    model.ClaimType
	}{
		{"5%", "legal.corporateTax", model.ClaimTypeNumeric},
		{"AED 375,000", "", model.ClaimTypeNumeric},
		{"Effective June 2023", "", model.ClaimTypeTimeline},
		{"2023-06-01", "", model.ClaimTypeTimeline},
		{"Golden Visa", "visa.programme", model.ClaimTypePolicy},
		{"Corporate tax is higher than in Bahrain", "", model.ClaimTypeComparison},
		{"A free zone is a special economic area", "", model.ClaimTypeDefinition},
		{"Population 9.4", "", model.ClaimTypeNumeric},
	}

	for _, tt := range tests {
		if got := Classify(tt.text, tt.locator); got != tt.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", tt.text, tt.locator, got, tt.want)
		}
	}
}

func TestExtractFromProse_CurrentTextIsVerbatim(t *testing.T) {
	text := "Corporate tax overview\n\nThe corporate tax rate is 5% on taxable profits.\n" +
		"Businesses must register with the\nFederal Tax Authority within 90 days.\n\n" +
		"  \n\nVisa fees\r\n\r\nA residence visa costs AED 1,000 and\tis renewed every two years. Done."

	claims := ExtractFromProse(text, "document:7")
	if len(claims) != 3 {
		t.Fatalf("Expected 3 claims, got %d: %+v", len(claims), claims)
	}
	for _, c := range claims {
		if !strings.Contains(text, c.CurrentText) {
			t.Errorf("Current text %q is not verbatim in the document", c.CurrentText)
		}
		if strings.Contains(c.Text, "\n") {
			t.Errorf("Expected claim text on one line, got %q", c.Text)
		}
	}
	if claims[0].CurrentText != "The corporate tax rate is 5% on taxable profits." {
		t.Errorf("Expected the heading to stay out of the first sentence, got %q", claims[0].CurrentText)
	}
	if claims[1].Text != "Businesses must register with the Federal Tax Authority within 90 days." {
		t.Errorf("Unexpected normalised text %q", claims[1].Text)
	}
}
