package extract

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/evalagent/internal/model"
)

// proseKeywords mark sentences that state something checkable.
var proseKeywords = []string{
	"according to", "is defined as", "is legally", "under the law",
	"under this act", "shall", "must", "is required", "requires",
	"introduced", "established", "effective", "rate", "tax", "visa",
	"fee", "minimum", "maximum", "percent", "per cent", "applies",
	"eligible", "permit", "licence", "license",
}

// ExtractFromProse finds claim sentences in narrative text without calling
// a model: any sentence with a keyword or a figure becomes a claim whose
// current text is the whole sentence exactly as it appears in text. Locators are "<prefix>#s<n>" where n
// is the sentence index.
func ExtractFromProse(text, locatorPrefix string) []model.Claim {
	var claims []model.Claim
	for i, sentence := range splitSentences(text) {
		if !proseMatches(sentence) {
			continue
		}
		claimText := strings.Join(strings.Fields(sentence), " ")
		claims = append(claims, model.Claim{
			Text:        claimText,
			Type:        Classify(claimText, ""),
			Locator:     locatorPrefix + "#s" + strconv.Itoa(i),
			CurrentText: sentence,
		})
	}
	return dedupeClaims(claims)
}

func proseMatches(sentence string) bool {
	if digitPattern.MatchString(sentence) {
		return true
	}
	lower := strings.ToLower(sentence)
	for _, keyword := range proseKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// VisibleText returns the text nodes of an HTML document, skipping
// scripts and styles.
func VisibleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	return extractVisibleText(doc), nil
}

func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "nav", "footer":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

// splitSentences splits on terminal punctuation followed by whitespace and
// on blank lines, and keeps sentences between 30 and 500 bytes. Each
// sentence is a trimmed slice of text, so it can be found in text verbatim.
func splitSentences(text string) []string {
	var sentences []string

	keep := func(start, end int) {
		sentence := strings.TrimSpace(text[start:end])
		if len(sentence) >= 30 && len(sentence) <= 500 {
			sentences = append(sentences, sentence)
		}
	}

	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && isSpaceByte(text[i+1]) {
				keep(start, i+1)
				start = i + 1
			}
		case '\n':
			if blankLineAfter(text, i) {
				keep(start, i)
				start = i + 1
			}
		}
	}
	if start < len(text) {
		keep(start, len(text))
	}

	return sentences
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// blankLineAfter reports whether the line starting after text[i] holds only
// whitespace.
func blankLineAfter(text string, i int) bool {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case ' ', '\t', '\r':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return false
}

// dedupeClaims keeps the first claim for each case-insensitive text
func dedupeClaims(claims []model.Claim) []model.Claim {
	seen := make(map[string]bool)
	var unique []model.Claim

	for _, claim := range claims {
		key := normalizeClaimText(claim.Text)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, claim)
		}
	}

	return unique
}

func normalizeClaimText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
