package model

import "time"

// Page is structured page data rendered by the dashboard (e.g., a country profile)
type Page struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Document is a narrative document: an article, a news item, or an insight projection
type Document struct {
	ID              string       `json:"id"`
	Kind            DocumentKind `json:"kind"`
	Title           string       `json:"title"`
	Content         string       `json:"content"`
	Summary         string       `json:"summary,omitempty"`
	SourceInsightID string       `json:"source_insight_id,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DocumentKind distinguishes how a document entered the store
type DocumentKind string

const (
	DocumentArticle DocumentKind = "article"
	DocumentNews    DocumentKind = "news"
	DocumentInsight DocumentKind = "insight" // Derived from an Insight record
)

// Insight is a derived, single-claim record with its rationale
type Insight struct {
	ID         string     `json:"id"`
	Claim      string     `json:"claim"`
	Rationale  string     `json:"rationale"`
	Category   string     `json:"category,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	AsOf       *time.Time `json:"as_of,omitempty"`
	References []string   `json:"references,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// InsightDocumentID is the id of the document projection of an insight.
func InsightDocumentID(insightID string) string {
	return "insight:" + insightID
}

// ProjectInsight derives the document projection of an insight.
func ProjectInsight(in Insight) Document {
	content := in.Claim
	if in.Rationale != "" {
		content += "\n\n" + in.Rationale
	}
	title := in.Category
	if title == "" {
		title = "Insight"
	}
	return Document{
		ID:              InsightDocumentID(in.ID),
		Kind:            DocumentInsight,
		Title:           title,
		Content:         content,
		Summary:         in.Claim,
		SourceInsightID: in.ID,
		UpdatedAt:       in.UpdatedAt,
	}
}
