package model

// Source is a trusted reference in the source registry.
// Sources are edited by operators and read-only to the pipeline.
type Source struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Category   SourceCategory `json:"category" yaml:"category"`
	BaseURL    string         `json:"base_url" yaml:"base_url"`
	TrustLevel int            `json:"trust_level" yaml:"trust_level"` // 1 (weak) to 5 (authoritative)
	Active     bool           `json:"active" yaml:"active"`
	Topics     []string       `json:"topics,omitempty" yaml:"topics,omitempty"` // Empty means the source answers for any topic
}

// SourceCategory classifies a source by the kind of institution behind it
type SourceCategory string

const (
	CategoryOfficial         SourceCategory = "official"          // Government portals, statutes
	CategoryInternationalOrg SourceCategory = "international-org" // IMF, OECD, World Bank
	CategoryRegulator        SourceCategory = "regulator"         // Tax authorities, central banks
	CategoryReputableMedia   SourceCategory = "reputable-media"   // Established news outlets
)

// Rank orders categories for tie-breaking; lower ranks first.
func (c SourceCategory) Rank() int {
	switch c {
	case CategoryOfficial:
		return 0
	case CategoryInternationalOrg:
		return 1
	case CategoryRegulator:
		return 2
	case CategoryReputableMedia:
		return 3
	default:
		return 4
	}
}

// Valid reports whether c is a known category.
func (c SourceCategory) Valid() bool {
	return c.Rank() < 4
}

// HasTopic reports whether the source answers for the given topic.
func (s Source) HasTopic(topic string) bool {
	if len(s.Topics) == 0 {
		return true
	}
	for _, t := range s.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
