package analysis

import "encoding/json"

const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
)

type Health struct {
	Status     string          `json:"status"`
	Service    json.RawMessage `json:"pythonService,omitempty"`
	Error      string          `json:"error,omitempty"`
	ServiceURL string          `json:"serviceUrl"`
}

type sentimentRequest struct {
	Text    string         `json:"text"`
	Title   *string        `json:"title"`
	Options map[string]any `json:"options"`
}

type tagsRequest struct {
	Text         string   `json:"text"`
	Title        *string  `json:"title"`
	ExistingTags []string `json:"existing_tags"`
	MaxTags      int      `json:"max_tags"`
}

type OverallSentiment struct {
	CompoundScore float64 `json:"compound_score"`
	Positive      float64 `json:"positive"`
	Negative      float64 `json:"negative"`
	Neutral       float64 `json:"neutral"`
	Polarity      float64 `json:"polarity"`
	Subjectivity  float64 `json:"subjectivity"`
}

// Sentiment is the /analyze/sentiment response. Raw keeps the full payload
// for the analysis log.
type Sentiment struct {
	Overall            OverallSentiment `json:"overall_sentiment"`
	EmotionalTone      string           `json:"emotional_tone"`
	EmotionalIntensity float64          `json:"emotional_intensity"`
	ObjectivityScore   float64          `json:"objectivity_score"`

	Raw json.RawMessage `json:"-"`
}

type SuggestedTag struct {
	Tag        string  `json:"tag"`
	Type       string  `json:"type"`
	EntityType string  `json:"entity_type,omitempty"`
	Relevance  float64 `json:"relevance"`
}

// Tags is the /generate-tags response.
type Tags struct {
	Suggested []SuggestedTag `json:"suggested_tags"`
	New       []SuggestedTag `json:"new_tags"`
	Count     int            `json:"tag_count"`

	Raw json.RawMessage `json:"-"`
}
