// Package domain defines the core types that flow through a scrape run:
// configured sources, raw provider items, normalized posts and the
// classifier's verdict on each post.
package domain

import "time"

// Source is a community group the provider is asked to scrape.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RawItem is one record as returned by the scraping provider, before
// normalization. Empty fields mean the provider omitted them.
type RawItem struct {
	ProviderID    string
	Text          string
	Author        string
	AuthorURL     string
	PostURL       string
	TimestampText string
	Likes         int
	Comments      int
	Shares        int
	HasMedia      bool
	MediaType     string
	TopComments   []any
}

// Engagement holds the interaction counters of a post.
type Engagement struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`
}

// Post is a normalized item ready for keyword matching and classification.
type Post struct {
	ID              string                `json:"id"`
	ProviderID      string                `json:"postId"`
	Author          string                `json:"author"`
	AuthorURL       string                `json:"authorProfileUrl,omitempty"`
	TimestampText   string                `json:"timestamp,omitempty"`
	Text            string                `json:"text"`
	PostURL         string                `json:"postUrl,omitempty"`
	CapturedAt      time.Time             `json:"capturedAt"`
	Engagement      Engagement            `json:"engagement"`
	HasMedia        bool                  `json:"hasMedia"`
	MediaType       string                `json:"mediaType,omitempty"`
	TopComments     []any                 `json:"topComments,omitempty"`
	MatchedKeywords []string              `json:"matched_keywords,omitempty"`
	Analysis        *ClassificationResult `json:"ai_analysis,omitempty"`
}

// IsOpportunity reports whether the post has been classified as one.
func (p Post) IsOpportunity() bool {
	return p.Analysis != nil && p.Analysis.IsOpportunity
}

// OpportunityType is the kind of opportunity a post represents.
type OpportunityType string

const (
	OpportunityHiring     OpportunityType = "hiring"
	OpportunityAutomation OpportunityType = "automation"
	OpportunityNone       OpportunityType = "none"
)

// ParseOpportunityType maps a classifier label to a known type. Unknown or
// empty labels map to OpportunityNone.
func ParseOpportunityType(s string) OpportunityType {
	switch OpportunityType(s) {
	case OpportunityHiring:
		return OpportunityHiring
	case OpportunityAutomation:
		return OpportunityAutomation
	default:
		return OpportunityNone
	}
}

// ClassificationResult is the validated verdict for one post.
type ClassificationResult struct {
	IsOpportunity       bool            `json:"is_opportunity"`
	Type                OpportunityType `json:"opportunity_type"`
	Confidence          float64         `json:"confidence"`
	Category            string          `json:"category,omitempty"`
	ShortTitle          string          `json:"short_title,omitempty"`
	Summary             string          `json:"summary"`
	AutomationPotential string          `json:"automation_potential,omitempty"`
	Reason              string          `json:"reason"`
}

// RunResult summarizes a successful run.
type RunResult struct {
	SessionID          string    `json:"session_id"`
	TotalItems         int       `json:"total_posts"`
	OpportunitiesFound int       `json:"opportunities_found"`
	SourcesScraped     []string  `json:"groups_scraped"`
	CompletedAt        time.Time `json:"completed_at"`
	Cost               float64   `json:"cost"`
	Delivered          bool      `json:"delivered"`
	DeliveryError      string    `json:"delivery_error,omitempty"`
	NotificationsSent  int       `json:"notifications_sent"`
}
