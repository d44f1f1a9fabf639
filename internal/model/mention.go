package model

import "time"

// Mention is a single normalized observation of public content referencing a campaign.
// Mentions are immutable once ingested.
type Mention struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Source          string    `json:"source"`
	Author          string    `json:"author"`
	AuthorVerified  bool      `json:"author_verified,omitempty"`
	URL             string    `json:"url"`
	SentimentScore  float64   `json:"sentiment_score"`
	ReachCount      int64     `json:"reach_count"`
	EngagementCount int64     `json:"engagement_count"`
	PublishedAt     time.Time `json:"published_at"`
	Keywords        []string  `json:"keywords,omitempty"`
}

// EnrichedMention is a mention annotated during the enrich stage
type EnrichedMention struct {
	Mention           Mention   `json:"mention"`
	CampaignRelevance float64   `json:"campaign_relevance"`
	InfluenceScore    float64   `json:"influence_score"`
	SimilarMentions   []Mention `json:"similar_mentions,omitempty"`
}

// CampaignContext describes the campaign a pipeline run is evaluating
type CampaignContext struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	CandidateName  string   `json:"candidate_name"`
	KeyIssues      []string `json:"key_issues,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}
