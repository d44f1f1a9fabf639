package model

import "time"

// ViralRisk is a coarse classification of how fast a topic is spreading
type ViralRisk string

const (
	ViralRiskLow      ViralRisk = "low"
	ViralRiskMedium   ViralRisk = "medium"
	ViralRiskHigh     ViralRisk = "high"
	ViralRiskCritical ViralRisk = "critical"
)

// Rank orders viral risk tiers from 0 (low) to 3 (critical).
func (r ViralRisk) Rank() int {
	switch r {
	case ViralRiskMedium:
		return 1
	case ViralRiskHigh:
		return 2
	case ViralRiskCritical:
		return 3
	default:
		return 0
	}
}

// SentimentTrend classifies how sentiment moved across a mention batch
type SentimentTrend string

const (
	TrendDeclining SentimentTrend = "declining"
	TrendImproving SentimentTrend = "improving"
	TrendStable    SentimentTrend = "stable"
)

// SentimentContext summarizes the sentiment of a mention batch
type SentimentContext struct {
	PositiveRatio     float64 `json:"positive_ratio"`
	NegativeRatio     float64 `json:"negative_ratio"`
	WeightedSentiment float64 `json:"weighted_sentiment"`
	TotalReach        int64   `json:"total_reach"`
}

// VelocityAnalysis describes how fast mentions are arriving
type VelocityAnalysis struct {
	Velocity     float64       `json:"velocity"`
	Acceleration float64       `json:"acceleration"`
	ViralRisk    ViralRisk     `json:"viral_risk"`
	TimeSpan     time.Duration `json:"time_span"`
}

// KeyInfluencer is a high-reach author that warrants prioritized response
type KeyInfluencer struct {
	MentionID string `json:"mention_id"`
	Author    string `json:"author"`
	Source    string `json:"source"`
	Reach     int64  `json:"reach"`
	URL       string `json:"url,omitempty"`
}

// CrisisAnalysis is the outcome of one analysis run. It is never mutated after creation.
type CrisisAnalysis struct {
	Severity           int             `json:"severity"`
	Confidence         float64         `json:"confidence"`
	ThreatType         string          `json:"threat_type"`
	AffectedTopics     []string        `json:"affected_topics,omitempty"`
	RecommendedActions []string        `json:"recommended_actions,omitempty"`
	EscalationRequired bool            `json:"escalation_required"`
	Reasoning          string          `json:"reasoning"`
	ViralRisk          ViralRisk       `json:"viral_risk,omitempty"`
	SentimentTrend     SentimentTrend  `json:"sentiment_trend,omitempty"`
	KeyInfluencers     []KeyInfluencer `json:"key_influencers,omitempty"`
	AnalyzedAt         time.Time       `json:"analyzed_at"`
}

// CrisisPattern is a learned crisis signature kept by the analysis engine
type CrisisPattern struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Indicators      []string  `json:"indicators"`
	TypicalSeverity int       `json:"typical_severity"`
	FirstSeen       time.Time `json:"first_seen"`
}
