package model

import "time"

// Stage is a step of the crisis pipeline
type Stage string

const (
	StageStart              Stage = "start"
	StageMonitored          Stage = "monitored"
	StageEnriched           Stage = "enriched"
	StageAnalyzed           Stage = "analyzed"
	StageAlerted            Stage = "alerted"
	StagePassivelyMonitored Stage = "passively_monitored"
	StageRouted             Stage = "routed"
	StageDelivered          Stage = "delivered"
	StageLearned            Stage = "learned"
)

// LearningData is the part of a run that outlives it
type LearningData struct {
	RunID               string    `json:"run_id"`
	CampaignID          string    `json:"campaign_id"`
	MentionCount        int       `json:"mention_count"`
	Severity            int       `json:"severity"`
	ThreatType          string    `json:"threat_type"`
	ThreatDetected      bool      `json:"threat_detected"`
	AlertsSent          int       `json:"alerts_sent"`
	DeliverySuccessRate float64   `json:"delivery_success_rate"`
	PatternRecorded     bool      `json:"pattern_recorded"`
	Timestamp           time.Time `json:"timestamp"`
}

// WorkflowState is threaded through every stage of a single pipeline run.
// It is owned by that run and never shared.
type WorkflowState struct {
	RunID            string                     `json:"run_id"`
	Stage            Stage                      `json:"stage"`
	Trace            []Stage                    `json:"trace"`
	Since            time.Time                  `json:"since"`
	Mentions         []Mention                  `json:"mentions"`
	EnrichedMentions []EnrichedMention          `json:"enriched_mentions"`
	CampaignContext  CampaignContext            `json:"campaign_context"`
	Analysis         *CrisisAnalysis            `json:"analysis,omitempty"`
	Severity         int                        `json:"severity"`
	ThreatDetected   bool                       `json:"threat_detected"`
	RoutingPlan      []AlertRoute               `json:"routing_plan"`
	DeliveryResults  map[string]DeliveryOutcome `json:"delivery_results"`
	AlertsSent       int                        `json:"alerts_sent"`
	AlertCount       int                        `json:"alert_count"`
	SourceCount      int                        `json:"source_count"`
	LearningData     *LearningData              `json:"learning_data,omitempty"`
	Timestamp        time.Time                  `json:"timestamp"`
}
