package model

import "time"

// EscalationPlan describes who is notified when a route fails entirely
type EscalationPlan struct {
	TargetRecipientID string `json:"target_recipient_id"`
	DelayMinutes      int    `json:"delay_minutes"`
	Message           string `json:"message"`
}

// AlertRoute is one routing decision: a recipient, its channels, a message and a priority.
// Routes are consumed once by the delivery manager.
type AlertRoute struct {
	Recipient      RecipientProfile `json:"recipient"`
	Channels       []Channel        `json:"channels"`
	Message        string           `json:"message"`
	Priority       Priority         `json:"priority"`
	InHours        bool             `json:"in_hours"`
	EscalationPlan *EscalationPlan  `json:"escalation_plan,omitempty"`
}

// DeliveryResult is the outcome of a single send on one channel
type DeliveryResult struct {
	Success     bool      `json:"success"`
	Channel     Channel   `json:"channel"`
	RecipientID string    `json:"recipient_id"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ChannelFailure is a channel whose final attempt failed
type ChannelFailure struct {
	Channel Channel `json:"channel"`
	Error   string  `json:"error"`
}

// DeliveryOutcome aggregates the per-channel results for a route.
// TotalSuccess is true iff SuccessfulChannels is non-empty.
type DeliveryOutcome struct {
	RecipientID        string           `json:"recipient_id"`
	Priority           Priority         `json:"priority"`
	ChannelsAttempted  []Channel        `json:"channels_attempted"`
	SuccessfulChannels []Channel        `json:"successful_channels"`
	FailedChannels     []ChannelFailure `json:"failed_channels"`
	SkippedChannels    []Channel        `json:"skipped_channels,omitempty"`
	Attempts           map[Channel]int  `json:"attempts"`
	Results            []DeliveryResult `json:"results"`
	TotalSuccess       bool             `json:"total_success"`
	DeliveryTime       time.Duration    `json:"delivery_time"`
	Escalated          bool             `json:"escalated"`
}

// DeliveryRecord is one append-only entry in the delivery history
type DeliveryRecord struct {
	ID                 string    `json:"id"`
	RecipientID        string    `json:"recipient_id"`
	Priority           Priority  `json:"priority"`
	ThreatType         string    `json:"threat_type"`
	Severity           int       `json:"severity"`
	ChannelsAttempted  []Channel `json:"channels_attempted"`
	SuccessfulChannels []Channel `json:"successful_channels"`
	TotalSuccess       bool      `json:"total_success"`
	DeliveryTimeMs     int64     `json:"delivery_time_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// ChannelStats aggregates history for one channel
type ChannelStats struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// DeliveryStats aggregates the whole delivery history
type DeliveryStats struct {
	TotalDeliveries      int                      `json:"total_deliveries"`
	SuccessfulDeliveries int                      `json:"successful_deliveries"`
	OverallSuccessRate   float64                  `json:"overall_success_rate"`
	AvgDeliveryTimeMs    float64                  `json:"avg_delivery_time_ms"`
	Channels             map[Channel]ChannelStats `json:"channels"`
}

// EscalationRequest is published when a route with an escalation plan fails entirely
type EscalationRequest struct {
	ID                string           `json:"id"`
	RecipientID       string           `json:"recipient_id"`
	TargetRecipientID string           `json:"target_recipient_id"`
	Priority          Priority         `json:"priority"`
	Severity          int              `json:"severity"`
	ThreatType        string           `json:"threat_type"`
	DelayMinutes      int              `json:"delay_minutes"`
	Message           string           `json:"message"`
	FailedChannels    []ChannelFailure `json:"failed_channels"`
	CreatedAt         time.Time        `json:"created_at"`
	FireAt            time.Time        `json:"fire_at"`
}
