package model

// Channel is a delivery medium
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
	ChannelVoice Channel = "voice"
)

// AllChannels lists every known channel in a stable order
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelChat, ChannelVoice}

// Priority represents the urgency of an alert route
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities from 0 (low) to 3 (critical). Unknown priorities rank as low.
func (p Priority) Rank() int {
	switch p {
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether p is at or above other
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// PriorityForSeverity maps a 1-10 severity onto a route priority
func PriorityForSeverity(severity int) Priority {
	switch {
	case severity >= 8:
		return PriorityCritical
	case severity >= 6:
		return PriorityHigh
	case severity >= 4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ChannelPreference is a recipient's policy for one channel
type ChannelPreference struct {
	Enabled     bool     `json:"enabled" mapstructure:"enabled"`
	MaxPriority Priority `json:"max_priority" mapstructure:"max_priority"`
}

// AvailabilityWindow is the daily window in which a recipient expects to be reachable.
// StartHour == EndHour means always available.
type AvailabilityWindow struct {
	StartHour int    `json:"start_hour" mapstructure:"start_hour"`
	EndHour   int    `json:"end_hour" mapstructure:"end_hour"`
	Timezone  string `json:"timezone" mapstructure:"timezone"`
}

// ResponseRecord is one past response of a recipient to an alert
type ResponseRecord struct {
	LatencyMinutes float64 `json:"latency_minutes" mapstructure:"latency_minutes"`
	Effectiveness  float64 `json:"effectiveness" mapstructure:"effectiveness"`
}

// RecipientProfile is supplied by the recipient directory and read-only here
type RecipientProfile struct {
	ID                 string                        `json:"id" mapstructure:"id"`
	Name               string                        `json:"name" mapstructure:"name"`
	Role               string                        `json:"role" mapstructure:"role"`
	OrganizationID     string                        `json:"organization_id" mapstructure:"organization_id"`
	Contacts           map[Channel]string            `json:"contacts" mapstructure:"contacts"`
	ExpertiseAreas     []string                      `json:"expertise_areas" mapstructure:"expertise_areas"`
	Availability       AvailabilityWindow            `json:"availability" mapstructure:"availability"`
	ChannelPreferences map[Channel]ChannelPreference `json:"channel_preferences" mapstructure:"channel_preferences"`
	ResponseHistory    []ResponseRecord              `json:"response_history,omitempty" mapstructure:"response_history"`
}

// AvgScore returns the mean effectiveness of past responses, or 0.5 with no history
func (r RecipientProfile) AvgScore() float64 {
	if len(r.ResponseHistory) == 0 {
		return 0.5
	}
	var total float64
	for _, h := range r.ResponseHistory {
		total += h.Effectiveness
	}
	return total / float64(len(r.ResponseHistory))
}

// Contact returns the handle for a channel, or "" when none is configured
func (r RecipientProfile) Contact(ch Channel) string {
	if r.Contacts == nil {
		return ""
	}
	return r.Contacts[ch]
}
