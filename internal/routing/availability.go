package routing

import (
	"strings"
	"time"

	"github.com/t77yq/crisiswatch/internal/model"
)

// roleSeniority orders roles from most to least senior
var roleSeniority = []string{
	"campaign_manager",
	"deputy_campaign_manager",
	"communications_director",
	"press_secretary",
	"digital_director",
	"rapid_response",
	"staff",
}

// RoleCampaignManager is always a candidate for high and critical routes
const RoleCampaignManager = "campaign_manager"

// Seniority returns the rank of a role, 0 being most senior. Unknown roles rank last.
func Seniority(role string) int {
	role = normalize(role)
	for i, r := range roleSeniority {
		if r == role {
			return i
		}
	}
	return len(roleSeniority)
}

// InAvailabilityWindow reports whether t falls in the recipient's [start, end) hour window.
// Windows wrap midnight when start > end; equal bounds mean always available.
func InAvailabilityWindow(w model.AvailabilityWindow, t time.Time) bool {
	if w.StartHour == w.EndHour {
		return true
	}

	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	hour := t.In(loc).Hour()

	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), "_")
	return strings.ReplaceAll(s, "-", "_")
}
