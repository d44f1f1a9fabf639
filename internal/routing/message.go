package routing

import (
	"fmt"
	"strings"

	"github.com/t77yq/crisiswatch/internal/model"
)

const (
	maxMessageActions = 3
	maxExcerptLength  = 140
)

// BuildMessage renders the alert text shared by every route of an analysis
func BuildMessage(analysis model.CrisisAnalysis, campaign model.CampaignContext, mentions []model.Mention, priority model.Priority) string {
	var b strings.Builder

	subject := campaign.CandidateName
	if subject == "" {
		subject = campaign.ID
	}
	fmt.Fprintf(&b, "[%s] Crisis alert for %s: %s (severity %d/10, confidence %.0f%%)\n",
		strings.ToUpper(string(priority)), subject, analysis.ThreatType, analysis.Severity, analysis.Confidence*100)

	if len(analysis.AffectedTopics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(analysis.AffectedTopics, ", "))
	}
	if analysis.ViralRisk != "" {
		fmt.Fprintf(&b, "Viral risk: %s\n", analysis.ViralRisk)
	}

	if len(analysis.RecommendedActions) > 0 {
		b.WriteString("Actions:\n")
		for i, a := range analysis.RecommendedActions {
			if i >= maxMessageActions {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}

	if top, ok := topMention(mentions); ok {
		fmt.Fprintf(&b, "Top mention: @%s on %s (reach %d): %s\n",
			top.Author, top.Source, top.ReachCount, excerpt(top.Content))
		if top.URL != "" {
			fmt.Fprintf(&b, "%s\n", top.URL)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func topMention(mentions []model.Mention) (model.Mention, bool) {
	if len(mentions) == 0 {
		return model.Mention{}, false
	}
	top := mentions[0]
	for _, m := range mentions[1:] {
		if m.ReachCount > top.ReachCount {
			top = m
		}
	}
	return top, true
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxExcerptLength {
		return s
	}
	return string(r[:maxExcerptLength-3]) + "..."
}
