package analysis

import (
	"sort"
	"strings"

	"github.com/t77yq/crisiswatch/internal/model"
)

const (
	// InfluencerReachThreshold is the reach a mention must exceed to count as a key influencer
	InfluencerReachThreshold = 5000

	// HighSeverity is the lowest severity of the high response tier
	HighSeverity = 7
	// CriticalSeverity adds leadership involvement to the response
	CriticalSeverity = 9
	// MediumSeverity is the lowest severity of the medium response tier
	MediumSeverity = 4

	trendBand = 0.1
	maxTopics = 5
)

// Threat types recognized by the heuristic classifier
const (
	ThreatNone              = "none"
	ThreatMisinformation    = "misinformation"
	ThreatScandal           = "scandal"
	ThreatPolicyAttack      = "policy_attack"
	ThreatOppositionAttack  = "opposition_attack"
	ThreatNegativeSentiment = "negative_sentiment"
	ThreatGeneral           = "general"
)

// threatFamilies lists keyword families in tie-break order
var threatFamilies = []struct {
	threat string
	terms  []string
}{
	{ThreatMisinformation, []string{"fake", "false", "hoax", "misleading", "debunk", "fabricated", "misinformation", "disinformation", "conspiracy", "doctored"}},
	{ThreatScandal, []string{"scandal", "affair", "corruption", "bribe", "fraud", "investigation", "leaked", "indicted", "lawsuit", "cover-up"}},
	{ThreatPolicyAttack, []string{"flip-flop", "voted against", "policy", "tax hike", "proposal", "failed plan", "record on"}},
	{ThreatOppositionAttack, []string{"opponent", "attack ad", "smear", "opposition", "rival", "super pac"}},
}

// ThreatSignals are the inputs of the threat scoring function
type ThreatSignals struct {
	WeightedSentiment     float64
	TotalReach            int64
	ViralRisk             model.ViralRisk
	VerifiedParticipation bool
}

// AssessThreatLevel scores the signals on a 1-10 scale
func AssessThreatLevel(s ThreatSignals) int {
	score := 1

	switch {
	case s.WeightedSentiment <= -0.6:
		score += 3
	case s.WeightedSentiment <= -0.3:
		score += 2
	case s.WeightedSentiment < 0:
		score++
	}

	switch {
	case s.TotalReach >= 1_000_000:
		score += 3
	case s.TotalReach >= 100_000:
		score += 2
	case s.TotalReach >= 10_000:
		score++
	}

	score += s.ViralRisk.Rank()

	if s.VerifiedParticipation {
		score++
	}

	return clampSeverity(score)
}

// IdentifyKeyInfluencers returns mentions whose reach exceeds the influencer threshold, highest reach first
func IdentifyKeyInfluencers(mentions []model.Mention) []model.KeyInfluencer {
	var out []model.KeyInfluencer
	for _, m := range mentions {
		if m.ReachCount > InfluencerReachThreshold {
			out = append(out, model.KeyInfluencer{
				MentionID: m.ID,
				Author:    m.Author,
				Source:    m.Source,
				Reach:     m.ReachCount,
				URL:       m.URL,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Reach > out[j].Reach
	})
	return out
}

// GenerateResponseStrategy returns ordered response actions for a severity and threat type
func GenerateResponseStrategy(severity int, threatType string) []string {
	var actions []string

	if severity >= HighSeverity {
		actions = append(actions,
			"IMMEDIATE: Convene the rapid response team within 30 minutes",
			"IMMEDIATE: Publish a holding statement on official channels",
		)
		if severity >= CriticalSeverity {
			actions = append(actions, "IMMEDIATE: Brief campaign leadership and the candidate")
		}
	}

	// Reasoning engines label threats loosely ("misinformation / false claims")
	kind := strings.ToLower(threatType)
	switch {
	case strings.Contains(kind, ThreatMisinformation):
		actions = append(actions, "Publish a fact-check with primary sources correcting the false claims")
	case strings.Contains(kind, ThreatScandal):
		actions = append(actions, "Prepare a detailed response with legal review before publication")
	case strings.Contains(kind, ThreatPolicyAttack):
		actions = append(actions, "Release a policy explainer with supporting data")
	case strings.Contains(kind, ThreatOppositionAttack):
		actions = append(actions, "Coordinate surrogates to respond and draw the contrast")
	}

	switch {
	case severity >= HighSeverity:
		actions = append(actions,
			"Monitor the conversation every 15 minutes",
			"Reach out directly to key influencers amplifying the story",
		)
	case severity >= MediumSeverity:
		actions = append(actions,
			"Monitor the conversation hourly",
			"Prepare response talking points for spokespeople",
		)
	default:
		actions = append(actions,
			"Continue routine monitoring",
			"Log mentions for trend analysis",
		)
	}

	return actions
}

// ClassifyThreatType picks the keyword family with the most hits across the batch
func ClassifyThreatType(mentions []model.Mention, sentiment model.SentimentContext) string {
	if len(mentions) == 0 {
		return ThreatNone
	}

	best, bestHits := "", 0
	for _, family := range threatFamilies {
		hits := 0
		for _, m := range mentions {
			text := mentionText(m)
			for _, term := range family.terms {
				if strings.Contains(text, term) {
					hits++
				}
			}
		}
		if hits > bestHits {
			best, bestHits = family.threat, hits
		}
	}
	if best != "" {
		return best
	}
	if sentiment.WeightedSentiment < 0 {
		return ThreatNegativeSentiment
	}
	return ThreatGeneral
}

// ExtractAffectedTopics lists campaign key issues present in the batch, then the most frequent keywords
func ExtractAffectedTopics(mentions []model.Mention, campaign model.CampaignContext) []string {
	var topics []string
	seen := make(map[string]bool)
	add := func(t string) {
		if t == "" || seen[t] || len(topics) >= maxTopics {
			return
		}
		seen[t] = true
		topics = append(topics, t)
	}

	for _, issue := range campaign.KeyIssues {
		issue = strings.ToLower(strings.TrimSpace(issue))
		for _, m := range mentions {
			if strings.Contains(mentionText(m), issue) {
				add(issue)
				break
			}
		}
	}

	counts := make(map[string]int)
	for _, m := range mentions {
		for _, kw := range m.Keywords {
			counts[strings.ToLower(strings.TrimSpace(kw))]++
		}
	}
	keywords := make([]string, 0, len(counts))
	for kw := range counts {
		keywords = append(keywords, kw)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	for _, kw := range keywords {
		add(kw)
	}

	return topics
}

// VerifiedParticipation reports whether any mention comes from a verified account
func VerifiedParticipation(mentions []model.Mention) bool {
	for _, m := range mentions {
		if m.AuthorVerified {
			return true
		}
	}
	return false
}

// RequiresEscalation decides whether an analysis should be escalated
func RequiresEscalation(severity int, risk model.ViralRisk) bool {
	return severity >= 8 || (severity >= 6 && risk.Rank() >= model.ViralRiskHigh.Rank())
}

// mentionText is the lowercased content plus keywords of a mention
func mentionText(m model.Mention) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(m.Content))
	for _, kw := range m.Keywords {
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(kw))
	}
	return b.String()
}

func clampSeverity(s int) int {
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}
