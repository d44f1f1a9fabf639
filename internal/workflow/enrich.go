package workflow

import (
	"math"
	"strings"

	"github.com/t77yq/crisiswatch/internal/model"
)

const fullNameBonus = 0.5

// ScanKeywords returns the campaign's keywords, or its candidate name and key issues when none are set
func ScanKeywords(c model.CampaignContext) []string {
	if len(c.Keywords) > 0 {
		return c.Keywords
	}
	var out []string
	if c.CandidateName != "" {
		out = append(out, c.CandidateName)
	}
	return append(out, c.KeyIssues...)
}

// CampaignRelevance is the fraction of campaign terms found in the mention,
// plus a bonus when the full candidate name appears, clamped to [0,1]
func CampaignRelevance(m model.Mention, c model.CampaignContext) float64 {
	terms := campaignTerms(c)
	if len(terms) == 0 {
		return 0
	}

	content := strings.ToLower(m.Content)
	keywords := make(map[string]bool, len(m.Keywords))
	for _, k := range m.Keywords {
		keywords[strings.ToLower(k)] = true
	}

	found := 0
	for _, t := range terms {
		if keywords[t] || strings.Contains(content, t) {
			found++
		}
	}

	score := float64(found) / float64(len(terms))
	if name := strings.ToLower(strings.TrimSpace(c.CandidateName)); name != "" && strings.Contains(content, name) {
		score += fullNameBonus
	}
	return clamp01(score)
}

// InfluenceScore maps reach onto [0,1] on a log scale; a million reach saturates
func InfluenceScore(reach int64) float64 {
	if reach <= 0 {
		return 0
	}
	return clamp01(math.Log10(1+float64(reach)) / 6)
}

func campaignTerms(c model.CampaignContext) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if len(s) < 2 || seen[s] {
			return
		}
		seen[s] = true
		terms = append(terms, s)
	}
	for _, w := range strings.Fields(c.CandidateName) {
		add(w)
	}
	for _, issue := range c.KeyIssues {
		add(issue)
	}
	return terms
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
