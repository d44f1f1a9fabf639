package analysis

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/t77yq/crisiswatch/internal/model"
)

// FallbackConfidence is the confidence of an analysis that could not be extracted
const FallbackConfidence = 0.1

const defaultParsedConfidence = 0.5

// ParseKind tags the outcome of ParseReasoning
type ParseKind int

const (
	ParseKindFallback ParseKind = iota
	ParseKindParsed
)

func (k ParseKind) String() string {
	if k == ParseKindParsed {
		return "parsed"
	}
	return "fallback"
}

// ParseResult is either a parsed analysis or a low-confidence default
type ParseResult struct {
	Kind     ParseKind
	Analysis model.CrisisAnalysis
}

// Parsed reports whether extraction succeeded
func (r ParseResult) Parsed() bool {
	return r.Kind == ParseKindParsed
}

var (
	severityRe   = regexp.MustCompile(`(?i)^[\s*#>_-]*severity(?:\s+level|\s+score)?[\s*_]*[:=]\s*\**\s*(\d+(?:\.\d+)?)`)
	confidenceRe = regexp.MustCompile(`(?i)^[\s*#>_-]*confidence(?:\s+level|\s+score)?[\s*_]*[:=]\s*\**\s*(\d+(?:\.\d+)?)\s*(%?)`)
	threatTypeRe = regexp.MustCompile(`(?i)^[\s*#>_-]*threat[\s_]type[\s*_]*[:=]\s*\**\s*(.+?)\**\s*$`)
	escalationRe = regexp.MustCompile(`(?i)^[\s*#>_-]*escalation(?:[\s_]required)?[\s*_]*[:=]\s*\**\s*(yes|no|true|false|required|not required)`)
	topicsRe     = regexp.MustCompile(`(?i)^[\s*#>_-]*(?:affected[\s_])?topics[\s*_]*[:=]\s*(.+)$`)
	bulletRe     = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
)

// jsonAnalysis mirrors the structured answer a reasoning engine may return
type jsonAnalysis struct {
	Severity           interface{} `json:"severity"`
	Confidence         interface{} `json:"confidence"`
	ThreatType         string      `json:"threat_type"`
	AffectedTopics     []string    `json:"affected_topics"`
	RecommendedActions []string    `json:"recommended_actions"`
	EscalationRequired *bool       `json:"escalation_required"`
	Reasoning          string      `json:"reasoning"`
}

// ParseReasoning extracts a crisis analysis from free text. It never fails:
// when no severity can be found the result is a fallback analysis.
func ParseReasoning(text string) ParseResult {
	if a, ok := parseJSON(text); ok {
		return ParseResult{Kind: ParseKindParsed, Analysis: a}
	}
	if a, ok := parseMarkers(text); ok {
		return ParseResult{Kind: ParseKindParsed, Analysis: a}
	}
	return ParseResult{Kind: ParseKindFallback, Analysis: FallbackAnalysis(text)}
}

// FallbackAnalysis is the low-confidence default used when extraction fails
func FallbackAnalysis(text string) model.CrisisAnalysis {
	reasoning := strings.TrimSpace(text)
	if reasoning == "" {
		reasoning = "Reasoning output was empty"
	}
	return model.CrisisAnalysis{
		Severity:           1,
		Confidence:         FallbackConfidence,
		ThreatType:         "unknown",
		EscalationRequired: false,
		Reasoning:          reasoning,
	}
}

func parseJSON(text string) (model.CrisisAnalysis, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return model.CrisisAnalysis{}, false
	}

	var raw jsonAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return model.CrisisAnalysis{}, false
	}
	severity, _, ok := jsonNumber(raw.Severity)
	if !ok {
		return model.CrisisAnalysis{}, false
	}

	a := model.CrisisAnalysis{
		Severity:           clampSeverity(int(severity + 0.5)),
		Confidence:         defaultParsedConfidence,
		ThreatType:         normalizeThreatType(raw.ThreatType),
		AffectedTopics:     raw.AffectedTopics,
		RecommendedActions: raw.RecommendedActions,
		Reasoning:          strings.TrimSpace(raw.Reasoning),
	}
	if confidence, percent, ok := jsonNumber(raw.Confidence); ok {
		a.Confidence = normalizeConfidence(confidence, percent)
	}
	if raw.EscalationRequired != nil {
		a.EscalationRequired = *raw.EscalationRequired
	}
	if a.Reasoning == "" {
		a.Reasoning = strings.TrimSpace(text)
	}
	return a, true
}

// jsonNumber reads a JSON number or numeric string such as "8" or "70%"
func jsonNumber(v interface{}) (value float64, percent bool, ok bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false, false
	case string:
		val = strings.TrimSpace(val)
		if strings.HasSuffix(val, "%") {
			percent = true
			val = strings.TrimSpace(strings.TrimSuffix(val, "%"))
		}
		v = val
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false, false
	}
	return f, percent, true
}

func parseMarkers(text string) (model.CrisisAnalysis, bool) {
	a := model.CrisisAnalysis{Confidence: defaultParsedConfidence}
	found := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := severityRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && !found {
				a.Severity = clampSeverity(int(v + 0.5))
				found = true
			}
			continue
		}
		if m := confidenceRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				a.Confidence = normalizeConfidence(v, m[2] == "%")
			}
			continue
		}
		if m := threatTypeRe.FindStringSubmatch(line); m != nil {
			a.ThreatType = normalizeThreatType(m[1])
			continue
		}
		if m := escalationRe.FindStringSubmatch(line); m != nil {
			switch strings.ToLower(m[1]) {
			case "yes", "true", "required":
				a.EscalationRequired = true
			}
			continue
		}
		if m := topicsRe.FindStringSubmatch(line); m != nil {
			for _, t := range strings.Split(m[1], ",") {
				if t = strings.ToLower(strings.Trim(t, " *.")); t != "" {
					a.AffectedTopics = append(a.AffectedTopics, t)
				}
			}
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			a.RecommendedActions = append(a.RecommendedActions, strings.TrimSpace(m[1]))
		}
	}

	if !found {
		return model.CrisisAnalysis{}, false
	}
	a.Reasoning = strings.TrimSpace(text)
	return a, true
}

// normalizeConfidence reads values above 1 (or explicit percentages) as percent
func normalizeConfidence(v float64, percent bool) float64 {
	if percent || v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeThreatType(s string) string {
	s = strings.ToLower(strings.Trim(s, " *.\"'`"))
	s = strings.Join(strings.Fields(s), "_")
	return strings.ReplaceAll(s, "-", "_")
}
