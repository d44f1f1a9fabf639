package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// patternBoostOverlap is the shared-indicator count at which a learned pattern lifts severity
const patternBoostOverlap = 3

const maxPromptMentions = 25

// Reasoner is a text-completion capability with no guaranteed output structure
type Reasoner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Engine turns mention batches into crisis analyses and owns the pattern library
type Engine struct {
	logger   *zap.Logger
	reasoner Reasoner
	patterns *PatternLibrary
	now      func() time.Time
}

// NewEngine creates an analysis engine. reasoner may be nil, in which case
// analyses are purely heuristic.
func NewEngine(logger *zap.Logger, reasoner Reasoner, patterns *PatternLibrary) *Engine {
	if patterns == nil {
		patterns = NewPatternLibrary()
	}
	return &Engine{
		logger:   logger.Named("analysis-engine"),
		reasoner: reasoner,
		patterns: patterns,
		now:      time.Now,
	}
}

// Patterns exposes the engine's pattern library for read access
func (e *Engine) Patterns() *PatternLibrary {
	return e.patterns
}

// Analyze evaluates a mention batch. It always returns an analysis; reasoning
// failures degrade to the heuristic result.
func (e *Engine) Analyze(ctx context.Context, mentions []model.Mention, campaign model.CampaignContext) model.CrisisAnalysis {
	if len(mentions) == 0 {
		return model.CrisisAnalysis{
			Severity:           1,
			Confidence:         0,
			ThreatType:         ThreatNone,
			RecommendedActions: GenerateResponseStrategy(1, ThreatNone),
			Reasoning:          "No mentions to analyze",
			ViralRisk:          model.ViralRiskLow,
			SentimentTrend:     model.TrendStable,
			AnalyzedAt:         e.now(),
		}
	}

	sentiment := AnalyzeSentimentContext(mentions)
	velocity := AnalyzeVelocity(mentions)
	verified := VerifiedParticipation(mentions)

	severity := AssessThreatLevel(ThreatSignals{
		WeightedSentiment:     sentiment.WeightedSentiment,
		TotalReach:            sentiment.TotalReach,
		ViralRisk:             velocity.ViralRisk,
		VerifiedParticipation: verified,
	})
	threatType := ClassifyThreatType(mentions, sentiment)
	topics := ExtractAffectedTopics(mentions, campaign)

	similar := e.patterns.FindSimilar(Indicators(mentions))
	for _, m := range similar {
		if m.Overlap >= patternBoostOverlap && m.Pattern.TypicalSeverity-1 > severity {
			e.logger.Debug("Learned pattern raised severity",
				zap.String("pattern_id", m.Pattern.ID),
				zap.Int("from", severity),
				zap.Int("to", m.Pattern.TypicalSeverity-1))
			severity = clampSeverity(m.Pattern.TypicalSeverity - 1)
		}
	}

	analysis := model.CrisisAnalysis{
		Severity:       severity,
		Confidence:     math.Min(0.9, 0.3+0.05*float64(len(mentions))),
		ThreatType:     threatType,
		AffectedTopics: topics,
		ViralRisk:      velocity.ViralRisk,
		SentimentTrend: AnalyzeSentimentTrend(mentions),
		KeyInfluencers: IdentifyKeyInfluencers(mentions),
		AnalyzedAt:     e.now(),
	}
	analysis.Reasoning = heuristicReasoning(len(mentions), sentiment, velocity, verified, len(similar))

	var extra []string
	if e.reasoner != nil {
		extra = e.applyReasoning(ctx, &analysis, mentions, campaign, similar)
	}

	analysis.EscalationRequired = analysis.EscalationRequired || RequiresEscalation(analysis.Severity, analysis.ViralRisk)
	analysis.RecommendedActions = mergeActions(GenerateResponseStrategy(analysis.Severity, analysis.ThreatType), extra)

	e.logger.Info("Analysis completed",
		zap.Int("mentions", len(mentions)),
		zap.Int("severity", analysis.Severity),
		zap.Float64("confidence", analysis.Confidence),
		zap.String("threat_type", analysis.ThreatType),
		zap.String("viral_risk", string(analysis.ViralRisk)),
		zap.Bool("escalation_required", analysis.EscalationRequired))

	return analysis
}

// applyReasoning merges the reasoning engine's answer into a heuristic analysis
// and returns any extra actions it proposed.
func (e *Engine) applyReasoning(ctx context.Context, a *model.CrisisAnalysis, mentions []model.Mention, campaign model.CampaignContext, similar []PatternMatch) []string {
	text, err := e.reasoner.Complete(ctx, BuildPrompt(mentions, campaign, similar))
	if err != nil {
		e.logger.Warn("Reasoning engine failed, using heuristic analysis", zap.Error(err))
		a.Confidence = FallbackConfidence
		return nil
	}

	result := ParseReasoning(text)
	if !result.Parsed() {
		e.logger.Warn("Reasoning output could not be parsed, using heuristic analysis",
			zap.Int("length", len(text)))
		a.Confidence = FallbackConfidence
		return nil
	}

	parsed := result.Analysis
	if parsed.Severity > a.Severity {
		a.Severity = parsed.Severity
	}
	a.Confidence = parsed.Confidence
	if parsed.ThreatType != "" {
		a.ThreatType = parsed.ThreatType
	}
	a.AffectedTopics = mergeActions(a.AffectedTopics, parsed.AffectedTopics)
	a.EscalationRequired = parsed.EscalationRequired
	a.Reasoning = parsed.Reasoning
	return parsed.RecommendedActions
}

// UpdatePatterns records a pattern derived from a batch and its analysis
func (e *Engine) UpdatePatterns(mentions []model.Mention, analysis model.CrisisAnalysis) model.CrisisPattern {
	indicators := Indicators(mentions)
	if len(indicators) == 0 {
		indicators = analysis.AffectedTopics
	}

	p := e.patterns.Record(model.CrisisPattern{
		Type:            analysis.ThreatType,
		Indicators:      indicators,
		TypicalSeverity: analysis.Severity,
		FirstSeen:       e.now(),
	})

	e.logger.Info("Crisis pattern recorded",
		zap.String("id", p.ID),
		zap.String("type", p.Type),
		zap.Int("typical_severity", p.TypicalSeverity),
		zap.Int("indicators", len(p.Indicators)),
		zap.Int("library_size", e.patterns.Len()))

	return p
}

// Indicators is the normalized keyword set of a batch
func Indicators(mentions []model.Mention) []string {
	var all []string
	for _, m := range mentions {
		all = append(all, m.Keywords...)
	}
	return normalizeIndicators(all)
}

// BuildPrompt renders the mentions, campaign context and similar incidents for the reasoning engine
func BuildPrompt(mentions []model.Mention, campaign model.CampaignContext, similar []PatternMatch) string {
	var b strings.Builder

	b.WriteString("You are a political campaign crisis analyst.\n\n")
	fmt.Fprintf(&b, "Campaign: %s\n", campaign.CandidateName)
	if len(campaign.KeyIssues) > 0 {
		fmt.Fprintf(&b, "Key issues: %s\n", strings.Join(campaign.KeyIssues, ", "))
	}

	fmt.Fprintf(&b, "\nMentions (%d):\n", len(mentions))
	for i, m := range sortByTime(mentions) {
		if i >= maxPromptMentions {
			fmt.Fprintf(&b, "... %d more\n", len(mentions)-maxPromptMentions)
			break
		}
		fmt.Fprintf(&b, "- [%s] @%s (reach %d, sentiment %.2f): %s\n",
			m.Source, m.Author, m.ReachCount, m.SentimentScore, m.Content)
	}

	if len(similar) > 0 {
		b.WriteString("\nSimilar past incidents:\n")
		for _, s := range similar {
			fmt.Fprintf(&b, "- %s (typical severity %d, indicators: %s)\n",
				s.Pattern.Type, s.Pattern.TypicalSeverity, strings.Join(s.Pattern.Indicators, ", "))
		}
	}

	b.WriteString("\nRespond with these lines:\n")
	b.WriteString("Severity: <1-10>\nConfidence: <0-1>\nThreat type: <tag>\nEscalation required: <yes|no>\nTopics: <comma separated>\n")
	b.WriteString("Then list recommended actions as '- ' bullets.\n")

	return b.String()
}

func heuristicReasoning(n int, s model.SentimentContext, v model.VelocityAnalysis, verified bool, similar int) string {
	r := fmt.Sprintf("%d mentions, %.0f%% negative, weighted sentiment %.2f, total reach %d, %.1f mentions/hour (%s viral risk)",
		n, s.NegativeRatio*100, s.WeightedSentiment, s.TotalReach, v.Velocity, v.ViralRisk)
	if verified {
		r += ", verified accounts participating"
	}
	if similar > 0 {
		r += fmt.Sprintf(", %d similar past incidents", similar)
	}
	return r
}

// mergeActions appends the items of extra not already present in base
func mergeActions(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, item := range list {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}
