package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/crisiswatch/internal/model"
)

// ErrRouteUndelivered marks a route whose channels all failed
var ErrRouteUndelivered = errors.New("route not delivered")

// Collector supplies mentions matching a keyword filter
type Collector interface {
	Scan(ctx context.Context, keywords []string, since time.Time) ([]model.Mention, error)
}

// SimilarFinder looks up historical mentions resembling a mention
type SimilarFinder interface {
	FindSimilar(ctx context.Context, m model.Mention) ([]model.Mention, error)
}

// Analyzer scores a batch of mentions and learns from severe ones
type Analyzer interface {
	Analyze(ctx context.Context, mentions []model.Mention, campaign model.CampaignContext) model.CrisisAnalysis
	UpdatePatterns(mentions []model.Mention, analysis model.CrisisAnalysis) model.CrisisPattern
}

// Router turns an analysis into alert routes
type Router interface {
	Route(ctx context.Context, analysis model.CrisisAnalysis, mentions []model.Mention, campaign model.CampaignContext) ([]model.AlertRoute, error)
}

// Deliverer delivers one alert route
type Deliverer interface {
	Deliver(ctx context.Context, route model.AlertRoute, analysis model.CrisisAnalysis) model.DeliveryOutcome
}

// Config holds the pipeline thresholds
type Config struct {
	AlertThreshold      int
	LearningSeverityMin int
	MaxParallelRoutes   int
}

// stageFunc performs one stage and returns the next stage
type stageFunc func(ctx context.Context, state *model.WorkflowState) model.Stage

// Orchestrator runs the crisis pipeline for a campaign
type Orchestrator struct {
	logger    *zap.Logger
	collector Collector
	similar   SimilarFinder
	analyzer  Analyzer
	router    Router
	deliverer Deliverer
	cfg       Config
	now       func() time.Time

	transitions map[model.Stage]stageFunc
}

// NewOrchestrator creates an orchestrator. similar may be nil.
func NewOrchestrator(collector Collector, similar SimilarFinder, analyzer Analyzer, router Router, deliverer Deliverer, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 4
	}
	if cfg.LearningSeverityMin <= 0 {
		cfg.LearningSeverityMin = 7
	}
	if cfg.MaxParallelRoutes <= 0 {
		cfg.MaxParallelRoutes = 4
	}

	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		collector: collector,
		similar:   similar,
		analyzer:  analyzer,
		router:    router,
		deliverer: deliverer,
		cfg:       cfg,
		now:       time.Now,
	}
	o.transitions = map[model.Stage]stageFunc{
		model.StageStart:              o.monitor,
		model.StageMonitored:          o.enrich,
		model.StageEnriched:           o.analyze,
		model.StageAnalyzed:           o.branch,
		model.StageAlerted:            o.route,
		model.StageRouted:             o.deliver,
		model.StageDelivered:          o.learn,
		model.StagePassivelyMonitored: o.learn,
	}
	return o
}

// ShouldAlert reports whether a severity reaches the alert threshold
func ShouldAlert(severity, threshold int) bool {
	return severity >= threshold
}

// Run executes one pipeline run over mentions published since the given time.
// A run always reaches the learned stage.
func (o *Orchestrator) Run(ctx context.Context, campaign model.CampaignContext, since time.Time) *model.WorkflowState {
	state := &model.WorkflowState{
		RunID:           uuid.New().String(),
		Stage:           model.StageStart,
		Trace:           []model.Stage{model.StageStart},
		Since:           since,
		CampaignContext: campaign,
		DeliveryResults: make(map[string]model.DeliveryOutcome),
		Timestamp:       o.now(),
	}

	logger := o.logger.With(zap.String("run_id", state.RunID), zap.String("campaign_id", campaign.ID))
	logger.Info("Pipeline run started", zap.Time("since", since))

	for state.Stage != model.StageLearned {
		step, ok := o.transitions[state.Stage]
		if !ok {
			logger.Error("No transition for stage", zap.String("stage", string(state.Stage)))
			break
		}
		next := step(ctx, state)
		state.Stage = next
		state.Trace = append(state.Trace, next)
	}

	logger.Info("Pipeline run finished",
		zap.Int("mentions", len(state.Mentions)),
		zap.Int("severity", state.Severity),
		zap.Bool("threat_detected", state.ThreatDetected),
		zap.Int("alerts_sent", state.AlertsSent),
		zap.Any("trace", state.Trace))

	return state
}

func (o *Orchestrator) monitor(ctx context.Context, state *model.WorkflowState) model.Stage {
	mentions, err := o.collector.Scan(ctx, ScanKeywords(state.CampaignContext), state.Since)
	if err != nil {
		o.logger.Warn("Mention scan failed, continuing with no mentions",
			zap.String("run_id", state.RunID),
			zap.Error(err))
		mentions = nil
	}

	state.Mentions = mentions
	state.SourceCount = countSources(mentions)
	return model.StageMonitored
}

func (o *Orchestrator) enrich(ctx context.Context, state *model.WorkflowState) model.Stage {
	enriched := make([]model.EnrichedMention, 0, len(state.Mentions))
	for _, m := range state.Mentions {
		em := model.EnrichedMention{
			Mention:           m,
			CampaignRelevance: CampaignRelevance(m, state.CampaignContext),
			InfluenceScore:    InfluenceScore(m.ReachCount),
		}
		if o.similar != nil {
			if similar, err := o.similar.FindSimilar(ctx, m); err == nil {
				em.SimilarMentions = similar
			} else {
				o.logger.Debug("Similar mention lookup failed",
					zap.String("mention_id", m.ID),
					zap.Error(err))
			}
		}
		enriched = append(enriched, em)
	}

	state.EnrichedMentions = enriched
	return model.StageEnriched
}

func (o *Orchestrator) analyze(ctx context.Context, state *model.WorkflowState) model.Stage {
	analysis := o.analyzer.Analyze(ctx, state.Mentions, state.CampaignContext)
	state.Analysis = &analysis
	state.Severity = analysis.Severity
	state.ThreatDetected = ShouldAlert(analysis.Severity, o.cfg.AlertThreshold)
	return model.StageAnalyzed
}

func (o *Orchestrator) branch(_ context.Context, state *model.WorkflowState) model.Stage {
	if ShouldAlert(state.Severity, o.cfg.AlertThreshold) {
		return model.StageAlerted
	}
	return model.StagePassivelyMonitored
}

func (o *Orchestrator) route(ctx context.Context, state *model.WorkflowState) model.Stage {
	routes, err := o.router.Route(ctx, *state.Analysis, state.Mentions, state.CampaignContext)
	if err != nil {
		o.logger.Error("Routing failed",
			zap.String("run_id", state.RunID),
			zap.Error(err))
		routes = nil
	}

	state.RoutingPlan = routes
	state.AlertCount = len(routes)
	return model.StageRouted
}

func (o *Orchestrator) deliver(ctx context.Context, state *model.WorkflowState) model.Stage {
	outcomes := make([]model.DeliveryOutcome, len(state.RoutingPlan))

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallelRoutes)
	for i, route := range state.RoutingPlan {
		g.Go(func() error {
			outcomes[i] = o.deliverer.Deliver(ctx, route, *state.Analysis)
			if !outcomes[i].TotalSuccess {
				return fmt.Errorf("%w: recipient %s", ErrRouteUndelivered, route.Recipient.ID)
			}
			return nil
		})
	}
	// Undelivered routes are normal outcomes; siblings always run to completion
	if err := g.Wait(); err != nil {
		o.logger.Warn("Alert route not delivered on any channel",
			zap.String("run_id", state.RunID),
			zap.Error(err))
	}

	for i, route := range state.RoutingPlan {
		state.DeliveryResults[route.Recipient.ID] = outcomes[i]
	}
	state.AlertsSent = len(state.RoutingPlan)
	return model.StageDelivered
}

func (o *Orchestrator) learn(_ context.Context, state *model.WorkflowState) model.Stage {
	data := &model.LearningData{
		RunID:               state.RunID,
		CampaignID:          state.CampaignContext.ID,
		MentionCount:        len(state.Mentions),
		Severity:            state.Severity,
		ThreatDetected:      state.ThreatDetected,
		AlertsSent:          state.AlertsSent,
		DeliverySuccessRate: DeliverySuccessRate(state.DeliveryResults),
		Timestamp:           o.now(),
	}
	if state.Analysis != nil {
		data.ThreatType = state.Analysis.ThreatType
	}

	if state.Analysis != nil && len(state.Mentions) > 0 && state.Severity >= o.cfg.LearningSeverityMin {
		p := o.analyzer.UpdatePatterns(state.Mentions, *state.Analysis)
		data.PatternRecorded = true
		o.logger.Info("Crisis pattern recorded",
			zap.String("run_id", state.RunID),
			zap.String("pattern_id", p.ID),
			zap.Int("typical_severity", p.TypicalSeverity))
	}

	state.LearningData = data
	return model.StageLearned
}

// DeliverySuccessRate is the share of delivered routes with at least one successful channel
func DeliverySuccessRate(results map[string]model.DeliveryOutcome) float64 {
	if len(results) == 0 {
		return 0
	}
	successes := 0
	for _, r := range results {
		if r.TotalSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(results))
}

func countSources(mentions []model.Mention) int {
	sources := make(map[string]struct{})
	for _, m := range mentions {
		sources[m.Source] = struct{}{}
	}
	return len(sources)
}
