package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/crisiswatch/internal/channel"
	"github.com/t77yq/crisiswatch/internal/model"
	"github.com/t77yq/crisiswatch/internal/storage"
)

// Adapters resolves channel adapters
type Adapters interface {
	Lookup(ch model.Channel) (channel.Capability, bool)
	Available() []model.Channel
}

// Limiter throttles sends per provider
type Limiter interface {
	Wait(ctx context.Context, providerID string) error
}

// Options configures a Manager
type Options struct {
	MaxAttempts int
	Retry       RetryStrategy
	SendTimeout time.Duration
	Limiter     Limiter
	History     storage.DeliveryHistory
	Escalator   Escalator
	Registerer  prometheus.Registerer
}

// Manager delivers alert routes across channels
type Manager struct {
	logger   *zap.Logger
	adapters Adapters
	opts     Options
	metrics  *metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewManager creates a delivery manager. It fails with ErrNoChannels when
// no registered adapter is available.
func NewManager(adapters Adapters, opts Options, logger *zap.Logger) (*Manager, error) {
	if len(adapters.Available()) == 0 {
		return nil, ErrNoChannels
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Retry == nil {
		opts.Retry = BackoffList(nil)
	}
	if opts.Limiter == nil {
		opts.Limiter = noLimit{}
	}
	if opts.History == nil {
		opts.History = storage.NewMemoryDeliveryHistory()
	}
	if opts.Escalator == nil {
		opts.Escalator = NewLogEscalator(logger)
	}

	return &Manager{
		logger:   logger.Named("delivery-manager"),
		adapters: adapters,
		opts:     opts,
		metrics:  newMetrics(opts.Registerer),
		now:      time.Now,
		sleep:    sleep,
	}, nil
}

type channelRun struct {
	attempts int
	results  []model.DeliveryResult
	// interrupted is set when ctx ended the retry loop early
	interrupted error
}

func (r channelRun) last() model.DeliveryResult {
	return r.results[len(r.results)-1]
}

// Deliver sends the route's message on every channel of the route and records the outcome.
// Channel failures never abort sibling channels.
func (m *Manager) Deliver(ctx context.Context, route model.AlertRoute, analysis model.CrisisAnalysis) model.DeliveryOutcome {
	start := m.now()
	outcome := model.DeliveryOutcome{
		RecipientID: route.Recipient.ID,
		Priority:    route.Priority,
		Attempts:    make(map[model.Channel]int),
	}

	metadata := map[string]string{
		channel.MetaPriority:   string(route.Priority),
		channel.MetaSeverity:   strconv.Itoa(analysis.Severity),
		channel.MetaThreatType: analysis.ThreatType,
	}

	type job struct {
		ch  model.Channel
		cap channel.Capability
	}
	var jobs []job
	seen := make(map[model.Channel]bool)
	for _, ch := range route.Channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true

		c, ok := m.adapters.Lookup(ch)
		if !ok || !c.Enabled || !c.Adapter.IsAvailable() {
			outcome.SkippedChannels = append(outcome.SkippedChannels, ch)
			continue
		}
		jobs = append(jobs, job{ch: ch, cap: c})
	}

	runs := make([]channelRun, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			runs[i] = m.sendWithRetry(ctx, j.cap, route, metadata)
			if err := runs[i].interrupted; err != nil {
				return fmt.Errorf("%s: %w", j.ch, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("Route delivery interrupted before all attempts were made",
			zap.String("recipient_id", route.Recipient.ID),
			zap.Error(err))
	}

	for i, j := range jobs {
		run := runs[i]
		outcome.ChannelsAttempted = append(outcome.ChannelsAttempted, j.ch)
		outcome.Attempts[j.ch] = run.attempts
		outcome.Results = append(outcome.Results, run.results...)

		if last := run.last(); last.Success {
			outcome.SuccessfulChannels = append(outcome.SuccessfulChannels, j.ch)
		} else {
			outcome.FailedChannels = append(outcome.FailedChannels, model.ChannelFailure{Channel: j.ch, Error: last.Error})
		}
	}

	outcome.TotalSuccess = len(outcome.SuccessfulChannels) > 0
	outcome.DeliveryTime = m.now().Sub(start)

	if !outcome.TotalSuccess && route.EscalationPlan != nil {
		outcome.Escalated = m.escalate(ctx, route, analysis, outcome)
	}

	m.record(ctx, route, analysis, outcome)

	m.logger.Info("Route delivered",
		zap.String("recipient_id", route.Recipient.ID),
		zap.String("priority", string(route.Priority)),
		zap.Bool("total_success", outcome.TotalSuccess),
		zap.Int("attempted", len(outcome.ChannelsAttempted)),
		zap.Int("skipped", len(outcome.SkippedChannels)),
		zap.Duration("delivery_time", outcome.DeliveryTime))

	return outcome
}

// sendWithRetry sends on one channel exactly up to MaxAttempts times, stopping at the first success
func (m *Manager) sendWithRetry(ctx context.Context, c channel.Capability, route model.AlertRoute, metadata map[string]string) channelRun {
	ch := c.Adapter.Channel()
	var run channelRun

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, m.opts.Retry.NextRetry(attempt-1)); err != nil {
				run.interrupted = err
				break
			}
		}
		if err := m.opts.Limiter.Wait(ctx, c.ProviderID); err != nil {
			run.interrupted = err
			break
		}

		res := m.send(ctx, c.Adapter, route, metadata)
		run.attempts++
		run.results = append(run.results, res)
		m.metrics.channelSends.WithLabelValues(string(ch), resultLabel(res.Success)).Inc()

		if res.Success {
			return run
		}
		m.logger.Debug("Channel attempt failed",
			zap.String("channel", string(ch)),
			zap.String("recipient_id", route.Recipient.ID),
			zap.Int("attempt", attempt),
			zap.String("error", res.Error))
	}

	if len(run.results) == 0 {
		err := run.interrupted
		if err == nil {
			err = context.Canceled
		}
		run.results = append(run.results, model.DeliveryResult{
			Channel:     ch,
			RecipientID: route.Recipient.ID,
			Timestamp:   m.now(),
			Error:       err.Error(),
		})
	}
	return run
}

func (m *Manager) send(ctx context.Context, adapter channel.Adapter, route model.AlertRoute, metadata map[string]string) model.DeliveryResult {
	if m.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.SendTimeout)
		defer cancel()
	}
	return adapter.Send(ctx, route.Message, route.Recipient, metadata)
}

func (m *Manager) escalate(ctx context.Context, route model.AlertRoute, analysis model.CrisisAnalysis, outcome model.DeliveryOutcome) bool {
	plan := route.EscalationPlan
	now := m.now()
	req := model.EscalationRequest{
		ID:                uuid.New().String(),
		RecipientID:       route.Recipient.ID,
		TargetRecipientID: plan.TargetRecipientID,
		Priority:          route.Priority,
		Severity:          analysis.Severity,
		ThreatType:        analysis.ThreatType,
		DelayMinutes:      plan.DelayMinutes,
		Message:           plan.Message,
		FailedChannels:    outcome.FailedChannels,
		CreatedAt:         now,
		FireAt:            now.Add(time.Duration(plan.DelayMinutes) * time.Minute),
	}

	if err := m.opts.Escalator.Escalate(ctx, req); err != nil {
		m.logger.Error("Failed to escalate",
			zap.String("recipient_id", route.Recipient.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) record(ctx context.Context, route model.AlertRoute, analysis model.CrisisAnalysis, outcome model.DeliveryOutcome) {
	m.metrics.deliveries.WithLabelValues(resultLabel(outcome.TotalSuccess)).Inc()
	m.metrics.duration.Observe(outcome.DeliveryTime.Seconds())

	rec := model.DeliveryRecord{
		ID:                 uuid.New().String(),
		RecipientID:        route.Recipient.ID,
		Priority:           route.Priority,
		ThreatType:         analysis.ThreatType,
		Severity:           analysis.Severity,
		ChannelsAttempted:  outcome.ChannelsAttempted,
		SuccessfulChannels: outcome.SuccessfulChannels,
		TotalSuccess:       outcome.TotalSuccess,
		DeliveryTimeMs:     outcome.DeliveryTime.Milliseconds(),
		CreatedAt:          m.now(),
	}
	if err := m.opts.History.Append(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Error("Failed to record delivery",
			zap.String("recipient_id", route.Recipient.ID),
			zap.Error(err))
	}
}

// GetAlertHistory returns delivery records newest first. limit <= 0 returns all.
func (m *Manager) GetAlertHistory(ctx context.Context, limit int) ([]model.DeliveryRecord, error) {
	return m.opts.History.List(ctx, limit)
}

// GetDeliveryStats aggregates the full delivery history
func (m *Manager) GetDeliveryStats(ctx context.Context) (model.DeliveryStats, error) {
	records, err := m.opts.History.List(ctx, 0)
	if err != nil {
		return model.DeliveryStats{}, err
	}
	return ComputeStats(records), nil
}

type noLimit struct{}

func (noLimit) Wait(ctx context.Context, _ string) error { return ctx.Err() }
