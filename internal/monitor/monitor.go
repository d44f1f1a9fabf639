package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

const (
	// EventStream stores pipeline run and alert events
	EventStream = "CRISIS"

	runSubjectPrefix   = "crisis.run."
	alertSubjectPrefix = "crisis.alert."

	defaultLookback = time.Hour
)

// ErrScheduleNotFound is returned for an unknown campaign id
var ErrScheduleNotFound = errors.New("schedule not found")

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, campaign model.CampaignContext, since time.Time) *model.WorkflowState
}

// RunEvent is published after every pipeline run
type RunEvent struct {
	RunID        string              `json:"run_id"`
	CampaignID   string              `json:"campaign_id"`
	Since        time.Time           `json:"since"`
	Trace        []model.Stage       `json:"trace"`
	LearningData *model.LearningData `json:"learning_data"`
}

// AlertEvent is published when a run detects a threat
type AlertEvent struct {
	RunID           string                           `json:"run_id"`
	CampaignID      string                           `json:"campaign_id"`
	Analysis        *model.CrisisAnalysis            `json:"analysis"`
	AlertCount      int                              `json:"alert_count"`
	AlertsSent      int                              `json:"alerts_sent"`
	DeliveryResults map[string]model.DeliveryOutcome `json:"delivery_results"`
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Monitor runs the pipeline for each campaign on its cron schedule and
// publishes the results to JetStream
type Monitor struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	runner   Runner
	cron     *cron.Cron
	lookback time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	schedules map[string]*model.ScanSchedule
	entryIDs  map[string]cron.EntryID
	ctx       context.Context
}

// NewMonitor creates a monitor. The first run of a schedule looks back lookback.
func NewMonitor(js nats.JetStreamContext, runner Runner, lookback time.Duration, logger *zap.Logger) *Monitor {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	cl := &cronLogger{logger: logger.Named("cron")}

	return &Monitor{
		logger:   logger.Named("monitor"),
		js:       js,
		runner:   runner,
		lookback: lookback,
		now:      time.Now,
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		schedules: make(map[string]*model.ScanSchedule),
		entryIDs:  make(map[string]cron.EntryID),
		ctx:       context.Background(),
	}
}

// Start creates the event stream and starts the cron loop
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.js.StreamInfo(EventStream)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     EventStream,
			Subjects: []string{runSubjectPrefix + "*", alertSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		m.logger.Info("Created event stream", zap.String("name", EventStream))
	}

	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.cron.Start()
	m.logger.Info("Monitor started", zap.Int("schedules", len(m.ListSchedules())))
	return nil
}

// Stop stops the cron loop and waits for running jobs
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// AddCampaign schedules pipeline runs for a campaign using a six-field cron expression
func (m *Monitor) AddCampaign(campaign model.CampaignContext, expression string) (*model.ScanSchedule, error) {
	if campaign.ID == "" {
		return nil, fmt.Errorf("campaign id is required")
	}
	spec, err := specParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	now := m.now()
	next := spec.Next(now)
	schedule := &model.ScanSchedule{
		ID:          uuid.New().String(),
		Campaign:    campaign,
		Expression:  expression,
		NextRunTime: &next,
		CreatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entryIDs[campaign.ID]; exists {
		return nil, fmt.Errorf("campaign already scheduled: %s", campaign.ID)
	}

	entryID := m.cron.Schedule(spec, cron.FuncJob(func() {
		m.runScheduled(campaign.ID)
	}))
	m.schedules[campaign.ID] = schedule
	m.entryIDs[campaign.ID] = entryID

	m.logger.Info("Added campaign schedule",
		zap.String("campaign_id", campaign.ID),
		zap.String("expression", expression),
		zap.Time("next_run", next))

	return cloneSchedule(schedule), nil
}

// RemoveCampaign stops scheduling a campaign
func (m *Monitor) RemoveCampaign(campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryID, ok := m.entryIDs[campaignID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, campaignID)
	}
	m.cron.Remove(entryID)
	delete(m.entryIDs, campaignID)
	delete(m.schedules, campaignID)

	m.logger.Info("Removed campaign schedule", zap.String("campaign_id", campaignID))
	return nil
}

// ListSchedules returns copies of all schedules
func (m *Monitor) ListSchedules() []model.ScanSchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.ScanSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, *cloneSchedule(s))
	}
	return out
}

func (m *Monitor) runScheduled(campaignID string) {
	m.mu.RLock()
	ctx := m.ctx
	m.mu.RUnlock()

	if _, err := m.RunNow(ctx, campaignID); err != nil {
		m.logger.Error("Scheduled run failed",
			zap.String("campaign_id", campaignID),
			zap.Error(err))
	}
}

// RunNow runs the pipeline for a scheduled campaign immediately, scanning since its previous run
func (m *Monitor) RunNow(ctx context.Context, campaignID string) (*model.WorkflowState, error) {
	m.mu.Lock()
	schedule, ok := m.schedules[campaignID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, campaignID)
	}
	now := m.now()
	since := now.Add(-m.lookback)
	if schedule.LastRunTime != nil {
		since = *schedule.LastRunTime
	}
	schedule.LastRunTime = &now
	if spec, err := specParser.Parse(schedule.Expression); err == nil {
		next := spec.Next(now)
		schedule.NextRunTime = &next
	}
	campaign := schedule.Campaign
	m.mu.Unlock()

	state := m.runner.Run(ctx, campaign, since)
	m.publish(state)
	return state, nil
}

func (m *Monitor) publish(state *model.WorkflowState) {
	campaignID := state.CampaignContext.ID

	m.publishJSON(RunSubject(campaignID), RunEvent{
		RunID:        state.RunID,
		CampaignID:   campaignID,
		Since:        state.Since,
		Trace:        state.Trace,
		LearningData: state.LearningData,
	})

	if state.ThreatDetected {
		m.publishJSON(AlertSubject(campaignID), AlertEvent{
			RunID:           state.RunID,
			CampaignID:      campaignID,
			Analysis:        state.Analysis,
			AlertCount:      state.AlertCount,
			AlertsSent:      state.AlertsSent,
			DeliveryResults: state.DeliveryResults,
		})
	}
}

func (m *Monitor) publishJSON(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := m.js.Publish(subject, data); err != nil {
		m.logger.Error("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	m.logger.Debug("Event published", zap.String("subject", subject))
}

// RunSubject returns the run event subject for a campaign
func RunSubject(campaignID string) string {
	return runSubjectPrefix + subjectToken(campaignID)
}

// AlertSubject returns the alert event subject for a campaign
func AlertSubject(campaignID string) string {
	return alertSubjectPrefix + subjectToken(campaignID)
}

// subjectToken makes an id safe to use as a single subject token
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, id)
}

func cloneSchedule(s *model.ScanSchedule) *model.ScanSchedule {
	c := *s
	if s.LastRunTime != nil {
		t := *s.LastRunTime
		c.LastRunTime = &t
	}
	if s.NextRunTime != nil {
		t := *s.NextRunTime
		c.NextRunTime = &t
	}
	return &c
}
