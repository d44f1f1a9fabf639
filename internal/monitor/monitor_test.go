package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crisiswatch/internal/collector"
	"github.com/t77yq/crisiswatch/internal/model"
	"github.com/t77yq/crisiswatch/internal/testutil"
)

type fakeRunner struct {
	mu       sync.Mutex
	severity int
	sinces   []time.Time
}

func (f *fakeRunner) Run(_ context.Context, campaign model.CampaignContext, since time.Time) *model.WorkflowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)

	threat := f.severity >= 4
	return &model.WorkflowState{
		RunID:           "run-" + campaign.ID,
		Stage:           model.StageLearned,
		Since:           since,
		CampaignContext: campaign,
		Analysis:        &model.CrisisAnalysis{Severity: f.severity, ThreatType: "scandal"},
		Severity:        f.severity,
		ThreatDetected:  threat,
		LearningData:    &model.LearningData{CampaignID: campaign.ID, Severity: f.severity, ThreatDetected: threat},
	}
}

func (f *fakeRunner) Sinces() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sinces...)
}

func startMonitor(t *testing.T, runner Runner) (*Monitor, *testutil.JetStream) {
	t.Helper()
	srv := testutil.StartJetStream(t)
	m := NewMonitor(srv.JS, runner, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	require.NoError(t, m.Start(ctx))
	return m, srv
}

var campaign = model.CampaignContext{ID: "camp.1", CandidateName: "Jane Doe"}

func TestMonitor_RunNowPublishesEvents(t *testing.T) {
	runner := &fakeRunner{severity: 8}
	m, srv := startMonitor(t, runner)

	_, err := m.AddCampaign(campaign, "0 0 * * * *")
	require.NoError(t, err)

	state, err := m.RunNow(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-camp.1", state.RunID)

	run := testutil.NextMessage(t, srv.JS, "crisis.run.camp_1", 2*time.Second)
	var runEvent RunEvent
	require.NoError(t, json.Unmarshal(run.Data, &runEvent))
	assert.Equal(t, "camp.1", runEvent.CampaignID)
	require.NotNil(t, runEvent.LearningData)
	assert.Equal(t, 8, runEvent.LearningData.Severity)

	alert := testutil.NextMessage(t, srv.JS, "crisis.alert.camp_1", 2*time.Second)
	var alertEvent AlertEvent
	require.NoError(t, json.Unmarshal(alert.Data, &alertEvent))
	require.NotNil(t, alertEvent.Analysis)
	assert.Equal(t, "scandal", alertEvent.Analysis.ThreatType)
}

func TestMonitor_NoAlertEventWithoutThreat(t *testing.T) {
	runner := &fakeRunner{severity: 2}
	m, srv := startMonitor(t, runner)

	_, err := m.AddCampaign(campaign, "0 0 * * * *")
	require.NoError(t, err)
	_, err = m.RunNow(context.Background(), campaign.ID)
	require.NoError(t, err)

	testutil.NextMessage(t, srv.JS, "crisis.run.camp_1", 2*time.Second)

	info, err := srv.JS.StreamInfo(EventStream)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}

func TestMonitor_SinceAdvancesBetweenRuns(t *testing.T) {
	runner := &fakeRunner{}
	m, _ := startMonitor(t, runner)

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	current := t0
	m.now = func() time.Time { return current }

	_, err := m.AddCampaign(campaign, "0 */5 * * * *")
	require.NoError(t, err)

	_, err = m.RunNow(context.Background(), campaign.ID)
	require.NoError(t, err)
	current = t0.Add(5 * time.Minute)
	_, err = m.RunNow(context.Background(), campaign.ID)
	require.NoError(t, err)

	sinces := runner.Sinces()
	require.Len(t, sinces, 2)
	assert.Equal(t, t0.Add(-time.Hour), sinces[0])
	assert.Equal(t, t0, sinces[1])

	schedules := m.ListSchedules()
	require.Len(t, schedules, 1)
	require.NotNil(t, schedules[0].LastRunTime)
	assert.Equal(t, current, *schedules[0].LastRunTime)
	assert.Equal(t, t0.Add(10*time.Minute), *schedules[0].NextRunTime)
}

func TestMonitor_ScheduleManagement(t *testing.T) {
	m, _ := startMonitor(t, &fakeRunner{})

	_, err := m.AddCampaign(campaign, "not a cron")
	assert.Error(t, err)

	_, err = m.AddCampaign(model.CampaignContext{}, "* * * * * *")
	assert.Error(t, err)

	_, err = m.AddCampaign(campaign, "*/30 * * * * *")
	require.NoError(t, err)
	_, err = m.AddCampaign(campaign, "*/30 * * * * *")
	assert.Error(t, err, "duplicate campaign")

	require.NoError(t, m.RemoveCampaign(campaign.ID))
	assert.Empty(t, m.ListSchedules())
	assert.Error(t, m.RemoveCampaign(campaign.ID))

	_, err = m.RunNow(context.Background(), campaign.ID)
	assert.Error(t, err)
}

func TestMonitor_CronFires(t *testing.T) {
	runner := &fakeRunner{}
	m, _ := startMonitor(t, runner)

	_, err := m.AddCampaign(campaign, "* * * * * *")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(runner.Sinces()) >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "crisis.run.a_b_c", RunSubject("a.b c"))
	assert.Equal(t, "crisis.alert.x__", AlertSubject("x*>"))
}

func TestHealthSampler(t *testing.T) {
	s := NewHealthSampler(time.Hour, prometheus.NewRegistry(), zaptest.NewLogger(t))

	s.sample = func(context.Context) (HostHealth, error) {
		return HostHealth{CPUPercent: 12.5, MemoryPercent: 40, SampledAt: time.Now()}, nil
	}
	s.collect(context.Background())

	h, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 12.5, h.CPUPercent)
	assert.Equal(t, 40.0, h.MemoryPercent)

	s.sample = func(context.Context) (HostHealth, error) {
		return HostHealth{}, errors.New("no procfs")
	}
	s.collect(context.Background())

	h, err = s.Snapshot()
	assert.Error(t, err)
	assert.Equal(t, 12.5, h.CPUPercent, "last good sample kept")
}

// scanRunner records which mentions the collector returns for each run
type scanRunner struct {
	collector *collector.StreamCollector
	seen      [][]string
}

func (r *scanRunner) Run(ctx context.Context, campaign model.CampaignContext, since time.Time) *model.WorkflowState {
	mentions, _ := r.collector.Scan(ctx, nil, since)
	ids := []string{}
	for _, m := range mentions {
		ids = append(ids, m.ID)
	}
	r.seen = append(r.seen, ids)
	return &model.WorkflowState{RunID: "run", Since: since, CampaignContext: campaign, Mentions: mentions}
}

func TestMonitor_LateMentionSeenByNextRun(t *testing.T) {
	srv := testutil.StartJetStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := collector.NewStreamCollector(srv.JS, 24*time.Hour, zaptest.NewLogger(t))
	require.NoError(t, c.Start(ctx))

	runner := &scanRunner{collector: c}
	m := NewMonitor(srv.JS, runner, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)

	_, err := m.AddCampaign(campaign, "0 0 * * * *")
	require.NoError(t, err)

	_, err = m.RunNow(ctx, campaign.ID)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	late := model.Mention{ID: "late", Content: "scraped late", PublishedAt: time.Now().Add(-2 * time.Minute)}
	require.NoError(t, c.Publish(ctx, late))
	require.Eventually(t, func() bool { return c.Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	_, err = m.RunNow(ctx, campaign.ID)
	require.NoError(t, err)
	_, err = m.RunNow(ctx, campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{}, {"late"}, {}}, runner.seen)
}
