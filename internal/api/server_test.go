package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crisiswatch/internal/channel"
	"github.com/t77yq/crisiswatch/internal/collector"
	"github.com/t77yq/crisiswatch/internal/directory"
	"github.com/t77yq/crisiswatch/internal/model"
	"github.com/t77yq/crisiswatch/internal/monitor"
)

type fakeDelivery struct {
	stats     model.DeliveryStats
	records   []model.DeliveryRecord
	err       error
	lastLimit int
}

func (f *fakeDelivery) GetDeliveryStats(context.Context) (model.DeliveryStats, error) {
	return f.stats, f.err
}

func (f *fakeDelivery) GetAlertHistory(_ context.Context, limit int) ([]model.DeliveryRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type fakeHealth struct {
	host monitor.HostHealth
	err  error
}

func (f fakeHealth) Snapshot() (monitor.HostHealth, error) { return f.host, f.err }

type fakeSink struct {
	got []model.Mention
	err error
}

func (f *fakeSink) Publish(_ context.Context, m model.Mention) error {
	f.got = append(f.got, m)
	return f.err
}

type fakeCampaigns struct {
	schedules map[string]model.ScanSchedule
	runErr    error
}

func newFakeCampaigns(ids ...string) *fakeCampaigns {
	f := &fakeCampaigns{schedules: make(map[string]model.ScanSchedule)}
	for _, id := range ids {
		f.schedules[id] = model.ScanSchedule{ID: id, Expression: "0 */5 * * * *", Campaign: model.CampaignContext{ID: id}}
	}
	return f
}

func (f *fakeCampaigns) RunNow(_ context.Context, id string) (*model.WorkflowState, error) {
	if _, ok := f.schedules[id]; !ok {
		return nil, fmt.Errorf("%w: %s", monitor.ErrScheduleNotFound, id)
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &model.WorkflowState{RunID: "run-1", Severity: 6, ThreatDetected: true, AlertsSent: 2,
		Trace: []model.Stage{model.StageStart, model.StageLearned}}, nil
}

func (f *fakeCampaigns) RemoveCampaign(id string) error {
	if _, ok := f.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", monitor.ErrScheduleNotFound, id)
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeCampaigns) ListSchedules() []model.ScanSchedule {
	out := make([]model.ScanSchedule, 0, len(f.schedules))
	for _, s := range f.schedules {
		out = append(out, s)
	}
	return out
}

type fakeProviders []channel.ProviderStatus

func (f fakeProviders) ProviderStatus() []channel.ProviderStatus { return f }

type fakePatterns []model.CrisisPattern

func (f fakePatterns) Snapshot() []model.CrisisPattern { return f }

func newServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	cfg.Mode = gin.TestMode
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	return New(cfg, zaptest.NewLogger(t)).Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStats(t *testing.T) {
	d := &fakeDelivery{stats: model.DeliveryStats{
		TotalDeliveries:      4,
		SuccessfulDeliveries: 3,
		OverallSuccessRate:   0.75,
		Channels:             map[model.Channel]model.ChannelStats{model.ChannelSMS: {Attempts: 4, Successes: 3, SuccessRate: 0.75}},
	}}
	h := newServer(t, Config{Delivery: d})

	w := do(h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got model.DeliveryStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 4, got.TotalDeliveries)
	assert.Equal(t, 0.75, got.Channels[model.ChannelSMS].SuccessRate)
}

func TestStats_Error(t *testing.T) {
	h := newServer(t, Config{Delivery: &fakeDelivery{err: errors.New("db locked")}})

	w := do(h, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAlerts(t *testing.T) {
	records := make([]model.DeliveryRecord, 60)
	for i := range records {
		records[i] = model.DeliveryRecord{ID: fmt.Sprintf("r%d", i)}
	}
	d := &fakeDelivery{records: records}
	h := newServer(t, Config{Delivery: d})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
		wantCount int
	}{
		{"default limit", "", http.StatusOK, 50, 50},
		{"explicit limit", "?limit=5", http.StatusOK, 5, 5},
		{"capped", "?limit=100000", http.StatusOK, maxAlertLimit, 60},
		{"zero", "?limit=0", http.StatusBadRequest, 0, 0},
		{"garbage", "?limit=abc", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d.lastLimit = 0
			w := do(h, http.MethodGet, "/api/v1/alerts"+tt.query, "")
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, d.lastLimit)

			var body struct {
				Alerts []model.DeliveryRecord `json:"alerts"`
				Count  int                    `json:"count"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCount, body.Count)
			assert.Len(t, body.Alerts, tt.wantCount)
		})
	}
}

func TestAlerts_EmptyIsArray(t *testing.T) {
	h := newServer(t, Config{Delivery: &fakeDelivery{}})

	w := do(h, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"alerts":[],"count":0}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newServer(t, Config{Delivery: &fakeDelivery{}, Health: fakeHealth{host: monitor.HostHealth{CPUPercent: 3, MemoryPercent: 20, SampledAt: time.Now()}}})
		w := do(h, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		require.NotNil(t, resp.Host)
		assert.Equal(t, 20.0, resp.Host.MemoryPercent)
	})

	t.Run("degraded", func(t *testing.T) {
		h := newServer(t, Config{Delivery: &fakeDelivery{}, Health: fakeHealth{err: errors.New("no procfs")}})
		w := do(h, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Nil(t, resp.Host)
		assert.Equal(t, "no procfs", resp.HostError)
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "crisiswatch_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := newServer(t, Config{Delivery: &fakeDelivery{}, Gatherer: reg})
	w := do(h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "crisiswatch_test_total 1")
}

func TestIngestMention(t *testing.T) {
	sink := &fakeSink{}
	h := newServer(t, Config{Delivery: &fakeDelivery{}, Mentions: sink})

	w := do(h, http.MethodPost, "/api/v1/mentions", `{"id":"m1","content":"hello","reach_count":10}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "m1", sink.got[0].ID)
	assert.False(t, sink.got[0].PublishedAt.IsZero())

	w = do(h, http.MethodPost, "/api/v1/mentions", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sink.err = fmt.Errorf("%w: sentiment out of range", collector.ErrInvalidMention)
	w = do(h, http.MethodPost, "/api/v1/mentions", `{"id":"m2","sentiment_score":4}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sink.err = errors.New("nats: timeout")
	w = do(h, http.MethodPost, "/api/v1/mentions", `{"id":"m3"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIngestMention_NotMountedWithoutSink(t *testing.T) {
	h := newServer(t, Config{Delivery: &fakeDelivery{}})

	w := do(h, http.MethodPost, "/api/v1/mentions", `{"id":"m1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunCampaign(t *testing.T) {
	campaigns := newFakeCampaigns("camp-1")
	h := newServer(t, Config{Delivery: &fakeDelivery{}, Campaigns: campaigns})

	w := do(h, http.MethodPost, "/api/v1/campaigns/camp-1/run", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.True(t, resp.ThreatDetected)

	w = do(h, http.MethodPost, "/api/v1/campaigns/nope/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	campaigns.runErr = errors.New("nats: no responders")
	w = do(h, http.MethodPost, "/api/v1/campaigns/camp-1/run", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCampaigns_ListAndRemove(t *testing.T) {
	h := newServer(t, Config{Delivery: &fakeDelivery{}, Campaigns: newFakeCampaigns("camp-2", "camp-1")})

	w := do(h, http.MethodGet, "/api/v1/campaigns", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Campaigns []model.ScanSchedule `json:"campaigns"`
		Count     int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "camp-1", list.Campaigns[0].ID)

	w = do(h, http.MethodDelete, "/api/v1/campaigns/camp-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(h, http.MethodDelete, "/api/v1/campaigns/camp-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodPost, "/api/v1/campaigns/camp-1/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth_ProvidersAndSchedules(t *testing.T) {
	providers := fakeProviders{
		{ProviderID: "twilio", Channels: []model.Channel{model.ChannelSMS, model.ChannelVoice}},
		{ProviderID: "ses", Channels: []model.Channel{model.ChannelEmail}},
	}
	h := newServer(t, Config{Delivery: &fakeDelivery{}, Providers: providers, Campaigns: newFakeCampaigns("camp-1")})

	w := do(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Providers, 2)
	assert.Equal(t, []model.Channel{model.ChannelSMS, model.ChannelVoice}, resp.Providers[0].Channels)
	require.Len(t, resp.Schedules, 1)
	assert.Equal(t, "camp-1", resp.Schedules[0].ID)

	providers[0].CircuitOpen = true
	w = do(h, http.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.True(t, resp.Providers[0].CircuitOpen)
}

func TestPatterns(t *testing.T) {
	h := newServer(t, Config{Delivery: &fakeDelivery{}, Patterns: fakePatterns{
		{ID: "p1", Type: "misinformation", Indicators: []string{"hoax"}, TypicalSeverity: 8},
	}})

	w := do(h, http.MethodGet, "/api/v1/patterns", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Patterns []model.CrisisPattern `json:"patterns"`
		Count    int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, []string{"hoax"}, resp.Patterns[0].Indicators)

	h = newServer(t, Config{Delivery: &fakeDelivery{}, Patterns: fakePatterns(nil)})
	w = do(h, http.MethodGet, "/api/v1/patterns", "")
	assert.JSONEq(t, `{"patterns":[],"count":0}`, w.Body.String())
}

func TestRecipients_GetAndPut(t *testing.T) {
	dir, err := directory.NewStaticDirectory([]model.RecipientProfile{{ID: "r1", Name: "Ana", Role: "press_secretary"}})
	require.NoError(t, err)
	h := newServer(t, Config{Delivery: &fakeDelivery{}, Recipients: dir})

	w := do(h, http.MethodGet, "/api/v1/recipients/r1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got model.RecipientProfile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Ana", got.Name)

	w = do(h, http.MethodGet, "/api/v1/recipients/r2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodPut, "/api/v1/recipients/r2", `{"id":"ignored","name":"Ben","role":"campaign_manager","contacts":{"sms":"+15550002"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := dir.Get(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, "Ben", stored.Name)
	assert.Equal(t, "+15550002", stored.Contacts[model.ChannelSMS])
	_, err = dir.Get(context.Background(), "ignored")
	assert.ErrorIs(t, err, directory.ErrRecipientNotFound)

	w = do(h, http.MethodPut, "/api/v1/recipients/r3", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
