package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/channel"
	"github.com/t77yq/crisiswatch/internal/collector"
	"github.com/t77yq/crisiswatch/internal/directory"
	"github.com/t77yq/crisiswatch/internal/model"
	"github.com/t77yq/crisiswatch/internal/monitor"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Uptime    int64                    `json:"uptime_seconds"`
	Host      *monitor.HostHealth      `json:"host,omitempty"`
	HostError string                   `json:"host_error,omitempty"`
	Providers []channel.ProviderStatus `json:"providers,omitempty"`
	Schedules []model.ScanSchedule     `json:"schedules,omitempty"`
}

// RunResponse summarizes a triggered pipeline run
type RunResponse struct {
	RunID          string              `json:"run_id"`
	Trace          []model.Stage       `json:"trace"`
	Severity       int                 `json:"severity"`
	ThreatDetected bool                `json:"threat_detected"`
	AlertsSent     int                 `json:"alerts_sent"`
	LearningData   *model.LearningData `json:"learning_data"`
}

type handlers struct {
	logger     *zap.Logger
	delivery   DeliveryQuery
	host       HealthSource
	mentions   MentionSink
	campaigns  CampaignScheduler
	providers  ProviderSource
	patterns   PatternSource
	recipients RecipientStore
	started    time.Time
}

func (h *handlers) healthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(h.started).Seconds()),
	}
	if h.host != nil {
		host, err := h.host.Snapshot()
		if err != nil {
			resp.Status = "degraded"
			resp.HostError = err.Error()
		}
		if !host.SampledAt.IsZero() {
			resp.Host = &host
		}
	}
	if h.providers != nil {
		resp.Providers = h.providers.ProviderStatus()
		for _, p := range resp.Providers {
			if p.CircuitOpen {
				resp.Status = "degraded"
			}
		}
	}
	if h.campaigns != nil {
		resp.Schedules = h.campaigns.ListSchedules()
		sort.Slice(resp.Schedules, func(i, j int) bool { return resp.Schedules[i].ID < resp.Schedules[j].ID })
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.delivery.GetDeliveryStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute delivery stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) alerts(c *gin.Context) {
	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAlertLimit)
	}

	records, err := h.delivery.GetAlertHistory(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list alert history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list alerts"})
		return
	}
	if records == nil {
		records = []model.DeliveryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": records, "count": len(records)})
}

func (h *handlers) ingestMention(c *gin.Context) {
	var m model.Mention
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = time.Now()
	}

	if err := h.mentions.Publish(c.Request.Context(), m); err != nil {
		if errors.Is(err, collector.ErrInvalidMention) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Failed to ingest mention", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "failed to ingest mention"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) listCampaigns(c *gin.Context) {
	schedules := h.campaigns.ListSchedules()
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })
	c.JSON(http.StatusOK, gin.H{"campaigns": schedules, "count": len(schedules)})
}

func (h *handlers) removeCampaign(c *gin.Context) {
	if err := h.campaigns.RemoveCampaign(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) runCampaign(c *gin.Context) {
	state, err := h.campaigns.RunNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, monitor.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Campaign run failed", zap.String("campaign_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "campaign run failed"})
		return
	}
	c.JSON(http.StatusOK, RunResponse{
		RunID:          state.RunID,
		Trace:          state.Trace,
		Severity:       state.Severity,
		ThreatDetected: state.ThreatDetected,
		AlertsSent:     state.AlertsSent,
		LearningData:   state.LearningData,
	})
}

func (h *handlers) listPatterns(c *gin.Context) {
	patterns := h.patterns.Snapshot()
	if patterns == nil {
		patterns = []model.CrisisPattern{}
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns, "count": len(patterns)})
}

func (h *handlers) getRecipient(c *gin.Context) {
	r, err := h.recipients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, directory.ErrRecipientNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Failed to read recipient", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read recipient"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// putRecipient replaces a recipient profile; the path id wins over the body
func (h *handlers) putRecipient(c *gin.Context) {
	var r model.RecipientProfile
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	r.ID = c.Param("id")
	h.recipients.Upsert(r)
	h.logger.Info("Recipient updated", zap.String("recipient_id", r.ID), zap.String("role", r.Role))
	c.JSON(http.StatusOK, r)
}
