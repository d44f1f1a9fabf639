package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/channel"
	"github.com/t77yq/crisiswatch/internal/model"
	"github.com/t77yq/crisiswatch/internal/monitor"
)

// DeliveryQuery is the read side of the delivery manager
type DeliveryQuery interface {
	GetDeliveryStats(ctx context.Context) (model.DeliveryStats, error)
	GetAlertHistory(ctx context.Context, limit int) ([]model.DeliveryRecord, error)
}

// HealthSource reports the latest host sample
type HealthSource interface {
	Snapshot() (monitor.HostHealth, error)
}

// MentionSink ingests mentions
type MentionSink interface {
	Publish(ctx context.Context, m model.Mention) error
}

// CampaignScheduler manages scheduled campaign scans
type CampaignScheduler interface {
	RunNow(ctx context.Context, campaignID string) (*model.WorkflowState, error)
	RemoveCampaign(campaignID string) error
	ListSchedules() []model.ScanSchedule
}

// ProviderSource reports channel provider health
type ProviderSource interface {
	ProviderStatus() []channel.ProviderStatus
}

// PatternSource lists learned crisis patterns
type PatternSource interface {
	Snapshot() []model.CrisisPattern
}

// RecipientStore reads and updates recipient profiles
type RecipientStore interface {
	Get(ctx context.Context, id string) (model.RecipientProfile, error)
	Upsert(r model.RecipientProfile)
}

// Config holds the server dependencies. Everything but Delivery may be nil.
type Config struct {
	Addr       string
	Mode       string
	Delivery   DeliveryQuery
	Health     HealthSource
	Mentions   MentionSink
	Campaigns  CampaignScheduler
	Providers  ProviderSource
	Patterns   PatternSource
	Recipients RecipientStore
	Gatherer   prometheus.Gatherer
}

// Server serves the query API
type Server struct {
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

// New creates the server and registers its routes
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	l := logger.Named("api")
	router := gin.New()
	router.Use(recovery(l), requestLogger(l))

	h := &handlers{
		logger:     l,
		delivery:   cfg.Delivery,
		host:       cfg.Health,
		mentions:   cfg.Mentions,
		campaigns:  cfg.Campaigns,
		providers:  cfg.Providers,
		patterns:   cfg.Patterns,
		recipients: cfg.Recipients,
		started:    time.Now(),
	}

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/stats", h.stats)
		v1.GET("/alerts", h.alerts)
		if cfg.Mentions != nil {
			v1.POST("/mentions", h.ingestMention)
		}
		if cfg.Campaigns != nil {
			v1.GET("/campaigns", h.listCampaigns)
			v1.POST("/campaigns/:id/run", h.runCampaign)
			v1.DELETE("/campaigns/:id", h.removeCampaign)
		}
		if cfg.Patterns != nil {
			v1.GET("/patterns", h.listPatterns)
		}
		if cfg.Recipients != nil {
			v1.GET("/recipients/:id", h.getRecipient)
			v1.PUT("/recipients/:id", h.putRecipient)
		}
	}

	return &Server{
		logger: l,
		router: router,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
