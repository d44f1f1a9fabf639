package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// HostHealth is a point-in-time view of host resource usage
type HostHealth struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// SampleHost measures cpu usage over a short window and reads memory usage
func SampleHost(ctx context.Context) (HostHealth, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return HostHealth{}, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostHealth{}, fmt.Errorf("failed to get memory usage: %w", err)
	}

	h := HostHealth{MemoryPercent: memInfo.UsedPercent, SampledAt: time.Now()}
	if len(cpuPercent) > 0 {
		h.CPUPercent = cpuPercent[0]
	}
	return h, nil
}

// HealthSampler periodically samples host usage and caches the latest snapshot
type HealthSampler struct {
	logger   *zap.Logger
	interval time.Duration
	sample   func(ctx context.Context) (HostHealth, error)

	cpuGauge prometheus.Gauge
	memGauge prometheus.Gauge

	mu   sync.RWMutex
	last HostHealth
	err  error
}

// NewHealthSampler creates a sampler exporting gauges to reg
func NewHealthSampler(interval time.Duration, reg prometheus.Registerer, logger *zap.Logger) *HealthSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	f := promauto.With(reg)
	return &HealthSampler{
		logger:   logger.Named("health-sampler"),
		interval: interval,
		sample:   SampleHost,
		cpuGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "crisiswatch",
			Name:      "host_cpu_percent",
			Help:      "Host CPU usage percent",
		}),
		memGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "crisiswatch",
			Name:      "host_memory_percent",
			Help:      "Host memory usage percent",
		}),
	}
}

// Start samples once and then on every interval until ctx is done
func (s *HealthSampler) Start(ctx context.Context) {
	s.collect(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.collect(ctx)
			}
		}
	}()
}

func (s *HealthSampler) collect(ctx context.Context) {
	h, err := s.sample(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		s.logger.Warn("Failed to sample host", zap.Error(err))
		return
	}
	s.last, s.err = h, nil
	s.cpuGauge.Set(h.CPUPercent)
	s.memGauge.Set(h.MemoryPercent)

	s.logger.Debug("Host sampled",
		zap.Float64("cpu_percent", h.CPUPercent),
		zap.Float64("memory_percent", h.MemoryPercent))
}

// Snapshot returns the latest sample and the error of the latest attempt
func (s *HealthSampler) Snapshot() (HostHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.err
}
