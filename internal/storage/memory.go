package storage

import (
	"context"
	"sync"
	"time"

	"github.com/t77yq/crisiswatch/internal/model"
)

// MemoryDeliveryHistory keeps delivery records in process memory
type MemoryDeliveryHistory struct {
	mu      sync.RWMutex
	records []model.DeliveryRecord
}

// NewMemoryDeliveryHistory creates an empty in-memory history
func NewMemoryDeliveryHistory() *MemoryDeliveryHistory {
	return &MemoryDeliveryHistory{}
}

func (m *MemoryDeliveryHistory) Append(_ context.Context, record model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, cloneRecord(record))
	return nil
}

func (m *MemoryDeliveryHistory) List(_ context.Context, limit int) ([]model.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.DeliveryRecord, 0, n)
	for i := len(m.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneRecord(m.records[i]))
	}
	return out, nil
}

func (m *MemoryDeliveryHistory) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *MemoryDeliveryHistory) Close() error { return nil }

func cloneRecord(r model.DeliveryRecord) model.DeliveryRecord {
	r.ChannelsAttempted = append([]model.Channel(nil), r.ChannelsAttempted...)
	r.SuccessfulChannels = append([]model.Channel(nil), r.SuccessfulChannels...)
	return r
}
