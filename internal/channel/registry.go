package channel

import (
	"sync"

	"github.com/t77yq/crisiswatch/internal/model"
)

// Capability is one row of the channel capability table
type Capability struct {
	Adapter    Adapter
	ProviderID string
	Enabled    bool
}

// ProviderStatus is the health of one provider as seen by the registry
type ProviderStatus struct {
	ProviderID  string          `json:"provider_id"`
	Channels    []model.Channel `json:"channels"`
	CircuitOpen bool            `json:"circuit_open"`
}

// Registry maps each channel to its adapter, provider identity and enable flag
type Registry struct {
	mu      sync.RWMutex
	table   map[model.Channel]Capability
	senders map[string]*HTTPSender
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		table:   make(map[model.Channel]Capability),
		senders: make(map[string]*HTTPSender),
	}
}

// AttachSender records the HTTP sender whose breaker guards a provider
func (r *Registry) AttachSender(providerID string, s *HTTPSender) {
	r.mu.Lock()
	r.senders[providerID] = s
	r.mu.Unlock()
}

// Register adds or replaces the row for the adapter's channel
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[adapter.Channel()] = Capability{
		Adapter:    adapter,
		ProviderID: adapter.ProviderID(),
		Enabled:    adapter.IsAvailable(),
	}
}

// Lookup returns the row for a channel
func (r *Registry) Lookup(ch model.Channel) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.table[ch]
	return c, ok
}

// Available lists the channels whose adapter is enabled, in stable order
func (r *Registry) Available() []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Channel
	for _, ch := range model.AllChannels {
		if c, ok := r.table[ch]; ok && c.Enabled && c.Adapter.IsAvailable() {
			out = append(out, ch)
		}
	}
	return out
}

// Providers returns the distinct provider identities of registered channels
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, ch := range model.AllChannels {
		if c, ok := r.table[ch]; ok && !seen[c.ProviderID] {
			seen[c.ProviderID] = true
			out = append(out, c.ProviderID)
		}
	}
	return out
}

// ProviderStatus reports every registered provider, the channels it serves
// and whether its circuit breaker is rejecting calls
func (r *Registry) ProviderStatus() []ProviderStatus {
	providers := r.Providers()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(providers))
	for _, id := range providers {
		st := ProviderStatus{ProviderID: id}
		for _, ch := range model.AllChannels {
			if c, ok := r.table[ch]; ok && c.ProviderID == id {
				st.Channels = append(st.Channels, ch)
			}
		}
		if s, ok := r.senders[id]; ok {
			st.CircuitOpen = s.IsOpen()
		}
		out = append(out, st)
	}
	return out
}

// Unavailable returns the channels in enabled that the registry cannot deliver on
func (r *Registry) Unavailable(enabled []model.Channel) []model.Channel {
	available := make(map[model.Channel]bool)
	for _, ch := range r.Available() {
		available[ch] = true
	}

	var out []model.Channel
	for _, ch := range enabled {
		if !available[ch] {
			out = append(out, ch)
		}
	}
	return out
}
