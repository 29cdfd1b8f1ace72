package resilience

import (
	"sort"
	"sync"
	"time"
)

// OriginStatus is the health of one outbound origin.
type OriginStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Requests      uint32     `json:"requests"`
	Failures      uint32     `json:"failures"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Healthy reports whether the origin's circuit is closed.
func (s OriginStatus) Healthy() bool {
	return s.State == "closed"
}

// Health tracks the clients of every outbound origin.
type Health struct {
	mu      sync.RWMutex
	origins map[string]*trackedOrigin
}

type trackedOrigin struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewHealth creates an empty health tracker.
func NewHealth() *Health {
	return &Health{origins: make(map[string]*trackedOrigin)}
}

// Track registers client under name, replacing any previous client.
func (h *Health) Track(name string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.origins[name] = &trackedOrigin{client: client}
}

func (h *Health) recordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.origins[name]; ok {
		now := time.Now()
		o.lastSuccessAt = &now
	}
}

func (h *Health) recordFailure(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.origins[name]; ok {
		now := time.Now()
		o.lastFailureAt = &now
		o.lastError = err.Error()
	}
}

// Status returns the health of one origin.
func (h *Health) Status(name string) (OriginStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, ok := h.origins[name]
	if !ok {
		return OriginStatus{}, false
	}
	return o.status(name), true
}

// Snapshot returns the health of every origin, sorted by name.
func (h *Health) Snapshot() []OriginStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]OriginStatus, 0, len(h.origins))
	for name, o := range h.origins {
		out = append(out, o.status(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *trackedOrigin) status(name string) OriginStatus {
	counts := o.client.CircuitBreakerCounts()
	return OriginStatus{
		Name:          name,
		State:         o.client.CircuitBreakerState().String(),
		Requests:      counts.Requests,
		Failures:      counts.TotalFailures,
		LastSuccessAt: o.lastSuccessAt,
		LastFailureAt: o.lastFailureAt,
		LastError:     o.lastError,
	}
}
