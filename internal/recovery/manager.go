package recovery

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"log/slog"

	"github.com/communitycar/realtime/internal/backoff"
)

// Manager owns the registered boundaries and acts as the global catcher
// for failures that escape all of them. It also keeps per-boundary error
// counts for a quick health read.
type Manager struct {
	sink   Sink
	policy backoff.Policy
	logger *slog.Logger

	mu         sync.RWMutex
	boundaries map[string]*Boundary
	counts     map[string]int
	recent     []time.Time // capture timestamps for the rolling rate
}

// NewManager builds a boundary registry. The policy governs every
// boundary's restore retries.
func NewManager(sink Sink, policy backoff.Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sink:       sink,
		policy:     policy,
		logger:     logger,
		boundaries: make(map[string]*Boundary),
		counts:     make(map[string]int),
	}
}

// Register creates a boundary around a named component. The restore hook
// rebuilds the component; the fallback runs once when recovery gives up.
func (m *Manager) Register(name string, restore func(ctx context.Context) error, fallback func()) *Boundary {
	b := newBoundary(name, restore, fallback, m.policy, m.sink, m.logger.With("boundary", name))
	m.mu.Lock()
	m.boundaries[name] = b
	m.mu.Unlock()
	return b
}

// Boundary looks up a registered boundary by name, nil if absent.
func (m *Manager) Boundary(name string) *Boundary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boundaries[name]
}

// Capture routes an error into the named boundary and updates the counters.
// Errors for unregistered names still get counted and reported.
func (m *Manager) Capture(name string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.counts[name]++
	m.recent = append(m.recent, time.Now())
	b := m.boundaries[name]
	m.mu.Unlock()

	if b != nil {
		b.Capture(err, "", name)
		return
	}
	m.logger.Error("error outside any boundary", "component", name, "error", err)
	if m.sink != nil {
		rec := ErrorRecord{Message: err.Error(), At: time.Now()}
		orphan := newBoundary(name, nil, nil, m.policy, m.sink, m.logger)
		orphan.report(rec)
	}
}

// Guard runs fn inside the named boundary, converting panics into captured
// errors instead of crashing the process.
func (m *Manager) Guard(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			stack := captureStack()
			m.mu.Lock()
			m.counts[name]++
			m.recent = append(m.recent, time.Now())
			b := m.boundaries[name]
			m.mu.Unlock()
			if b != nil {
				b.Capture(err, stack, name)
			} else {
				m.logger.Error("panic outside any boundary", "component", name, "panic", r)
			}
		}
	}()

	if err := fn(); err != nil {
		m.Capture(name, err)
	}
}

// Stats returns error counts per component since startup.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// ErrorsWithin counts captures inside the given window.
func (m *Manager) ErrorsWithin(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ts := range m.recent {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
