package recovery

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/communitycar/realtime/internal/backoff"
	"github.com/communitycar/realtime/internal/report"
)

// State is the boundary lifecycle state.
type State int

const (
	StateActive State = iota
	StateError
	StateRecovering
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorRecord is one captured failure in the boundary's history. Recovered
// and RecoveredAt are set once, on the successful restore that cleared it.
type ErrorRecord struct {
	ID          string
	Message     string
	Stack       string
	Context     string
	Attempt     int
	At          time.Time
	Recovered   bool
	RecoveredAt time.Time
}

// Sink receives error and recovery reports for central logging.
type Sink interface {
	LogError(ctx context.Context, rep report.ErrorReport)
	LogRecovery(ctx context.Context, rep report.RecoveryReport)
}

// Boundary isolates one component. A captured error moves the boundary out
// of Active and starts backoff-spaced restore attempts; when the attempt cap
// is hit the boundary parks in Failed and shows the fallback until the user
// retries. A user retry resets the attempt counter.
type Boundary struct {
	name     string
	restore  func(ctx context.Context) error
	fallback func()
	policy   backoff.Policy
	sink     Sink
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	attempts    int
	history     []ErrorRecord
	lastErrorID string
	timer       *time.Timer
	onState     func(State)
}

func newBoundary(name string, restore func(ctx context.Context) error, fallback func(), policy backoff.Policy, sink Sink, logger *slog.Logger) *Boundary {
	return &Boundary{
		name:     name,
		restore:  restore,
		fallback: fallback,
		policy:   policy,
		sink:     sink,
		logger:   logger,
		state:    StateActive,
	}
}

// Name returns the boundary's component name.
func (b *Boundary) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *Boundary) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// History returns a copy of the captured error records.
func (b *Boundary) History() []ErrorRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ErrorRecord(nil), b.history...)
}

// OnStateChange registers the state callback, invoked outside the lock.
func (b *Boundary) OnStateChange(fn func(State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onState = fn
}

// Capture records a failure and starts automatic recovery. Capturing while
// already recovering or failed only appends to the history.
func (b *Boundary) Capture(err error, stack, contextInfo string) {
	if err == nil {
		return
	}

	rec := ErrorRecord{
		ID:      uuid.New().String(),
		Message: err.Error(),
		Stack:   stack,
		Context: contextInfo,
		At:      time.Now(),
	}

	b.mu.Lock()
	rec.Attempt = b.attempts
	b.history = append(b.history, rec)
	b.lastErrorID = rec.ID
	if b.state == StateRecovering || b.state == StateFailed {
		b.mu.Unlock()
		b.report(rec)
		return
	}
	notify := b.setStateLocked(StateError)
	b.mu.Unlock()
	notify()

	b.logger.Error("boundary captured error", "error", err, "context", contextInfo)
	b.report(rec)
	b.scheduleRestore()
}

// Retry is the user-driven escape from Failed. It resets the attempt
// counter and starts a fresh recovery cycle.
func (b *Boundary) Retry() {
	b.mu.Lock()
	if b.state == StateActive {
		b.mu.Unlock()
		return
	}
	b.attempts = 0
	b.stopTimerLocked()
	b.mu.Unlock()

	b.logger.Info("user retry requested")
	b.scheduleRestore()
}

func (b *Boundary) scheduleRestore() {
	b.mu.Lock()
	if b.policy.Exhausted(b.attempts) {
		notify := b.setStateLocked(StateFailed)
		fallback := b.fallback
		b.mu.Unlock()
		notify()

		b.logger.Error("recovery attempts exhausted", "attempts", b.attempts)
		if fallback != nil {
			fallback()
		}
		return
	}
	delay := b.policy.Delay(b.attempts)
	b.attempts++
	attempt := b.attempts
	notify := b.setStateLocked(StateRecovering)
	b.timer = time.AfterFunc(delay, b.runRestore)
	b.mu.Unlock()
	notify()

	b.logger.Info("scheduling recovery attempt", "attempt", attempt, "delay", delay)
}

func (b *Boundary) runRestore() {
	b.mu.Lock()
	if b.state != StateRecovering {
		b.mu.Unlock()
		return
	}
	attempts := b.attempts
	errorID := b.lastErrorID
	b.mu.Unlock()

	err := b.restore(context.Background())
	if err != nil {
		b.logger.Warn("recovery attempt failed", "attempt", attempts, "error", err)
		b.mu.Lock()
		// Back to Error so the next schedule call can act.
		notify := b.setStateLocked(StateError)
		b.mu.Unlock()
		notify()
		b.scheduleRestore()
		return
	}

	recoveredAt := time.Now()
	b.mu.Lock()
	// Only a user retry resets the attempt counter.
	b.markRecoveredLocked(errorID, recoveredAt)
	notify := b.setStateLocked(StateActive)
	b.mu.Unlock()
	notify()

	b.logger.Info("boundary recovered", "attempts", attempts)
	if b.sink != nil {
		b.sink.LogRecovery(context.Background(), report.RecoveryReport{
			ErrorID:     errorID,
			Boundary:    b.name,
			Attempts:    attempts,
			RecoveredAt: recoveredAt,
		})
	}
}

// markRecoveredLocked stamps the history record that triggered the current
// cycle. A record is stamped at most once.
func (b *Boundary) markRecoveredLocked(errorID string, at time.Time) {
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].ID == errorID {
			if !b.history[i].Recovered {
				b.history[i].Recovered = true
				b.history[i].RecoveredAt = at
			}
			return
		}
	}
}

func (b *Boundary) report(rec ErrorRecord) {
	if b.sink == nil {
		return
	}
	b.sink.LogError(context.Background(), report.ErrorReport{
		ID:        rec.ID,
		Boundary:  b.name,
		Type:      "component",
		Message:   rec.Message,
		Stack:     rec.Stack,
		Context:   rec.Context,
		Timestamp: rec.At,
	})
}

func (b *Boundary) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Boundary) setStateLocked(s State) func() {
	if b.state == s {
		return func() {}
	}
	b.state = s
	fn := b.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}
