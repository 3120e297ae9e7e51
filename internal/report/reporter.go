package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/communitycar/realtime/internal/history"
	"github.com/communitycar/realtime/pkg/response"
)

const (
	errorLogPath    = "/api/errors/log"
	recoveryLogPath = "/api/errors/recovery"

	// Header carrying the anti-forgery token on state-changing calls.
	antiForgeryHeader = "RequestVerificationToken"
)

// ErrorReport is the payload posted to the central error log.
type ErrorReport struct {
	ID        string    `json:"id"`
	Boundary  string    `json:"boundary,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecoveryReport records a successful boundary recovery.
type RecoveryReport struct {
	ErrorID     string    `json:"errorId"`
	Boundary    string    `json:"boundary"`
	Attempts    int       `json:"attempts"`
	RecoveredAt time.Time `json:"recoveredAt"`
}

// Reporter delivers error and recovery records to the server. Delivery is
// best-effort: an error report that cannot reach the server is queued in
// the local store (capped) and drained on the next successful delivery;
// recovery reports are never queued or retried.
type Reporter struct {
	baseURL string
	token   string
	client  *http.Client
	queue   *history.Store
	logger  *slog.Logger
}

func NewReporter(baseURL, antiForgeryToken string, queue *history.Store, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		baseURL: baseURL,
		token:   antiForgeryToken,
		client:  &http.Client{Timeout: 10 * time.Second},
		queue:   queue,
		logger:  logger,
	}
}

// LogError posts one error report. Failures never propagate; the report is
// queued locally instead.
func (r *Reporter) LogError(ctx context.Context, rep ErrorReport) {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	if rep.Timestamp.IsZero() {
		rep.Timestamp = time.Now()
	}

	body, err := json.Marshal(rep)
	if err != nil {
		r.logger.Error("Failed to marshal error report", "error", err)
		return
	}

	if err := r.post(ctx, errorLogPath, body); err != nil {
		r.logger.Warn("Error log delivery failed, queueing locally", "reportID", rep.ID, "error", err)
		if r.queue != nil {
			if qerr := r.queue.EnqueueReport(rep.ID, body); qerr != nil {
				r.logger.Error("Failed to queue error report", "reportID", rep.ID, "error", qerr)
			}
		}
		return
	}

	r.drainQueue(ctx)
}

// LogRecovery posts one recovery record. Best-effort, no retry.
func (r *Reporter) LogRecovery(ctx context.Context, rep RecoveryReport) {
	body, err := json.Marshal(rep)
	if err != nil {
		r.logger.Error("Failed to marshal recovery report", "error", err)
		return
	}
	if err := r.post(ctx, recoveryLogPath, body); err != nil {
		r.logger.Warn("Recovery log delivery failed", "errorID", rep.ErrorID, "error", err)
	}
}

// Flush attempts delivery of every queued report.
func (r *Reporter) Flush(ctx context.Context) int {
	return r.drainQueue(ctx)
}

func (r *Reporter) drainQueue(ctx context.Context) int {
	if r.queue == nil {
		return 0
	}
	pending, err := r.queue.PendingReports(50)
	if err != nil {
		r.logger.Error("Failed to read pending reports", "error", err)
		return 0
	}

	delivered := 0
	for _, p := range pending {
		if err := r.post(ctx, errorLogPath, p.Data); err != nil {
			// Server unreachable again; stop and keep the rest queued.
			break
		}
		if err := r.queue.AckReport(p.ID); err != nil {
			r.logger.Error("Failed to ack delivered report", "reportID", p.ID, "error", err)
		}
		delivered++
	}
	if delivered > 0 {
		r.logger.Info("Drained pending error reports", "delivered", delivered)
	}
	return delivered
}

func (r *Reporter) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set(antiForgeryHeader, r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	env, err := response.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("server rejected report: %s", env.Message)
	}
	return nil
}
