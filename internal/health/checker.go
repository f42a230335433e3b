package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/webhooks"
	"go.uber.org/zap"
)

// Ledger states reported by Status.
const (
	StateUnknown  = "unknown"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
)

// Config holds ledger check configuration.
type Config struct {
	CheckInterval time.Duration
	FailThreshold int
}

// ChainAuditor audits the full chain. *service.NotaryService satisfies this.
type ChainAuditor interface {
	Height() int
	ValidateChain(ctx context.Context) []chain.ValidationError
}

// WebhookDispatchFunc is an optional callback for dispatching ledger-degraded events.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(success bool)

// Status is a snapshot of the most recent ledger check.
type Status struct {
	State         string    `json:"state"`
	Height        int       `json:"height"`
	Errors        int       `json:"errors"`
	FailCount     int       `json:"fail_count"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
}

// LedgerChecker periodically re-validates the whole chain and flips to
// degraded after FailThreshold consecutive failing checks.
type LedgerChecker struct {
	auditor   ChainAuditor
	cfg       Config
	onWebhook WebhookDispatchFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New creates a new LedgerChecker.
func New(auditor ChainAuditor, cfg Config, logger *zap.Logger) *LedgerChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &LedgerChecker{
		auditor: auditor,
		cfg:     cfg,
		logger:  logger,
		status:  Status{State: StateUnknown, Height: -1},
	}
}

// SetWebhookDispatch configures the webhook dispatch callback.
func (h *LedgerChecker) SetWebhookDispatch(fn WebhookDispatchFunc) {
	h.onWebhook = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *LedgerChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done.
func (h *LedgerChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check audits the chain once and updates the reported status.
func (h *LedgerChecker) Check(ctx context.Context) Status {
	height := h.auditor.Height()
	errs := h.auditor.ValidateChain(ctx)
	success := len(errs) == 0

	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	prev := h.status
	next := Status{Height: height, Errors: len(errs), LastCheckedAt: time.Now().UTC()}
	if success {
		next.State = StateHealthy
	} else {
		next.FailCount = prev.FailCount + 1
		next.State = prev.State
		if next.FailCount >= h.cfg.FailThreshold {
			next.State = StateDegraded
		}
	}
	h.status = next
	h.mu.Unlock()

	switch {
	case success && prev.State == StateDegraded:
		h.logger.Info("ledger check: recovered", zap.Int("height", height))
	case !success && next.FailCount == h.cfg.FailThreshold:
		h.logger.Warn("ledger check: degraded",
			zap.Int("height", height),
			zap.Int("errors", len(errs)),
			zap.Int("fail_count", next.FailCount),
		)
		if h.onWebhook != nil {
			h.onWebhook(ctx, webhooks.EventLedgerDegraded, map[string]string{
				"height": strconv.Itoa(height),
				"errors": strconv.Itoa(len(errs)),
			})
		}
	case !success:
		h.logger.Debug("ledger check failed", zap.Int("errors", len(errs)))
	}
	return next
}

// Status returns the most recent check result.
func (h *LedgerChecker) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}
