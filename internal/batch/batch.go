// Package batch submits request sets to the inference service, splitting
// oversized sets into a first half submitted now and a second half persisted
// as a continuation record, and retrieves results once batches complete.
package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/inference"
)

var (
	// ErrTerminal is returned when a batch ended as failed, expired or
	// cancelled. It is never retried automatically.
	ErrTerminal = eris.New("batch: terminal failure")
	// ErrNotReady is returned by non-blocking checks while a batch is
	// still running.
	ErrNotReady = eris.New("batch: not ready")
)

// Config controls sizing, splitting, retries and polling.
type Config struct {
	MaxUploadBytes      int64
	MaxEnqueuedTokens   int64
	ForceSplitThreshold int
	OversizedDatasets   []string
	SplitNumerator      int
	SplitDenominator    int
	MaxRetries          int
	RetryDelay          time.Duration
	PollInterval        time.Duration
	// PendingDir holds continuation records and temporary request files.
	PendingDir string
}

// ConfigFrom builds a Config from application settings.
func ConfigFrom(b config.BatchConfig, q config.QueueConfig) Config {
	return Config{
		MaxUploadBytes:      b.MaxUploadBytes,
		MaxEnqueuedTokens:   b.MaxEnqueuedTokens,
		ForceSplitThreshold: b.ForceSplitThreshold,
		OversizedDatasets:   b.OversizedDatasets,
		SplitNumerator:      b.SplitNumerator,
		SplitDenominator:    b.SplitDenominator,
		MaxRetries:          b.MaxRetries,
		RetryDelay:          b.RetryDelay(),
		PollInterval:        b.PollInterval(),
		PendingDir:          q.PendingDir,
	}
}

// Manager runs submissions and retrievals against one inference service.
type Manager struct {
	svc   inference.Service
	cfg   Config
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager. Zero config values fall back to the
// defaults of a fresh configuration.
func NewManager(svc inference.Service, cfg Config) *Manager {
	if cfg.SplitNumerator <= 0 || cfg.SplitDenominator <= cfg.SplitNumerator {
		cfg.SplitNumerator, cfg.SplitDenominator = 2, 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PendingDir == "" {
		cfg.PendingDir = "."
	}
	return &Manager{svc: svc, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
