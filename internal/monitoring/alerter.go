package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBatchFailureRate AlertType = "batch_failure_rate"
	AlertBatchFailures    AlertType = "batch_failures"
	AlertStuckBatch       AlertType = "stuck_batch"
)

// minFinished is the number of finished batches needed before the failure
// rate is meaningful.
const minFinished = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
// Webhook posts are retried on transient failures.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "send alert")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.Finished()
	if finished >= minFinished && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBatchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Batch failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	} else if snap.Failed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBatchFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d batch(es) failed in last %dh: %s",
				snap.Failed, snap.LookbackHours, strings.Join(snap.FailedBatches, ", "),
			),
			Details: map[string]any{
				"failed_count":   snap.Failed,
				"failed_batches": snap.FailedBatches,
				"queue_failed":   snap.QueueFailed,
			},
			Timestamp: now,
		})
	}

	stuckAfter := time.Duration(a.cfg.StuckBatchHours) * time.Hour
	if stuckAfter > 0 && snap.CurrentBatchID != "" && snap.CurrentBatchAge > stuckAfter {
		alerts = append(alerts, Alert{
			Type:     AlertStuckBatch,
			Severity: "high",
			Message: fmt.Sprintf(
				"Batch %s for %s has been running %.1fh (threshold %dh)",
				snap.CurrentBatchID, snap.CurrentInput, snap.CurrentBatchAge.Hours(), a.cfg.StuckBatchHours,
			),
			Details: map[string]any{
				"batch_id":      snap.CurrentBatchID,
				"input_file":    snap.CurrentInput,
				"age_hours":     snap.CurrentBatchAge.Hours(),
				"queue_pending": snap.QueuePending,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resilience.CheckStatus("monitoring: webhook", resp.StatusCode, body)
}
