package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/route-tagger/internal/config"
)

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.25, StuckBatchHours: 26}

	tests := []struct {
		name string
		snap MetricsSnapshot
		want []AlertType
		text string
	}{
		{
			name: "healthy",
			snap: MetricsSnapshot{Completed: 10, Submitted: 10},
		},
		{
			name: "failure rate",
			snap: MetricsSnapshot{Completed: 6, Failed: 4, FailRate: 0.4, FailedBatches: []string{"b1"}},
			want: []AlertType{AlertBatchFailureRate},
			text: "40.0%",
		},
		{
			name: "failures below minimum finished",
			snap: MetricsSnapshot{Completed: 1, Failed: 1, FailRate: 0.5, FailedBatches: []string{"b7"}},
			want: []AlertType{AlertBatchFailures},
			text: "b7",
		},
		{
			name: "failures under threshold",
			snap: MetricsSnapshot{Completed: 9, Failed: 1, FailRate: 0.1, FailedBatches: []string{"b2"}},
			want: []AlertType{AlertBatchFailures},
			text: "1 batch(es) failed",
		},
		{
			name: "stuck batch",
			snap: MetricsSnapshot{CurrentBatchID: "b9", CurrentInput: "ca.json", CurrentBatchAge: 30 * time.Hour},
			want: []AlertType{AlertStuckBatch},
			text: "30.0h",
		},
		{
			name: "running within window",
			snap: MetricsSnapshot{CurrentBatchID: "b9", CurrentBatchAge: 20 * time.Hour},
		},
		{
			name: "failure rate and stuck",
			snap: MetricsSnapshot{Completed: 2, Failed: 2, FailRate: 0.5, CurrentBatchID: "b9", CurrentBatchAge: 40 * time.Hour},
			want: []AlertType{AlertBatchFailureRate, AlertStuckBatch},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.snap.LookbackHours = 24
			alerts := NewAlerter(cfg).Evaluate(&tt.snap)

			var types []AlertType
			for _, a := range alerts {
				types = append(types, a.Type)
			}
			assert.Equal(t, tt.want, types)
			if tt.text != "" {
				require.NotEmpty(t, alerts)
				assert.Contains(t, alerts[0].Message, tt.text)
			}
		})
	}
}

func TestAlerter_Evaluate_StuckDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})
	alerts := a.Evaluate(&MetricsSnapshot{CurrentBatchID: "b9", CurrentBatchAge: 100 * time.Hour})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	alerts := []Alert{
		{Type: AlertBatchFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStuckBatch, Severity: "high", Message: "test alert 2"},
	}

	assert.Equal(t, 2, a.SendAlerts(context.Background(), alerts))
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_Skipped(t *testing.T) {
	alerts := []Alert{{Type: AlertBatchFailures, Message: "test"}}

	assert.Zero(t, NewAlerter(config.MonitoringConfig{}).SendAlerts(context.Background(), alerts))
	assert.Zero(t, NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"}).SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.retry.InitialBackoff = time.Millisecond
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBatchFailures, Message: "test"}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_Retries(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantSent int
		wantHits int32
	}{
		{name: "transient then ok", statuses: []int{http.StatusServiceUnavailable, http.StatusOK}, wantSent: 1, wantHits: 2},
		{name: "always transient", statuses: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway}, wantSent: 0, wantHits: 3},
		{name: "permanent", statuses: []int{http.StatusBadRequest}, wantSent: 0, wantHits: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := hits.Add(1)
				w.WriteHeader(tt.statuses[min(int(n), len(tt.statuses))-1])
			}))
			defer ts.Close()

			a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
			a.retry.InitialBackoff = time.Millisecond
			a.retry.MaxBackoff = time.Millisecond

			assert.Equal(t, tt.wantSent, a.SendAlerts(context.Background(), []Alert{{Type: AlertStuckBatch, Message: "stuck"}}))
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}
