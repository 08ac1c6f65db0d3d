package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/config"
	"github.com/verte-labs/refillery/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertDomainBlocked  AlertType = "domain_blocked"
	AlertIntegrityFail  AlertType = "integrity_fail"
)

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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert

	if a.cfg.FailRateThreshold > 0 && snap.RunFailRate >= a.cfg.FailRateThreshold && snap.RunsTotal > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "warning",
			Message: fmt.Sprintf("run failure rate %.0f%% over last %dh exceeds threshold %.0f%%",
				snap.RunFailRate*100, snap.LookbackHours, a.cfg.FailRateThreshold*100),
			Details: map[string]any{
				"runs_total":  snap.RunsTotal,
				"runs_failed": snap.RunsFailed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BlockedDomainsAlert && len(snap.BlockedDomains) > 0 {
		domains := append([]string(nil), snap.BlockedDomains...)
		sort.Strings(domains)
		alerts = append(alerts, Alert{
			Type:     AlertDomainBlocked,
			Severity: "critical",
			Message:  fmt.Sprintf("domains tripped to blocked: %s", strings.Join(domains, ", ")),
			Details: map[string]any{
				"domains":               domains,
				"rate_limit_violations": snap.RateLimitViolations,
			},
			Timestamp: now,
		})
	}

	if a.cfg.IntegrityFailAlert && snap.IntegrityStatus == model.IntegrityFail {
		alerts = append(alerts, Alert{
			Type:     AlertIntegrityFail,
			Severity: "critical",
			Message:  fmt.Sprintf("latest integrity check failed with %d violations", snap.ViolationCount),
			Details: map[string]any{
				"violation_count": snap.ViolationCount,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Send posts alerts to the configured webhook. A missing webhook URL logs
// the alerts instead of dropping them.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) error {
	log := zap.L().With(zap.String("component", "monitoring.alerter"))

	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			log.Warn("alert (no webhook configured)",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message),
			)
		}
		return nil
	}

	for _, alert := range alerts {
		body, err := json.Marshal(alert)
		if err != nil {
			return eris.Wrap(err, "monitoring: marshal alert")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "monitoring: build alert request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: send alert")
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return eris.Errorf("monitoring: alert webhook returned %d", resp.StatusCode)
		}
		log.Info("alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	return nil
}
