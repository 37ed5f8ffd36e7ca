package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aeroledger/aeroledger/server/internal/config"
)

const deliverTimeout = 10 * time.Second

// deliver sends a to every configured target. Errors are logged per target.
func (e *Engine) deliver(a *Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		body, err := payload(wh, a)
		if err != nil {
			slog.Warn("alerts: skipping webhook", "type", wh.Type, "err", err)
			continue
		}
		if err := e.post(ctx, url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "device", a.DeviceID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

// payload renders a in the format the target type expects.
func payload(wh config.WebhookConfig, a *Alert) ([]byte, error) {
	switch wh.Type {
	case "slack":
		return json.Marshal(slackMessage(a))
	case "teams":
		return json.Marshal(teamsCard(a))
	case "pagerduty":
		key := wh.RoutingKey()
		if key == "" {
			return nil, fmt.Errorf("pagerduty routing key env %q is empty", wh.RoutingKeyEnv)
		}
		return json.Marshal(pagerDutyEvent(key, a))
	case "http":
		return json.Marshal(map[string]any{"alert": a})
	}
	return nil, fmt.Errorf("unknown webhook type %q", wh.Type)
}

func slackMessage(a *Alert) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s%s", severityLabel(a.Severity), a.Message, stateSuffix(a)),
		"attachments": []map[string]any{{
			"color": "#" + severityColor(a.Severity),
			"fields": []map[string]any{
				{"title": "Device", "value": a.DeviceID, "short": true},
				{"title": "Rule", "value": a.RuleName, "short": true},
				{"title": "State", "value": a.State, "short": true},
			},
		}},
	}
}

func teamsCard(a *Alert) map[string]any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("AeroLedger alert: %s on %s", a.RuleName, a.DeviceID),
		"text":       a.Message + stateSuffix(a),
	}
}

// pagerDutyEvent builds an Events API v2 message. The dedup key ties the
// resolve to the trigger of the same rule and device.
func pagerDutyEvent(routingKey string, a *Alert) map[string]any {
	action := "trigger"
	if a.State == "resolved" {
		action = "resolve"
	}
	ev := map[string]any{
		"routing_key":  routingKey,
		"event_action": action,
		"dedup_key":    a.RuleName + ":" + a.DeviceID,
	}
	if action == "trigger" {
		sev := a.Severity
		if sev == "" {
			sev = "warning"
		}
		ev["payload"] = map[string]any{
			"summary":   a.Message,
			"source":    a.DeviceID,
			"severity":  sev,
			"timestamp": a.FiredAt.UTC().Format(time.RFC3339),
			"custom_details": map[string]any{
				"rule":       a.RuleName,
				"value":      a.Value,
				"event_hash": a.EventID,
			},
		}
	}
	return ev
}

func (e *Engine) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func stateSuffix(a *Alert) string {
	if a.State == "resolved" {
		return " [resolved]"
	}
	return ""
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
