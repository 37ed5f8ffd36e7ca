package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	DeviceID   string     `json:"device_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	EventID    string     `json:"event_hash,omitempty"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against audit events and delivers webhook
// notifications when rules fire or resolve. A firing alert resolves on the
// next event of the same kind for the same device that no longer matches.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	now      func() time.Time
	deliverF func(*Alert)

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:deviceID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
}

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; Publish becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	e.deliverF = func(a *Alert) { go e.deliver(a) }
	return e
}

// Publish implements audit.Subscriber. Webhook delivery is asynchronous.
func (e *Engine) Publish(ev types.AuditEvent) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range e.rules {
		if types.EventKind(rule.Event) != ev.Kind {
			continue
		}
		key := rule.Name + ":" + ev.DeviceID
		fires, value := evalCondition(rule.Condition, ev.Data)

		e.mu.Lock()
		var out *Alert
		if fires {
			out = e.fire(rule, ev, value, key, now)
		} else {
			out = e.resolve(rule, key, now)
		}
		e.mu.Unlock()

		if out != nil {
			e.deliverF(out)
		}
	}
}

// fire records a new alert unless the key is cooling down. Returns a copy
// to deliver, or nil. Caller holds e.mu.
func (e *Engine) fire(rule config.AlertRule, ev types.AuditEvent, value float64, key string, now time.Time) *Alert {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
		return nil
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       fmt.Sprintf("%s:%s:%d", rule.Name, ev.DeviceID, now.UnixNano()),
		RuleName: rule.Name,
		DeviceID: ev.DeviceID,
		Severity: sev,
		Value:    value,
		EventID:  ev.ID,
		Message:  describe(rule, ev),
		FiredAt:  now,
		State:    "firing",
	}
	e.active[key] = a
	e.lastFire[key] = now

	slog.Warn("alerts: alert fired",
		"rule", rule.Name,
		"device", ev.DeviceID,
		"value", value,
		"severity", sev,
	)
	cp := *a
	return &cp
}

// resolve closes the firing alert for key, if any. Caller holds e.mu.
func (e *Engine) resolve(rule config.AlertRule, key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok || a.State != "firing" {
		return nil
	}
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}

	slog.Info("alerts: alert resolved", "rule", rule.Name, "device", a.DeviceID)
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

func describe(rule config.AlertRule, ev types.AuditEvent) string {
	cond := rule.Condition
	if cond == "" {
		cond = "any " + rule.Event + " event"
	}
	msg := fmt.Sprintf("%s fired on %s: %s", rule.Name, ev.DeviceID, cond)
	if d, ok := ev.Data["details"].(string); ok && d != "" {
		msg += " (" + d + ")"
	}
	return msg
}
