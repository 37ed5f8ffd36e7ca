package types

import "time"

// EventKind is the category of an audit event.
type EventKind string

const (
	EventDecision EventKind = "decision"
	EventFault    EventKind = "fault"
)

// AuditEvent is one append-only ledger entry. ID is assigned by the ledger:
// either a content hash or the identifier returned by an external ledger.
type AuditEvent struct {
	Kind      EventKind      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	Data      map[string]any `json:"data"`
	ID        string         `json:"hash,omitempty"`
}

// DecisionEvent builds the audit event for an emitted control command.
func DecisionEvent(deviceID string, cmd ControlCommand, at time.Time) AuditEvent {
	data := map[string]any{
		"fan_on":        cmd.On,
		"fan_intensity": cmd.Intensity,
		"reasoning":     cmd.Reasoning,
	}
	if cmd.OverrideReason != "" {
		data["override_reason"] = cmd.OverrideReason
	} else {
		data["override_reason"] = nil
	}
	return AuditEvent{Kind: EventDecision, Timestamp: at, DeviceID: deviceID, Data: data}
}

// OverrideEvent builds the decision event for a command that a manual
// override sent in place of the automatic one.
func OverrideEvent(deviceID string, applied, automatic ControlCommand, at time.Time) AuditEvent {
	ev := DecisionEvent(deviceID, applied, at)
	ev.Data["replaced_fan_on"] = automatic.On
	ev.Data["replaced_fan_intensity"] = automatic.Intensity
	return ev
}

// FaultEvent builds the audit event for a finding and the healing action
// taken in response.
func FaultEvent(deviceID string, f FaultFinding, a HealingAction, at time.Time) AuditEvent {
	ignored := make([]string, 0, len(a.IgnoredChannels))
	for _, ch := range a.IgnoredChannels {
		ignored = append(ignored, string(ch))
	}
	data := map[string]any{
		"fault_type":      string(f.Kind),
		"affected_sensor": string(f.Channel),
		"severity":        string(f.Severity),
		"details":         f.Detail,
		"healing_action":  a.Action,
		"ignored_sensors": ignored,
	}
	if a.ManualIntervention {
		data["manual_intervention"] = true
	}
	return AuditEvent{Kind: EventFault, Timestamp: at, DeviceID: deviceID, Data: data}
}
