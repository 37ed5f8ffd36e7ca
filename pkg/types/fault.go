package types

// FaultKind classifies a fault finding.
type FaultKind string

const (
	FaultNone           FaultKind = "none"
	FaultRangeViolation FaultKind = "range-violation"
	FaultStuckChannel   FaultKind = "stuck-channel"
	FaultInconsistent   FaultKind = "inconsistent-reading"

	// FaultFanIneffective is reserved for actuator feedback. No detector check
	// produces it; the supervisor handles it by latching safe mode.
	FaultFanIneffective FaultKind = "fan-ineffective"
)

// Severity of a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FaultFinding is the detector's verdict for one cycle.
type FaultFinding struct {
	HasFault bool      `json:"has_fault"`
	Kind     FaultKind `json:"fault_type"`
	Channel  Channel   `json:"affected_sensor,omitempty"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"details"`
}

// NoFault is the finding returned when every check passes.
func NoFault() FaultFinding {
	return FaultFinding{
		Kind:     FaultNone,
		Severity: SeverityLow,
		Detail:   "All sensors operating normally",
	}
}

// HealingAction describes what the supervisor did in response to a finding.
type HealingAction struct {
	Action          string    `json:"action_taken"`
	IgnoredChannels []Channel `json:"ignored_sensors"`
	Fallback        string    `json:"fallback_logic,omitempty"`
	Success         bool      `json:"success"`

	// ManualIntervention is set when the fault cannot be healed in software.
	ManualIntervention bool `json:"manual_intervention,omitempty"`
}
