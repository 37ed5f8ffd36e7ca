package healing

import (
	"fmt"
	"log/slog"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// handler applies one fault kind to a device record. It runs with st.mu held.
type handler func(deviceID string, st *deviceState, f types.FaultFinding) types.HealingAction

// handlers maps each fault kind to its healing strategy. Adding a kind means
// adding one entry here.
var handlers = map[types.FaultKind]handler{
	types.FaultStuckChannel:   ignoreChannel("stuck"),
	types.FaultRangeViolation: ignoreChannel("out-of-range"),
	types.FaultInconsistent:   ignoreChannel("inconsistent"),
	types.FaultFanIneffective: latchSafeMode,
}

func ignoreChannel(reason string) handler {
	return func(deviceID string, st *deviceState, f types.FaultFinding) types.HealingAction {
		if f.Channel == "" {
			return types.HealingAction{
				Action:          fmt.Sprintf("No channel named in %s finding, nothing to ignore", reason),
				IgnoredChannels: st.ignoredCopy(),
				Success:         false,
			}
		}
		if st.ignore(f.Channel) {
			slog.Warn("healing: channel ignored",
				"device", deviceID, "channel", f.Channel, "reason", reason)
		}
		return types.HealingAction{
			Action:          fmt.Sprintf("Ignoring %s %s sensor", reason, f.Channel),
			IgnoredChannels: st.ignoredCopy(),
			Fallback:        FallbackRemaining,
			Success:         true,
		}
	}
}

func latchSafeMode(deviceID string, st *deviceState, f types.FaultFinding) types.HealingAction {
	if !st.safeMode {
		slog.Error("healing: fan ineffective, safe mode latched", "device", deviceID, "detail", f.Detail)
	}
	st.safeMode = true
	return types.HealingAction{
		Action:             "Activated safe mode due to fan fault",
		IgnoredChannels:    st.ignoredCopy(),
		Fallback:           FallbackManual,
		Success:            true,
		ManualIntervention: true,
	}
}
