package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/aeroledger/aeroledger/server/internal/control"
	"github.com/aeroledger/aeroledger/server/internal/healing"
	"github.com/aeroledger/aeroledger/server/internal/history"
)

// DiagnosticHint is one human-readable insight about a device. The dashboard
// displays these as chips on the device card; clicking one shows Detail.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a device's buffer status, healing
// state and control state. heal and ctl may be nil. Hints are ordered
// critical first, then warnings, then info.
func computeDiagnostics(st history.Status, heal *healing.Snapshot, ctl *control.Status, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Safe mode ────────────────────────────────────────────────────────────
	if heal != nil && heal.SafeMode {
		hints = append(hints, DiagnosticHint{
			Key:   "safe_mode",
			Level: "critical",
			Title: "Safe mode latched",
			Detail: "The fan has been forced on at 50% because a fan fault was detected. " +
				"Automatic decisions are suspended for this device until an operator " +
				"inspects the hardware and resets its healing state.",
		})
	}

	// ── Offline ──────────────────────────────────────────────────────────────
	if !st.Online {
		mins := now.Sub(st.LastSeen).Minutes()
		hints = append(hints, DiagnosticHint{
			Key:   "offline",
			Level: "warning",
			Title: "Device offline",
			Detail: fmt.Sprintf(
				"No reading has arrived for %.0f minutes (last seen %s). "+
					"Check the device's power and network connection.",
				mins, st.LastSeen.UTC().Format(time.RFC3339),
			),
			Value: &mins,
		})
	}

	// ── Ignored sensors ──────────────────────────────────────────────────────
	if heal != nil {
		for _, ch := range heal.IgnoredChannels {
			hints = append(hints, DiagnosticHint{
				Key:   "ignored_" + string(ch),
				Level: "warning",
				Title: fmt.Sprintf("%s sensor ignored", ch),
				Detail: fmt.Sprintf(
					"The %s sensor reported faulty data and is excluded from every decision. "+
						"Decisions rely on the remaining sensors. The sensor stays ignored "+
						"until the healing state is reset.",
					ch,
				),
			})
		}
	}

	// ── Manual override ──────────────────────────────────────────────────────
	if ctl != nil && ctl.OverrideActive && ctl.Override != nil {
		v := float64(ctl.Override.Command.Intensity)
		hints = append(hints, DiagnosticHint{
			Key:   "override",
			Level: "info",
			Title: "Manual override",
			Detail: fmt.Sprintf(
				"An operator forced the fan %s at %d%% at %s. Automatic decisions are "+
					"computed and audited but not applied until the override is cleared.",
				onOff(ctl.Override.Command.On), ctl.Override.Command.Intensity,
				ctl.Override.SetAt.UTC().Format(time.RFC3339),
			),
			Value: &v,
		})
	}

	// ── Warming up ───────────────────────────────────────────────────────────
	if len(hints) == 0 && st.ReadingCount < 2 {
		hints = append(hints, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "Only one reading has arrived so far. Trend-based checks such as " +
				"stuck-sensor detection need a few more readings.",
		})
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"The device is online with %d readings buffered. All sensors are in use.",
				st.ReadingCount,
			),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
