package types

import (
	"math"
	"time"
)

// Levels is the default ordered set of fan intensities.
var Levels = []int{0, 25, 50, 75, 100}

// SafeModeIntensity is the fan intensity commanded while safe mode is
// latched. Every configured level set must contain it.
const SafeModeIntensity = 50

// SnapIntensity returns the member of levels closest to raw. On an exact tie
// the level encountered first wins, so with ascending levels the lower one is
// chosen (37.5 -> 25). levels must be sorted ascending; an empty set yields 0.
func SnapIntensity(raw float64, levels []int) int {
	if len(levels) == 0 {
		return 0
	}
	best := levels[0]
	bestDiff := math.Abs(raw - float64(best))
	for _, lvl := range levels[1:] {
		if d := math.Abs(raw - float64(lvl)); d < bestDiff {
			best, bestDiff = lvl, d
		}
	}
	return best
}

// ControlCommand is the fan instruction produced once per cycle.
type ControlCommand struct {
	On             bool      `json:"fan_on"`
	Intensity      int       `json:"fan_intensity"`
	Reasoning      string    `json:"reasoning,omitempty"`
	OverrideReason string    `json:"override_reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Audited reports whether the command is recorded as a decision event:
// the fan is on, or the command carries an override reason.
func (c ControlCommand) Audited() bool {
	return c.On || c.OverrideReason != ""
}
