package healing

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
)

const (
	// FallbackRemaining is the fallback note attached to channel-ignore actions.
	FallbackRemaining = "use remaining channels"

	// FallbackManual is the fallback note attached to safe-mode actions.
	FallbackManual = "Manual intervention required"

	safeModeReasoning = "Safe mode active due to system fault"
	safeModeOverride  = "System fault detected"
)

// Snapshot is a read-only copy of one device's healing state.
type Snapshot struct {
	DeviceID        string          `json:"device_id"`
	IgnoredChannels []types.Channel `json:"ignored_sensors"`
	SafeMode        bool            `json:"safe_mode"`
	FaultCount      int             `json:"fault_count"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Supervisor holds per-device healing state.
//
// All exported methods are safe for concurrent use.
type Supervisor struct {
	mu     sync.Mutex
	states map[string]*deviceState
	now    func() time.Time
}

// New returns a ready-to-use Supervisor.
func New() *Supervisor {
	return &Supervisor{states: make(map[string]*deviceState), now: time.Now}
}

// Heal applies the handler for f.Kind to the device's state and returns a
// fresh action record. A finding without a fault is a successful no-op and
// does not create state for the device.
func (s *Supervisor) Heal(deviceID string, f types.FaultFinding) types.HealingAction {
	if !f.HasFault {
		return types.HealingAction{Action: "No healing needed", Success: true}
	}

	h, ok := handlers[f.Kind]
	if !ok {
		slog.Warn("healing: no handler for fault kind", "device", deviceID, "kind", f.Kind)
		return types.HealingAction{
			Action:          "Unknown fault type, no healing applied",
			IgnoredChannels: s.IgnoredChannels(deviceID),
			Success:         false,
		}
	}

	st := s.stateFor(deviceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.faults++
	st.updatedAt = s.now()
	return h(deviceID, st, f)
}

// SafeMode reports whether the device's safe-mode latch is set.
func (s *Supervisor) SafeMode(deviceID string) bool {
	st, ok := s.lookup(deviceID)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.safeMode
}

// SafeModeCommand returns the fixed command used while safe mode is latched.
func (s *Supervisor) SafeModeCommand(at time.Time) types.ControlCommand {
	return types.ControlCommand{
		On:             true,
		Intensity:      types.SafeModeIntensity,
		Reasoning:      safeModeReasoning,
		OverrideReason: safeModeOverride,
		Timestamp:      at,
	}
}

// IgnoredChannels returns a copy of the device's ignored channels in the
// order they were first ignored.
func (s *Supervisor) IgnoredChannels(deviceID string) []types.Channel {
	st, ok := s.lookup(deviceID)
	if !ok {
		return []types.Channel{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ignoredCopy()
}

// State returns a snapshot of the device's state, or false if the device has
// never had a fault.
func (s *Supervisor) State(deviceID string) (Snapshot, bool) {
	st, ok := s.lookup(deviceID)
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(deviceID), true
}

// States returns snapshots for every device with healing state, sorted by ID.
func (s *Supervisor) States() []Snapshot {
	s.mu.Lock()
	ids := make([]string, 0, len(s.states))
	recs := make(map[string]*deviceState, len(s.states))
	for id, st := range s.states {
		ids = append(ids, id)
		recs[id] = st
	}
	s.mu.Unlock()

	sort.Strings(ids)
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, recs[id].snapshot(id))
	}
	return out
}

// Reset clears the device's ignored channels and safe-mode latch. It is the
// only way state regresses and is never called by the pipeline itself.
// Reset reports whether the device had any state.
func (s *Supervisor) Reset(deviceID string) bool {
	st, ok := s.lookup(deviceID)
	if !ok {
		return false
	}
	st.mu.Lock()
	st.ignored = nil
	st.ignoredSet = make(map[types.Channel]struct{})
	st.safeMode = false
	st.faults = 0
	st.updatedAt = s.now()
	st.mu.Unlock()

	slog.Info("healing: state reset", "device", deviceID)
	return true
}

// deviceState is one device's healing record. Fields are guarded by mu.
type deviceState struct {
	mu         sync.Mutex
	ignored    []types.Channel
	ignoredSet map[types.Channel]struct{}
	safeMode   bool
	faults     int
	updatedAt  time.Time
}

func (s *Supervisor) stateFor(id string) *deviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		return st
	}
	st := &deviceState{ignoredSet: make(map[types.Channel]struct{})}
	s.states[id] = st
	return st
}

func (s *Supervisor) lookup(id string) (*deviceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}

// ignore adds ch to the set and reports whether it was newly added.
func (st *deviceState) ignore(ch types.Channel) bool {
	if _, ok := st.ignoredSet[ch]; ok {
		return false
	}
	st.ignoredSet[ch] = struct{}{}
	st.ignored = append(st.ignored, ch)
	return true
}

func (st *deviceState) ignoredCopy() []types.Channel {
	out := make([]types.Channel, len(st.ignored))
	copy(out, st.ignored)
	return out
}

func (st *deviceState) snapshot(id string) Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		DeviceID:        id,
		IgnoredChannels: st.ignoredCopy(),
		SafeMode:        st.safeMode,
		FaultCount:      st.faults,
		UpdatedAt:       st.updatedAt,
	}
}
