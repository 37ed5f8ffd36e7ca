// Package control tracks the last command sent to each device and manual
// overrides set by operators.
package control

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// ErrNoState is returned for a device that has never been sent a command.
var ErrNoState = errors.New("control: no control state for device")

// Override is an operator-forced command.
type Override struct {
	Command types.ControlCommand `json:"command"`
	SetAt   time.Time            `json:"set_at"`
}

// Status is the control view of one device.
type Status struct {
	DeviceID       string    `json:"device_id"`
	On             bool      `json:"fan_on"`
	Intensity      int       `json:"fan_intensity"`
	LastUpdate     time.Time `json:"last_update"`
	OverrideActive bool      `json:"manual_override_active"`
	Override       *Override `json:"override_info,omitempty"`
}

// Service is safe for concurrent use.
type Service struct {
	levels []int

	mu        sync.Mutex
	current   map[string]types.ControlCommand
	overrides map[string]Override
	now       func() time.Time
}

// New returns a Service snapping override intensities to levels.
func New(levels []int) *Service {
	if len(levels) == 0 {
		levels = types.Levels
	}
	return &Service{
		levels:    levels,
		current:   make(map[string]types.ControlCommand),
		overrides: make(map[string]Override),
		now:       time.Now,
	}
}

// Apply records cmd as the device's current command and returns it. While an
// override is active the override command is returned instead and cmd is
// discarded.
func (s *Service) Apply(deviceID string, cmd types.ControlCommand) types.ControlCommand {
	out, _ := s.ApplyAuto(deviceID, cmd)
	return out
}

// ApplyAuto is Apply that also reports whether an override replaced cmd.
func (s *Service) ApplyAuto(deviceID string, cmd types.ControlCommand) (types.ControlCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.overrides[deviceID]; ok {
		slog.Debug("control: manual override active, automatic command ignored", "device", deviceID)
		return o.Command, true
	}
	s.current[deviceID] = cmd
	return cmd, false
}

// SetOverride forces the device to on/intensity until ClearOverride.
func (s *Service) SetOverride(deviceID string, on bool, intensity float64) types.ControlCommand {
	now := s.now()
	cmd := types.ControlCommand{
		On:             on,
		Intensity:      types.SnapIntensity(intensity, s.levels),
		OverrideReason: "manual override",
		Timestamp:      now,
	}
	s.mu.Lock()
	s.overrides[deviceID] = Override{Command: cmd, SetAt: now}
	s.current[deviceID] = cmd
	s.mu.Unlock()

	slog.Info("control: manual override set", "device", deviceID, "fan_on", on, "intensity", cmd.Intensity)
	return cmd
}

// ClearOverride returns the device to automatic control. It reports whether
// an override was active.
func (s *Service) ClearOverride(deviceID string) bool {
	s.mu.Lock()
	_, ok := s.overrides[deviceID]
	delete(s.overrides, deviceID)
	s.mu.Unlock()
	if ok {
		slog.Info("control: manual override cleared", "device", deviceID)
	}
	return ok
}

// Status returns the device's control state, or ErrNoState.
func (s *Service) Status(deviceID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.current[deviceID]
	if !ok {
		return Status{}, ErrNoState
	}
	st := Status{
		DeviceID:   deviceID,
		On:         cmd.On,
		Intensity:  cmd.Intensity,
		LastUpdate: cmd.Timestamp,
	}
	if o, ok := s.overrides[deviceID]; ok {
		st.OverrideActive = true
		st.Override = &o
	}
	return st, nil
}

// Forget drops all control state for the device.
func (s *Service) Forget(deviceID string) {
	s.mu.Lock()
	delete(s.current, deviceID)
	delete(s.overrides, deviceID)
	s.mu.Unlock()
}
