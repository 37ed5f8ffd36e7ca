package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/config"
)

// Actuator applies a fan command to a device.
type Actuator interface {
	Apply(ctx context.Context, deviceID string, cmd Command) error
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, deviceID string, cmd Command) error

func (f ActuatorFunc) Apply(ctx context.Context, deviceID string, cmd Command) error {
	return f(ctx, deviceID, cmd)
}

// DeviceActuator logs every command and forwards it as JSON to the device's
// actuator_url when one is configured. The device set can be swapped at
// runtime with Update.
type DeviceActuator struct {
	client *http.Client

	mu   sync.RWMutex
	urls map[string]string
}

// NewDeviceActuator returns an actuator for the given devices.
func NewDeviceActuator(devices []config.Device) *DeviceActuator {
	a := &DeviceActuator{client: &http.Client{Timeout: 5 * time.Second}}
	a.Update(devices)
	return a
}

// Update replaces the device to actuator URL mapping.
func (a *DeviceActuator) Update(devices []config.Device) {
	urls := make(map[string]string, len(devices))
	for _, d := range devices {
		if d.ActuatorURL != "" {
			urls[d.ID] = d.ActuatorURL
		}
	}
	a.mu.Lock()
	a.urls = urls
	a.mu.Unlock()
}

// Apply implements Actuator.
func (a *DeviceActuator) Apply(ctx context.Context, deviceID string, cmd Command) error {
	slog.Info("actuator: fan command",
		"device", deviceID,
		"fan_on", cmd.On,
		"fan_intensity", cmd.Intensity,
		"cycle", cmd.CycleID)

	a.mu.RLock()
	url := a.urls[deviceID]
	a.mu.RUnlock()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(cmd.ControlCommand)
	if err != nil {
		return fmt.Errorf("actuator %q: encode: %w", deviceID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("actuator %q: %w", deviceID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("actuator %q: %w", deviceID, err)
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("actuator %q: unexpected status %d", deviceID, resp.StatusCode)
	}
	return nil
}
