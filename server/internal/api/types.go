package api

import (
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/alerts"
	"github.com/aeroledger/aeroledger/server/internal/audit"
	"github.com/aeroledger/aeroledger/server/internal/control"
	"github.com/aeroledger/aeroledger/server/internal/healing"
	"github.com/aeroledger/aeroledger/server/internal/history"
)

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	Service     string       `json:"service"`
	DeviceCount int          `json:"device_count"`
	Audit       *audit.Stats `json:"audit,omitempty"`
}

// ControlResponse is the command returned to a device. The firmware reads
// fan_on, fan_intensity and timestamp.
type ControlResponse struct {
	On        bool      `json:"fan_on"`
	Intensity int       `json:"fan_intensity"`
	Timestamp time.Time `json:"timestamp"`
	CycleID   string    `json:"cycle_id,omitempty"`
}

// OverrideRequest is the body of POST /api/v1/control/override.
type OverrideRequest struct {
	DeviceID  string  `json:"device_id" binding:"required,max=64"`
	On        bool    `json:"fan_on"`
	Intensity float64 `json:"fan_intensity" binding:"min=0,max=100"`
}

// StatusResponse is the payload for GET /api/v1/sensor/status/:device.
type StatusResponse struct {
	history.Status
	IgnoredChannels []types.Channel  `json:"ignored_sensors"`
	SafeMode        bool             `json:"safe_mode"`
	FaultCount      int              `json:"fault_count"`
	Control         *control.Status  `json:"control,omitempty"`
	Diagnostics     []DiagnosticHint `json:"diagnostics"`
}

// HistoryResponse is the payload for GET /api/v1/sensor/history/:device.
type HistoryResponse struct {
	DeviceID string         `json:"device_id"`
	Readings []types.Sample `json:"readings"`
}

// DeviceSummary is one entry in the device overview.
type DeviceSummary struct {
	DeviceID        string          `json:"device_id"`
	Online          bool            `json:"is_online"`
	LastSeen        time.Time       `json:"last_seen"`
	ReadingCount    int             `json:"reading_count"`
	SafeMode        bool            `json:"safe_mode"`
	IgnoredChannels []types.Channel `json:"ignored_sensors"`
	FanOn           bool            `json:"fan_on"`
	FanIntensity    int             `json:"fan_intensity"`
	OverrideActive  bool            `json:"manual_override_active"`
}

// DevicesResponse is the payload for GET /api/v1/dashboard/devices and the
// WebSocket "devices" tick.
type DevicesResponse struct {
	Devices     []DeviceSummary `json:"devices"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// AuditResponse is the payload for the dashboard audit endpoints.
type AuditResponse struct {
	Logs []types.AuditEvent `json:"logs"`
}

// AlertsResponse is the payload for GET /api/v1/dashboard/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// HealingResponse is the payload for GET /api/v1/healing/:device.
type HealingResponse = healing.Snapshot

// messageResponse confirms an operator action.
type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
