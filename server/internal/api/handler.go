package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/alerts"
	"github.com/aeroledger/aeroledger/server/internal/audit"
	"github.com/aeroledger/aeroledger/server/internal/auth"
	"github.com/aeroledger/aeroledger/server/internal/config"
	"github.com/aeroledger/aeroledger/server/internal/control"
	"github.com/aeroledger/aeroledger/server/internal/healing"
	"github.com/aeroledger/aeroledger/server/internal/history"
	"github.com/aeroledger/aeroledger/server/internal/ledger"
	"github.com/aeroledger/aeroledger/server/internal/pipeline"
	"github.com/aeroledger/aeroledger/server/internal/receiver"
)

// Ingester runs one sample through the control cycle.
type Ingester interface {
	Ingest(ctx context.Context, s types.Sample) (*receiver.Result, error)
}

// Deps are the collaborators the handlers read from. Audit, Alerts and
// Stream are optional.
type Deps struct {
	Store    *history.Store
	Ingester Ingester
	Control  *control.Service
	Healing  *healing.Supervisor
	Ledger   ledger.Ledger
	Audit    *audit.Emitter
	Alerts   *alerts.Engine
	Stream   http.Handler

	Auth        config.AuthConfig
	ServiceName string
}

// Handler holds the route handlers for all endpoints.
type Handler struct {
	d   Deps
	now func() time.Time
}

// New creates the gin engine wired to deps and registers all routes.
func New(d Deps) http.Handler {
	if d.ServiceName == "" {
		d.ServiceName = "aeroledger-server"
	}
	h := &Handler{d: d, now: time.Now}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(d.ServiceName), requestLog())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.Stream != nil {
		r.GET("/ws/stream", gin.WrapH(d.Stream))
	}

	v1 := r.Group("/api/v1", auth.APIKey(d.Auth.Mode, d.Auth.EffectiveHeader(), d.Auth.Key()))

	sensor := v1.Group("/sensor")
	sensor.POST("/ingest", h.ingest)
	sensor.GET("/status/:device", h.sensorStatus)
	sensor.GET("/history/:device", h.sensorHistory)
	sensor.DELETE("/:device", h.deleteDevice)

	ctl := v1.Group("/control")
	ctl.POST("/override", h.setOverride)
	ctl.DELETE("/override/:device", h.clearOverride)
	ctl.GET("/status/:device", h.controlStatus)

	heal := v1.Group("/healing")
	heal.GET("/:device", h.healingState)
	heal.POST("/:device/reset", h.healingReset)

	dash := v1.Group("/dashboard")
	dash.GET("/devices", h.devices)
	dash.GET("/audit", h.auditLogs)
	dash.GET("/audit/:device", h.deviceAuditLogs)
	dash.GET("/alerts", h.activeAlerts)

	return r
}

// --- route handlers ---------------------------------------------------------

// health returns GET /health.
func (h *Handler) health(c *gin.Context) {
	resp := HealthResponse{
		Status:      "healthy",
		Service:     h.d.ServiceName,
		DeviceCount: len(h.d.Store.Devices()),
	}
	if h.d.Audit != nil {
		st := h.d.Audit.Stats()
		resp.Audit = &st
	}
	jsonResp(c, http.StatusOK, resp)
}

// ingest returns POST /api/v1/sensor/ingest with the command for the device.
func (h *Handler) ingest(c *gin.Context) {
	var s types.Sample
	if err := c.ShouldBindJSON(&s); err != nil {
		jsonErr(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := h.d.Ingester.Ingest(c.Request.Context(), s)
	if err != nil {
		var cerr *pipeline.CycleError
		switch {
		case errors.Is(err, receiver.ErrInvalidSample):
			jsonErr(c, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, receiver.ErrRateLimited):
			jsonErr(c, http.StatusTooManyRequests, err.Error())
		case errors.As(err, &cerr):
			slog.Error("api: cycle aborted", "device", s.DeviceID, "cycle", cerr.CycleID, "stage", cerr.Stage, "err", cerr.Err)
			jsonErr(c, http.StatusBadGateway, "decision cycle failed: "+cerr.Err.Error())
		default:
			slog.Error("api: ingest failed", "device", s.DeviceID, "err", err)
			jsonErr(c, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := ControlResponse{
		On:        res.Command.On,
		Intensity: res.Command.Intensity,
		Timestamp: res.Command.Timestamp,
	}
	if res.Cycle != nil {
		resp.CycleID = res.Cycle.ID
	}
	jsonResp(c, http.StatusOK, resp)
}

// sensorStatus returns GET /api/v1/sensor/status/:device.
func (h *Handler) sensorStatus(c *gin.Context) {
	id := c.Param("device")
	st, err := h.d.Store.Status(id)
	if err != nil {
		jsonErr(c, http.StatusNotFound, "device not found: "+id)
		return
	}

	resp := StatusResponse{Status: st, IgnoredChannels: []types.Channel{}}
	var heal *healing.Snapshot
	if snap, ok := h.d.Healing.State(id); ok {
		heal = &snap
		resp.IgnoredChannels = snap.IgnoredChannels
		resp.SafeMode = snap.SafeMode
		resp.FaultCount = snap.FaultCount
	}
	if cs, err := h.d.Control.Status(id); err == nil {
		resp.Control = &cs
	}
	resp.Diagnostics = computeDiagnostics(st, heal, resp.Control, h.now())
	jsonResp(c, http.StatusOK, resp)
}

// sensorHistory returns GET /api/v1/sensor/history/:device?limit=N.
func (h *Handler) sensorHistory(c *gin.Context) {
	limit, ok := queryLimit(c, config.DefaultHistoryLimit)
	if !ok {
		return
	}
	id := c.Param("device")
	jsonResp(c, http.StatusOK, HistoryResponse{
		DeviceID: id,
		Readings: h.d.Store.History(id, limit),
	})
}

// deleteDevice returns DELETE /api/v1/sensor/:device. Healing state is kept;
// it has its own reset endpoint.
func (h *Handler) deleteDevice(c *gin.Context) {
	id := c.Param("device")
	if !h.d.Store.Clear(id) {
		jsonErr(c, http.StatusNotFound, "device not found: "+id)
		return
	}
	h.d.Control.Forget(id)
	slog.Info("api: device data cleared", "device", id)
	jsonResp(c, http.StatusOK, messageResponse{Status: "success", Message: "Data cleared for " + id})
}

// setOverride returns POST /api/v1/control/override.
func (h *Handler) setOverride(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonErr(c, http.StatusBadRequest, "invalid override: "+err.Error())
		return
	}
	cmd := h.d.Control.SetOverride(req.DeviceID, req.On, req.Intensity)
	jsonResp(c, http.StatusOK, ControlResponse{On: cmd.On, Intensity: cmd.Intensity, Timestamp: cmd.Timestamp})
}

// clearOverride returns DELETE /api/v1/control/override/:device.
func (h *Handler) clearOverride(c *gin.Context) {
	id := c.Param("device")
	h.d.Control.ClearOverride(id)
	jsonResp(c, http.StatusOK, messageResponse{Status: "success", Message: "Override cleared for " + id})
}

// controlStatus returns GET /api/v1/control/status/:device.
func (h *Handler) controlStatus(c *gin.Context) {
	id := c.Param("device")
	st, err := h.d.Control.Status(id)
	if err != nil {
		jsonErr(c, http.StatusNotFound, "device not found: "+id)
		return
	}
	jsonResp(c, http.StatusOK, st)
}

// healingState returns GET /api/v1/healing/:device. A device with no faults
// reports an empty state.
func (h *Handler) healingState(c *gin.Context) {
	id := c.Param("device")
	snap, ok := h.d.Healing.State(id)
	if !ok {
		snap = healing.Snapshot{DeviceID: id, IgnoredChannels: []types.Channel{}}
	}
	jsonResp(c, http.StatusOK, HealingResponse(snap))
}

// healingReset returns POST /api/v1/healing/:device/reset.
func (h *Handler) healingReset(c *gin.Context) {
	id := c.Param("device")
	if !h.d.Healing.Reset(id) {
		jsonErr(c, http.StatusNotFound, "no healing state for device: "+id)
		return
	}
	jsonResp(c, http.StatusOK, messageResponse{Status: "success", Message: "Healing state reset for " + id})
}

// devices returns GET /api/v1/dashboard/devices.
func (h *Handler) devices(c *gin.Context) {
	jsonResp(c, http.StatusOK, BuildDevices(h.d.Store, h.d.Healing, h.d.Control))
}

// auditLogs returns GET /api/v1/dashboard/audit?limit=N.
func (h *Handler) auditLogs(c *gin.Context) {
	limit, ok := queryLimit(c, config.DefaultAuditLimit)
	if !ok {
		return
	}
	events, err := h.d.Ledger.Recent(c.Request.Context(), limit)
	h.auditResp(c, events, err)
}

// deviceAuditLogs returns GET /api/v1/dashboard/audit/:device?limit=N.
func (h *Handler) deviceAuditLogs(c *gin.Context) {
	limit, ok := queryLimit(c, config.DefaultAuditLimit)
	if !ok {
		return
	}
	events, err := h.d.Ledger.ByDevice(c.Request.Context(), c.Param("device"), limit)
	h.auditResp(c, events, err)
}

// activeAlerts returns GET /api/v1/dashboard/alerts.
func (h *Handler) activeAlerts(c *gin.Context) {
	list := []*alerts.Alert{}
	if h.d.Alerts != nil {
		list = h.d.Alerts.Active()
	}
	jsonResp(c, http.StatusOK, AlertsResponse{Alerts: list})
}

func (h *Handler) auditResp(c *gin.Context, events []types.AuditEvent, err error) {
	if err != nil {
		slog.Error("api: ledger query failed", "err", err)
		jsonErr(c, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	if events == nil {
		events = []types.AuditEvent{}
	}
	jsonResp(c, http.StatusOK, AuditResponse{Logs: events})
}

// BuildDevices assembles the device overview. The WebSocket hub pushes the
// same payload on every tick.
func BuildDevices(st *history.Store, sup *healing.Supervisor, ctl *control.Service) DevicesResponse {
	ids := st.Devices()
	out := make([]DeviceSummary, 0, len(ids))
	for _, id := range ids {
		s, err := st.Status(id)
		if err != nil {
			continue // cleared between Devices and Status
		}
		d := DeviceSummary{
			DeviceID:        id,
			Online:          s.Online,
			LastSeen:        s.LastSeen,
			ReadingCount:    s.ReadingCount,
			IgnoredChannels: []types.Channel{},
		}
		if snap, ok := sup.State(id); ok {
			d.SafeMode = snap.SafeMode
			d.IgnoredChannels = snap.IgnoredChannels
		}
		if cs, err := ctl.Status(id); err == nil {
			d.FanOn = cs.On
			d.FanIntensity = cs.Intensity
			d.OverrideActive = cs.OverrideActive
		}
		out = append(out, d)
	}
	return DevicesResponse{Devices: out, GeneratedAt: time.Now().UTC().Format(time.RFC3339)}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(c *gin.Context, code int, v interface{}) {
	c.JSON(code, v)
}

func jsonErr(c *gin.Context, code int, msg string) {
	jsonResp(c, code, errorResponse{Error: msg})
}

// queryLimit parses ?limit=, writing a 400 and returning false when it is not
// a positive integer.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		jsonErr(c, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// requestLog logs each request at debug level.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("api: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
