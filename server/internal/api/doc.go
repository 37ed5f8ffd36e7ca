// Package api implements the HTTP REST API for aeroledger-server.
//
// New(deps) returns an http.Handler (a gin engine) that serves:
//
//	POST   /api/v1/sensor/ingest              run one control cycle, returns the fan command
//	GET    /api/v1/sensor/status/:device      buffer status, healing state, diagnostics
//	GET    /api/v1/sensor/history/:device     recent readings (?limit=50)
//	DELETE /api/v1/sensor/:device             drop a device's readings and control state
//	POST   /api/v1/control/override           force a fan command
//	DELETE /api/v1/control/override/:device   return to automatic control
//	GET    /api/v1/control/status/:device     current fan command
//	GET    /api/v1/healing/:device            ignored sensors and safe-mode latch
//	POST   /api/v1/healing/:device/reset      clear healing state
//	GET    /api/v1/dashboard/devices          overview of every known device
//	GET    /api/v1/dashboard/audit            recent audit events (?limit=20)
//	GET    /api/v1/dashboard/audit/:device    recent audit events for one device
//	GET    /api/v1/dashboard/alerts           firing and recently resolved alerts
//	GET    /health                            liveness and audit queue stats
//	GET    /metrics                           Prometheus exposition
//	GET    /ws/stream                         WebSocket hub
//
// /api/v1 routes sit behind the API key middleware. All JSON types are
// defined in types.go.
package api
