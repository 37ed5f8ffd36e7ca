// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config sections:
//   - http_port, log_level, auth   - listener and API key settings
//   - detector                     - plausibility bounds, stuck threshold, consistency marks
//   - ingest                       - physical limits for sample acceptance, per-device rate
//   - history                      - context capacity (100), prediction window (10), online window (5m)
//   - control.levels               - fan intensity levels (0, 25, 50, 75, 100)
//   - judgment                     - provider, model, timeout, concurrency, retry, circuit breaker
//   - ledger, audit, archive       - audit backend, emitter queue, InfluxDB sample archive
//   - telemetry                    - OTLP trace export
//   - alerts                       - rules over audit events, webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on change; the server applies the
// detector and history sections of a reloaded config without a restart.
package config
