// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; the `server:` section is ignored
//   - AgentConfig: server_url, scrape_interval, buffer_size, send_timeout,
//     devices [], server_auth
//   - Device: id, endpoint, metrics (channel → exporter metric name), labels,
//     actuator_url, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env; Key(), Token() and Password()
//     resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (10s scrape, 1000 buffer,
// 10s send timeout, sensor_* metric names), then validates required fields,
// URLs and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory so the
// watch survives atomic saves, and calls onChange with each valid reload.
package config
