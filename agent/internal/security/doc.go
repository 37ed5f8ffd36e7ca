// Package security inspects the TLS certificate served by each HTTPS sensor
// exporter so the agent can warn before a certificate expires and scrapes
// start failing.
package security
