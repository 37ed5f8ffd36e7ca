// Package types defines the data model shared by the gateway agent and the
// control server: samples, fault findings, healing actions, judgment results,
// control commands and audit events.
//
// The JSON field names match the device firmware contract (pm25, co2, co, voc,
// fan_on, fan_intensity) so the same structs are used on the wire and in memory.
//
// SnapIntensity maps a raw intensity onto the fixed level set; ties resolve to
// the lower level.
package types
