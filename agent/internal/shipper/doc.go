// Package shipper delivers samples to aeroledger-server over HTTP
// (POST /api/v1/sensor/ingest) and hands the returned fan command to an
// Actuator.
//
// Shipper.Ship() is non-blocking: samples are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest entry is
// evicted so the latest readings are always preserved.
//
// Shipper.Run() drains the buffer in a loop, retrying with truncated
// exponential backoff (1s→60s, ±25% jitter) on transport errors and 5xx
// responses. 4xx responses other than 408 and 429 mean the sample itself was
// refused; it is discarded rather than retried.
//
// Auth: mTLS client certificates, or an API key header, or none for local
// development.
package shipper
