// Package receiver is the ingest boundary for device samples.
//
// Ingest rejects a sample with ErrInvalidSample when it fails structural
// validation or lies outside the sensors' physical limits, and with
// ErrRateLimited when its device exceeds the configured rate. Rejected
// samples are never stored and never reach the control pipeline.
//
// An accepted sample is appended to the history store, the window ending
// with it is handed to the pipeline, and the resulting command passes through
// the control service so that manual overrides win. The sample is archived in
// the background.
package receiver
