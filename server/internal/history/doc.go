// Package history is the per-device context store: a bounded, ordered buffer
// of recent samples for each device.
//
// Append and window reads are serialized under one lock, so a window never
// observes a half-applied append. AppendWindow performs both in one critical
// section, which is what the ingest path uses. Reads always return copies,
// ordered oldest to newest.
//
// A background Run loop drops devices that have been silent longer than the
// configured retention.
package history
