// Package ledger is the append-only audit log for control decisions and
// fault events.
//
// Three backends share the Ledger interface:
//
//	memory  process-local slice, IDs are content hashes (default)
//	badger  durable on-disk log, IDs are content hashes
//	redis   Redis stream, IDs are the stream entry IDs
//
// Queries return at most limit events, oldest first, ending with the most
// recent append.
package ledger
