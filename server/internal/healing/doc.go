// Package healing turns fault findings into healing actions and keeps each
// device's fault memory across cycles.
//
// Every device owns one record, created lazily on its first heal, holding:
//   - an ignored-channel set that only grows
//   - a safe-mode latch that stays set once tripped
//
// Records are serialized independently, so heals for different devices never
// contend. Only Reset, an explicit operator action, clears a record.
//
// Fault kinds are dispatched through a table of handlers. Range, stuck and
// inconsistency findings ignore the affected channel; fan-ineffective latches
// safe mode. While the latch is set the orchestrator returns SafeModeCommand
// instead of consulting judgments.
package healing
