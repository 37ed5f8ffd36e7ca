// Package pipeline runs one control cycle per accepted sample:
//
//	detect -> heal -> (safe mode | predict -> classify -> decide) -> audit
//
// Steps run strictly in order. Cycles for different devices may run
// concurrently; the collaborators are responsible for their own locking.
//
// A cycle either yields a ControlCommand or fails with a *CycleError. It never
// yields a partial command. Audit events are emitted without waiting for the
// ledger.
package pipeline
