// Package loom owns the host-side thread abstraction.
//
// Ownership boundary:
// - thread lifecycle (spawn, inline fallback, dispose)
// - task dispatch and the pending-task set
// - inbound envelope routing
// - cooperative join polling
// - the service supervisor and its admin surface
//
// A Thread either drives one isolated worker through a substrate handle or,
// when no worker can be spawned, runs dispatched entries inline in the
// caller's goroutine. Both modes share one identity counter, one entry
// registry, and one scheduler, injected through a Runtime.
package loom
