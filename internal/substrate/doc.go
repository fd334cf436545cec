// Package substrate owns worker transport concerns.
//
// Ownership boundary:
// - spawner/handle contracts for isolated workers
// - subprocess transport over stdio pipes
// - in-process loopback transport
// - worker-context detection
package substrate
