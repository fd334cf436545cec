// Package entry owns the callables a loom runtime can dispatch.
//
// Ownership boundary:
// - entry-point function shape
// - explicit name -> callable registration
// - worker bootstrap units and their set
package entry
