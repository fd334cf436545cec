// Package shuttle owns the worker-side runtime.
//
// Ownership boundary:
// - bootstrap loading on load_scripts
// - entry execution with panic containment
// - finish/exception/script_load_exception reporting
// - the subprocess serve loop over stdio
package shuttle
