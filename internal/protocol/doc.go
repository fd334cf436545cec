// Package protocol owns the loom wire contract and parsing primitives.
//
// Ownership boundary:
// - frame/header primitives
// - tlv payload primitives
// - per-kind envelope schemas and codecs
// - stdio handshake control lines
package protocol
