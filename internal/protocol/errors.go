package protocol

import "errors"

var (
	ErrInvalidMagic       = errors.New("protocol: invalid magic")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownKind        = errors.New("protocol: unknown envelope kind")
	ErrInvalidEnvelope    = errors.New("protocol: invalid envelope")
)
