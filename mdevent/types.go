package mdevent

import "errors"

const (
	// HeaderBytesV1 is the fixed header size of an event buffer record.
	HeaderBytesV1 = 16

	MagicV1         = "MDE1"
	VersionV1 uint8 = 1

	// MaxDims is the largest dimensionality the record header can describe.
	MaxDims = 255

	coordBytes    = 4
	weightBytes   = 8 // signal + errorSquared
	metadataBytes = 8 // run + goniometer + detector
)

var (
	ErrBadMagic          = errors.New("mdevent: record magic invalid")
	ErrBadVersion        = errors.New("mdevent: record version invalid")
	ErrBadKind           = errors.New("mdevent: event kind invalid")
	ErrBadRegionSize     = errors.New("mdevent: record buffer too small")
	ErrDimensionMismatch = errors.New("mdevent: event dimensionality does not match the record")
	ErrTooManyDimensions = errors.New("mdevent: dimensionality exceeds the record format limit")
	ErrNotInitialized    = errors.New("mdevent: record header not initialized")
)

// HeaderV1 describes the events that follow it in a record.
type HeaderV1 struct {
	Kind    Kind
	NumDims uint8
	Count   uint64
}
