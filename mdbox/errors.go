package mdbox

import "errors"

var (
	ErrInvalidDimensions     = errors.New("mdbox: dimensions must be between 1 and 255")
	ErrInvalidExtents        = errors.New("mdbox: one finite min < max extent is required per dimension")
	ErrInvalidSplitInto      = errors.New("mdbox: every dimension must split into at least 2 children")
	ErrInvalidSplitThreshold = errors.New("mdbox: split threshold must be at least 1")
	ErrTooManyChildren       = errors.New("mdbox: children per split exceeds the supported maximum")
	ErrInvalidEventKind      = errors.New("mdbox: event kind must be lean or full")
)

var (
	ErrDimensionMismatch = errors.New("mdbox: dimensionality does not match the workspace")
	ErrIndexOutOfRange   = errors.New("mdbox: event index out of range")
	ErrNotLeaf           = errors.New("mdbox: operation requires a leaf box")
	ErrInvalidNodeKind   = errors.New("mdbox: invalid node kind")
	ErrNoBackingStore    = errors.New("mdbox: the workspace has no backing store")
	ErrNotPersisted      = errors.New("mdbox: a leaf box has no record in the backing store")
	ErrRecordMismatch    = errors.New("mdbox: the backing store record does not match the box")
	ErrIndexVersion      = errors.New("mdbox: unsupported tree index version")
	ErrCorruptIndex      = errors.New("mdbox: the tree index is inconsistent")
	ErrNoCurrentBox      = errors.New("mdbox: the iterator is not positioned on a box")
)
