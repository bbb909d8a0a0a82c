package diskbuffer

import "errors"

var (
	ErrShortWrite = errors.New("diskbuffer: a write succeeded, but fewer bytes than supplied were written")
	ErrShortRead  = errors.New("diskbuffer: fewer bytes than the recorded length were read")
	ErrClosed     = errors.New("diskbuffer: buffer is closed")
	ErrNoFile     = errors.New("diskbuffer: a backing file is required")
)

// Extent locates one serialized record in the backing file.
type Extent struct {
	Offset uint64
	Length uint64
}

// End returns the offset of the first byte after the extent.
func (e Extent) End() uint64 { return e.Offset + e.Length }

// WriteFunc persists data for a saveable. When hadPrev is true, prev is the
// block the saveable currently owns on disk; it is reused in place if data
// fits and released otherwise. The returned extent is the new authoritative
// location.
type WriteFunc func(data []byte, prev Extent, hadPrev bool) (Extent, error)

// Saveable is anything whose in-memory data the buffer may page out.
type Saveable interface {
	ID() uint64

	// TryEvict writes the saveable using write if it is dirty or has never
	// been written, then frees its in-memory data. It must not block: if the
	// saveable is locked, pinned or not resident it returns false and changes
	// nothing. On a write error the in-memory data is retained.
	TryEvict(write WriteFunc) (bool, error)

	// Sync writes the saveable if it is dirty and leaves it resident.
	Sync(write WriteFunc) error
}
