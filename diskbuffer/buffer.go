package diskbuffer

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/datatrails/go-datatrails-common/logger"
)

type residentEntry struct {
	s         Saveable
	footprint uint64
}

// Buffer pages saveable event buffers in and out of a single backing file.
//
// It keeps the set of resident saveables in least recently touched order and,
// whenever a touch takes the working set over budget, evicts from the cold
// end. Victims are only ever try-locked, so the buffer never waits on a
// saveable while holding its own lock. Callers may therefore hold a
// saveable's lock while calling into the buffer.
type Buffer struct {
	log  logger.Logger
	opts Options

	mu             sync.Mutex
	file           File
	free           *FreeSpaceMap
	lru            *list.List
	entries        map[uint64]*list.Element
	residentEvents uint64
	closed         atomic.Bool

	evictions    atomic.Uint64
	loads        atomic.Uint64
	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64
	writeErrors  atomic.Uint64
}

// NewBuffer creates a buffer over file. The file is assumed empty; records
// previously written to it are only reachable through extents the caller
// already holds (see NewBufferAt).
func NewBuffer(log logger.Logger, file File, opts ...Option) (*Buffer, error) {
	return NewBufferAt(log, file, 0, opts...)
}

// NewBufferAt creates a buffer over a file whose first fileEnd bytes are
// already in use.
func NewBufferAt(log logger.Logger, file File, fileEnd uint64, opts ...Option) (*Buffer, error) {
	if file == nil {
		return nil, ErrNoFile
	}
	b := &Buffer{
		log:     log,
		file:    file,
		free:    NewFreeSpaceMap(fileEnd),
		lru:     list.New(),
		entries: make(map[uint64]*list.Element),
	}
	for _, o := range opts {
		o(&b.opts)
	}
	return b, nil
}

// Options returns the configured residency limits.
func (b *Buffer) Options() Options { return b.opts }

// Touch marks s as the most recently used resident saveable, with footprint
// resident events, then evicts cold saveables until the working set is within
// budget. Saveables which can not be locked are skipped, so the budget may be
// exceeded while everything is in use.
func (b *Buffer) Touch(s Saveable, footprint uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}

	if el, ok := b.entries[s.ID()]; ok {
		e := el.Value.(*residentEntry)
		b.residentEvents = b.residentEvents - e.footprint + footprint
		e.footprint = footprint
		e.s = s
		b.lru.MoveToFront(el)
	} else {
		b.entries[s.ID()] = b.lru.PushFront(&residentEntry{s: s, footprint: footprint})
		b.residentEvents += footprint
	}
	return b.evictLocked()
}

// Forget drops s from the resident set without writing it. It is used when
// the saveable's data is discarded or has been moved elsewhere.
func (b *Buffer) Forget(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgetLocked(id)
}

func (b *Buffer) forgetLocked(id uint64) {
	el, ok := b.entries[id]
	if !ok {
		return
	}
	b.residentEvents -= el.Value.(*residentEntry).footprint
	b.lru.Remove(el)
	delete(b.entries, id)
}

// IsResident reports whether id is in the resident set.
func (b *Buffer) IsResident(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok
}

// Release returns a block that is no longer referenced to the free space.
func (b *Buffer) Release(ext Extent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.free.Release(ext)
}

// Read returns the record stored at ext.
//
// The caller must hold whatever lock makes it the owner of ext, the buffer
// does not serialise reads against the owner rewriting the block.
func (b *Buffer) Read(ext Extent) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	data := make([]byte, ext.Length)
	n, err := b.file.ReadAt(data, int64(ext.Offset))
	if uint64(n) == ext.Length {
		// io.ReaderAt may return io.EOF alongside a complete read at the end
		// of the file.
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("diskbuffer: read %d bytes at %d: %w", ext.Length, ext.Offset, err)
	}
	b.loads.Add(1)
	b.bytesRead.Add(uint64(n))
	return data, nil
}

// Write persists data outside of an eviction, for example when a saveable
// is synced ahead of saving the tree index.
func (b *Buffer) Write(data []byte, prev Extent, hadPrev bool) (Extent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return Extent{}, ErrClosed
	}
	return b.writeLocked(data, prev, hadPrev)
}

func (b *Buffer) writeLocked(data []byte, prev Extent, hadPrev bool) (Extent, error) {
	size := uint64(len(data))

	inPlace := hadPrev && size <= prev.Length
	var ext Extent
	if inPlace {
		ext = Extent{Offset: prev.Offset, Length: size}
	} else {
		ext = b.free.Allocate(size)
	}

	n, err := b.file.WriteAt(data, int64(ext.Offset))
	if err == nil && uint64(n) != size {
		err = ErrShortWrite
	}
	if err != nil {
		b.writeErrors.Add(1)
		if !inPlace {
			b.free.Release(ext)
		}
		return Extent{}, fmt.Errorf("diskbuffer: write %d bytes at %d: %w", size, ext.Offset, err)
	}

	if inPlace {
		b.free.Release(Extent{Offset: ext.End(), Length: prev.Length - size})
	} else if hadPrev {
		b.free.Release(prev)
	}
	b.bytesWritten.Add(size)
	return ext, nil
}

func (b *Buffer) overBudgetLocked() bool {
	if b.opts.MaxResidentEvents > 0 && b.residentEvents > b.opts.MaxResidentEvents {
		return true
	}
	if b.opts.MaxResidentBoxes > 0 && uint64(b.lru.Len()) > b.opts.MaxResidentBoxes {
		return true
	}
	return false
}

func (b *Buffer) evictLocked() error {
	for b.overBudgetLocked() {
		evicted := false
		for el := b.lru.Back(); el != nil; el = el.Prev() {
			e := el.Value.(*residentEntry)
			ok, err := e.s.TryEvict(b.writeLocked)
			if err != nil {
				b.log.Infof("evict box %d: %v", e.s.ID(), err)
				return fmt.Errorf("diskbuffer: evicting %d: %w", e.s.ID(), err)
			}
			if !ok {
				continue
			}
			b.log.Debugf("evicted box %d (%d events)", e.s.ID(), e.footprint)
			b.forgetLocked(e.s.ID())
			b.evictions.Add(1)
			evicted = true
			break
		}
		if !evicted {
			// Everything resident is in use.
			return nil
		}
	}
	return nil
}

// Evict pages out s now, regardless of the budget.
func (b *Buffer) Evict(s Saveable) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return false, ErrClosed
	}
	ok, err := s.TryEvict(b.writeLocked)
	if err != nil {
		return false, fmt.Errorf("diskbuffer: evicting %d: %w", s.ID(), err)
	}
	if ok {
		b.forgetLocked(s.ID())
		b.evictions.Add(1)
	}
	return ok, nil
}

// Flush writes every dirty resident saveable, leaving all of them resident.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return ErrClosed
	}
	saveables := make([]Saveable, 0, b.lru.Len())
	for el := b.lru.Front(); el != nil; el = el.Next() {
		saveables = append(saveables, el.Value.(*residentEntry).s)
	}
	b.mu.Unlock()

	// Sync takes the saveable's lock and then calls back into Write, so the
	// buffer lock must not be held here.
	var errs []error
	for _, s := range saveables {
		if err := s.Sync(b.Write); err != nil {
			errs = append(errs, fmt.Errorf("diskbuffer: flushing %d: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the backing file. Resident data is not written.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return nil
	}
	return b.file.Close()
}
