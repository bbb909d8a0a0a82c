package diskbuffer

// Stats is a point in time snapshot of the buffer counters.
type Stats struct {
	ResidentBoxes  uint64
	ResidentEvents uint64
	Evictions      uint64
	Loads          uint64
	BytesWritten   uint64
	BytesRead      uint64
	WriteErrors    uint64
	FileEnd        uint64
	FreeBytes      uint64
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ResidentBoxes:  uint64(b.lru.Len()),
		ResidentEvents: b.residentEvents,
		Evictions:      b.evictions.Load(),
		Loads:          b.loads.Load(),
		BytesWritten:   b.bytesWritten.Load(),
		BytesRead:      b.bytesRead.Load(),
		WriteErrors:    b.writeErrors.Load(),
		FileEnd:        b.free.FileEnd(),
		FreeBytes:      b.free.FreeBytes(),
	}
}
