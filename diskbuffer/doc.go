// Package diskbuffer pages event buffers between memory and a single backing
// file.
//
// Records are written at offsets handed out by a FreeSpaceMap. A record that
// is rewritten and still fits its previous block is written in place, with
// any tail returned to the free space; otherwise the old block is released
// and a new one allocated, preferring the smallest released block that fits
// over growing the file.
//
// The (id -> offset, length) table lives with the saveables, in memory. The
// backing file is a working set cache and is not crash durable.
//
// Saveables move through:
//
//	Resident(clean) -> [mutated] -> Resident(dirty) -> [evicted] -> OnDisk -> [loaded] -> Resident(clean)
//
// Only one copy of a saveable's data is authoritative at a time. The extent
// survives both states so that an unmodified saveable can be evicted again
// without a write.
package diskbuffer
