package diskbuffer

import "sort"

// FreeSpaceMap tracks the unused blocks of the backing file.
//
// Blocks are kept sorted by offset and adjacent blocks are always coalesced.
// A block that reaches the end of the file is returned to the tail rather
// than kept as free space. It is not go routine safe, the Buffer serialises
// access.
type FreeSpaceMap struct {
	blocks  []Extent
	fileEnd uint64
}

// NewFreeSpaceMap returns a map for a file whose used region ends at fileEnd.
func NewFreeSpaceMap(fileEnd uint64) *FreeSpaceMap {
	return &FreeSpaceMap{fileEnd: fileEnd}
}

// FileEnd is the offset one past the last allocated byte.
func (m *FreeSpaceMap) FileEnd() uint64 { return m.fileEnd }

// FreeBytes is the total size of the released blocks below FileEnd.
func (m *FreeSpaceMap) FreeBytes() uint64 {
	var n uint64
	for _, b := range m.blocks {
		n += b.Length
	}
	return n
}

// NumBlocks returns the number of distinct free blocks.
func (m *FreeSpaceMap) NumBlocks() int { return len(m.blocks) }

// Allocate returns an extent of exactly size bytes. The smallest free block
// that fits is used, ties going to the lowest offset. If none fits the file
// is extended.
func (m *FreeSpaceMap) Allocate(size uint64) Extent {
	if size == 0 {
		return Extent{Offset: m.fileEnd}
	}

	best := -1
	for i, b := range m.blocks {
		if b.Length < size {
			continue
		}
		if best == -1 || b.Length < m.blocks[best].Length {
			best = i
		}
		if b.Length == size {
			break
		}
	}
	if best == -1 {
		ext := Extent{Offset: m.fileEnd, Length: size}
		m.fileEnd += size
		return ext
	}

	b := m.blocks[best]
	ext := Extent{Offset: b.Offset, Length: size}
	if b.Length == size {
		m.blocks = append(m.blocks[:best], m.blocks[best+1:]...)
	} else {
		m.blocks[best] = Extent{Offset: b.Offset + size, Length: b.Length - size}
	}
	return ext
}

// Release returns ext to the free space.
func (m *FreeSpaceMap) Release(ext Extent) {
	if ext.Length == 0 {
		return
	}

	i := sort.Search(len(m.blocks), func(i int) bool {
		return m.blocks[i].Offset >= ext.Offset
	})
	m.blocks = append(m.blocks, Extent{})
	copy(m.blocks[i+1:], m.blocks[i:])
	m.blocks[i] = ext

	// Merge with the following block, then with the preceding one.
	if i+1 < len(m.blocks) && m.blocks[i].End() == m.blocks[i+1].Offset {
		m.blocks[i].Length += m.blocks[i+1].Length
		m.blocks = append(m.blocks[:i+1], m.blocks[i+2:]...)
	}
	if i > 0 && m.blocks[i-1].End() == m.blocks[i].Offset {
		m.blocks[i-1].Length += m.blocks[i].Length
		m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
	}

	if last := len(m.blocks) - 1; last >= 0 && m.blocks[last].End() == m.fileEnd {
		m.fileEnd = m.blocks[last].Offset
		m.blocks = m.blocks[:last]
	}
}
