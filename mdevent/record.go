package mdevent

import "bytes"

// EventBytes returns the fixed width of one serialized event.
func EventBytes(kind Kind, nd int) int {
	n := nd*coordBytes + weightBytes
	if kind == Full {
		n += metadataBytes
	}
	return n
}

// RecordBytes returns the size of a record holding n events.
func RecordBytes(kind Kind, nd int, n int) int {
	return HeaderBytesV1 + n*EventBytes(kind, nd)
}

// DecodeHeaderV1 decodes the record header at the start of region. A block
// whose magic bytes are all zero has never had a record written to it, which
// is reported as ok=false with no error.
func DecodeHeaderV1(region []byte) (h HeaderV1, ok bool, err error) {
	if len(region) < HeaderBytesV1 {
		return HeaderV1{}, false, ErrBadRegionSize
	}
	if bytes.Equal(region[0:4], []byte{0, 0, 0, 0}) {
		return HeaderV1{}, false, nil
	}
	if string(region[0:4]) != MagicV1 {
		return HeaderV1{}, false, ErrBadMagic
	}
	if region[4] != VersionV1 {
		return HeaderV1{}, false, ErrBadVersion
	}
	h.Kind = Kind(region[5])
	if !h.Kind.Valid() {
		return HeaderV1{}, false, ErrBadKind
	}
	h.NumDims = region[6]
	h.Count = readU64BE(region[8:16])
	return h, true, nil
}

// EncodeHeaderV1 writes a header into region.
func EncodeHeaderV1(region []byte, h HeaderV1) error {
	if len(region) < HeaderBytesV1 {
		return ErrBadRegionSize
	}
	if !h.Kind.Valid() {
		return ErrBadKind
	}
	copy(region[0:4], []byte(MagicV1))
	region[4] = VersionV1
	region[5] = byte(h.Kind)
	region[6] = h.NumDims
	region[7] = 0
	writeU64BE(region[8:16], h.Count)
	return nil
}

// EncodeRecord serializes events into dst, which must be at least
// RecordBytes(kind, nd, len(events)) long. Every event must have nd
// coordinates. Lean records do not carry the provenance fields.
func EncodeRecord(dst []byte, kind Kind, nd int, events []Event) error {
	if nd > MaxDims {
		return ErrTooManyDimensions
	}
	need := RecordBytes(kind, nd, len(events))
	if len(dst) < need {
		return ErrBadRegionSize
	}
	err := EncodeHeaderV1(dst, HeaderV1{Kind: kind, NumDims: uint8(nd), Count: uint64(len(events))})
	if err != nil {
		return err
	}

	off := HeaderBytesV1
	for i := range events {
		e := &events[i]
		if len(e.Coords) != nd {
			return ErrDimensionMismatch
		}
		for _, c := range e.Coords {
			writeF32BE(dst[off:off+4], c)
			off += coordBytes
		}
		writeF32BE(dst[off:off+4], e.Signal)
		writeF32BE(dst[off+4:off+8], e.ErrorSquared)
		off += weightBytes
		if kind == Full {
			writeU16BE(dst[off:off+2], e.RunIndex)
			writeU16BE(dst[off+2:off+4], e.GoniometerIndex)
			writeU32BE(dst[off+4:off+8], uint32(e.DetectorID))
			off += metadataBytes
		}
	}
	return nil
}

// AppendRecord is EncodeRecord into a freshly allocated buffer.
func AppendRecord(kind Kind, nd int, events []Event) ([]byte, error) {
	if nd > MaxDims {
		return nil, ErrTooManyDimensions
	}
	buf := make([]byte, RecordBytes(kind, nd, len(events)))
	if err := EncodeRecord(buf, kind, nd, events); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeRecord deserializes a record produced by EncodeRecord.
//
// The coordinates of all returned events share a single backing array.
func DecodeRecord(src []byte) (HeaderV1, []Event, error) {
	h, ok, err := DecodeHeaderV1(src)
	if err != nil {
		return HeaderV1{}, nil, err
	}
	if !ok {
		return HeaderV1{}, nil, ErrNotInitialized
	}
	nd := int(h.NumDims)
	width := uint64(EventBytes(h.Kind, nd))
	if uint64(len(src)-HeaderBytesV1)/width < h.Count {
		return HeaderV1{}, nil, ErrBadRegionSize
	}

	events := make([]Event, h.Count)
	coords := make([]float32, int(h.Count)*nd)
	off := HeaderBytesV1
	for i := range events {
		e := &events[i]
		e.Coords = coords[i*nd : (i+1)*nd : (i+1)*nd]
		for d := 0; d < nd; d++ {
			e.Coords[d] = readF32BE(src[off : off+4])
			off += coordBytes
		}
		e.Signal = readF32BE(src[off : off+4])
		e.ErrorSquared = readF32BE(src[off+4 : off+8])
		off += weightBytes
		if h.Kind == Full {
			e.RunIndex = readU16BE(src[off : off+2])
			e.GoniometerIndex = readU16BE(src[off+2 : off+4])
			e.DetectorID = int32(readU32BE(src[off+4 : off+8]))
			off += metadataBytes
		}
	}
	return h, events, nil
}
