package mdevent

import (
	"encoding/binary"
	"math"
)

func readU16BE(b []byte) uint16     { return binary.BigEndian.Uint16(b) }
func readU32BE(b []byte) uint32     { return binary.BigEndian.Uint32(b) }
func readU64BE(b []byte) uint64     { return binary.BigEndian.Uint64(b) }
func writeU16BE(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func writeU32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func writeU64BE(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func readF32BE(b []byte) float32     { return math.Float32frombits(readU32BE(b)) }
func writeF32BE(b []byte, v float32) { writeU32BE(b, math.Float32bits(v)) }
