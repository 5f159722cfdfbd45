// Package unified implements the authoritative unified index described in
// spec §4.1: a slotted file mapping a dense SlotId to (node id, metadata,
// quantized vector, graph connections), plus an id→slot map, backed by a
// header/slot-array/vector-array/payload-heap layout on disk.
package unified

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a .unified file. FormatVersion is the current on-disk
// format version (spec §4.1: "currently 2").
const (
	Magic         uint32 = 0x43485431 // "CHT1"
	FormatVersion uint32 = 2
	headerSize           = 40
)

// Header is the fixed-size record at offset 0 of a .unified file.
type Header struct {
	Magic           uint32
	Version         uint32
	SlotCapacity    uint32
	SlotsInUse      uint32
	SnapshotCounter uint64
	Dimension       uint32
	FreeListHead    uint32
	PayloadHeapEnd  uint64 // byte offset one past the last written payload blob
}

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.SlotCapacity)
	binary.LittleEndian.PutUint32(buf[12:16], h.SlotsInUse)
	binary.LittleEndian.PutUint64(buf[16:24], h.SnapshotCounter)
	binary.LittleEndian.PutUint32(buf[24:28], h.Dimension)
	binary.LittleEndian.PutUint32(buf[28:32], h.FreeListHead)
	binary.LittleEndian.PutUint64(buf[32:40], h.PayloadHeapEnd)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("unified: header truncated (%d bytes)", len(buf))
	}
	h := Header{
		Magic:           binary.LittleEndian.Uint32(buf[0:4]),
		Version:         binary.LittleEndian.Uint32(buf[4:8]),
		SlotCapacity:    binary.LittleEndian.Uint32(buf[8:12]),
		SlotsInUse:      binary.LittleEndian.Uint32(buf[12:16]),
		SnapshotCounter: binary.LittleEndian.Uint64(buf[16:24]),
		Dimension:       binary.LittleEndian.Uint32(buf[24:28]),
		FreeListHead:    binary.LittleEndian.Uint32(buf[28:32]),
		PayloadHeapEnd:  binary.LittleEndian.Uint64(buf[32:40]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("unified: %w: bad magic %#x", ErrIndexCorrupt, h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("unified: %w: unsupported version %d (migration required)", ErrIndexCorrupt, h.Version)
	}
	return h, nil
}
