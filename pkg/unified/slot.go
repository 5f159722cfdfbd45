package unified

import (
	"encoding/binary"
	"math"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// slotRecordSize matches spec §4.1's "80 bytes per slot in the current
// format"; two bytes are reserved for future growth.
const slotRecordSize = 80

// slotFlag bits stored in the record's Flags byte.
type slotFlag byte

const (
	flagInUse slotFlag = 1 << 0
	flagReady slotFlag = 1 << 1 // cleared while a write is in flight
	flagDead  slotFlag = 1 << 2 // tombstoned, pending free-list reclamation
)

// SlotRecord is the fixed-size metadata record stored per slot. It holds
// everything needed to reconstruct a Node except the quantized vector
// (stored in the parallel vector array) and the payload bytes (stored in
// the payload heap, referenced by offset/size here).
type SlotRecord struct {
	NodeID       nodeid.ID
	Type         byte
	Flags        byte
	Generation   uint32
	Created      int64
	Accessed     int64
	Delta        float32
	Epsilon      float32
	ConfMu       float32
	ConfSigma2   float32
	ConfN        float32
	PoolOffset   uint64
	PayloadOff   uint64
	PayloadSize  uint32
}

func (s SlotRecord) InUse() bool { return slotFlag(s.Flags)&flagInUse != 0 }
func (s SlotRecord) Ready() bool { return slotFlag(s.Flags)&flagReady != 0 }
func (s SlotRecord) Dead() bool  { return slotFlag(s.Flags)&flagDead != 0 }

func (s *SlotRecord) setFlag(f slotFlag, on bool) {
	if on {
		s.Flags |= byte(f)
	} else {
		s.Flags &^= byte(f)
	}
}

func (s SlotRecord) encode() []byte {
	buf := make([]byte, slotRecordSize)
	id := s.NodeID.Bytes()
	copy(buf[0:16], id[:])
	buf[16] = s.Type
	buf[17] = s.Flags
	binary.LittleEndian.PutUint32(buf[18:22], s.Generation)
	binary.LittleEndian.PutUint64(buf[22:30], uint64(s.Created))
	binary.LittleEndian.PutUint64(buf[30:38], uint64(s.Accessed))
	binary.LittleEndian.PutUint32(buf[38:42], math.Float32bits(s.Delta))
	binary.LittleEndian.PutUint32(buf[42:46], math.Float32bits(s.Epsilon))
	binary.LittleEndian.PutUint32(buf[46:50], math.Float32bits(s.ConfMu))
	binary.LittleEndian.PutUint32(buf[50:54], math.Float32bits(s.ConfSigma2))
	binary.LittleEndian.PutUint32(buf[54:58], math.Float32bits(s.ConfN))
	binary.LittleEndian.PutUint64(buf[58:66], s.PoolOffset)
	binary.LittleEndian.PutUint64(buf[66:74], s.PayloadOff)
	binary.LittleEndian.PutUint32(buf[74:78], s.PayloadSize)
	// buf[78:80] reserved
	return buf
}

func decodeSlotRecord(buf []byte) SlotRecord {
	var id [16]byte
	copy(id[:], buf[0:16])
	return SlotRecord{
		NodeID:      nodeid.FromBytes(id),
		Type:        buf[16],
		Flags:       buf[17],
		Generation:  binary.LittleEndian.Uint32(buf[18:22]),
		Created:     int64(binary.LittleEndian.Uint64(buf[22:30])),
		Accessed:    int64(binary.LittleEndian.Uint64(buf[30:38])),
		Delta:       math.Float32frombits(binary.LittleEndian.Uint32(buf[38:42])),
		Epsilon:     math.Float32frombits(binary.LittleEndian.Uint32(buf[42:46])),
		ConfMu:      math.Float32frombits(binary.LittleEndian.Uint32(buf[46:50])),
		ConfSigma2:  math.Float32frombits(binary.LittleEndian.Uint32(buf[50:54])),
		ConfN:       math.Float32frombits(binary.LittleEndian.Uint32(buf[54:58])),
		PoolOffset:  binary.LittleEndian.Uint64(buf[58:66]),
		PayloadOff:  binary.LittleEndian.Uint64(buf[66:74]),
		PayloadSize: binary.LittleEndian.Uint32(buf[74:78]),
	}
}
