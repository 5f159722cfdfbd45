package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Kind identifies the record payload shape. The set is closed and mirrors
// spec §4.3's record table exactly.
type Kind byte

const (
	KindFullNodeInsert Kind = iota + 1
	KindTouch
	KindConfidenceUpdate
	KindEdgeAdd
	KindTagAdd
	KindTagRemove
	KindForget
	KindTripletInsert
)

func (k Kind) String() string {
	switch k {
	case KindFullNodeInsert:
		return "full-node-insert"
	case KindTouch:
		return "touch"
	case KindConfidenceUpdate:
		return "confidence-update"
	case KindEdgeAdd:
		return "edge-add"
	case KindTagAdd:
		return "tag-add"
	case KindTagRemove:
		return "tag-remove"
	case KindForget:
		return "forget"
	case KindTripletInsert:
		return "triplet-insert"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Record is one decoded WAL entry. Only the fields relevant to Kind are
// populated; callers switch on Kind before reading the rest.
type Record struct {
	Kind Kind

	NodeID   nodeid.ID
	SourceID nodeid.ID
	TargetID nodeid.ID

	// full-node-insert
	NodeType   byte
	Embedding  []byte // quantized codes
	EmbScale   float32
	EmbOffset  float32
	Payload    []byte
	Confidence [3]float64 // mu, sigma2, n
	Delta      float64
	Tags       []string

	// touch / confidence-update
	Timestamp int64

	// edge-add
	EdgeKind string
	Weight   float64

	// tag-add / tag-remove
	Tag string

	// triplet-insert
	Subject   string
	Predicate string
	Object    string
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s))) //nolint:errcheck
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b))) //nolint:errcheck
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encode serializes a Record to its wire form (not including the outer
// length+CRC frame; see Writer.Append).
func Encode(rec Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(rec.Kind))

	switch rec.Kind {
	case KindFullNodeInsert:
		id := rec.NodeID.Bytes()
		buf.Write(id[:])
		buf.WriteByte(rec.NodeType)
		writeBytes(buf, rec.Embedding)
		binary.Write(buf, binary.LittleEndian, rec.EmbScale)  //nolint:errcheck
		binary.Write(buf, binary.LittleEndian, rec.EmbOffset) //nolint:errcheck
		writeBytes(buf, rec.Payload)
		for _, v := range rec.Confidence {
			binary.Write(buf, binary.LittleEndian, v) //nolint:errcheck
		}
		binary.Write(buf, binary.LittleEndian, rec.Delta) //nolint:errcheck
		binary.Write(buf, binary.LittleEndian, uint32(len(rec.Tags))) //nolint:errcheck
		for _, tag := range rec.Tags {
			writeString(buf, tag)
		}
	case KindTouch:
		id := rec.NodeID.Bytes()
		buf.Write(id[:])
		binary.Write(buf, binary.LittleEndian, rec.Timestamp) //nolint:errcheck
	case KindConfidenceUpdate:
		id := rec.NodeID.Bytes()
		buf.Write(id[:])
		for _, v := range rec.Confidence {
			binary.Write(buf, binary.LittleEndian, v) //nolint:errcheck
		}
	case KindEdgeAdd:
		src := rec.SourceID.Bytes()
		dst := rec.TargetID.Bytes()
		buf.Write(src[:])
		buf.Write(dst[:])
		writeString(buf, rec.EdgeKind)
		binary.Write(buf, binary.LittleEndian, rec.Weight) //nolint:errcheck
	case KindTagAdd, KindTagRemove:
		id := rec.NodeID.Bytes()
		buf.Write(id[:])
		writeString(buf, rec.Tag)
	case KindForget:
		id := rec.NodeID.Bytes()
		buf.Write(id[:])
	case KindTripletInsert:
		writeString(buf, rec.Subject)
		writeString(buf, rec.Predicate)
		writeString(buf, rec.Object)
		binary.Write(buf, binary.LittleEndian, rec.Weight) //nolint:errcheck
	default:
		return nil, fmt.Errorf("wal: unknown record kind %d", rec.Kind)
	}

	return buf.Bytes(), nil
}

func readID(r *bytes.Reader) (nodeid.ID, error) {
	var raw [16]byte
	if _, err := r.Read(raw[:]); err != nil {
		return nodeid.Nil, err
	}
	return nodeid.FromBytes(raw), nil
}

// Decode parses a Record from its wire form (the inverse of Encode).
func Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, fmt.Errorf("wal: empty record")
	}
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return Record{}, err
	}
	rec := Record{Kind: Kind(kindByte)}

	switch rec.Kind {
	case KindFullNodeInsert:
		id, err := readID(r)
		if err != nil {
			return Record{}, err
		}
		rec.NodeID = id
		if rec.NodeType, err = r.ReadByte(); err != nil {
			return Record{}, err
		}
		if rec.Embedding, err = readBytes(r); err != nil {
			return Record{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.EmbScale); err != nil {
			return Record{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.EmbOffset); err != nil {
			return Record{}, err
		}
		if rec.Payload, err = readBytes(r); err != nil {
			return Record{}, err
		}
		for i := range rec.Confidence {
			if err := binary.Read(r, binary.LittleEndian, &rec.Confidence[i]); err != nil {
				return Record{}, err
			}
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.Delta); err != nil {
			return Record{}, err
		}
		var nTags uint32
		if err := binary.Read(r, binary.LittleEndian, &nTags); err != nil {
			return Record{}, err
		}
		rec.Tags = make([]string, nTags)
		for i := range rec.Tags {
			if rec.Tags[i], err = readString(r); err != nil {
				return Record{}, err
			}
		}
	case KindTouch:
		if rec.NodeID, err = readID(r); err != nil {
			return Record{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.Timestamp); err != nil {
			return Record{}, err
		}
	case KindConfidenceUpdate:
		if rec.NodeID, err = readID(r); err != nil {
			return Record{}, err
		}
		for i := range rec.Confidence {
			if err := binary.Read(r, binary.LittleEndian, &rec.Confidence[i]); err != nil {
				return Record{}, err
			}
		}
	case KindEdgeAdd:
		if rec.SourceID, err = readID(r); err != nil {
			return Record{}, err
		}
		if rec.TargetID, err = readID(r); err != nil {
			return Record{}, err
		}
		if rec.EdgeKind, err = readString(r); err != nil {
			return Record{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.Weight); err != nil {
			return Record{}, err
		}
	case KindTagAdd, KindTagRemove:
		if rec.NodeID, err = readID(r); err != nil {
			return Record{}, err
		}
		if rec.Tag, err = readString(r); err != nil {
			return Record{}, err
		}
	case KindForget:
		if rec.NodeID, err = readID(r); err != nil {
			return Record{}, err
		}
	case KindTripletInsert:
		if rec.Subject, err = readString(r); err != nil {
			return Record{}, err
		}
		if rec.Predicate, err = readString(r); err != nil {
			return Record{}, err
		}
		if rec.Object, err = readString(r); err != nil {
			return Record{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.Weight); err != nil {
			return Record{}, err
		}
	default:
		return Record{}, fmt.Errorf("wal: unknown record kind %d", rec.Kind)
	}

	return rec, nil
}
