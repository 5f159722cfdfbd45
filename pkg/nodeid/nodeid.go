// Package nodeid defines the identifier types used throughout chitta: the
// 128-bit globally-unique NodeId assigned at creation and stable for the
// life of a node, and the 32-bit file-local SlotId that the unified index
// reuses after forget.
package nodeid

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit opaque node identifier, stable for the lifetime of the
// node. Its textual form is the canonical UUID rendering.
type ID uuid.UUID

// Nil is the zero ID, never assigned to a real node.
var Nil ID

// New allocates a fresh, globally-unique ID.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical textual form produced by String.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("nodeid: %w", err)
	}
	return ID(u), nil
}

// String renders the canonical textual form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler for WAL/JSON-adjacent uses.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Bytes returns the 16-byte big-endian representation used by on-disk
// records (slot array, WAL frames, id map).
func (id ID) Bytes() [16]byte {
	return [16]byte(id)
}

// FromBytes reconstructs an ID from its 16-byte representation.
func FromBytes(b [16]byte) ID {
	return ID(b)
}

// SlotId is a dense, file-local identifier assigned by the unified index.
// It may be reused after a node is forgotten; readers must pair a SlotId
// with the slot's generation counter to detect reuse.
type SlotId uint32

// Invalid is the sentinel SlotId meaning "no slot" (e.g. free-list tail).
const Invalid SlotId = 0xFFFFFFFF

// Ref is a (slot, generation) pair used for edge targets, giving
// arena+index semantics over the authoritative slot array instead of a
// pointer: target_slot indexes into the slot array, and generation lets a
// reader detect that the slot was reused by a different node since the
// edge was recorded.
type Ref struct {
	Slot SlotId
	Gen  uint32
}
