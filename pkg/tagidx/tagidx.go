// Package tagidx implements the tag secondary index: a tag name maps to
// the roaring bitmap of slots carrying it, giving find/find_all O(popcount)
// set intersection instead of a full scan.
package tagidx

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .tags file.
const Magic uint32 = 0x54414753 // "TAGS"

// Index is the tag -> bitmap-of-slots structure.
type Index struct {
	mu   sync.RWMutex
	tags map[string]*roaring.Bitmap
}

// New creates an empty tag index.
func New() *Index {
	return &Index{tags: make(map[string]*roaring.Bitmap)}
}

// Add records that slot carries tag.
func (idx *Index) Add(tag string, slot nodeid.SlotId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bm, ok := idx.tags[tag]
	if !ok {
		bm = roaring.New()
		idx.tags[tag] = bm
	}
	bm.Add(uint32(slot))
}

// Remove drops the tag from slot. If the tag's bitmap becomes empty the
// tag entry itself is dropped.
func (idx *Index) Remove(tag string, slot nodeid.SlotId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bm, ok := idx.tags[tag]
	if !ok {
		return
	}
	bm.Remove(uint32(slot))
	if bm.IsEmpty() {
		delete(idx.tags, tag)
	}
}

// RemoveSlot drops slot from every tag it currently carries (used when a
// node is forgotten or merged away).
func (idx *Index) RemoveSlot(slot nodeid.SlotId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for tag, bm := range idx.tags {
		bm.Remove(uint32(slot))
		if bm.IsEmpty() {
			delete(idx.tags, tag)
		}
	}
}

// Find returns every slot carrying tag, ascending.
func (idx *Index) Find(tag string) []nodeid.SlotId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bm, ok := idx.tags[tag]
	if !ok {
		return nil
	}
	return toSlots(bm)
}

// FindAll returns the intersection of slots carrying every tag in tags
// (AND semantics — "find_all" in spec terms). An empty tags list returns
// nil rather than every slot in the store.
func (idx *Index) FindAll(tags []string) []nodeid.SlotId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(tags) == 0 {
		return nil
	}
	var result *roaring.Bitmap
	for _, tag := range tags {
		bm, ok := idx.tags[tag]
		if !ok {
			return nil // any missing tag empties the intersection
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
	}
	if result == nil || result.IsEmpty() {
		return nil
	}
	return toSlots(result)
}

// FindAny returns the union of slots carrying any of tags (OR semantics).
func (idx *Index) FindAny(tags []string) []nodeid.SlotId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	result := roaring.New()
	for _, tag := range tags {
		if bm, ok := idx.tags[tag]; ok {
			result.Or(bm)
		}
	}
	if result.IsEmpty() {
		return nil
	}
	return toSlots(result)
}

func toSlots(bm *roaring.Bitmap) []nodeid.SlotId {
	arr := bm.ToArray()
	out := make([]nodeid.SlotId, len(arr))
	for i, v := range arr {
		out[i] = nodeid.SlotId(v)
	}
	return out
}

// Tags returns the set of tags known to the index, sorted for
// deterministic iteration (health/state reporting, snapshots).
func (idx *Index) Tags() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.tags))
	for t := range idx.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Save writes the index to path as a magic-prefixed sequence of
// [tag name][bitmap] records, each bitmap serialized with its own
// roaring WriteTo (spec §6's per-store file format).
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("tagidx: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(idx.tags)))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return err
	}

	for _, tag := range idx.sortedTagsLocked() {
		bm := idx.tags[tag]
		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(tag)))
		if _, err := w.Write(nameLen[:]); err != nil {
			f.Close()
			return err
		}
		if _, err := w.WriteString(tag); err != nil {
			f.Close()
			return err
		}
		if _, err := bm.WriteTo(w); err != nil {
			f.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (idx *Index) sortedTagsLocked() []string {
	out := make([]string, 0, len(idx.tags))
	for t := range idx.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Load replaces the index's contents with what's stored at path. A
// missing file is treated as an empty index (first run).
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("tagidx: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("tagidx: read header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != Magic {
		return nil, fmt.Errorf("tagidx: bad magic in %s", path)
	}
	count := binary.LittleEndian.Uint32(hdr[4:8])

	idx := New()
	for i := uint32(0); i < count; i++ {
		var nameLen [2]byte
		if _, err := io.ReadFull(r, nameLen[:]); err != nil {
			return nil, fmt.Errorf("tagidx: read name length: %w", err)
		}
		name := make([]byte, binary.LittleEndian.Uint16(nameLen[:]))
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("tagidx: read name: %w", err)
		}
		bm := roaring.New()
		if _, err := bm.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("tagidx: read bitmap for %q: %w", name, err)
		}
		idx.tags[string(name)] = bm
	}
	return idx, nil
}
