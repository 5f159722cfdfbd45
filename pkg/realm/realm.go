// Package realm implements realm scoping (spec §4.8): a tree of named
// realms rooted at "brahman", used to decide whether a node assigned to
// one realm is visible from another.
package realm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
)

// Magic identifies a .realm_scoping file.
const Magic = "RLMS"

// Root is the name of the tree's root realm, created implicitly by New.
const Root = "brahman"

// Visibility controls whether ancestor realms can see a node, or only
// the node's exact realm.
type Visibility byte

const (
	Inherited Visibility = iota // visible from the realm and any ancestor's descendant view
	Explicit                    // visible only from the exact realm
)

// Tree is the realm hierarchy: every realm but the root has a parent.
type Tree struct {
	mu      sync.RWMutex
	parent  map[string]string
	current string
}

// New creates a tree containing only the root realm, current realm set
// to root.
func New() *Tree {
	return &Tree{parent: map[string]string{Root: ""}, current: Root}
}

// Create adds a new realm as a child of parent. Returns an error if
// parent does not exist or name is already taken.
func (t *Tree) Create(name, parent string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.parent[name]; exists {
		return fmt.Errorf("realm: %q already exists", name)
	}
	if _, exists := t.parent[parent]; !exists {
		return fmt.Errorf("realm: parent %q does not exist", parent)
	}
	t.parent[name] = parent
	return nil
}

// SetCurrent switches the session's current realm. Returns an error if
// the realm is unknown.
func (t *Tree) SetCurrent(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.parent[name]; !exists {
		return fmt.Errorf("realm: %q does not exist", name)
	}
	t.current = name
	return nil
}

// Current returns the session's current realm.
func (t *Tree) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// isAncestorLocked reports whether ancestor is an ancestor of (or equal
// to) descendant, walking the parent chain.
func (t *Tree) isAncestorLocked(ancestor, descendant string) bool {
	if ancestor == descendant {
		return true
	}
	for cur := descendant; cur != ""; {
		p, ok := t.parent[cur]
		if !ok {
			return false
		}
		if p == ancestor {
			return true
		}
		cur = p
	}
	return false
}

// Visible reports whether a node assigned to nodeRealm with the given
// visibility is visible from the current realm: the current realm must
// be an ancestor of (or equal to) nodeRealm, unless visibility is
// Explicit, which requires exact equality.
func (t *Tree) Visible(nodeRealm string, vis Visibility) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if vis == Explicit {
		return t.current == nodeRealm
	}
	return t.isAncestorLocked(t.current, nodeRealm)
}

// VisibleFrom is Visible with an explicit viewer realm rather than the
// session's current realm. Like Visible, it takes the read lock on each
// call.
func (t *Tree) VisibleFrom(viewerRealm, nodeRealm string, vis Visibility) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if vis == Explicit {
		return viewerRealm == nodeRealm
	}
	return t.isAncestorLocked(viewerRealm, nodeRealm)
}

// Exists reports whether name is a known realm.
func (t *Tree) Exists(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.parent[name]
	return ok
}

// Save persists the tree via the shared meta-store framing: one record
// per non-root realm, [name-len][name][parent-len][parent].
func (t *Tree) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w := metastore.NewWriter(Magic)
	for name, parent := range t.parent {
		if name == Root {
			continue
		}
		buf := make([]byte, 0, 4+len(name)+4+len(parent))
		nameLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(nameLen, uint32(len(name)))
		buf = append(buf, nameLen...)
		buf = append(buf, name...)
		parentLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(parentLen, uint32(len(parent)))
		buf = append(buf, parentLen...)
		buf = append(buf, parent...)
		w.Put(buf)
	}
	return w.Save(path)
}

// Load reads a persisted tree, or returns a fresh root-only tree if path
// does not exist.
func Load(path string) (*Tree, error) {
	t := New()
	err := metastore.Load(path, Magic, func(rec []byte) error {
		if len(rec) < 4 {
			return fmt.Errorf("realm: record truncated")
		}
		nameLen := binary.LittleEndian.Uint32(rec[0:4])
		off := 4 + int(nameLen)
		if off+4 > len(rec) {
			return fmt.Errorf("realm: record truncated mid-name")
		}
		name := string(rec[4:off])
		parentLen := binary.LittleEndian.Uint32(rec[off : off+4])
		off += 4
		if off+int(parentLen) > len(rec) {
			return fmt.Errorf("realm: record truncated mid-parent")
		}
		parent := string(rec[off : off+int(parentLen)])
		t.parent[name] = parent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
