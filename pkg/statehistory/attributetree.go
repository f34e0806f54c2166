package statehistory

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// attrNode is one path component of the attribute-path trie: the way a
// filesystem path maps to an inode, a `/`-separated attribute path maps
// to a quark. Children are kept sorted by name so lookups and inserts
// can binary-search into them, the same structural trick the teacher's
// file-tree path walker uses to locate or create a path's parent
// directory node before touching the leaf.
type attrNode struct {
	name     string
	quark    int32 // -1 if this path component was never itself assigned
	children []*attrNode
}

// AttributeTree maps attribute paths to quarks and back, assigning each
// newly seen path the next sequential quark. Insert is idempotent: a
// path already mapped returns its existing quark rather than minting a
// new one.
type AttributeTree struct {
	mu       sync.RWMutex
	root     *attrNode
	byQuark  []string // index == quark
	nextQuark int32
}

// NewAttributeTree returns an empty trie.
func NewAttributeTree() *AttributeTree {
	return &AttributeTree{root: &attrNode{quark: -1}}
}

// Insert assigns path a quark, creating intermediate path components as
// needed, and returns it. Calling Insert again with the same path
// returns the same quark.
func (t *AttributeTree) Insert(path string) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, part := range splitPath(path) {
		node = mapInChild(node, part)
	}
	if node.quark < 0 {
		node.quark = t.nextQuark
		t.nextQuark++
		t.byQuark = append(t.byQuark, path)
	}
	return node.quark
}

// mapInChild finds or creates the child named name under node, keeping
// node.children sorted by name via binary search — the same
// find-insertion-point-by-name technique the teacher's file tree uses
// to map a path component into a directory's children.
func mapInChild(node *attrNode, name string) *attrNode {
	i := sort.Search(len(node.children), func(i int) bool {
		return node.children[i].name >= name
	})
	if i < len(node.children) && node.children[i].name == name {
		return node.children[i]
	}
	child := &attrNode{name: name, quark: -1}
	node.children = append(node.children, nil)
	copy(node.children[i+1:], node.children[i:])
	node.children[i] = child
	return child
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Lookup looks up a path without creating it, reporting whether it has
// been assigned a quark.
func (t *AttributeTree) Lookup(path string) (int32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	for _, part := range splitPath(path) {
		i := sort.Search(len(node.children), func(i int) bool {
			return node.children[i].name >= part
		})
		if i >= len(node.children) || node.children[i].name != part {
			return 0, false
		}
		node = node.children[i]
	}
	if node.quark < 0 {
		return 0, false
	}
	return node.quark, true
}

// Path returns the attribute path assigned to quark, if any.
func (t *AttributeTree) Path(quark int32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if quark < 0 || int(quark) >= len(t.byQuark) {
		return "", false
	}
	return t.byQuark[quark], true
}

// MarshalBinary serializes the trie as a flat list of quark-ordered
// paths: the opaque blob the storage engine appends after its last
// node block and treats as unstructured bytes.
func (t *AttributeTree) MarshalBinary() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(t.byQuark)))
	for _, p := range t.byQuark {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p)))
		buf = append(buf, []byte(p)...)
	}
	return buf, nil
}

// ErrCorruptAttrTree is returned when a blob does not decode as a valid
// attribute tree.
var ErrCorruptAttrTree = fmt.Errorf("statehistory: corrupt attribute tree blob")

// UnmarshalAttributeTree rebuilds an AttributeTree from a blob produced
// by MarshalBinary.
func UnmarshalAttributeTree(data []byte) (*AttributeTree, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated count", ErrCorruptAttrTree)
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	t := NewAttributeTree()
	for i := 0; i < count; i++ {
		if len(data) < off+4 {
			return nil, fmt.Errorf("%w: truncated path length", ErrCorruptAttrTree)
		}
		n := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data) < off+n {
			return nil, fmt.Errorf("%w: truncated path bytes", ErrCorruptAttrTree)
		}
		path := string(data[off : off+n])
		off += n
		if got := t.Insert(path); int(got) != i {
			return nil, fmt.Errorf("%w: path %q assigned quark %d, expected %d", ErrCorruptAttrTree, path, got, i)
		}
	}
	return t, nil
}
