// Package rnode provides the path-addressed reactive value store the flow
// engine writes step outputs into.
//
// A Tree holds nodes addressed by slash-separated paths. Each node carries
// one value and a set of watchers. Setting a node to a value equal to its
// current one (by JSON equality) is a no-op: watchers do not fire. That
// equality gate is what keeps a step that rewrites its own unchanged output
// from re-triggering itself through its own watcher, and by extension keeps
// cyclic graphs from ping-ponging at steady state.
package rnode

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// WatchFunc observes a value change on a node. old is the value before the
// change, next the value after. Watchers run synchronously on the goroutine
// that called Set, after the node's lock has been released.
type WatchFunc func(old, next interface{})

// Tree is a mutable tree of value nodes addressed by path.
//
// All methods are safe for concurrent use. Values must be
// JSON-serializable; equality and snapshots both go through
// encoding/json.
type Tree struct {
	mu   sync.RWMutex
	root *Node
}

// Node is one addressable slot in a Tree.
type Node struct {
	tree     *Tree
	parent   *Node
	name     string
	children map[string]*Node
	value    interface{}
	watchers map[int]WatchFunc
	order    []int
	nextID   int
}

// NewTree creates an empty tree with an unnamed root node.
func NewTree() *Tree {
	t := &Tree{}
	t.root = newNode(t, nil, "")
	return t
}

func newNode(t *Tree, parent *Node, name string) *Node {
	return &Node{
		tree:     t,
		parent:   parent,
		name:     name,
		children: make(map[string]*Node),
		watchers: make(map[int]WatchFunc),
	}
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// At resolves a slash-separated path from the root, creating intermediate
// nodes as needed. An empty path returns the root.
func (t *Tree) At(path string) *Node {
	return t.root.At(path)
}

// At resolves a slash-separated path relative to this node, creating
// intermediate nodes as needed. Empty segments are skipped, so "a//b" and
// "a/b" address the same node.
func (n *Node) At(path string) *Node {
	cur := n
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		cur = cur.Child(seg)
	}
	return cur
}

// Child returns the named child, creating it if absent.
func (n *Node) Child(name string) *Node {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()

	if c, ok := n.children[name]; ok {
		return c
	}
	c := newNode(n.tree, n, name)
	n.children[name] = c
	return c
}

// Path returns the node's absolute slash-separated path. The root's path
// is "".
func (n *Node) Path() string {
	if n.parent == nil {
		return ""
	}
	parent := n.parent.Path()
	if parent == "" {
		return n.name
	}
	return parent + "/" + n.name
}

// Get returns the node's current value, or nil when never set.
func (n *Node) Get() interface{} {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return n.value
}

// Set stores a new value on the node and notifies watchers.
//
// When the new value is equal to the current one under JSON equality,
// Set returns false and no watcher fires. Otherwise the value is stored,
// every watcher runs synchronously with (old, next), and Set returns true.
func (n *Node) Set(v interface{}) bool {
	n.tree.mu.Lock()
	if Equal(n.value, v) {
		n.tree.mu.Unlock()
		return false
	}
	old := n.value
	n.value = v

	// Copy watchers so they run without holding the tree lock.
	fns := make([]WatchFunc, 0, len(n.watchers))
	for _, id := range n.order {
		if fn, ok := n.watchers[id]; ok {
			fns = append(fns, fn)
		}
	}
	n.tree.mu.Unlock()

	for _, fn := range fns {
		fn(old, v)
	}
	return true
}

// Watch registers a change observer and returns an unsubscribe function.
func (n *Node) Watch(fn WatchFunc) (off func()) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.watchers[id] = fn
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.tree.mu.Lock()
			defer n.tree.mu.Unlock()
			delete(n.watchers, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Children returns the names of the node's children, sorted.
func (n *Node) Children() []string {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two values are equal under the tree's equality
// rule: both marshal to the same JSON bytes. Unmarshalable values are
// never equal to anything, including themselves.
func Equal(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
