package rnode

// Export walks the tree and returns a flat map of path -> value for every
// node that has a value set. The root's own value, if any, is stored under
// the empty path.
//
// The result is JSON-serializable whenever the stored values are, making
// it suitable for embedding in a portable instance snapshot.
func (t *Tree) Export() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]interface{})
	t.root.export(out)
	return out
}

func (n *Node) export(out map[string]interface{}) {
	if n.value != nil {
		out[n.Path()] = n.value
	}
	for _, c := range n.children {
		c.export(out)
	}
}

// Export walks this node's subtree and returns a flat map of relative
// path -> value for every node with a value set. The node's own value, if
// any, is stored under the empty path.
func (n *Node) Export() map[string]interface{} {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()

	out := make(map[string]interface{})
	n.exportRel("", out)
	return out
}

func (n *Node) exportRel(prefix string, out map[string]interface{}) {
	if n.value != nil {
		out[prefix] = n.value
	}
	for name, c := range n.children {
		childPath := name
		if prefix != "" {
			childPath = prefix + "/" + name
		}
		c.exportRel(childPath, out)
	}
}

// Import applies a flat relative path -> value map under this node,
// creating nodes as needed. Values go through Set, so watchers fire for
// paths whose value actually changes.
func (n *Node) Import(values map[string]interface{}) {
	for path, v := range values {
		n.At(path).Set(v)
	}
}

// Import applies a flat path -> value map to the tree, creating nodes as
// needed. Values are applied through Set, so watchers fire for paths whose
// value actually changes. Import does not clear paths absent from the map.
func (t *Tree) Import(values map[string]interface{}) {
	for path, v := range values {
		t.At(path).Set(v)
	}
}
