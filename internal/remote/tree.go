package remote

// Helpers for editing decoded JSON trees (map[string]any / []any leaves).

func treeGet(node any, segs []string) any {
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[s]
		if !ok {
			return nil
		}
	}
	return node
}

// treeSet stores value at segs under root, replacing any non-object node on
// the way. A nil value removes the entry.
func treeSet(root map[string]any, segs []string, value any) {
	if value == nil {
		treeRemove(root, segs)
		return
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[s] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = value
}

// treeRemove deletes segs under node and prunes parents left empty. It
// reports whether node itself is now empty.
func treeRemove(node map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(node, segs[0])
		return len(node) == 0
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return len(node) == 0
	}
	if treeRemove(child, segs[1:]) {
		delete(node, segs[0])
	}
	return len(node) == 0
}

// overlaps reports whether one path is a prefix of the other.
func overlaps(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
