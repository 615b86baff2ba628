package ipc

import (
	"log/slog"
	"sort"
	"strings"
)

// Delimiter separates the segments of a channel name.
const Delimiter = ":"

// Tree is the namespace tree of registered channels. Interior nodes are
// Trees and leaves are the boolean true, so it marshals to the plain JSON
// shape the UI bridge consumes: {"a":{"b":true}}.
type Tree map[string]any

// NamespaceTree derives the tree from the current registrations.
func (r *Router) NamespaceTree() Tree {
	return BuildTree(r.Channels(), r.logger)
}

// BuildTree nests channels by their segments. A channel that would turn a
// leaf into a subtree, or a subtree into a leaf, is left out with a
// warning; the channel seen first wins.
func BuildTree(channels []string, logger *slog.Logger) Tree {
	if logger == nil {
		logger = slog.Default()
	}
	tree := Tree{}
	for _, channel := range channels {
		if !insert(tree, strings.Split(channel, Delimiter)) {
			logger.Warn("channel conflicts with an existing namespace, omitted from tree", "channel", channel)
		}
	}
	return tree
}

func insert(node Tree, parts []string) bool {
	for i, part := range parts {
		last := i == len(parts)-1
		existing, ok := node[part]
		if last {
			if ok {
				// A repeated leaf is harmless; a subtree here is a conflict.
				_, isLeaf := existing.(bool)
				return isLeaf
			}
			node[part] = true
			return true
		}
		if !ok {
			child := Tree{}
			node[part] = child
			node = child
			continue
		}
		child, isTree := existing.(Tree)
		if !isTree {
			return false
		}
		node = child
	}
	return true
}

// Leaves returns the full channel name of every leaf in t, sorted.
func (t Tree) Leaves() []string {
	var out []string
	t.walk("", func(channel string) { out = append(out, channel) })
	sort.Strings(out)
	return out
}

func (t Tree) walk(prefix string, fn func(string)) {
	for key, value := range t {
		full := key
		if prefix != "" {
			full = prefix + Delimiter + key
		}
		switch v := value.(type) {
		case Tree:
			v.walk(full, fn)
		case map[string]any:
			Tree(v).walk(full, fn)
		case bool:
			if v {
				fn(full)
			}
		}
	}
}
