package router

import (
	"slices"
	"strings"
)

// cmdNode is one word of a command route. Inner nodes without cmd only
// group subcommands.
type cmdNode struct {
	name string
	cmd  *Command
	subs map[string]*cmdNode
}

func newNode(name string) *cmdNode {
	return &cmdNode{name: name, subs: make(map[string]*cmdNode)}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(route))
}

// insert creates the path for route and stores c at its leaf.
func (n *cmdNode) insert(route []string, c Command) *cmdNode {
	for _, word := range route {
		next := n.subs[word]
		if next == nil {
			next = newNode(word)
			n.subs[word] = next
		}
		n = next
	}
	n.cmd = &c
	return n
}

// lookup follows path exactly; nil when any word is missing.
func (n *cmdNode) lookup(path []string) *cmdNode {
	for _, word := range path {
		if n = n.subs[word]; n == nil {
			return nil
		}
	}
	return n
}

// descend starts at the top-level word and consumes leading args that name
// subcommands. Flags ("-x") stop the walk.
func (n *cmdNode) descend(word string, args []string) (node *cmdNode, path, rest []string) {
	node = n.subs[word]
	if node == nil {
		return nil, nil, args
	}
	path, rest = []string{word}, args
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		next := node.subs[strings.ToLower(rest[0])]
		if next == nil {
			break
		}
		node, path, rest = next, append(path, next.name), rest[1:]
	}
	return node, path, rest
}

func (n *cmdNode) children() []*cmdNode {
	out := make([]*cmdNode, 0, len(n.subs))
	for _, c := range n.subs {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *cmdNode) int { return strings.Compare(a.name, b.name) })
	return out
}
