package location

import "kazeguide/pkg/model"

// trieNode indexes locations by the runes of their normalized names. Every
// node holds the locations whose prefix reaches it, deduplicated by
// identity, so a prefix query is a single descent.
type trieNode struct {
	children map[rune]*trieNode
	locs     []*model.Location
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[rune]*trieNode)}
}

func (n *trieNode) insert(key string, loc *model.Location) {
	node := n
	node.addLoc(loc)
	for _, r := range key {
		child, ok := node.children[r]
		if !ok {
			child = newTrieNode()
			node.children[r] = child
		}
		child.addLoc(loc)
		node = child
	}
}

func (n *trieNode) addLoc(loc *model.Location) {
	for _, existing := range n.locs {
		if existing == loc {
			return
		}
	}
	n.locs = append(n.locs, loc)
}

// walk descends along prefix and returns the locations stored at the last
// node, or nil when the prefix is absent.
func (n *trieNode) walk(prefix string) []*model.Location {
	node := n
	for _, r := range prefix {
		child, ok := node.children[r]
		if !ok {
			return nil
		}
		node = child
	}
	return node.locs
}
