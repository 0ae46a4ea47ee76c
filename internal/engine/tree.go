package engine

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
)

// BuildForest assembles a forest from a flat tag list in two passes:
// index every tag by id, then attach each node to its parent. Tags whose
// parent is missing (should not happen with referential integrity) are
// promoted to roots rather than dropped. Roots and children are sorted by
// case-insensitive name.
func BuildForest(tags []*models.Tag, usageCounts map[uuid.UUID]int) []*models.TagNode {
	nodes := make(map[uuid.UUID]*models.TagNode, len(tags))
	for _, t := range tags {
		n := &models.TagNode{Tag: *t, Children: []*models.TagNode{}}
		if usageCounts != nil {
			c := usageCounts[t.ID]
			n.UsageCount = &c
		}
		nodes[t.ID] = n
	}

	var roots []*models.TagNode
	for _, t := range tags {
		n := nodes[t.ID]
		if t.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*t.ParentID]
		if !ok {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return roots
}

func sortNodes(nodes []*models.TagNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
}

// wouldCycle walks upward from newParentID through parent pointers and
// reports whether tagID appears on the path. The walk is bounded by tree
// depth; a depth guard protects against corrupted parent chains.
func wouldCycle(tagID, newParentID uuid.UUID, parents map[uuid.UUID]*uuid.UUID) bool {
	const maxDepth = 10000
	current := &newParentID
	for depth := 0; current != nil && depth < maxDepth; depth++ {
		if *current == tagID {
			return true
		}
		current = parents[*current]
	}
	return current != nil
}

// collectDescendants returns every tag id reachable downward from rootID,
// excluding rootID itself, in breadth-first order.
func collectDescendants(rootID uuid.UUID, tags []*models.Tag) []uuid.UUID {
	childrenOf := make(map[uuid.UUID][]uuid.UUID, len(tags))
	for _, t := range tags {
		if t.ParentID != nil {
			childrenOf[*t.ParentID] = append(childrenOf[*t.ParentID], t.ID)
		}
	}

	var out []uuid.UUID
	frontier := []uuid.UUID{rootID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range childrenOf[next] {
			out = append(out, child)
			frontier = append(frontier, child)
		}
	}
	return out
}
