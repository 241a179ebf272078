package models

import "fmt"

// EntityGraph is the static declaration of ownership edges between entity
// types. It is configuration data: validated once at construction and
// never mutated afterwards. Ownership must form a DAG (in practice a tree
// rooted at User).
type EntityGraph struct {
	parentOf   map[EntityType]EntityType
	childrenOf map[EntityType][]EntityType
	order      []EntityType
}

// Edge is one ownership relationship, read "Child is owned by Parent".
type Edge struct {
	Parent EntityType
	Child  EntityType
}

// NewEntityGraph builds a graph from child→parent edges. The order slice
// fixes iteration order for types sharing a parent; it must list every
// type appearing in edges. Construction fails on cycles or unknown types.
func NewEntityGraph(edges map[EntityType]EntityType, order []EntityType) (*EntityGraph, error) {
	g := &EntityGraph{
		parentOf:   make(map[EntityType]EntityType, len(edges)),
		childrenOf: make(map[EntityType][]EntityType),
		order:      order,
	}

	seen := make(map[EntityType]bool, len(order))
	for _, t := range order {
		seen[t] = true
	}
	for child, parent := range edges {
		if !seen[child] || !seen[parent] {
			return nil, fmt.Errorf("entity graph references unknown type in edge %s -> %s", child, parent)
		}
		g.parentOf[child] = parent
	}
	// Children lists follow the declared order so cascades apply
	// deterministically.
	for _, child := range order {
		parent, ok := g.parentOf[child]
		if !ok {
			continue
		}
		g.childrenOf[parent] = append(g.childrenOf[parent], child)
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// DefaultGraph returns the platform's ownership tree:
// User → Experience → {Prompt, Comment, Reaction}, Prompt → PromptRating.
// Authoring references (comment.user_id etc.) are deliberately absent.
func DefaultGraph() *EntityGraph {
	g, err := NewEntityGraph(map[EntityType]EntityType{
		EntityExperience:   EntityUser,
		EntityPrompt:       EntityExperience,
		EntityComment:      EntityExperience,
		EntityReaction:     EntityExperience,
		EntityPromptRating: EntityPrompt,
	}, AllEntityTypes)
	if err != nil {
		// The default edges are compile-time constants; a cycle here is a
		// programming error.
		panic(fmt.Sprintf("invalid default entity graph: %v", err))
	}
	return g
}

// validateAcyclic rejects cyclic ownership by walking each type's parent
// chain; a chain longer than the type count implies a cycle.
func (g *EntityGraph) validateAcyclic() error {
	for _, start := range g.order {
		cur := start
		for i := 0; i <= len(g.order); i++ {
			parent, ok := g.parentOf[cur]
			if !ok {
				break
			}
			if parent == start {
				return fmt.Errorf("entity graph contains ownership cycle through %s", start)
			}
			cur = parent
			if i == len(g.order) {
				return fmt.Errorf("entity graph contains ownership cycle through %s", start)
			}
		}
	}
	return nil
}

// Types returns every entity type in declaration (top-down) order.
func (g *EntityGraph) Types() []EntityType {
	out := make([]EntityType, len(g.order))
	copy(out, g.order)
	return out
}

// Parent returns the owning type of t, or false for root types.
func (g *EntityGraph) Parent(t EntityType) (EntityType, bool) {
	p, ok := g.parentOf[t]
	return p, ok
}

// Children returns the types directly owned by t, in declaration order.
func (g *EntityGraph) Children(t EntityType) []EntityType {
	return g.childrenOf[t]
}

// Descendants returns every (parent, child) ownership edge reachable from
// root in breadth-first order. The cascade engine applies operations in
// exactly this order so each level's parent set is complete before its
// children are touched.
func (g *EntityGraph) Descendants(root EntityType) []Edge {
	var edges []Edge
	frontier := []EntityType{root}
	for len(frontier) > 0 {
		var next []EntityType
		for _, parent := range frontier {
			for _, child := range g.childrenOf[parent] {
				edges = append(edges, Edge{Parent: parent, Child: child})
				next = append(next, child)
			}
		}
		frontier = next
	}
	return edges
}

// PurgeOrder returns the types reachable from root (root included, last)
// in leaves-first order, respecting storage-level reference constraints
// when deleting.
func (g *EntityGraph) PurgeOrder(root EntityType) []EntityType {
	types := []EntityType{root}
	for _, e := range g.Descendants(root) {
		types = append(types, e.Child)
	}
	// Reverse the breadth-first order: deepest level first.
	out := make([]EntityType, len(types))
	for i, t := range types {
		out[len(types)-1-i] = t
	}
	return out
}
