package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGraphShape(t *testing.T) {
	g := DefaultGraph()

	_, ok := g.Parent(EntityUser)
	assert.False(t, ok, "user is the root")

	p, ok := g.Parent(EntityExperience)
	require.True(t, ok)
	assert.Equal(t, EntityUser, p)

	p, ok = g.Parent(EntityPromptRating)
	require.True(t, ok)
	assert.Equal(t, EntityPrompt, p)

	assert.Equal(t, []EntityType{EntityPrompt, EntityComment, EntityReaction}, g.Children(EntityExperience))
	assert.Empty(t, g.Children(EntityReaction))
}

func TestDescendantsBreadthFirst(t *testing.T) {
	g := DefaultGraph()

	edges := g.Descendants(EntityUser)
	got := make([]EntityType, len(edges))
	for i, e := range edges {
		got[i] = e.Child
	}
	assert.Equal(t, []EntityType{
		EntityExperience,
		EntityPrompt,
		EntityComment,
		EntityReaction,
		EntityPromptRating,
	}, got)

	assert.Equal(t, []Edge{{Parent: EntityPrompt, Child: EntityPromptRating}}, g.Descendants(EntityPrompt))
	assert.Empty(t, g.Descendants(EntityComment))
}

func TestPurgeOrderLeavesFirst(t *testing.T) {
	g := DefaultGraph()

	order := g.PurgeOrder(EntityUser)
	require.Len(t, order, 6)
	assert.Equal(t, EntityPromptRating, order[0], "deepest level deletes first")
	assert.Equal(t, EntityUser, order[len(order)-1], "root deletes last")

	// Every child must come before its parent.
	pos := make(map[EntityType]int, len(order))
	for i, et := range order {
		pos[et] = i
	}
	for _, e := range g.Descendants(EntityUser) {
		assert.Less(t, pos[e.Child], pos[e.Parent], "%s must delete before %s", e.Child, e.Parent)
	}

	assert.Equal(t, []EntityType{EntityPromptRating, EntityPrompt}, g.PurgeOrder(EntityPrompt))
}

func TestNewEntityGraphRejectsCycle(t *testing.T) {
	_, err := NewEntityGraph(map[EntityType]EntityType{
		EntityUser:       EntityExperience,
		EntityExperience: EntityUser,
	}, []EntityType{EntityUser, EntityExperience})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestNewEntityGraphRejectsUnknownType(t *testing.T) {
	_, err := NewEntityGraph(map[EntityType]EntityType{
		EntityExperience: EntityType("mystery"),
	}, []EntityType{EntityExperience})
	require.Error(t, err)
}

func TestTypesReturnsCopy(t *testing.T) {
	g := DefaultGraph()
	types := g.Types()
	types[0] = EntityType("mutated")
	assert.Equal(t, EntityUser, g.Types()[0])
}
