package dag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/distforge/internal/recipe"
)

func buildDiamond(t *testing.T) *Graph {
	t.Helper()
	reg := testRegistry(t,
		&recipe.Recipe{Name: "a"},
		&recipe.Recipe{Name: "b", Deps: []string{"a"}},
		&recipe.Recipe{Name: "c", Deps: []string{"a"}},
		&recipe.Recipe{Name: "d", Deps: []string{"b", "c"}},
	)
	order, err := Resolve(context.Background(), reg, nil, false)
	require.NoError(t, err)

	g, err := Build(reg, order, false)
	require.NoError(t, err)
	return g
}

func TestBuild_Counters(t *testing.T) {
	g := buildDiamond(t)
	require.Len(t, g.Nodes, 4)

	assert.Equal(t, int32(0), g.Nodes["a"].DepCount())
	assert.Equal(t, int32(1), g.Nodes["b"].DepCount())
	assert.Equal(t, int32(1), g.Nodes["c"].DepCount())
	assert.Equal(t, int32(2), g.Nodes["d"].DepCount())

	assert.Contains(t, g.Nodes["a"].Dependents, "b")
	assert.Contains(t, g.Nodes["a"].Dependents, "c")
	assert.Contains(t, g.Nodes["d"].Deps, "b")
}

func TestGraph_Roots(t *testing.T) {
	g := buildDiamond(t)
	roots := g.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "a", roots[0].Name)
}

func TestNode_StatusTransitions(t *testing.T) {
	g := buildDiamond(t)
	n := g.Nodes["a"]

	assert.Equal(t, StatusPending, n.Status())
	assert.False(t, n.Status().Terminal())

	n.SetStatus(StatusRunning)
	assert.Equal(t, StatusRunning, n.Status())

	n.SetStatus(StatusSucceeded)
	assert.True(t, n.Status().Terminal())
}

func TestNode_SkipOnce(t *testing.T) {
	g := buildDiamond(t)
	n := g.Nodes["d"]

	var wg sync.WaitGroup
	wg.Add(1)

	reason := errors.New("dependency \"b\" failed")
	assert.True(t, n.Skip(reason, &wg), "first skip performs the accounting")
	assert.False(t, n.Skip(errors.New("other"), &wg), "second skip is a no-op")

	assert.Equal(t, StatusSkipped, n.Status())
	assert.Equal(t, reason, n.Err)
	wg.Wait() // Done was called exactly once.
}
