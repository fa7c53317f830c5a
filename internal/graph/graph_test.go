package graph

import (
	stdErrors "errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func node(id string, t NodeType) Node {
	return Node{ID: id, Type: t, Data: map[string]any{DataLabel: id}}
}

func mustAddEdge(t *testing.T, g *Graph, id, src, dst string) {
	t.Helper()
	require.NoError(t, g.AddEdge(NewEdge(id, src, dst)))
}

func TestAddEdgeRejectsMissingEndpoints(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.AddNode(node("a", TypeTool)))

	err := g.AddEdge(NewEdge("e1", "a", "ghost"))
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, ErrDanglingEdge))
	assert.Empty(t, g.Edges)
}

func TestAddNodeRequiresContainerParent(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.AddNode(node("tool", TypeTool)))
	require.NoError(t, g.AddNode(node("loop", TypeLoopContainer)))

	err := g.AddNode(Node{ID: "child", Type: TypeTool, ParentID: "tool"})
	assert.True(t, stdErrors.Is(err, ErrInvalidParent))

	err = g.AddNode(Node{ID: "nested", Type: TypeLoopContainer, ParentID: "loop"})
	assert.True(t, stdErrors.Is(err, ErrInvalidParent))

	require.NoError(t, g.AddNode(Node{ID: "child", Type: TypeTool, ParentID: "loop"}))
	loop, _ := g.Node("loop")
	assert.Equal(t, 1, loop.Data[DataChildCount])

	assert.True(t, stdErrors.Is(g.AddNode(node("child", TypeTool)), ErrDuplicateNode))
}

func TestRemoveNodeReconnectsCartesian(t *testing.T) {
	g := &Graph{}
	for _, id := range []string{"a", "b", "m", "x", "y"} {
		require.NoError(t, g.AddNode(node(id, TypeTool)))
	}
	mustAddEdge(t, g, "a-m", "a", "m")
	mustAddEdge(t, g, "b-m", "b", "m")
	mustAddEdge(t, g, "m-x", "m", "x")
	mustAddEdge(t, g, "m-y", "m", "y")
	mustAddEdge(t, g, "m-a", "m", "a")
	mustAddEdge(t, g, "x-y", "x", "y")

	result, err := g.RemoveNode("m", seqIDs("re"))
	require.NoError(t, err)

	// |I| = 2, |O| = 3, one pair (a->m, m->a) is a self loop.
	assert.Len(t, result.AddedEdges, 2*3-1)
	assert.ElementsMatch(t, []string{"a-m", "b-m", "m-x", "m-y", "m-a"}, result.RemovedEdges)
	assert.Equal(t, []string{"m"}, result.RemovedNodes)

	pairs := map[string]bool{}
	for _, e := range result.AddedEdges {
		pairs[e.Source+">"+e.Target] = true
		assert.Equal(t, EdgeTypeCustom, e.Type)
		assert.NotNil(t, e.Data)
	}
	assert.Equal(t, map[string]bool{"a>x": true, "a>y": true, "b>x": true, "b>y": true, "b>a": true}, pairs)

	require.NoError(t, g.Validate())
	assert.Equal(t, "x-y", g.Edges[0].ID, "surviving edges keep their order ahead of synthesized ones")
	assert.Len(t, g.Edges, 1+5)
}

func TestRemoveNodeWithoutPassThrough(t *testing.T) {
	g := &Graph{}
	for _, id := range []string{"a", "m"} {
		require.NoError(t, g.AddNode(node(id, TypeTool)))
	}
	mustAddEdge(t, g, "a-m", "a", "m")

	result, err := g.RemoveNode("m", seqIDs("re"))
	require.NoError(t, err)
	assert.Empty(t, result.AddedEdges)
	assert.Empty(t, g.Edges)
}

func TestRemoveNodeIgnoresOwnSelfLoop(t *testing.T) {
	g := &Graph{}
	for _, id := range []string{"a", "m", "b"} {
		require.NoError(t, g.AddNode(node(id, TypeTool)))
	}
	mustAddEdge(t, g, "a-m", "a", "m")
	mustAddEdge(t, g, "m-m", "m", "m")
	mustAddEdge(t, g, "m-b", "m", "b")

	result, err := g.RemoveNode("m", seqIDs("re"))
	require.NoError(t, err)
	require.Len(t, result.AddedEdges, 1)
	assert.Equal(t, "a", result.AddedEdges[0].Source)
	assert.Equal(t, "b", result.AddedEdges[0].Target)
	require.NoError(t, g.Validate())
}

func TestRemoveContainerCascades(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.AddNode(node("outside", TypeTool)))
	require.NoError(t, g.AddNode(node("other", TypeTool)))
	require.NoError(t, g.AddNode(node("box", TypeAgentContainer)))
	require.NoError(t, g.AddNode(Node{ID: "c1", Type: TypeStart, ParentID: "box"}))
	require.NoError(t, g.AddNode(Node{ID: "c2", Type: TypeTool, ParentID: "box"}))
	mustAddEdge(t, g, "c1-c2", "c1", "c2")
	mustAddEdge(t, g, "out-c1", "outside", "c1")
	mustAddEdge(t, g, "box-out", "box", "outside")
	mustAddEdge(t, g, "keep", "outside", "other")

	result, err := g.RemoveNode("box", seqIDs("re"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"box", "c1", "c2"}, result.RemovedNodes)
	assert.ElementsMatch(t, []string{"c1-c2", "out-c1", "box-out"}, result.RemovedEdges)
	assert.Empty(t, result.AddedEdges)
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "keep", g.Edges[0].ID)
}

func TestRemoveChildRecountsParent(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.AddNode(node("loop", TypeLoopContainer)))
	require.NoError(t, g.AddNode(Node{ID: "c1", Type: TypeTool, ParentID: "loop"}))
	require.NoError(t, g.AddNode(Node{ID: "c2", Type: TypeTool, ParentID: "loop"}))

	_, err := g.RemoveNode("c1", seqIDs("re"))
	require.NoError(t, err)

	loop, _ := g.Node("loop")
	assert.Equal(t, 1, loop.Data[DataChildCount])
}

func TestRemoveUnknownNode(t *testing.T) {
	g := &Graph{}
	_, err := g.RemoveNode("nope", seqIDs("re"))
	assert.True(t, stdErrors.Is(err, ErrNodeNotFound))
}

func TestRandomEditsNeverLeaveDanglingEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := &Graph{}
	nextNode := seqIDs("n")
	nextEdge := seqIDs("e")
	types := []NodeType{TypeTool, TypeCondition, TypeAgent, TypeLoopContainer}

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(10); {
		case op < 4 || len(g.Nodes) < 2:
			n := node(nextNode(), types[rng.Intn(len(types))])
			containers := g.ContainersOf(TypeLoopContainer)
			if !n.Type.IsContainer() && len(containers) > 0 && rng.Intn(2) == 0 {
				n.ParentID = containers[rng.Intn(len(containers))].ID
			}
			require.NoError(t, g.AddNode(n))
		case op < 7:
			src := g.Nodes[rng.Intn(len(g.Nodes))].ID
			dst := g.Nodes[rng.Intn(len(g.Nodes))].ID
			require.NoError(t, g.AddEdge(NewEdge(nextEdge(), src, dst)))
		default:
			victim := g.Nodes[rng.Intn(len(g.Nodes))].ID
			_, err := g.RemoveNode(victim, nextEdge)
			require.NoError(t, err)
		}
		require.NoError(t, g.Validate(), "step %d", step)
	}
}

func TestLinearizeBFSOrder(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.AddNode(node("start", TypeStart)))
	for _, id := range []string{"b", "a", "c", "island"} {
		require.NoError(t, g.AddNode(node(id, TypeTool)))
	}
	mustAddEdge(t, g, "1", "start", "b")
	mustAddEdge(t, g, "2", "start", "a")
	mustAddEdge(t, g, "3", "a", "c")
	mustAddEdge(t, g, "4", "c", "start")

	var order []string
	for _, n := range g.Linearize() {
		order = append(order, n.ID)
	}
	assert.Equal(t, []string{"start", "a", "b", "c", "island"}, order)
}

func TestCloneIsDeep(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.AddNode(Node{ID: "a", Type: TypeTool, Data: map[string]any{"k": "v"}, Style: &Size{Width: 1}}))

	dup := g.Clone()
	dup.Nodes[0].Data["k"] = "changed"
	dup.Nodes[0].Style.Width = 99

	assert.Equal(t, "v", g.Nodes[0].Data["k"])
	assert.Equal(t, 1.0, g.Nodes[0].Style.Width)
}
