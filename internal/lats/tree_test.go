package lats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot() *TreeNode {
	state := NewRootState("func F() bool", "pkg/f.go", "", 0.95, sampleConditions(), nil)
	return NewRootNode("root", state)
}

func TestNewRootNodeHasZeroDepth(t *testing.T) {
	root := newTestRoot()
	assert.Equal(t, 0, root.Depth())
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsLeaf())
	assert.False(t, root.FullyExpanded())
}

func TestAddChildDerivesDepthFromParent(t *testing.T) {
	root := newTestRoot()
	child := root.AddChild("n1", root.State, ActionExpandBatch, "func TestX(t *testing.T) {}")
	assert.Equal(t, 1, child.Depth())
	assert.False(t, root.IsLeaf())
	assert.True(t, root.FullyExpanded())
	assert.False(t, child.IsRoot())

	grandchild := child.AddChild("n2", child.State, ActionExpandBatch, "")
	assert.Equal(t, 2, grandchild.Depth())
}

func TestUpdateAccumulatesVisitsAndReward(t *testing.T) {
	node := newTestRoot()
	node.Update(4)
	node.Update(-1)

	visits, total := node.Snapshot()
	assert.Equal(t, 2, visits)
	assert.InDelta(t, 3, total, 1e-9)
	assert.InDelta(t, 1.5, node.MeanReward(), 1e-9)
}

func TestUnvisitedNodeHasInfiniteUCB1(t *testing.T) {
	node := newTestRoot()
	assert.True(t, math.IsInf(node.UCB1(10, 1.414), 1))
}

func TestUCB1PureExploitationWhenParentUnvisited(t *testing.T) {
	node := newTestRoot()
	node.Update(2)
	assert.InDelta(t, 2, node.UCB1(0, 1.414), 1e-9)
}

func TestUCB1AddsExplorationTerm(t *testing.T) {
	node := newTestRoot()
	node.Update(2)
	withExploration := node.UCB1(10, 1.414)
	assert.Greater(t, withExploration, 2.0)
}

func TestBestChildPureExploitationIgnoresUnvisitedBonus(t *testing.T) {
	root := newTestRoot()
	low := root.AddChild("low", root.State, ActionExpandBatch, "")
	high := root.AddChild("high", root.State, ActionExpandBatch, "")
	root.AddChild("unvisited", root.State, ActionExpandBatch, "")
	low.Update(1)
	high.Update(5)

	best := root.BestChild(0)
	assert.Same(t, high, best)
}

func TestBestChildUCB1PrefersUnvisitedChild(t *testing.T) {
	root := newTestRoot()
	visited := root.AddChild("visited", root.State, ActionExpandBatch, "")
	unvisited := root.AddChild("unvisited", root.State, ActionExpandBatch, "")
	visited.Update(10)
	root.Update(1) // give the parent a visit count so exploration terms are finite for visited children

	best := root.BestChild(1.414)
	assert.Same(t, unvisited, best)
}

func TestMostRewardingChildIgnoresExploration(t *testing.T) {
	root := newTestRoot()
	manyVisitsLowReward := root.AddChild("a", root.State, ActionExpandBatch, "")
	fewVisitsHighReward := root.AddChild("b", root.State, ActionExpandBatch, "")
	for i := 0; i < 100; i++ {
		manyVisitsLowReward.Update(0.1)
	}
	fewVisitsHighReward.Update(5)

	best := root.MostRewardingChild()
	assert.Same(t, fewVisitsHighReward, best)
}

func TestPathFromRootIncludesRootAndSelf(t *testing.T) {
	root := newTestRoot()
	child := root.AddChild("n1", root.State, ActionExpandBatch, "")
	grandchild := child.AddChild("n2", child.State, ActionExpandBatch, "")

	path := grandchild.PathFromRoot()
	require.Len(t, path, 3)
	assert.Same(t, root, path[0])
	assert.Same(t, child, path[1])
	assert.Same(t, grandchild, path[2])
}

func TestCountNodesCountsWholeSubtree(t *testing.T) {
	root := newTestRoot()
	a := root.AddChild("a", root.State, ActionExpandBatch, "")
	root.AddChild("b", root.State, ActionExpandBatch, "")
	a.AddChild("c", root.State, ActionExpandBatch, "")

	assert.Equal(t, 4, root.CountNodes())
}

func TestBestChildOnLeafReturnsNil(t *testing.T) {
	root := newTestRoot()
	assert.Nil(t, root.BestChild(1.414))
	assert.Nil(t, root.MostRewardingChild())
}
