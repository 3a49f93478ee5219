package lats

import (
	"math"
	"sync"
)

// ActionKind records which expansion path produced a node, mirroring the
// prompt mode that generated its candidate (plus Refine, reserved for a
// future corrective-retry action).
type ActionKind string

const (
	ActionInitialize     ActionKind = "initialize"
	ActionExpandBatch    ActionKind = "expand_batch"
	ActionExpandTargeted ActionKind = "expand_targeted"
	ActionRefine         ActionKind = "refine"
)

// TreeNode is one node of the search tree: a TestState reached by a
// specific action, with the UCB1 bookkeeping MCTS needs to select among
// siblings and the aggregate statistics backpropagation maintains.
//
// A node's own mutable fields (Visits, TotalReward, Children) are guarded
// by mu so concurrent simulation of sibling subtrees cannot race; State
// itself is never mutated after the node is constructed.
type TreeNode struct {
	mu sync.Mutex

	ID       string
	Parent   *TreeNode
	State    *TestState
	Action   ActionKind
	TestBody string // the candidate test source that produced this node, "" at root

	Children    []*TreeNode
	Visits      int
	TotalReward float64
	LastReward  float64

	depth int
}

// NewRootNode builds the tree's root from the initial state.
func NewRootNode(id string, state *TestState) *TreeNode {
	return &TreeNode{ID: id, State: state, depth: 0}
}

// Depth is the number of edges from the root.
func (n *TreeNode) Depth() int { return n.depth }

// IsLeaf reports whether n has no children yet.
func (n *TreeNode) IsLeaf() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Children) == 0
}

// IsRoot reports whether n has no parent.
func (n *TreeNode) IsRoot() bool { return n.Parent == nil }

// FullyExpanded reports whether n has already produced at least one child;
// a single expansion generates all K candidates at once, so one child is
// sufficient to call the node expanded.
func (n *TreeNode) FullyExpanded() bool { return !n.IsLeaf() }

// AddChild appends a newly expanded child and returns it. The child's
// depth is derived from the parent so callers never need to track it.
func (n *TreeNode) AddChild(id string, state *TestState, action ActionKind, testBody string) *TreeNode {
	child := &TreeNode{
		ID:       id,
		Parent:   n,
		State:    state,
		Action:   action,
		TestBody: testBody,
		depth:    n.depth + 1,
	}
	n.mu.Lock()
	n.Children = append(n.Children, child)
	n.mu.Unlock()
	return child
}

// ChildrenSnapshot returns a stable copy of the child slice for iteration
// without holding the lock across caller logic.
func (n *TreeNode) ChildrenSnapshot() []*TreeNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*TreeNode, len(n.Children))
	copy(out, n.Children)
	return out
}

// Update applies one backpropagated reward observation: increments the
// visit count and accumulates reward. Safe for concurrent callers.
func (n *TreeNode) Update(reward float64) {
	n.mu.Lock()
	n.Visits++
	n.TotalReward += reward
	n.LastReward = reward
	n.mu.Unlock()
}

// Snapshot returns visits and total reward under lock, for UCB1 and reporting.
func (n *TreeNode) Snapshot() (visits int, totalReward float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Visits, n.TotalReward
}

// MeanReward is TotalReward / Visits, or 0 for an unvisited node.
func (n *TreeNode) MeanReward() float64 {
	visits, total := n.Snapshot()
	if visits == 0 {
		return 0
	}
	return total / float64(visits)
}

// UCB1 computes the upper confidence bound score of n: +Inf if n has never
// been visited (forcing selection to try every child once), pure
// exploitation if the parent has no recorded visits, otherwise exploitation
// plus the UCB1 exploration term against parentVisits.
func (n *TreeNode) UCB1(parentVisits int, explorationCoef float64) float64 {
	visits, total := n.Snapshot()
	if visits == 0 {
		return math.Inf(1)
	}
	exploitation := total / float64(visits)
	if parentVisits == 0 {
		return exploitation
	}
	exploration := explorationCoef * math.Sqrt(math.Log(float64(parentVisits))/float64(visits))
	return exploitation + exploration
}

// BestChild selects among n's children. With explorationCoef == 0 it returns
// the child with the highest mean reward (pure exploitation, used to report
// the final best subtree); otherwise it maximizes UCB1. Ties are broken by
// insertion order (the first child encountered keeps priority).
func (n *TreeNode) BestChild(explorationCoef float64) *TreeNode {
	children := n.ChildrenSnapshot()
	if len(children) == 0 {
		return nil
	}
	if explorationCoef == 0 {
		return n.MostRewardingChild()
	}
	parentVisits, _ := n.Snapshot()
	var best *TreeNode
	bestScore := math.Inf(-1)
	for _, c := range children {
		score := c.UCB1(parentVisits, explorationCoef)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

// MostRewardingChild selects the child with the highest mean reward,
// ignoring exploration; BestChild delegates to it when explorationCoef is 0.
// The controller's best-node rule does not use it: that rule compares
// coverage and suite size.
func (n *TreeNode) MostRewardingChild() *TreeNode {
	children := n.ChildrenSnapshot()
	if len(children) == 0 {
		return nil
	}
	var best *TreeNode
	bestMean := math.Inf(-1)
	for _, c := range children {
		mean := c.MeanReward()
		if mean > bestMean {
			bestMean = mean
			best = c
		}
	}
	return best
}

// PathFromRoot returns the chain of nodes from the root to n inclusive.
func (n *TreeNode) PathFromRoot() []*TreeNode {
	var path []*TreeNode
	for cur := n; cur != nil; cur = cur.Parent {
		path = append([]*TreeNode{cur}, path...)
	}
	return path
}

// Walk invokes visit on n and every descendant, depth-first.
func (n *TreeNode) Walk(visit func(*TreeNode)) {
	visit(n)
	for _, c := range n.ChildrenSnapshot() {
		c.Walk(visit)
	}
}

// CountNodes returns the size of the subtree rooted at n.
func (n *TreeNode) CountNodes() int {
	count := 0
	n.Walk(func(*TreeNode) { count++ })
	return count
}
