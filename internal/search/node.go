package search

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Node is one state of the search tree: the exclusion set formed by its
// ancestor chain plus its own event. The root carries an empty exclusion set
// and the original prediction. Nodes are created unexpanded and mutated in
// place; the tree is retained until the search for one explained event
// concludes.
type Node struct {
	// EventID is the event this node additionally excludes relative to its
	// parent. For the root it is the explained event itself.
	EventID int

	Parent   *Node
	Children []*Node
	Depth    int

	// SamplingRank is the position this node's event held in the selection
	// strategy's ranking when the node was created. Lower ranks are expanded
	// first among unexpanded siblings.
	SamplingRank int

	OriginalPrediction float64
	Prediction         float64

	// Expanded is true once Prediction has been computed by an oracle call
	// (or served from the memoization cache).
	Expanded bool

	// ExploitationScore is the normalized progress of Prediction toward the
	// sign-flip boundary, in [0, inf).
	ExploitationScore float64

	// Selections counts how often search descended through this node.
	Selections int

	// IsCounterfactual is true once Prediction and OriginalPrediction have
	// opposite signs. Counterfactual nodes are terminal.
	IsCounterfactual bool

	// MaxExpansionReached is true once no descendant of this node can ever
	// be usefully expanded.
	MaxExpansionReached bool
}

// NewRoot creates the root of a search tree for an explained event. The root
// is already expanded: its prediction is the original prediction.
func NewRoot(explainedEventID int, originalPrediction float64) *Node {
	return &Node{
		EventID:            explainedEventID,
		OriginalPrediction: originalPrediction,
		Prediction:         originalPrediction,
		Expanded:           true,
		Selections:         1,
	}
}

// NewChild appends a new unexpanded child excluding eventID on top of this
// node's exclusion set.
func (n *Node) NewChild(eventID, samplingRank int) *Node {
	child := &Node{
		EventID:            eventID,
		Parent:             n,
		Depth:              n.Depth + 1,
		SamplingRank:       samplingRank,
		OriginalPrediction: n.OriginalPrediction,
		Selections:         1,
	}
	n.Children = append(n.Children, child)
	return child
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Expand stores the oracle prediction for this node's exclusion set and
// derives the node's scores. A node whose prediction flipped sign is
// terminal: it is immediately marked fully expanded and never expanded
// further.
func (n *Node) Expand(prediction float64) {
	n.Prediction = prediction
	n.Expanded = true
	n.ExploitationScore = math.Max(0, Delta(n.OriginalPrediction, prediction)/math.Abs(n.OriginalPrediction))
	if n.OriginalPrediction*prediction < 0 {
		n.IsCounterfactual = true
		n.MaxExpansionReached = true
	}
}

// ExclusionSet returns the event ids this node excludes, in node-to-root
// order. The root returns nil.
func (n *Node) ExclusionSet() []int {
	var ids []int
	for node := n; node.Parent != nil; node = node.Parent {
		ids = append(ids, node.EventID)
	}
	return ids
}

// Hash returns an order-independent identity for the node's exclusion set:
// the sorted event ids joined with '-'. Two nodes reached via different
// insertion paths but covering the same set collide on purpose, so cached
// predictions can be reused.
func (n *Node) Hash() string {
	ids := n.ExclusionSet()
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "-")
}

// uctScore balances exploitation with an exploration bonus that rewards
// under-visited children.
func (n *Node) uctScore() float64 {
	exploration := math.Sqrt2 * math.Sqrt(math.Log(float64(n.Parent.Selections))/float64(n.Selections))
	return n.ExploitationScore + exploration
}

// SelectNextLeaf descends from this node toward the next expandable leaf.
// A node at maxDepth terminates the descent there and is marked so the
// parent re-evaluates its own expandability. When nothing below this node is
// selectable anymore, selection resumes from the parent; a root returned
// from a non-leaf tree signals that the tree is exhausted.
//
// Ties on the selection score keep the first-encountered child (strict
// greater-than against an initial best score of zero), so child insertion
// order decides ties. This is deliberate: switching to >= reshapes the tree
// without changing which results are reachable.
func (n *Node) SelectNextLeaf(maxDepth int) *Node {
	if n.IsLeaf() {
		return n
	}
	if n.Depth >= maxDepth {
		n.MaxExpansionReached = true
		if n.Parent != nil {
			n.Parent.checkMaxExpanded()
		}
		return n
	}

	var candidates []*Node
	if maxDepth == n.Depth+1 {
		// Only direct children can still satisfy the depth bound: anything
		// already expanded would have to grow past it.
		for _, child := range n.Children {
			child.MaxExpansionReached = true
			if !child.Expanded {
				candidates = append(candidates, child)
			}
		}
	} else {
		for _, child := range n.Children {
			if !child.IsCounterfactual && !child.MaxExpansionReached {
				candidates = append(candidates, child)
			}
		}
	}

	var selected *Node
	bestScore := 0.0
	for _, child := range candidates {
		if score := child.uctScore(); score > bestScore {
			bestScore = score
			selected = child
		}
	}

	if selected == nil {
		// Nothing selectable below this node.
		if n.Expanded && n.Parent != nil {
			n.MaxExpansionReached = true
			n.Parent.checkMaxExpanded()
			return n.Parent.SelectNextLeaf(maxDepth)
		}
		return n
	}

	if !selected.Expanded {
		// Among competing unexpanded children, prefer the one the selection
		// strategy ranked highest.
		for _, child := range n.Children {
			if !child.Expanded && child.SamplingRank < selected.SamplingRank {
				selected = child
			}
		}
	}
	return selected.SelectNextLeaf(maxDepth)
}

// Backpropagate increments the visit counter up the chain to the root.
// Internal nodes without an own exploitation score yet inherit the average
// of their expanded children, so ancestor selection reflects descendant
// promise before the ancestor has a direct prediction.
func (n *Node) Backpropagate() {
	if !n.IsLeaf() && n.ExploitationScore == 0 {
		sum, count := 0.0, 0
		for _, child := range n.Children {
			if child.Expanded {
				sum += child.ExploitationScore
				count++
			}
		}
		if count > 0 {
			n.ExploitationScore = math.Max(0, sum/float64(count))
		}
	}
	n.Selections++
	if n.Parent != nil {
		n.Parent.Backpropagate()
	}
}

// checkMaxExpanded propagates full expansion bottom-up: a node is fully
// expanded once every child is fully expanded or counterfactual.
func (n *Node) checkMaxExpanded() {
	if n.MaxExpansionReached {
		return
	}
	for _, child := range n.Children {
		if !child.MaxExpansionReached && !child.IsCounterfactual {
			return
		}
	}
	n.MaxExpansionReached = true
	if n.Parent != nil {
		n.Parent.checkMaxExpanded()
	}
}

// ToExample reconstructs the result view for this node by walking the
// parent chain, reversing the path into commitment order.
func (n *Node) ToExample() *Example {
	var ids []int
	var importances []float64
	node := n
	for node.Parent != nil {
		ids = append(ids, node.EventID)
		importances = append(importances, Delta(n.OriginalPrediction, node.Prediction))
		node = node.Parent
	}
	reverseInts(ids)
	reverseFloats(importances)
	return &Example{
		ExplainedEventID:         node.EventID,
		OriginalPrediction:       n.OriginalPrediction,
		CounterfactualPrediction: n.Prediction,
		AchievesCounterfactual:   n.IsCounterfactual,
		EventIDs:                 ids,
		EventImportances:         importances,
	}
}

func reverseInts(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseFloats(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// selectBestCounterfactual compares freshly found counterfactual nodes
// against the current best: strictly shallower wins; at equal depth the
// higher exploitation score wins.
func selectBestCounterfactual(current *Node, found []*Node) *Node {
	if len(found) == 0 {
		return current
	}
	best := found[0]
	for _, node := range found[1:] {
		if node.Depth < best.Depth ||
			(node.Depth == best.Depth && node.ExploitationScore > best.ExploitationScore) {
			best = node
		}
	}
	if current == nil {
		return best
	}
	if best.Depth < current.Depth ||
		(best.Depth == current.Depth && best.ExploitationScore > current.ExploitationScore) {
		return best
	}
	return current
}

// bestNonCounterfactual scans the whole tree for the expanded node whose
// prediction moved furthest from the original; it is the best-effort result
// when no flip was found within budget.
func bestNonCounterfactual(root *Node) *Node {
	best := root
	queue := append([]*Node(nil), root.Children...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.Expanded &&
			Delta(node.OriginalPrediction, node.Prediction) > Delta(best.OriginalPrediction, best.Prediction) {
			best = node
		}
		queue = append(queue, node.Children...)
	}
	return best
}
