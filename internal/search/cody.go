package search

import (
	"math"

	"github.com/tgnlab/whatif/internal/events"
	"github.com/tgnlab/whatif/internal/logger"
	"github.com/tgnlab/whatif/internal/oracle"
	"github.com/tgnlab/whatif/internal/selection"
)

// CoDy is the UCT-style best-first search with exact-state memoization.
// Expansion is deterministic and exhaustive: every candidate the selection
// strategy ranks becomes a child immediately, tagged with its rank, and
// unexpanded children are scored in ascending rank order. A cross-branch
// cache keyed by the exclusion-set hash guarantees each distinct exclusion
// set is oracle-scored at most once per explanation, regardless of how many
// tree paths reach it.
type CoDy struct {
	core
}

// NewCoDy builds a CoDy explainer.
func NewCoDy(o oracle.Oracle, subgraphs events.SubgraphGenerator, cfg Config) *CoDy {
	return &CoDy{core: core{oracle: o, subgraphs: subgraphs, cfg: cfg}}
}

// Explain runs the memoized UCT search for one event.
func (c *CoDy) Explain(explainedEventID int) (*Example, error) {
	original, strategy, pool, err := c.initExplanation(explainedEventID)
	if err != nil {
		return nil, err
	}
	minEventID := pool.MinEventID() - 1

	// knownStates memoizes oracle predictions per exclusion-set hash. It is
	// scoped to this call and discarded with the tree.
	knownStates := make(map[string]float64)

	// The root carries the empty exclusion set, so its prediction is the
	// original prediction and no oracle call is needed. Expanding it through
	// the normal path backpropagates once, which seeds the visit counts the
	// exploration bonus divides by.
	root := NewRoot(explainedEventID, original)
	c.expandNode(explainedEventID, root, original, strategy, knownStates)
	if root.IsLeaf() {
		c.finishExplanation()
		return nil, selection.ErrEmptyCandidatePool
	}

	var best *Node
	maxDepth := math.MaxInt

	for step := 1; step <= c.cfg.MaxSteps; {
		node := root.SelectNextLeaf(maxDepth)
		if !node.Expanded {
			if prediction, ok := knownStates[node.Hash()]; ok {
				// Same exclusion set reached via a different path: reuse the
				// cached prediction and keep searching without spending an
				// oracle call.
				c.expandNode(explainedEventID, node, prediction, strategy, knownStates)
				continue
			}
		}
		if node.Depth > maxDepth {
			// Defensive re-check; selection should never hand out nodes
			// beyond the bound.
			logger.Warn().
				Int("depth", node.Depth).
				Int("max_depth", maxDepth).
				Msg("Selected node beyond depth bound, reselecting")
			node.Backpropagate()
			continue
		}
		if node == root {
			logger.Debug().Msg("Search tree fully expanded, concluding search")
			break
		}
		if node.Expanded {
			// Exhausted or depth-capped branch; selection marked it, pick
			// again.
			node.Backpropagate()
			continue
		}

		prediction, err := c.scoreExclusion(explainedEventID, node.ExclusionSet(), minEventID, oracle.ExplainedEventMemory)
		if err != nil {
			c.finishExplanation()
			return nil, err
		}
		c.expandNode(explainedEventID, node, prediction, strategy, knownStates)

		if node.IsCounterfactual {
			if best == nil ||
				node.Depth < best.Depth ||
				(node.Depth == best.Depth && node.ExploitationScore > best.ExploitationScore) {
				best = node
			}
			maxDepth = best.Depth
			logger.Debug().
				Int("depth", best.Depth).
				Float64("prediction", best.Prediction).
				Msg("Counterfactual found")
		}
		step++
	}

	if best == nil {
		best = bestNonCounterfactual(root)
	}
	c.finishExplanation()
	return best.ToExample(), nil
}

// expandNode stores the prediction on the node, records it in the
// memoization cache, and, unless the node flipped, attaches one child per
// ranked remaining candidate. Children whose exclusion set is already known
// are expanded recursively from the cache. A node that stays childless has
// excluded every remaining candidate; it is closed off so selection can
// conclude the search once the whole tree is in that state.
func (c *CoDy) expandNode(explainedEventID int, node *Node, prediction float64, strategy selection.Strategy, knownStates map[string]float64) {
	node.Expand(prediction)
	node.Backpropagate()
	knownStates[node.Hash()] = prediction
	if node.IsCounterfactual {
		return
	}
	c.attachChildren(explainedEventID, node, strategy, knownStates)
	if node.IsLeaf() && node.Parent != nil {
		node.MaxExpansionReached = true
		node.Parent.checkMaxExpanded()
	}
}

// attachChildren creates one unexpanded child per ranked candidate and
// resolves any child already covered by the memoization cache.
func (c *CoDy) attachChildren(explainedEventID int, node *Node, strategy selection.Strategy, knownStates map[string]float64) {
	ranked := strategy.Rank(explainedEventID, node.ExclusionSet(), nil)
	for rank, candidate := range ranked {
		child := node.NewChild(candidate, rank)
		if cached, ok := knownStates[child.Hash()]; ok {
			c.expandNode(explainedEventID, child, cached, strategy, knownStates)
		}
	}
}
