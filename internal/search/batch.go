package search

import (
	"math"

	"github.com/tgnlab/whatif/internal/events"
	"github.com/tgnlab/whatif/internal/logger"
	"github.com/tgnlab/whatif/internal/oracle"
	"github.com/tgnlab/whatif/internal/selection"
)

// BatchSearch is a best-first tree search over exclusion sets. Each step
// selects a leaf, samples up to SampleSize candidates from the selection
// strategy, and oracle-scores each sample as a new child. Once a flip is
// found the depth bound is clamped to its depth, pruning deeper branches,
// and the flip's event set is fed back to the selection strategy so dead
// combinations are not resampled.
type BatchSearch struct {
	core
}

// NewBatchSearch builds a batch search explainer.
func NewBatchSearch(o oracle.Oracle, subgraphs events.SubgraphGenerator, cfg Config) *BatchSearch {
	return &BatchSearch{core: core{oracle: o, subgraphs: subgraphs, cfg: cfg}}
}

// Explain runs the batch search for one event.
func (b *BatchSearch) Explain(explainedEventID int) (*Example, error) {
	original, strategy, pool, err := b.initExplanation(explainedEventID)
	if err != nil {
		return nil, err
	}
	minEventID := pool.MinEventID() - 1

	root := NewRoot(explainedEventID, original)
	var best *Node
	var knownFlips [][]int
	maxDepth := math.MaxInt

	for step := 1; step <= b.cfg.MaxSteps; step++ {
		node := root.SelectNextLeaf(maxDepth)
		node.Backpropagate()
		if node.Depth >= maxDepth {
			// Pruned by the depth clamp; the step is still spent.
			continue
		}
		if node == root && !root.IsLeaf() {
			logger.Debug().Msg("Search tree fully expanded, concluding search")
			break
		}

		flips, err := b.expandLeaf(explainedEventID, node, strategy, knownFlips, minEventID)
		if err != nil {
			b.finishExplanation()
			return nil, err
		}
		if len(flips) > 0 {
			best = selectBestCounterfactual(best, flips)
			maxDepth = best.Depth
			for _, flip := range flips {
				knownFlips = append(knownFlips, flip.ToExample().EventIDs)
			}
			logger.Debug().
				Int("depth", best.Depth).
				Float64("prediction", best.Prediction).
				Msg("Counterfactual found")
		}
	}

	if best == nil {
		best = bestNonCounterfactual(root)
	}
	b.finishExplanation()
	return best.ToExample(), nil
}

// expandLeaf scores one sampled candidate per new child, all starting from
// the same pre-branch oracle checkpoint.
func (b *BatchSearch) expandLeaf(explainedEventID int, node *Node, strategy selection.Strategy, knownFlips [][]int, minEventID int) ([]*Node, error) {
	if !node.IsLeaf() {
		return nil, nil
	}
	excluded := node.ExclusionSet()
	sampled, err := strategy.Sample(explainedEventID, excluded, b.cfg.SampleSize, knownFlips)
	if err != nil {
		return nil, err
	}
	if len(sampled) == 0 {
		// Nothing left to exclude below this node: close it off so later
		// steps do not re-select a dead leaf.
		if node.Parent != nil {
			node.MaxExpansionReached = true
			node.Parent.checkMaxExpanded()
		}
		return nil, nil
	}
	logger.Debug().
		Int("node", node.EventID).
		Ints("excluded", excluded).
		Int("sampled", len(sampled)).
		Msg("Expanding node")

	if err := b.oracle.Initialize(minEventID, oracle.ExplainedEventMemory); err != nil {
		return nil, err
	}
	var flips []*Node
	for rank, candidate := range sampled {
		exclusionSet := append(append([]int(nil), excluded...), candidate)
		prediction, err := b.scoreExclusion(explainedEventID, exclusionSet, minEventID, oracle.IterationMemory)
		if err != nil {
			return nil, err
		}
		child := node.NewChild(candidate, rank)
		child.Expand(prediction)
		if child.IsCounterfactual {
			flips = append(flips, child)
		}
	}
	if err := b.oracle.RemoveMemoryBackup(oracle.IterationMemory); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove iteration checkpoint")
	}
	return flips, nil
}
