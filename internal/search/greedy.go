package search

import (
	"github.com/tgnlab/whatif/internal/events"
	"github.com/tgnlab/whatif/internal/logger"
	"github.com/tgnlab/whatif/internal/oracle"
)

// Greedy commits to one exclusion path. Each iteration oracle-scores a fresh
// sample of candidates on top of the committed exclusions and keeps the
// single candidate with the largest prediction delta; it stops as soon as
// the prediction flips or no candidate improves on the current delta. Oracle
// cost is exactly one call per sampled candidate per iteration.
type Greedy struct {
	core
}

// NewGreedy builds a greedy explainer.
func NewGreedy(o oracle.Oracle, subgraphs events.SubgraphGenerator, cfg Config) *Greedy {
	return &Greedy{core: core{oracle: o, subgraphs: subgraphs, cfg: cfg}}
}

// Explain runs the greedy search for one event.
func (g *Greedy) Explain(explainedEventID int) (*Example, error) {
	original, strategy, pool, err := g.initExplanation(explainedEventID)
	if err != nil {
		return nil, err
	}
	minEventID := pool.MinEventID() - 1

	currentPrediction := original
	var committed []int
	var importances []float64
	achieved := true
	largestDelta := 0.0

	for iteration := 1; currentPrediction*original > 0; iteration++ {
		candidates, err := strategy.Sample(explainedEventID, committed, g.cfg.SampleSize, nil)
		if err != nil {
			g.finishExplanation()
			return nil, err
		}

		bestPrediction := currentPrediction
		bestEventID := 0
		if len(candidates) > 0 {
			if err := g.oracle.Initialize(minEventID, oracle.ExplainedEventMemory); err != nil {
				g.finishExplanation()
				return nil, err
			}
		}
		for _, candidate := range candidates {
			excluded := append(append([]int(nil), committed...), candidate)
			prediction, err := g.scoreExclusion(explainedEventID, excluded, minEventID, oracle.IterationMemory)
			if err != nil {
				g.finishExplanation()
				return nil, err
			}
			delta := Delta(original, prediction)
			logger.Debug().
				Int("candidate", candidate).
				Float64("prediction", prediction).
				Float64("delta", delta).
				Msg("Scored candidate")
			if delta > largestDelta {
				bestPrediction = prediction
				bestEventID = candidate
				largestDelta = delta
			}
		}
		if err := g.oracle.RemoveMemoryBackup(oracle.IterationMemory); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove iteration checkpoint")
		}

		if bestEventID == 0 {
			// No candidate improves on the current delta.
			achieved = false
			break
		}

		committed = append(committed, bestEventID)
		importances = append(importances, largestDelta)
		currentPrediction = bestPrediction
		logger.Debug().
			Int("iteration", iteration).
			Int("event", bestEventID).
			Float64("prediction", bestPrediction).
			Ints("committed", committed).
			Msg("Committed exclusion")
	}

	g.finishExplanation()
	return &Example{
		ExplainedEventID:         explainedEventID,
		OriginalPrediction:       original,
		CounterfactualPrediction: currentPrediction,
		AchievesCounterfactual:   achieved,
		EventIDs:                 committed,
		EventImportances:         importances,
	}, nil
}
