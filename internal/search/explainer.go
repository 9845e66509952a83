// Package search implements the counterfactual search engine: given an
// event to explain and an oracle that scores predictions under arbitrary
// exclusion sets, it finds a minimal set of past events whose removal flips
// the oracle's decision.
package search

import (
	"fmt"

	"github.com/tgnlab/whatif/internal/events"
	"github.com/tgnlab/whatif/internal/logger"
	"github.com/tgnlab/whatif/internal/oracle"
	"github.com/tgnlab/whatif/internal/selection"
)

// Explainer produces one best-effort counterfactual example per call. All
// implementations are single-threaded: oracle calls are the only suspension
// points and nodes are expanded strictly in selection order.
type Explainer interface {
	Explain(explainedEventID int) (*Example, error)
}

// Config carries the knobs shared by all search strategies.
type Config struct {
	// CandidatesSize bounds the candidate pool requested from the subgraph
	// generator.
	CandidatesSize int
	// SampleSize bounds how many candidates are oracle-scored per
	// iteration (greedy, batch search).
	SampleSize int
	// MaxSteps bounds the number of search iterations for the tree
	// strategies.
	MaxSteps int
	// Selection configures the candidate selection strategy.
	Selection selection.Params
}

// DefaultConfig mirrors the defaults the search was tuned with.
func DefaultConfig() Config {
	return Config{
		CandidatesSize: 75,
		SampleSize:     10,
		MaxSteps:       50,
		Selection:      selection.Params{Kind: selection.Recent},
	}
}

// core bundles the collaborators every strategy needs.
type core struct {
	oracle    oracle.Oracle
	subgraphs events.SubgraphGenerator
	cfg       Config
}

// initExplanation resets the oracle, obtains the candidate pool, computes
// the original prediction for the explained event, and wraps the pool in the
// configured selection strategy.
func (c *core) initExplanation(explainedEventID int) (float64, selection.Strategy, *events.Pool, error) {
	pool, err := c.subgraphs.CandidatePool(explainedEventID, c.cfg.CandidatesSize)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("candidate pool for event %d: %w", explainedEventID, err)
	}

	if err := c.oracle.ResetModel(); err != nil {
		return 0, nil, nil, fmt.Errorf("reset model: %w", err)
	}
	// One less than the earliest candidate: the minimal event itself must
	// stay simulatable.
	if err := c.oracle.Initialize(pool.MinEventID()-1, oracle.ExplainedEventMemory); err != nil {
		return 0, nil, nil, fmt.Errorf("initialize oracle: %w", err)
	}
	if err := c.oracle.Initialize(explainedEventID-1, ""); err != nil {
		return 0, nil, nil, fmt.Errorf("initialize oracle: %w", err)
	}
	original, err := c.oracle.Predict(explainedEventID)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("original prediction for event %d: %w", explainedEventID, err)
	}
	logger.Debug().
		Int("event_id", explainedEventID).
		Float64("original_prediction", original).
		Int("candidates", pool.Len()).
		Msg("Explanation initialized")

	strategy, err := selection.New(pool, explainedEventID, original, c.cfg.Selection)
	if err != nil {
		return 0, nil, nil, err
	}
	return original, strategy, pool, nil
}

// scoreExclusion asks the oracle for the prediction of the explained event
// under the given exclusion set, restoring the shared pre-branch checkpoint
// first so sibling evaluations do not accumulate each other's side effects.
func (c *core) scoreExclusion(explainedEventID int, excluded []int, minEventID int, memoryLabel string) (float64, error) {
	if err := c.oracle.Initialize(minEventID, memoryLabel); err != nil {
		return 0, fmt.Errorf("restore oracle state: %w", err)
	}
	prediction, err := c.oracle.PredictExcluding(explainedEventID, excluded)
	if err != nil {
		return 0, fmt.Errorf("score exclusion set: %w", err)
	}
	return prediction, nil
}

// finishExplanation releases per-explanation oracle state. Cleanup failures
// are logged, not propagated: the result is already computed.
func (c *core) finishExplanation() {
	if err := c.oracle.RemoveMemoryBackup(oracle.ExplainedEventMemory); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove explanation checkpoint")
	}
	if err := c.oracle.ResetModel(); err != nil {
		logger.Warn().Err(err).Msg("Failed to reset model after explanation")
	}
}
