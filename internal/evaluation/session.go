// Package evaluation wraps a search explainer for benchmarking runs: it
// instruments the oracle, collects per-explanation timings and statistics,
// and optionally persists run records. It decorates the explainer via
// composition; the search itself stays unchanged.
package evaluation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tgnlab/whatif/internal/logger"
	"github.com/tgnlab/whatif/internal/oracle"
	"github.com/tgnlab/whatif/internal/search"
)

// Metrics captures the cost of one explanation.
type Metrics struct {
	OracleCalls    int
	OracleDuration time.Duration
	// SearchDuration is the total duration minus the time spent inside
	// oracle calls.
	SearchDuration time.Duration
	TotalDuration  time.Duration
}

// Result is an explanation together with its cost.
type Result struct {
	*search.Example
	Metrics Metrics
}

// Session runs a batch of explanations under one identity. The caller
// enforces any wall-clock budget between Explain calls; a running search is
// never aborted mid-flight.
type Session struct {
	ID        string
	Strategy  string
	oracle    *instrumentedOracle
	explainer search.Explainer
	cache     *StateCache
	store     Store
	// lastOrigin is the event the rolling original-prediction checkpoint
	// currently sits at.
	lastOrigin int
}

// NewSession wraps the raw oracle with instrumentation and builds the
// explainer on top of it. build receives the instrumented oracle so every
// oracle call the search makes is counted and timed. store may be nil.
func NewSession(raw oracle.Oracle, strategy string, build func(oracle.Oracle) search.Explainer, store Store) (*Session, error) {
	inst := &instrumentedOracle{inner: raw}
	s := &Session{
		ID:        uuid.NewString(),
		Strategy:  strategy,
		oracle:    inst,
		explainer: build(inst),
		cache:     NewStateCache(),
		store:     store,
	}
	if store != nil {
		if err := store.CreateSession(s.ID, strategy); err != nil {
			return nil, fmt.Errorf("create evaluation session: %w", err)
		}
	}
	return s, nil
}

// Explain runs one explanation and records its cost.
func (s *Session) Explain(explainedEventID int) (*Result, error) {
	callsBefore := s.oracle.calls
	timeBefore := s.oracle.callDuration
	start := time.Now()

	example, err := s.explainer.Explain(explainedEventID)
	if err != nil {
		return nil, err
	}

	total := time.Since(start)
	metrics := Metrics{
		OracleCalls:    s.oracle.calls - callsBefore,
		OracleDuration: s.oracle.callDuration - timeBefore,
		TotalDuration:  total,
	}
	metrics.SearchDuration = total - metrics.OracleDuration

	logger.Info().
		Int("event_id", explainedEventID).
		Bool("flip", example.AchievesCounterfactual).
		Int("oracle_calls", metrics.OracleCalls).
		Dur("total", metrics.TotalDuration).
		Msg("Explanation evaluated")

	if s.store != nil {
		if err := s.store.RecordExplanation(&Record{
			SessionID:                s.ID,
			ExplainedEventID:         explainedEventID,
			OriginalPrediction:       example.OriginalPrediction,
			CounterfactualPrediction: example.CounterfactualPrediction,
			Achieved:                 example.AchievesCounterfactual,
			EventIDs:                 example.EventIDs,
			OracleCalls:              metrics.OracleCalls,
			Duration:                 metrics.TotalDuration,
			CreatedAt:                time.Now(),
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist explanation record")
		}
	}
	return &Result{Example: example, Metrics: metrics}, nil
}

// OriginalPrediction computes the unmodified prediction for an event,
// resuming the oracle from the previous call's checkpoint instead of
// replaying the full event stream. Results are cached for the session.
func (s *Session) OriginalPrediction(explainedEventID int) (float64, error) {
	key := originalKey(explainedEventID)
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	if s.lastOrigin > 0 && s.lastOrigin < explainedEventID {
		if err := s.oracle.Initialize(s.lastOrigin, oracle.LastPredictionMemory); err != nil {
			return 0, err
		}
	}
	if err := s.oracle.Initialize(explainedEventID-1, oracle.LastPredictionMemory); err != nil {
		return 0, err
	}
	prediction, err := s.oracle.Predict(explainedEventID)
	if err != nil {
		return 0, err
	}
	s.lastOrigin = explainedEventID - 1
	s.cache.Put(key, prediction)
	return prediction, nil
}

// Close clears session-scoped state. The store, if any, is shared and stays
// open.
func (s *Session) Close() error {
	s.cache.Clear()
	if err := s.oracle.RemoveMemoryBackup(oracle.LastPredictionMemory); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove rolling checkpoint")
	}
	return s.oracle.ResetModel()
}

func originalKey(eventID int) string {
	return "original:" + strconv.Itoa(eventID)
}

// instrumentedOracle counts and times oracle work. Initialize is timed but
// not counted as a call: only predictions consume the search budget.
type instrumentedOracle struct {
	inner        oracle.Oracle
	calls        int
	callDuration time.Duration
}

func (o *instrumentedOracle) Initialize(eventID int, memoryLabel string) error {
	defer o.track(time.Now())
	return o.inner.Initialize(eventID, memoryLabel)
}

func (o *instrumentedOracle) Predict(eventID int) (float64, error) {
	defer o.track(time.Now())
	o.calls++
	return o.inner.Predict(eventID)
}

func (o *instrumentedOracle) PredictExcluding(eventID int, excludedEventIDs []int) (float64, error) {
	defer o.track(time.Now())
	o.calls++
	return o.inner.PredictExcluding(eventID, excludedEventIDs)
}

func (o *instrumentedOracle) RemoveMemoryBackup(label string) error {
	return o.inner.RemoveMemoryBackup(label)
}

func (o *instrumentedOracle) ResetModel() error {
	return o.inner.ResetModel()
}

func (o *instrumentedOracle) track(start time.Time) {
	o.callDuration += time.Since(start)
}
