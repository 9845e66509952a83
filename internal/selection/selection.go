// Package selection ranks and samples candidate events for the
// counterfactual search. A strategy never returns the explained event, any
// already-excluded event, or an event that would reconstruct an
// already-known counterfactual set.
package selection

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/tgnlab/whatif/internal/events"
)

// ErrEmptyCandidatePool is returned when sampling for the root of a search
// finds no candidates at all. The search for that event terminates without a
// counterfactual.
var ErrEmptyCandidatePool = errors.New("selection: empty candidate pool")

// Strategy ranks the fixed candidate pool given the exclusion set so far.
type Strategy interface {
	// Rank returns all remaining candidate event ids, best first.
	Rank(baseEventID int, excludedEvents []int, knownFlips [][]int) []int

	// Sample returns up to size candidate event ids. It fails with
	// ErrEmptyCandidatePool when nothing remains and the exclusion set is
	// still empty (the root of the search).
	Sample(baseEventID int, excludedEvents []int, size int, knownFlips [][]int) ([]int, error)
}

// Kind names a built-in strategy variant.
type Kind string

const (
	Random  Kind = "random"
	Recent  Kind = "recent"
	Closest Kind = "closest"
	Scored  Kind = "scored"
	Local   Kind = "local"
)

// Scorer assigns relevance weights to candidate events. It is the boundary
// to an externally trained relevance model; weight i belongs to eventIDs[i].
type Scorer interface {
	Weights(eventIDs []int, baseEventID int) []float64
}

// Params configures strategy construction.
type Params struct {
	Kind Kind
	// Seed drives the random variant. Zero means an unseeded source.
	Seed int64
	// Scorer backs the scored variant.
	Scorer Scorer
	// RescorePerCall re-runs the scorer on every Rank call instead of
	// scoring the whole pool once up front.
	RescorePerCall bool
}

// New builds the strategy named by p.Kind over the given pool.
// originalPrediction steers the scored variant: for a positive original
// prediction low-similarity events are ranked first.
func New(pool *events.Pool, explainedEventID int, originalPrediction float64, p Params) (Strategy, error) {
	switch p.Kind {
	case Random:
		return NewRandomStrategy(pool, p.Seed), nil
	case Recent, "":
		return NewRecentStrategy(pool), nil
	case Closest:
		return NewClosestStrategy(pool), nil
	case Scored:
		if p.Scorer == nil {
			return nil, fmt.Errorf("scored selection requires a scorer")
		}
		return NewScoredStrategy(pool, p.Scorer, explainedEventID, originalPrediction, p.RescorePerCall), nil
	case Local:
		return NewLocalStrategy(pool), nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", p.Kind)
	}
}

// filterCandidates removes the base event, all excluded events, and any
// event that would complete a known counterfactual set: if the exclusion set
// already shares all but one member with a known flip, the remaining member
// is suppressed so the same flip is not rediscovered.
func filterCandidates(pool *events.Pool, baseEventID int, excludedEvents []int, knownFlips [][]int) []events.Candidate {
	excluded := make(map[int]bool, len(excludedEvents)+1)
	excluded[baseEventID] = true
	for _, id := range excludedEvents {
		excluded[id] = true
	}
	blocked := make(map[int]bool, len(excluded))
	for id := range excluded {
		blocked[id] = true
	}
	for _, flip := range knownFlips {
		shared := 0
		for _, id := range flip {
			if excluded[id] {
				shared++
			}
		}
		if shared >= len(flip)-1 {
			for _, id := range flip {
				if !excluded[id] {
					blocked[id] = true
					break
				}
			}
		}
	}

	var out []events.Candidate
	for _, c := range pool.Candidates() {
		if !blocked[c.EventID] {
			out = append(out, c)
		}
	}
	return out
}

// truncateSample applies the shared sampling contract on top of a ranking.
func truncateSample(ranked []int, excludedEvents []int, size int) ([]int, error) {
	if len(ranked) == 0 {
		if len(excludedEvents) == 0 {
			return nil, ErrEmptyCandidatePool
		}
		return nil, nil
	}
	if len(ranked) > size {
		ranked = ranked[:size]
	}
	return ranked, nil
}

func candidateIDs(candidates []events.Candidate) []int {
	ids := make([]int, len(candidates))
	for i, c := range candidates {
		ids[i] = c.EventID
	}
	return ids
}

// RandomStrategy returns candidates in a random order.
type RandomStrategy struct {
	pool *events.Pool
	rng  *rand.Rand
}

// NewRandomStrategy builds a random strategy. A non-zero seed makes the
// order reproducible.
func NewRandomStrategy(pool *events.Pool, seed int64) *RandomStrategy {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &RandomStrategy{pool: pool, rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomStrategy) Rank(baseEventID int, excludedEvents []int, knownFlips [][]int) []int {
	ids := candidateIDs(filterCandidates(s.pool, baseEventID, excludedEvents, knownFlips))
	s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

func (s *RandomStrategy) Sample(baseEventID int, excludedEvents []int, size int, knownFlips [][]int) ([]int, error) {
	return truncateSample(s.Rank(baseEventID, excludedEvents, knownFlips), excludedEvents, size)
}

// RecentStrategy ranks candidates most-recent-first. Event ids are ordered
// by occurrence time, so this is a descending id sort.
type RecentStrategy struct {
	pool *events.Pool
}

func NewRecentStrategy(pool *events.Pool) *RecentStrategy {
	return &RecentStrategy{pool: pool}
}

func (s *RecentStrategy) Rank(baseEventID int, excludedEvents []int, knownFlips [][]int) []int {
	ids := candidateIDs(filterCandidates(s.pool, baseEventID, excludedEvents, knownFlips))
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids
}

func (s *RecentStrategy) Sample(baseEventID int, excludedEvents []int, size int, knownFlips [][]int) ([]int, error) {
	return truncateSample(s.Rank(baseEventID, excludedEvents, knownFlips), excludedEvents, size)
}

// ClosestStrategy ranks candidates by hop distance to the explained event,
// breaking ties most-recent-first.
type ClosestStrategy struct {
	pool *events.Pool
}

func NewClosestStrategy(pool *events.Pool) *ClosestStrategy {
	return &ClosestStrategy{pool: pool}
}

func (s *ClosestStrategy) Rank(baseEventID int, excludedEvents []int, knownFlips [][]int) []int {
	cands := filterCandidates(s.pool, baseEventID, excludedEvents, knownFlips)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].HopDistance != cands[j].HopDistance {
			return cands[i].HopDistance < cands[j].HopDistance
		}
		return cands[i].Timestamp > cands[j].Timestamp
	})
	return candidateIDs(cands)
}

func (s *ClosestStrategy) Sample(baseEventID int, excludedEvents []int, size int, knownFlips [][]int) ([]int, error) {
	return truncateSample(s.Rank(baseEventID, excludedEvents, knownFlips), excludedEvents, size)
}

// ScoredStrategy ranks candidates by weights from an external relevance
// model, either scored once up front over the whole pool or re-scored on
// every call. For a positive original prediction candidates are ranked by
// ascending weight, otherwise descending, mirroring how similarity to the
// explained event relates to the direction the prediction must move.
type ScoredStrategy struct {
	pool             *events.Pool
	scorer           Scorer
	explainedEventID int
	ascending        bool
	initialWeights   map[int]float64
}

func NewScoredStrategy(pool *events.Pool, scorer Scorer, explainedEventID int, originalPrediction float64, rescorePerCall bool) *ScoredStrategy {
	s := &ScoredStrategy{
		pool:             pool,
		scorer:           scorer,
		explainedEventID: explainedEventID,
		ascending:        originalPrediction > 0,
	}
	if !rescorePerCall {
		ids := pool.EventIDs()
		weights := scorer.Weights(ids, explainedEventID)
		s.initialWeights = make(map[int]float64, len(ids))
		for i, id := range ids {
			if i < len(weights) {
				s.initialWeights[id] = weights[i]
			}
		}
	}
	return s
}

func (s *ScoredStrategy) Rank(baseEventID int, excludedEvents []int, knownFlips [][]int) []int {
	ids := candidateIDs(filterCandidates(s.pool, baseEventID, excludedEvents, knownFlips))
	weights := make(map[int]float64, len(ids))
	if s.initialWeights != nil {
		for _, id := range ids {
			weights[id] = s.initialWeights[id]
		}
	} else {
		fresh := s.scorer.Weights(ids, baseEventID)
		for i, id := range ids {
			if i < len(fresh) {
				weights[id] = fresh[i]
			}
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if s.ascending {
			return weights[ids[i]] < weights[ids[j]]
		}
		return weights[ids[i]] > weights[ids[j]]
	})
	return ids
}

func (s *ScoredStrategy) Sample(baseEventID int, excludedEvents []int, size int, knownFlips [][]int) ([]int, error) {
	return truncateSample(s.Rank(baseEventID, excludedEvents, knownFlips), excludedEvents, size)
}

// LocalStrategy ranks candidates by weights the caller pushes back during
// one explanation, so observed importances bias future ranking. Weights are
// private to the strategy instance; the pool itself stays immutable.
type LocalStrategy struct {
	pool    *events.Pool
	weights map[int]float64
}

func NewLocalStrategy(pool *events.Pool) *LocalStrategy {
	return &LocalStrategy{pool: pool, weights: make(map[int]float64)}
}

// SetEventWeight records an observed importance for one candidate event.
func (s *LocalStrategy) SetEventWeight(eventID int, weight float64) {
	s.weights[eventID] = weight
}

func (s *LocalStrategy) Rank(baseEventID int, excludedEvents []int, knownFlips [][]int) []int {
	ids := candidateIDs(filterCandidates(s.pool, baseEventID, excludedEvents, knownFlips))
	sort.SliceStable(ids, func(i, j int) bool {
		return s.weights[ids[i]] > s.weights[ids[j]]
	})
	return ids
}

func (s *LocalStrategy) Sample(baseEventID int, excludedEvents []int, size int, knownFlips [][]int) ([]int, error) {
	return truncateSample(s.Rank(baseEventID, excludedEvents, knownFlips), excludedEvents, size)
}
