// Package events holds the read-only event data the explainer operates on.
//
// Events are identified by positive, dense, one-indexed integer ids. Ids are
// totally ordered by occurrence time, so comparing ids compares timestamps.
package events

// Candidate is one event from the temporal neighborhood of an explained
// event. Timestamp and HopDistance are optional annotations consumed by the
// ranking strategies; a zero HopDistance means the distance is unknown.
type Candidate struct {
	EventID     int
	Timestamp   float64
	HopDistance int
}

// Pool is an ordered, immutable collection of candidate events relevant to
// one explained event. It is produced externally (k-hop temporal subgraph
// extraction) and never contains the explained event itself.
type Pool struct {
	candidates []Candidate
	byID       map[int]int
}

// NewPool copies the given candidates into a new pool, preserving order.
func NewPool(candidates []Candidate) *Pool {
	p := &Pool{
		candidates: make([]Candidate, len(candidates)),
		byID:       make(map[int]int, len(candidates)),
	}
	copy(p.candidates, candidates)
	for i, c := range p.candidates {
		p.byID[c.EventID] = i
	}
	return p
}

// Len returns the number of candidates in the pool.
func (p *Pool) Len() int {
	return len(p.candidates)
}

// Candidates returns a copy of the pool contents in pool order.
func (p *Pool) Candidates() []Candidate {
	out := make([]Candidate, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// EventIDs returns the candidate event ids in pool order.
func (p *Pool) EventIDs() []int {
	ids := make([]int, len(p.candidates))
	for i, c := range p.candidates {
		ids[i] = c.EventID
	}
	return ids
}

// Contains reports whether the pool holds the given event id.
func (p *Pool) Contains(eventID int) bool {
	_, ok := p.byID[eventID]
	return ok
}

// Candidate returns the candidate with the given event id.
func (p *Pool) Candidate(eventID int) (Candidate, bool) {
	i, ok := p.byID[eventID]
	if !ok {
		return Candidate{}, false
	}
	return p.candidates[i], true
}

// MinEventID returns the smallest event id in the pool, or 0 for an empty
// pool. The oracle is rolled forward to just before this event when scoring
// exclusion sets.
func (p *Pool) MinEventID() int {
	min := 0
	for _, c := range p.candidates {
		if min == 0 || c.EventID < min {
			min = c.EventID
		}
	}
	return min
}

// SubgraphGenerator produces the candidate pool for an explained event. The
// actual k-hop temporal subgraph extraction lives outside this module.
type SubgraphGenerator interface {
	// CandidatePool returns up to size candidate events around baseEventID,
	// excluding baseEventID itself.
	CandidatePool(baseEventID, size int) (*Pool, error)
}
