package oracle

import (
	"fmt"
	"sort"

	"github.com/tgnlab/whatif/internal/events"
)

// ReplayEvent is one scripted event in a replay fixture. Base is the score
// the model produces when the event is explained with no exclusions;
// Contribution is how much the event shifts the score of later events it
// participates in.
type ReplayEvent struct {
	ID           int     `yaml:"id"`
	Timestamp    float64 `yaml:"timestamp"`
	HopDistance  int     `yaml:"hops"`
	Base         float64 `yaml:"base"`
	Contribution float64 `yaml:"contribution"`
}

// Replay is a deterministic in-memory oracle over a scripted score table.
// Excluding an event subtracts its contribution from the base score of the
// explained event, so a prediction flips once enough same-signed
// contributors are removed. It exists so the search can be exercised and
// demonstrated without a trained model; it also doubles as the subgraph
// generator for its own event stream.
type Replay struct {
	eventsByID map[int]ReplayEvent
	ordered    []ReplayEvent
	position   int
	memories   map[string]int
}

// NewReplay builds a replay oracle from scripted events. Events are kept in
// id order regardless of input order.
func NewReplay(scripted []ReplayEvent) *Replay {
	r := &Replay{
		eventsByID: make(map[int]ReplayEvent, len(scripted)),
		ordered:    make([]ReplayEvent, len(scripted)),
		memories:   make(map[string]int),
	}
	copy(r.ordered, scripted)
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })
	for _, e := range r.ordered {
		r.eventsByID[e.ID] = e
	}
	return r
}

// Initialize rolls the scripted stream forward to just before eventID and
// checkpoints the position under memoryLabel when one is given.
func (r *Replay) Initialize(eventID int, memoryLabel string) error {
	r.position = eventID
	if memoryLabel != "" {
		r.memories[memoryLabel] = eventID
	}
	return nil
}

// Predict returns the scripted base score for eventID.
func (r *Replay) Predict(eventID int) (float64, error) {
	e, ok := r.eventsByID[eventID]
	if !ok {
		return 0, fmt.Errorf("%w: no scripted score for event %d", ErrUnavailable, eventID)
	}
	return e.Base, nil
}

// PredictExcluding returns the base score of eventID minus the contributions
// of all excluded events.
func (r *Replay) PredictExcluding(eventID int, excludedEventIDs []int) (float64, error) {
	score, err := r.Predict(eventID)
	if err != nil {
		return 0, err
	}
	for _, id := range excludedEventIDs {
		if id == eventID {
			continue
		}
		if e, ok := r.eventsByID[id]; ok {
			score -= e.Contribution
		}
	}
	return score, nil
}

// RemoveMemoryBackup drops the checkpoint stored under label.
func (r *Replay) RemoveMemoryBackup(label string) error {
	delete(r.memories, label)
	return nil
}

// ResetModel clears the rolled-forward position and all checkpoints.
func (r *Replay) ResetModel() error {
	r.position = 0
	r.memories = make(map[string]int)
	return nil
}

// CandidatePool returns up to size of the most recent scripted events that
// precede baseEventID, in id order. It lets the replay oracle stand in for
// the external subgraph generator.
func (r *Replay) CandidatePool(baseEventID, size int) (*events.Pool, error) {
	var prior []events.Candidate
	for _, e := range r.ordered {
		if e.ID >= baseEventID {
			break
		}
		prior = append(prior, events.Candidate{
			EventID:     e.ID,
			Timestamp:   e.Timestamp,
			HopDistance: e.HopDistance,
		})
	}
	if len(prior) > size {
		prior = prior[len(prior)-size:]
	}
	return events.NewPool(prior), nil
}
