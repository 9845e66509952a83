// Package oracle defines the contract to the predictive model whose
// decisions are explained. The model itself (a temporal graph network with a
// recurrent memory) lives outside this module; the search only depends on
// this interface.
package oracle

import "errors"

// Memory labels used by the search strategies. The oracle's recurrent state
// is a single mutable resource: strategies checkpoint it by label before
// branching into sibling candidate evaluations and restore it between them,
// so that consecutive calls do not accumulate each other's side effects.
const (
	// ExplainedEventMemory checkpoints the state just before the candidate
	// window of the currently explained event.
	ExplainedEventMemory = "explained_event"
	// IterationMemory checkpoints the pre-branch state for one expansion
	// iteration; it is removed once all siblings are scored.
	IterationMemory = "current_iteration_min_event"
	// LastPredictionMemory holds the rolling checkpoint a batched evaluation
	// resumes from instead of replaying the full event stream.
	LastPredictionMemory = "last_original_score"
)

// ErrUnavailable is returned (or wrapped) when the oracle cannot serve a
// call. It aborts the current explanation; no retries are performed.
var ErrUnavailable = errors.New("oracle unavailable")

// Oracle scores an event under an arbitrary exclusion set. Calls are
// synchronous and expensive: each one rolls the model's recurrent memory
// forward.
type Oracle interface {
	// Initialize rolls the model forward to just before eventID. If
	// memoryLabel is non-empty and a checkpoint exists under that label the
	// rollout resumes from it, and the resulting state is (re-)checkpointed
	// under the label.
	Initialize(eventID int, memoryLabel string) error

	// Predict scores the named event under the currently loaded state, with
	// no exclusions. The sign of the score is the model's decision.
	Predict(eventID int) (float64, error)

	// PredictExcluding scores eventID as if the excluded events had never
	// occurred. Persisted state is not mutated beyond the call.
	PredictExcluding(eventID int, excludedEventIDs []int) (float64, error)

	// RemoveMemoryBackup drops the checkpoint stored under label.
	RemoveMemoryBackup(label string) error

	// ResetModel clears all rolled-forward state between explanations.
	ResetModel() error
}
