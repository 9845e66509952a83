package search

import (
	"fmt"
	"strconv"
	"strings"
)

// Example is the immutable result of one explanation: an ordered set of
// excluded events and how far excluding them moved the prediction. When
// AchievesCounterfactual is false it is the best non-flipping exclusion set
// found within budget.
type Example struct {
	ExplainedEventID         int
	OriginalPrediction       float64
	CounterfactualPrediction float64
	AchievesCounterfactual   bool

	// EventIDs lists the excluded events in commitment order (first
	// committed exclusion first).
	EventIDs []int

	// EventImportances holds the cumulative prediction delta after each
	// exclusion step, parallel to EventIDs.
	EventImportances []float64
}

// AbsoluteImportances returns the per-event contribution of each exclusion
// step: the cumulative delta at that step minus the cumulative delta before
// it.
func (e *Example) AbsoluteImportances() []float64 {
	out := make([]float64, len(e.EventImportances))
	for i, imp := range e.EventImportances {
		if i == 0 {
			out[i] = imp
			continue
		}
		out[i] = imp - e.EventImportances[i-1]
	}
	return out
}

// RelativeImportances returns each event's share of the final cumulative
// delta. It is undefined (nil) for an empty example.
func (e *Example) RelativeImportances() []float64 {
	if len(e.EventImportances) == 0 {
		return nil
	}
	total := e.EventImportances[len(e.EventImportances)-1]
	abs := e.AbsoluteImportances()
	out := make([]float64, len(abs))
	for i, a := range abs {
		out[i] = a / total
	}
	return out
}

func (e *Example) String() string {
	ids := make([]string, len(e.EventIDs))
	for i, id := range e.EventIDs {
		ids[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("counterfactual example for event %d: excluded events [%s], original prediction %g, counterfactual prediction %g, flip achieved %t",
		e.ExplainedEventID, strings.Join(ids, " "), e.OriginalPrediction, e.CounterfactualPrediction, e.AchievesCounterfactual)
}
