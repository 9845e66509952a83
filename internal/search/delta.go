package search

import "math"

// Delta measures how far an assessed prediction has moved away from the
// original prediction, toward (or past) the sign-flip boundary. When the
// assessed prediction has crossed zero the magnitudes add up; otherwise it
// is the magnitude lost relative to the original.
func Delta(originalPrediction, assessedPrediction float64) float64 {
	if assessedPrediction*originalPrediction < 0 {
		return math.Abs(assessedPrediction) + math.Abs(originalPrediction)
	}
	return math.Abs(originalPrediction) - math.Abs(assessedPrediction)
}
