package search

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tgnlab/whatif/internal/oracle"
	"github.com/tgnlab/whatif/internal/selection"
)

// fixture builds a replay oracle for explained event 200 (base score 0.5)
// with five prior candidate events carrying the given contributions.
func fixture(contributions map[int]float64) *oracle.Replay {
	scripted := []oracle.ReplayEvent{
		{ID: 200, Timestamp: 200, Base: 0.5},
	}
	for id := 101; id <= 105; id++ {
		scripted = append(scripted, oracle.ReplayEvent{
			ID:           id,
			Timestamp:    float64(id),
			Contribution: contributions[id],
		})
	}
	return oracle.NewReplay(scripted)
}

// countingOracle records every exclusion set scored, so tests can count and
// deduplicate oracle work.
type countingOracle struct {
	inner       oracle.Oracle
	predictions int
	exclusions  []string
}

func (c *countingOracle) Initialize(eventID int, memoryLabel string) error {
	return c.inner.Initialize(eventID, memoryLabel)
}

func (c *countingOracle) Predict(eventID int) (float64, error) {
	c.predictions++
	return c.inner.Predict(eventID)
}

func (c *countingOracle) PredictExcluding(eventID int, excludedEventIDs []int) (float64, error) {
	ids := append([]int(nil), excludedEventIDs...)
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	c.exclusions = append(c.exclusions, strings.Join(parts, "-"))
	return c.inner.PredictExcluding(eventID, excludedEventIDs)
}

func (c *countingOracle) RemoveMemoryBackup(label string) error {
	return c.inner.RemoveMemoryBackup(label)
}

func (c *countingOracle) ResetModel() error {
	return c.inner.ResetModel()
}

func testConfig() Config {
	return Config{
		CandidatesSize: 5,
		SampleSize:     2,
		MaxSteps:       50,
		Selection:      selection.Params{Kind: selection.Recent},
	}
}

// pairFlipContributions admits no single-event flip; only excluding both 104
// and 105 (0.4 + 0.2 > 0.5) crosses the boundary.
func pairFlipContributions() map[int]float64 {
	return map[int]float64{101: 0.05, 102: 0.05, 103: 0.1, 104: 0.4, 105: 0.2}
}

func TestGreedyFindsFlip(t *testing.T) {
	replay := fixture(pairFlipContributions())
	counting := &countingOracle{inner: replay}
	g := NewGreedy(counting, replay, testConfig())

	example, err := g.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}

	if !example.AchievesCounterfactual {
		t.Fatal("greedy did not reach a flip")
	}
	wantIDs := []int{104, 105}
	if len(example.EventIDs) != 2 || example.EventIDs[0] != 104 || example.EventIDs[1] != 105 {
		t.Errorf("event ids = %v, want %v", example.EventIDs, wantIDs)
	}
	if example.OriginalPrediction != 0.5 {
		t.Errorf("original prediction = %g, want 0.5", example.OriginalPrediction)
	}
	if example.CounterfactualPrediction >= 0 {
		t.Errorf("counterfactual prediction = %g, want negative", example.CounterfactualPrediction)
	}

	// Two iterations, each scoring one sample of two candidates.
	if got := len(counting.exclusions); got != 4 {
		t.Errorf("exclusion scorings = %d (%v), want 4", got, counting.exclusions)
	}
	if counting.predictions != 1 {
		t.Errorf("plain predictions = %d, want 1 (the original prediction)", counting.predictions)
	}
}

func TestGreedyStopsWithoutImprovement(t *testing.T) {
	// Every exclusion pushes the prediction further from the boundary.
	replay := fixture(map[int]float64{101: -0.1, 102: -0.1, 103: -0.1, 104: -0.1, 105: -0.1})
	g := NewGreedy(replay, replay, testConfig())

	example, err := g.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}

	if example.AchievesCounterfactual {
		t.Error("no flip is reachable, AchievesCounterfactual must be false")
	}
	if len(example.EventIDs) != 0 {
		t.Errorf("event ids = %v, want none committed", example.EventIDs)
	}
	if example.CounterfactualPrediction != 0.5 {
		t.Errorf("prediction = %g, want the unchanged original", example.CounterfactualPrediction)
	}
}

func TestBatchSearchFindsDepthOneFlip(t *testing.T) {
	replay := fixture(map[int]float64{101: 0.05, 102: 0.05, 103: 0.1, 104: 0.3, 105: 0.6})
	b := NewBatchSearch(replay, replay, testConfig())

	example, err := b.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}

	if !example.AchievesCounterfactual {
		t.Fatal("batch search did not reach a flip")
	}
	if len(example.EventIDs) != 1 || example.EventIDs[0] != 105 {
		t.Errorf("event ids = %v, want the single event [105]", example.EventIDs)
	}
}

func TestBatchSearchFindsDeeperFlip(t *testing.T) {
	replay := fixture(pairFlipContributions())
	b := NewBatchSearch(replay, replay, testConfig())

	example, err := b.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}

	if !example.AchievesCounterfactual {
		t.Fatal("batch search did not reach a flip")
	}
	if len(example.EventIDs) != 2 || example.EventIDs[0] != 104 || example.EventIDs[1] != 105 {
		t.Errorf("event ids = %v, want [104 105]", example.EventIDs)
	}
}

func TestBatchSearchBestEffortWithoutFlip(t *testing.T) {
	// A flip needs all five contributions, out of reach within two steps.
	replay := fixture(map[int]float64{101: 0.11, 102: 0.11, 103: 0.11, 104: 0.11, 105: 0.11})
	cfg := testConfig()
	cfg.MaxSteps = 2
	b := NewBatchSearch(replay, replay, cfg)

	example, err := b.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}

	if example.AchievesCounterfactual {
		t.Error("two steps cannot reach a five-event flip")
	}
	if len(example.EventIDs) == 0 {
		t.Error("best-effort result should carry the furthest-moving exclusion set")
	}
	if example.CounterfactualPrediction >= example.OriginalPrediction {
		t.Errorf("prediction did not move: %g -> %g",
			example.OriginalPrediction, example.CounterfactualPrediction)
	}
}

func TestCoDyFindsMinimalFlip(t *testing.T) {
	replay := fixture(pairFlipContributions())
	c := NewCoDy(replay, replay, testConfig())

	example, err := c.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}

	if !example.AchievesCounterfactual {
		t.Fatal("search did not reach a flip")
	}
	if len(example.EventIDs) != 2 || example.EventIDs[0] != 104 || example.EventIDs[1] != 105 {
		t.Errorf("event ids = %v, want [104 105]", example.EventIDs)
	}
}

func TestCoDyNeverScoresASetTwice(t *testing.T) {
	replay := fixture(pairFlipContributions())
	counting := &countingOracle{inner: replay}
	c := NewCoDy(counting, replay, testConfig())

	if _, err := c.Explain(200); err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	if len(counting.exclusions) == 0 {
		t.Fatal("search made no oracle calls")
	}

	seen := make(map[string]bool, len(counting.exclusions))
	for _, set := range counting.exclusions {
		if seen[set] {
			t.Errorf("exclusion set {%s} was oracle-scored twice", set)
		}
		seen[set] = true
	}
}

// exhaustedFixture builds a replay oracle whose two candidate events cannot
// flip the 0.5 base score no matter what is excluded, so any search must end
// with the whole tree fully expanded and no counterfactual.
func exhaustedFixture() *oracle.Replay {
	return oracle.NewReplay([]oracle.ReplayEvent{
		{ID: 101, Timestamp: 1, Contribution: 0.1},
		{ID: 102, Timestamp: 2, Contribution: 0.1},
		{ID: 200, Timestamp: 200, Base: 0.5},
	})
}

func TestCoDyConcludesOnExhaustedTree(t *testing.T) {
	replay := exhaustedFixture()
	counting := &countingOracle{inner: replay}
	c := NewCoDy(counting, replay, testConfig())

	type explainResult struct {
		example *Example
		err     error
	}
	results := make(chan explainResult, 1)
	go func() {
		example, err := c.Explain(200)
		results <- explainResult{example, err}
	}()

	var res explainResult
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("search did not conclude on an exhausted tree")
	}
	if res.err != nil {
		t.Fatalf("Explain error: %v", res.err)
	}

	if res.example.AchievesCounterfactual {
		t.Error("no flip is reachable, AchievesCounterfactual must be false")
	}
	if len(res.example.EventIDs) != 2 {
		t.Errorf("event ids = %v, want the full two-event pool", res.example.EventIDs)
	}
	if math.Abs(res.example.CounterfactualPrediction-0.3) > 1e-9 {
		t.Errorf("prediction = %g, want 0.3 with both contributors excluded",
			res.example.CounterfactualPrediction)
	}
	// Three distinct exclusion sets exist; memoization caps oracle work there.
	if got := len(counting.exclusions); got != 3 {
		t.Errorf("exclusion scorings = %d (%v), want 3", got, counting.exclusions)
	}
}

func TestBatchSearchClosesExhaustedLeaf(t *testing.T) {
	replay := exhaustedFixture()
	b := NewBatchSearch(replay, replay, testConfig())
	pool, err := replay.CandidatePool(200, 5)
	if err != nil {
		t.Fatalf("CandidatePool error: %v", err)
	}
	strategy := selection.NewRecentStrategy(pool)

	root := NewRoot(200, 0.5)
	inner := root.NewChild(102, 0)
	inner.Expand(0.4)
	dead := inner.NewChild(101, 0)
	dead.Expand(0.3)

	flips, err := b.expandLeaf(200, dead, strategy, nil, 100)
	if err != nil {
		t.Fatalf("expandLeaf error: %v", err)
	}
	if flips != nil {
		t.Errorf("flips = %v, want none from an empty sample", flips)
	}
	if !dead.MaxExpansionReached {
		t.Error("a leaf with nothing left to sample must be closed off")
	}
	if !inner.MaxExpansionReached || !root.MaxExpansionReached {
		t.Error("full expansion must propagate to the root")
	}
}

func TestBatchSearchConcludesOnExhaustedTree(t *testing.T) {
	replay := exhaustedFixture()
	b := NewBatchSearch(replay, replay, testConfig())

	example, err := b.Explain(200)
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	if example.AchievesCounterfactual {
		t.Error("no flip is reachable, AchievesCounterfactual must be false")
	}
	if math.Abs(example.CounterfactualPrediction-0.3) > 1e-9 {
		t.Errorf("prediction = %g, want 0.3 with both contributors excluded",
			example.CounterfactualPrediction)
	}
}

func TestCoDyEmptyPool(t *testing.T) {
	// Only the explained event exists, so there is nothing to exclude.
	replay := oracle.NewReplay([]oracle.ReplayEvent{{ID: 200, Base: 0.5}})
	c := NewCoDy(replay, replay, testConfig())

	if _, err := c.Explain(200); err != selection.ErrEmptyCandidatePool {
		t.Errorf("Explain error = %v, want ErrEmptyCandidatePool", err)
	}
}
