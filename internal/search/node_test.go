package search

import (
	"math"
	"reflect"
	"testing"
)

func TestNewRoot(t *testing.T) {
	root := NewRoot(200, 0.5)
	if !root.Expanded {
		t.Error("root should start expanded")
	}
	if root.Prediction != 0.5 {
		t.Errorf("root prediction = %g, want the original prediction", root.Prediction)
	}
	if root.Selections != 1 {
		t.Errorf("root selections = %d, want 1", root.Selections)
	}
	if got := root.ExclusionSet(); got != nil {
		t.Errorf("root exclusion set = %v, want nil", got)
	}
	if got := root.Hash(); got != "" {
		t.Errorf("root hash = %q, want empty", got)
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name       string
		original   float64
		prediction float64
		wantScore  float64
		wantFlip   bool
	}{
		{"flip", 0.5, -0.1, 1.2, true},
		{"progress", 0.5, 0.3, 0.4, false},
		{"regression clamps to zero", 0.5, 0.8, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := NewRoot(200, tt.original).NewChild(101, 0)
			node.Expand(tt.prediction)

			if !node.Expanded {
				t.Error("node not marked expanded")
			}
			if math.Abs(node.ExploitationScore-tt.wantScore) > 1e-9 {
				t.Errorf("exploitation score = %g, want %g", node.ExploitationScore, tt.wantScore)
			}
			if node.IsCounterfactual != tt.wantFlip {
				t.Errorf("IsCounterfactual = %t, want %t", node.IsCounterfactual, tt.wantFlip)
			}
			if tt.wantFlip && !node.MaxExpansionReached {
				t.Error("a counterfactual node must be terminal")
			}
		})
	}
}

func TestHashOrderIndependent(t *testing.T) {
	root := NewRoot(200, 0.5)
	oneTwo := root.NewChild(101, 0).NewChild(102, 0)
	twoOne := root.NewChild(102, 1).NewChild(101, 0)

	if oneTwo.Hash() != twoOne.Hash() {
		t.Errorf("hashes differ for the same set: %q vs %q", oneTwo.Hash(), twoOne.Hash())
	}
	if got := oneTwo.Hash(); got != "101-102" {
		t.Errorf("hash = %q, want 101-102", got)
	}
	if got := oneTwo.ExclusionSet(); !reflect.DeepEqual(got, []int{102, 101}) {
		t.Errorf("exclusion set = %v, want node-to-root order [102 101]", got)
	}
}

func TestSelectNextLeafPrefersLowestRank(t *testing.T) {
	root := NewRoot(200, 0.5)
	root.Selections = 2
	root.NewChild(101, 1)
	preferred := root.NewChild(102, 0)

	if got := root.SelectNextLeaf(math.MaxInt); got != preferred {
		t.Errorf("selected event %d, want the lowest sampling rank (event 102)", got.EventID)
	}
}

func TestSelectNextLeafTieKeepsFirstChild(t *testing.T) {
	root := NewRoot(200, 0.5)
	root.Selections = 2
	first := root.NewChild(101, 0)
	second := root.NewChild(102, 1)
	first.Expand(0.3)
	second.Expand(0.3)

	if got := root.SelectNextLeaf(math.MaxInt); got != first {
		t.Errorf("selected event %d, want the first-inserted child on a tie", got.EventID)
	}
}

func TestSelectNextLeafDepthBound(t *testing.T) {
	root := NewRoot(200, 0.5)
	root.NewChild(101, 0)

	got := root.SelectNextLeaf(0)
	if got != root {
		t.Fatalf("selected event %d, want the root itself", got.EventID)
	}
	if !root.MaxExpansionReached {
		t.Error("a node at the depth bound must be marked fully expanded")
	}
}

func TestSelectNextLeafAtPenultimateDepth(t *testing.T) {
	root := NewRoot(200, 0.5)
	root.Selections = 2
	expanded := root.NewChild(101, 0)
	expanded.Expand(0.3)
	fresh := root.NewChild(102, 1)

	// One level below the bound only unexpanded children may be scored;
	// descending into an expanded child would overshoot the bound.
	got := root.SelectNextLeaf(1)
	if got != fresh {
		t.Errorf("selected event %d, want the unexpanded child (event 102)", got.EventID)
	}
	if !expanded.MaxExpansionReached {
		t.Error("the expanded child must be closed off at the penultimate depth")
	}
}

func TestSelectNextLeafExhaustedTree(t *testing.T) {
	root := NewRoot(200, 0.5)
	root.Selections = 2
	child := root.NewChild(101, 0)
	child.Expand(0.3)
	flip := child.NewChild(102, 0)
	flip.Expand(-0.1)

	got := root.SelectNextLeaf(math.MaxInt)
	if got != root {
		t.Fatalf("selected event %d, want the root as the exhaustion signal", got.EventID)
	}
	if !child.MaxExpansionReached {
		t.Error("a node whose only child flipped has nothing left to expand")
	}
	if !root.MaxExpansionReached {
		t.Error("full expansion must propagate to the root")
	}
}

func TestBackpropagate(t *testing.T) {
	root := NewRoot(200, 0.5)
	inner := root.NewChild(101, 0)
	leaf := inner.NewChild(102, 0)
	leaf.Expand(0.3)

	leaf.Backpropagate()

	if leaf.Selections != 2 || inner.Selections != 2 || root.Selections != 2 {
		t.Errorf("selections = %d/%d/%d, want 2/2/2",
			leaf.Selections, inner.Selections, root.Selections)
	}
	// The unexpanded inner node inherits the average score of its expanded
	// children.
	if math.Abs(inner.ExploitationScore-0.4) > 1e-9 {
		t.Errorf("inner exploitation score = %g, want 0.4", inner.ExploitationScore)
	}
}

func TestToExample(t *testing.T) {
	root := NewRoot(200, 0.5)
	first := root.NewChild(104, 0)
	first.Expand(0.1)
	second := first.NewChild(105, 0)
	second.Expand(-0.1)

	example := second.ToExample()

	if example.ExplainedEventID != 200 {
		t.Errorf("explained event = %d, want 200", example.ExplainedEventID)
	}
	if !example.AchievesCounterfactual {
		t.Error("example should achieve the counterfactual")
	}
	if !reflect.DeepEqual(example.EventIDs, []int{104, 105}) {
		t.Errorf("event ids = %v, want commitment order [104 105]", example.EventIDs)
	}
	want := []float64{0.4, 0.6}
	for i := range want {
		if math.Abs(example.EventImportances[i]-want[i]) > 1e-9 {
			t.Errorf("importances[%d] = %g, want %g", i, example.EventImportances[i], want[i])
		}
	}
	if example.CounterfactualPrediction != -0.1 {
		t.Errorf("counterfactual prediction = %g, want -0.1", example.CounterfactualPrediction)
	}
}

func TestSelectBestCounterfactual(t *testing.T) {
	shallow := &Node{Depth: 1, ExploitationScore: 1.0}
	deep := &Node{Depth: 3, ExploitationScore: 2.0}
	strong := &Node{Depth: 1, ExploitationScore: 1.5}

	tests := []struct {
		name    string
		current *Node
		found   []*Node
		want    *Node
	}{
		{"nothing found keeps current", shallow, nil, shallow},
		{"shallower wins", nil, []*Node{deep, shallow}, shallow},
		{"equal depth prefers higher score", shallow, []*Node{strong}, strong},
		{"current better than found", shallow, []*Node{deep}, shallow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectBestCounterfactual(tt.current, tt.found); got != tt.want {
				t.Errorf("selectBestCounterfactual() picked depth %d score %g",
					got.Depth, got.ExploitationScore)
			}
		})
	}
}

func TestBestNonCounterfactual(t *testing.T) {
	root := NewRoot(200, 0.5)
	weak := root.NewChild(101, 0)
	weak.Expand(0.3)
	strong := root.NewChild(102, 1)
	strong.Expand(0.1)
	root.NewChild(103, 2) // never expanded

	if got := bestNonCounterfactual(root); got != strong {
		t.Errorf("picked event %d, want event 102 with the largest delta", got.EventID)
	}
}
