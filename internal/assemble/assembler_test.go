package assemble

import (
	"math"
	"testing"

	"dresscode/internal/capture"
	"dresscode/internal/classify"
	"dresscode/internal/config"
)

func classified(id int, kind capture.ImageKind, frame int, result classify.Result) ClassifiedImage {
	return ClassifiedImage{
		IdentityID: id,
		Kind:       kind,
		FrameIndex: frame,
		PoseType:   capture.PoseFullBody,
		Image:      []byte("jpeg"),
		Result:     result,
	}
}

func TestTextRatio(t *testing.T) {
	if got := textRatio("blue jeans", "blue jeans"); got != 1 {
		t.Errorf("identical strings ratio = %f, want 1", got)
	}
	if got := textRatio("Blue Jeans", "blue jeans"); got != 1 {
		t.Errorf("case should not matter, got %f", got)
	}
	if got := textRatio("xxxx", "yyyy"); got != 0 {
		t.Errorf("disjoint strings ratio = %f, want 0", got)
	}
	if got := textRatio("", ""); got != 1 {
		t.Errorf("two empty strings ratio = %f, want 1", got)
	}

	// Partial overlap lands strictly between
	got := textRatio("red shirt and jeans", "red shirt and shorts")
	if got <= 0.5 || got >= 1 {
		t.Errorf("partial overlap ratio = %f, want in (0.5, 1)", got)
	}
}

func TestSimilarityScoreWeights(t *testing.T) {
	same := classify.Result{TopClothing: "t-shirt", BottomClothing: "jeans", Description: "blue jeans, white tee"}

	if got := similarityScore(same, same); math.Abs(got-100) > 1e-9 {
		t.Errorf("identical results score = %f, want 100", got)
	}

	// Categories differ, description identical: only the 40% text weight remains
	other := classify.Result{TopClothing: "jacket", BottomClothing: "skirt", Description: "blue jeans, white tee"}
	if got := similarityScore(same, other); math.Abs(got-40) > 1e-9 {
		t.Errorf("category-mismatch score = %f, want 40", got)
	}

	// Only top matches, empty descriptions count as identical
	a := classify.Result{TopClothing: "t-shirt", BottomClothing: "jeans"}
	b := classify.Result{TopClothing: "t-shirt", BottomClothing: "skirt"}
	if got := similarityScore(a, b); math.Abs(got-70) > 1e-9 {
		t.Errorf("top-only score = %f, want 70", got)
	}
}

func TestPairBelowThresholdDropped(t *testing.T) {
	a := New(config.Default())

	first := classify.Result{TopClothing: "t-shirt", BottomClothing: "jeans", Description: "aaaa"}
	last := classify.Result{TopClothing: "coat", BottomClothing: "skirt", Description: "zzzz"}

	a.Add(classified(1, capture.ImageFirst, 10, first))
	rec := a.Add(classified(1, capture.ImageLast, 90, last))

	if rec != nil {
		t.Fatalf("dissimilar pair must be dropped, got %+v", rec)
	}
	if got := a.Stats(); got.PairsDropped != 1 {
		t.Errorf("PairsDropped = %d, want 1", got.PairsDropped)
	}
}

func TestPairAboveThresholdAssembled(t *testing.T) {
	a := New(config.Default())
	result := classify.Result{TopClothing: "t-shirt", BottomClothing: "jeans", Description: "casual look"}

	a.Add(classified(3, capture.ImageFirst, 10, result))
	rec := a.Add(classified(3, capture.ImageLast, 90, result))

	if rec == nil {
		t.Fatal("matching pair should assemble a record")
	}
	if rec.PersonID != 3 {
		t.Errorf("PersonID = %d, want 3", rec.PersonID)
	}
	if rec.SimilarityScore < 60 {
		t.Errorf("SimilarityScore = %f, want >= 60", rec.SimilarityScore)
	}
	if rec.FirstFrameIndex != 10 || rec.LastFrameIndex != 90 {
		t.Errorf("frame indices = %d/%d, want 10/90", rec.FirstFrameIndex, rec.LastFrameIndex)
	}
	if rec.LastFrameTop != "t-shirt" || rec.LastFrameBottom != "jeans" {
		t.Errorf("last frame fields = %q/%q", rec.LastFrameTop, rec.LastFrameBottom)
	}
	if rec.Violation {
		t.Error("t-shirt and jeans is not a violation")
	}
}

func TestViolationDetermination(t *testing.T) {
	cases := []struct {
		name       string
		result     classify.Result
		violation  bool
		categories []string
	}{
		{"shorts", classify.Result{TopClothing: "t-shirt", BottomClothing: "shorts"}, true, []string{"shorts"}},
		{"shorts skirt", classify.Result{TopClothing: "blouse", BottomClothing: "Shorts Skirt"}, true, []string{"shorts skirt"}},
		{"sleeveless", classify.Result{TopClothing: "sleeveless", BottomClothing: "jeans"}, true, []string{"sleeveless"}},
		{"sleeveless top", classify.Result{TopClothing: "Sleeveless Top", BottomClothing: "jeans"}, true, []string{"sleeveless"}},
		{"sleeveless t", classify.Result{TopClothing: "sleeveless t", BottomClothing: "jeans"}, true, []string{"sleeveless"}},
		{"both", classify.Result{TopClothing: "sleeveless top", BottomClothing: "shorts"}, true, []string{"shorts", "sleeveless"}},
		{"compliant", classify.Result{TopClothing: "shirt", BottomClothing: "trousers"}, false, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			violation, categories := determineViolation(tc.result)
			if violation != tc.violation {
				t.Errorf("violation = %v, want %v", violation, tc.violation)
			}
			if len(categories) != len(tc.categories) {
				t.Fatalf("categories = %v, want %v", categories, tc.categories)
			}
			for i := range categories {
				if categories[i] != tc.categories[i] {
					t.Errorf("categories = %v, want %v", categories, tc.categories)
				}
			}
		})
	}
}

func TestViolationUsesFirstFrame(t *testing.T) {
	a := New(config.Default())

	first := classify.Result{TopClothing: "sleeveless top", BottomClothing: "shorts", Description: "summer outfit"}
	last := classify.Result{TopClothing: "sleeveless top", BottomClothing: "shorts", Description: "summer outfit"}

	a.Add(classified(1, capture.ImageFirst, 10, first))
	rec := a.Add(classified(1, capture.ImageLast, 50, last))

	if rec == nil {
		t.Fatal("expected a record")
	}
	if !rec.Violation {
		t.Error("first-frame sleeveless+shorts must flag a violation")
	}
}

func TestSweepSingleImageIdentities(t *testing.T) {
	a := New(config.Default())
	result := classify.Result{TopClothing: "t-shirt", BottomClothing: "jeans", Description: "casual"}

	a.Add(classified(1, capture.ImageFirst, 10, result))

	swept := a.Sweep()
	if len(swept) != 1 {
		t.Fatalf("swept %d records, want 1", len(swept))
	}
	rec := swept[0]
	if rec.SimilarityScore != 0 {
		t.Errorf("sweep SimilarityScore = %f, want 0", rec.SimilarityScore)
	}
	if rec.LastFrameTop != "unknown" || rec.LastFrameBottom != "unknown" {
		t.Errorf("sweep last frame fields = %q/%q, want unknown", rec.LastFrameTop, rec.LastFrameBottom)
	}
	if got := a.Stats(); got.SweepRecords != 1 {
		t.Errorf("SweepRecords = %d, want 1", got.SweepRecords)
	}

	if again := a.Sweep(); len(again) != 0 {
		t.Error("second sweep must be empty")
	}
}
