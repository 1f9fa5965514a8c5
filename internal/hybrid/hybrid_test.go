package hybrid

import (
	"math"
	"testing"

	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/retriever/keyword"
	"github.com/placefinder/querycore/internal/retriever/semantic"
	"github.com/placefinder/querycore/internal/taxonomy"
)

func hb(id, name, category, subcategory string) model.Business {
	return model.Business{ID: id, Name: name, CategoryID: category, SubcategoryID: subcategory}
}

func TestMergeCombinesWithDefaultWeights(t *testing.T) {
	m := New(taxonomy.Default())

	items := m.Merge(
		[]semantic.Result{{Business: hb("b1", "Cafe A", "food", "cafe"), Similarity: 0.6}},
		[]keyword.Result{{Business: hb("b1", "Cafe A", "food", "cafe"), Relevance: 0.5}},
		Weights{}, "")

	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	wantSemantic := (0.6 + 1) / 2
	want := 0.7*wantSemantic + 0.3*0.5
	if math.Abs(items[0].Combined-want) > 1e-9 {
		t.Errorf("Combined = %v, want %v", items[0].Combined, want)
	}
	if items[0].Semantic != wantSemantic || items[0].Keyword != 0.5 {
		t.Errorf("component scores not attached: %+v", items[0])
	}
}

func TestMergeDeduplicatesKeepingMax(t *testing.T) {
	m := New(taxonomy.Default())
	b := hb("b1", "Cafe A", "food", "cafe")

	items := m.Merge(
		[]semantic.Result{
			{Business: b, Similarity: 0.2},
			{Business: b, Similarity: 0.8},
		},
		[]keyword.Result{
			{Business: b, Relevance: 0.9},
			{Business: b, Relevance: 0.4},
		},
		Weights{}, "")

	if len(items) != 1 {
		t.Fatalf("items = %d, want 1 after dedup", len(items))
	}
	if items[0].Semantic != (0.8+1)/2 {
		t.Errorf("Semantic = %v, want max over hits", items[0].Semantic)
	}
	if items[0].Keyword != 0.9 {
		t.Errorf("Keyword = %v, want max over hits", items[0].Keyword)
	}
}

func TestMergeDedupFallbackKey(t *testing.T) {
	m := New(taxonomy.Default())
	// No ids: dedup by (lowercased name, lowercased city).
	a := model.Business{Name: "Cafe A", Location: model.Location{City: "Mumbai"}}
	b := model.Business{Name: "cafe a", Location: model.Location{City: "mumbai"}}

	items := m.Merge(
		[]semantic.Result{{Business: a, Similarity: 0.5}},
		[]keyword.Result{{Business: b, Relevance: 0.5}},
		Weights{}, "")

	if len(items) != 1 {
		t.Fatalf("items = %d, want name+city dedup to collapse them", len(items))
	}
}

func TestMergeBoundsAndMonotonicity(t *testing.T) {
	m := New(taxonomy.Default())

	// Both scores at maximum give combined exactly 1.
	items := m.Merge(
		[]semantic.Result{{Business: hb("b1", "A", "food", ""), Similarity: 1}},
		[]keyword.Result{{Business: hb("b1", "A", "food", ""), Relevance: 1}},
		Weights{}, "")
	if items[0].Combined != 1 {
		t.Errorf("both-max combined = %v, want 1", items[0].Combined)
	}

	// Monotonic non-decreasing in either component.
	low := m.Merge(
		[]semantic.Result{{Business: hb("b1", "A", "food", ""), Similarity: 0.2}},
		nil, Weights{}, "")
	high := m.Merge(
		[]semantic.Result{{Business: hb("b1", "A", "food", ""), Similarity: 0.9}},
		nil, Weights{}, "")
	if high[0].Combined < low[0].Combined {
		t.Error("combined must be monotonic in semantic score")
	}
}

func TestMergeSortedByCombinedDescending(t *testing.T) {
	m := New(taxonomy.Default())

	items := m.Merge(
		[]semantic.Result{
			{Business: hb("low", "Low", "food", ""), Similarity: -0.5},
			{Business: hb("high", "High", "food", ""), Similarity: 0.9},
		},
		[]keyword.Result{
			{Business: hb("mid", "Mid", "food", ""), Relevance: 0.9},
		},
		Weights{}, "")

	if items[0].Business.ID != "high" {
		t.Errorf("first item = %s, want high", items[0].Business.ID)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Combined > items[i-1].Combined {
			t.Error("items not sorted by combined descending")
		}
	}
}

func TestAuthorityOverrideDiscardsMismatchedCategoryCredit(t *testing.T) {
	m := New(taxonomy.Default())

	// A fitness business that earned parent-match category credit from a
	// lexical "food" hit. With an authoritative food category, that credit
	// must vanish, leaving only the text score.
	mismatched := keyword.Result{
		Business:          hb("g1", "Gym Near Cafe", "fitness", "gym"),
		Relevance:         keyword.CombineWithCategory(0.3, 0.4),
		TextScore:         0.3,
		CategoryRelevance: 0.4,
		MatchedCategoryID: "food",
	}
	matching := keyword.Result{
		Business:          hb("c1", "Cafe A", "food", "cafe"),
		Relevance:         keyword.CombineWithCategory(0.3, 0.4),
		TextScore:         0.3,
		CategoryRelevance: 0.4,
		MatchedCategoryID: "cafe",
	}

	items := m.Merge(nil, []keyword.Result{mismatched, matching}, Weights{}, "food")

	byID := map[string]Item{}
	for _, item := range items {
		byID[item.Business.ID] = item
	}

	if byID["g1"].Keyword != 0.3 {
		t.Errorf("mismatched keyword score = %v, want bare text score 0.3", byID["g1"].Keyword)
	}
	wantMatching := keyword.CombineWithCategory(0.3, 0.7)
	if byID["c1"].Keyword != wantMatching {
		t.Errorf("matching keyword score = %v, want exact-category %v", byID["c1"].Keyword, wantMatching)
	}
}

func TestAuthorityOverrideGeneralDropsAllCategorySignal(t *testing.T) {
	m := New(taxonomy.Default())

	res := keyword.Result{
		Business:          hb("c1", "Cafe A", "food", "cafe"),
		Relevance:         keyword.CombineWithCategory(0.4, 0.7),
		TextScore:         0.4,
		CategoryRelevance: 0.7,
		MatchedCategoryID: "cafe",
	}

	items := m.Merge(nil, []keyword.Result{res}, Weights{}, taxonomy.GeneralCategoryID)
	if items[0].Keyword != 0.4 {
		t.Errorf("keyword score = %v, want text score with all category signal dropped", items[0].Keyword)
	}
}
