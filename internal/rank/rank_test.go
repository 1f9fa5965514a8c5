package rank

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/model"
)

func coord(v float64) *float64 { return &v }

func candidate(id, name string, combined, rating float64, reviews int, verified bool) hybrid.Item {
	return hybrid.Item{
		Business: model.Business{
			ID:          id,
			Name:        name,
			Rating:      rating,
			ReviewCount: reviews,
			Verified:    verified,
			Status:      model.StatusActive,
		},
		Combined: combined,
	}
}

func newRanker(at time.Time) *Ranker {
	r := New()
	r.now = func() time.Time { return at }
	return r
}

func TestRankFactorWeights(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	r := newRanker(now)

	item := candidate("b1", "Cafe", 1.0, 5.0, 999, true)
	item.Business.UpdatedAt = now // fresh: recency factor 1
	item.Business.Location = model.Location{Lat: coord(19.0760), Lng: coord(72.8777)}

	loc := &model.ResolvedLocation{Lat: 19.0760, Lng: 72.8777}
	ranked := r.Rank([]hybrid.Item{item}, loc, nil)

	// Every factor at maximum: score = sum of weights = 1.
	if math.Abs(ranked[0].Score-1.0) > 1e-9 {
		t.Errorf("all-max score = %v, want 1.0", ranked[0].Score)
	}
	if ranked[0].DistanceM == nil || *ranked[0].DistanceM > 1 {
		t.Error("distance must be populated and ~0 for same point")
	}
}

func TestRankOrdersByScore(t *testing.T) {
	r := newRanker(time.Now())
	items := []hybrid.Item{
		candidate("low", "Low Cafe", 0.2, 3.0, 5, false),
		candidate("high", "High Cafe", 0.9, 4.8, 500, true),
		candidate("mid", "Mid Cafe", 0.5, 4.0, 50, false),
	}

	ranked := r.Rank(items, nil, nil)
	got := []string{ranked[0].Business.ID, ranked[1].Business.ID, ranked[2].Business.ID}
	want := []string{"high", "mid", "low"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRankStability(t *testing.T) {
	r := newRanker(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	items := []hybrid.Item{
		candidate("a", "Alpha", 0.5, 4.0, 10, false),
		candidate("b", "Beta", 0.5, 4.0, 10, false),
		candidate("c", "Gamma", 0.7, 3.0, 10, false),
	}

	first := r.Rank(items, nil, nil)
	second := r.Rank(items, nil, nil)
	if !reflect.DeepEqual(first, second) {
		t.Error("ranking an unchanged input twice must yield identical order")
	}
}

func TestRankTieBreaks(t *testing.T) {
	r := newRanker(time.Now())
	// Identical scores except rating, then name.
	items := []hybrid.Item{
		candidate("z", "Zeta", 0.5, 4.0, 0, false),
		candidate("a", "Alpha", 0.5, 4.0, 0, false),
		candidate("better", "Better", 0.5, 4.5, 0, false),
	}

	ranked := r.Rank(items, nil, nil)
	if ranked[0].Business.ID != "better" {
		t.Errorf("first = %s, want rating tie-break winner", ranked[0].Business.ID)
	}
	if ranked[1].Business.Name != "Alpha" || ranked[2].Business.Name != "Zeta" {
		t.Error("equal-rating ties must break by name ascending")
	}
}

func TestRankKeywordInNameBoost(t *testing.T) {
	r := newRanker(time.Now())
	plain := candidate("plain", "Generic Eatery", 0.5, 4.0, 10, false)
	named := candidate("named", "Starbucks Coffee", 0.5, 4.0, 10, false)

	ranked := r.Rank([]hybrid.Item{plain, named}, nil, []string{"starbucks"})
	if ranked[0].Business.ID != "named" {
		t.Error("whole-word name hit must outrank the plain candidate")
	}
	if ranked[0].Relevance <= ranked[1].Relevance {
		t.Error("boost must be reflected in relevance")
	}
}

func TestRankBoostCapped(t *testing.T) {
	r := newRanker(time.Now())
	item := candidate("b1", "fresh roasted coffee beans", 0.9, 0, 0, false)

	ranked := r.Rank([]hybrid.Item{item}, nil, []string{"fresh", "roasted", "coffee"})
	// 0.9 + capped 0.25 boost clamps to 1.0.
	if ranked[0].Relevance != 1.0 {
		t.Errorf("relevance = %v, want clamped 1.0", ranked[0].Relevance)
	}
}

func TestRankDistanceFactorFavorsCloser(t *testing.T) {
	r := newRanker(time.Now())

	near := candidate("near", "Near", 0.5, 4.0, 10, false)
	near.Business.Location = model.Location{Lat: coord(19.08), Lng: coord(72.88)}
	far := candidate("far", "Far", 0.5, 4.0, 10, false)
	far.Business.Location = model.Location{Lat: coord(19.5), Lng: coord(73.3)}

	loc := &model.ResolvedLocation{Lat: 19.0760, Lng: 72.8777}
	ranked := r.Rank([]hybrid.Item{far, near}, loc, nil)

	if ranked[0].Business.ID != "near" {
		t.Error("closer business must rank first, all else equal")
	}
	if ranked[0].DistanceM == nil || ranked[1].DistanceM == nil {
		t.Fatal("distance must be populated when location is known")
	}
	if *ranked[0].DistanceM >= *ranked[1].DistanceM {
		t.Error("distances inconsistent with ordering")
	}
}

func TestRankRecencyFactor(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	r := newRanker(now)

	fresh := candidate("fresh", "Fresh", 0.5, 4.0, 10, false)
	fresh.Business.UpdatedAt = now.Add(-24 * time.Hour)
	stale := candidate("stale", "Stale", 0.5, 4.0, 10, false)
	stale.Business.UpdatedAt = now.Add(-90 * 24 * time.Hour)

	ranked := r.Rank([]hybrid.Item{stale, fresh}, nil, nil)
	if ranked[0].Business.ID != "fresh" {
		t.Error("recently updated business must rank first, all else equal")
	}
}
