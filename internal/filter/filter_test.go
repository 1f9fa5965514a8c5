package filter

import (
	"testing"
	"time"

	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/taxonomy"
)

func coord(v float64) *float64 { return &v }

func item(id, category, subcategory, city string, rating float64, price model.PriceRange, status model.Status) hybrid.Item {
	return hybrid.Item{Business: model.Business{
		ID:            id,
		Name:          id,
		CategoryID:    category,
		SubcategoryID: subcategory,
		Location:      model.Location{City: city},
		Rating:        rating,
		PriceRange:    price,
		Status:        status,
	}}
}

func newStage() *Stage {
	return New(taxonomy.Default(), Config{})
}

func ids(items []hybrid.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Business.ID
	}
	return out
}

func TestCategoryFilterKeepsMatchingSubtree(t *testing.T) {
	s := newStage()
	items := []hybrid.Item{
		item("cafe1", "food", "cafe", "Mumbai", 4, model.PriceModerate, model.StatusActive),
		item("gym1", "fitness", "gym", "Mumbai", 4, model.PriceModerate, model.StatusActive),
	}

	got := s.Apply(items, model.SearchFilters{Category: "food"}, model.QueryAnalysis{})
	if len(got) != 1 || got[0].Business.ID != "cafe1" {
		t.Errorf("got %v, want only cafe1", ids(got))
	}
}

func TestCategoryGuardrailKeepsPreFilterList(t *testing.T) {
	s := newStage()
	items := []hybrid.Item{
		item("gym1", "fitness", "gym", "Mumbai", 4, model.PriceModerate, model.StatusActive),
		item("gym2", "fitness", "gym", "Mumbai", 4, model.PriceModerate, model.StatusActive),
	}

	// The category filter would empty the list; the guardrail keeps it.
	got := s.Apply(items, model.SearchFilters{Category: "food"}, model.QueryAnalysis{})
	if len(got) != 2 {
		t.Errorf("guardrail failed: got %v, want both items kept", ids(got))
	}
}

func TestCategoryStrictModeAllowsEmptying(t *testing.T) {
	s := newStage()
	items := []hybrid.Item{
		item("gym1", "fitness", "gym", "Mumbai", 4, model.PriceModerate, model.StatusActive),
	}

	got := s.Apply(items, model.SearchFilters{Category: "food", StrictCategory: true}, model.QueryAnalysis{})
	if len(got) != 0 {
		t.Errorf("strict mode: got %v, want empty", ids(got))
	}

	strictStage := New(taxonomy.Default(), Config{StrictCategory: true})
	got = strictStage.Apply(items, model.SearchFilters{Category: "food"}, model.QueryAnalysis{})
	if len(got) != 0 {
		t.Errorf("strict config: got %v, want empty", ids(got))
	}
}

func TestCityFilterMatchesCaseInsensitively(t *testing.T) {
	s := newStage()
	items := []hybrid.Item{
		item("m1", "food", "", "mumbai", 4, model.PriceModerate, model.StatusActive),
		item("b1", "food", "", "Bangalore", 4, model.PriceModerate, model.StatusActive),
	}

	analysis := model.QueryAnalysis{Location: &model.ResolvedLocation{City: "Mumbai", Lat: 19.07, Lng: 72.87}}
	got := s.Apply(items, model.SearchFilters{}, analysis)
	if len(got) != 1 || got[0].Business.ID != "m1" {
		t.Errorf("got %v, want only the Mumbai item", ids(got))
	}
}

func TestCityFilterMatchesAddressSubstring(t *testing.T) {
	s := newStage()
	noCity := hybrid.Item{Business: model.Business{
		ID: "a1", Name: "a1", CategoryID: "food", Status: model.StatusActive,
		Location: model.Location{Address: "12 MG Road, Mumbai 400001"},
	}}

	analysis := model.QueryAnalysis{Location: &model.ResolvedLocation{City: "Mumbai", Lat: 19.07, Lng: 72.87}}
	got := s.Apply([]hybrid.Item{noCity}, model.SearchFilters{}, analysis)
	if len(got) != 1 {
		t.Error("address-substring match must keep the item")
	}
}

func TestDistanceFilterOnlyForNearMeQueries(t *testing.T) {
	s := newStage()

	near := hybrid.Item{Business: model.Business{
		ID: "near", Name: "near", CategoryID: "food", Status: model.StatusActive,
		Location: model.Location{City: "Mumbai", Lat: coord(19.08), Lng: coord(72.88)},
	}}
	far := hybrid.Item{Business: model.Business{
		ID: "far", Name: "far", CategoryID: "food", Status: model.StatusActive,
		Location: model.Location{City: "Mumbai", Lat: coord(12.97), Lng: coord(77.59)},
	}}

	// Near-me query: no city entity, no analysis city. Distance applies.
	nearMeAnalysis := model.QueryAnalysis{
		Entities: model.Entities{Locations: []string{}},
		Location: &model.ResolvedLocation{Lat: 19.0760, Lng: 72.8777},
	}
	got := s.Apply([]hybrid.Item{near, far}, model.SearchFilters{MaxDistanceM: 50000}, nearMeAnalysis)
	if len(got) != 1 || got[0].Business.ID != "near" {
		t.Errorf("near-me: got %v, want only near", ids(got))
	}

	// City-scoped query: distance skipped even with a tight cap.
	cityAnalysis := model.QueryAnalysis{
		Entities: model.Entities{Locations: []string{"Mumbai"}},
		Location: &model.ResolvedLocation{City: "Mumbai", Lat: 19.0760, Lng: 72.8777},
	}
	got = s.Apply([]hybrid.Item{near, far}, model.SearchFilters{MaxDistanceM: 1}, cityAnalysis)
	if len(got) != 2 {
		t.Errorf("city-scoped: got %v, want distance skipped (both kept)", ids(got))
	}
}

func TestNumericFilters(t *testing.T) {
	s := newStage()
	items := []hybrid.Item{
		item("good", "food", "", "Mumbai", 4.5, model.PriceBudget, model.StatusActive),
		item("lowrated", "food", "", "Mumbai", 3.0, model.PriceBudget, model.StatusActive),
		item("pricey", "food", "", "Mumbai", 4.8, model.PriceLuxury, model.StatusActive),
		item("inactive", "food", "", "Mumbai", 4.9, model.PriceBudget, model.StatusInactive),
	}

	got := s.Apply(items, model.SearchFilters{
		MinRating: 4.0,
		Prices:    []model.PriceRange{model.PriceBudget},
	}, model.QueryAnalysis{})

	if len(got) != 1 || got[0].Business.ID != "good" {
		t.Errorf("got %v, want only good (rating>=4, $, active)", ids(got))
	}
}

func TestVerifiedFilter(t *testing.T) {
	s := newStage()
	verified := item("v1", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusActive)
	verified.Business.Verified = true
	unverified := item("u1", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusActive)

	want := true
	got := s.Apply([]hybrid.Item{verified, unverified}, model.SearchFilters{Verified: &want}, model.QueryAnalysis{})
	if len(got) != 1 || got[0].Business.ID != "v1" {
		t.Errorf("got %v, want only verified", ids(got))
	}
}

func TestStatusDefaultsToActive(t *testing.T) {
	s := newStage()
	items := []hybrid.Item{
		item("a", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusActive),
		item("p", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusPending),
		item("x", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusSuspended),
	}

	got := s.Apply(items, model.SearchFilters{}, model.QueryAnalysis{})
	if len(got) != 1 || got[0].Business.ID != "a" {
		t.Errorf("got %v, want active only by default", ids(got))
	}

	got = s.Apply(items, model.SearchFilters{Statuses: []model.Status{model.StatusActive, model.StatusPending}}, model.QueryAnalysis{})
	if len(got) != 2 {
		t.Errorf("got %v, want explicit status set honored", ids(got))
	}
}

func TestOpenNowFilter(t *testing.T) {
	s := newStage()
	s.now = func() time.Time {
		// A Wednesday at 10:00 UTC.
		return time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	}

	open := item("open", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusActive)
	open.Business.Hours = map[string]model.DayHours{
		"wednesday": {Open: "09:00", Close: "18:00"},
	}
	closed := item("closed", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusActive)
	closed.Business.Hours = map[string]model.DayHours{
		"wednesday": {Closed: true},
	}
	noHours := item("nohours", "food", "", "Mumbai", 4, model.PriceBudget, model.StatusActive)

	got := s.Apply([]hybrid.Item{open, closed, noHours}, model.SearchFilters{OpenNow: true}, model.QueryAnalysis{})
	if len(got) != 2 {
		t.Fatalf("got %v, want open + nohours", ids(got))
	}
}
