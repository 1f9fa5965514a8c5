// Package filter applies the declared post-retrieval filters in a fixed
// order with the "don't over-filter" guardrail on the category filter.
package filter

import (
	"strings"
	"time"

	"github.com/placefinder/querycore/internal/geo"
	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/taxonomy"
)

// Config carries the construction-time knobs.
type Config struct {
	// StrictCategory disables the guardrail globally; per-request the
	// SearchFilters.StrictCategory flag does the same for one call.
	StrictCategory bool
}

type Stage struct {
	tax *taxonomy.Taxonomy
	cfg Config

	// now is swappable for tests of the open-now filter.
	now func() time.Time
}

func New(tax *taxonomy.Taxonomy, cfg Config) *Stage {
	return &Stage{tax: tax, cfg: cfg, now: time.Now}
}

// Apply runs the filters in order: category, location (city then distance),
// rating, price, verified, status, hours. The analysis supplies the
// resolved city and the near-me determination for the distance rule.
func (s *Stage) Apply(items []hybrid.Item, f model.SearchFilters, analysis model.QueryAnalysis) []hybrid.Item {
	items = s.applyCategory(items, f, analysis)
	items = s.applyLocation(items, f, analysis)
	items = applyRating(items, f)
	items = applyPrice(items, f)
	items = applyVerified(items, f)
	items = applyStatus(items, f)
	items = s.applyOpenNow(items, f)
	return items
}

// applyCategory keeps items matching the filter category (or its subtree).
// Guardrail: if the filter would empty a non-empty list, the pre-filter
// list is returned unchanged: retrieval is trusted over the filter. Strict
// mode (config or per-request) disables the guardrail.
func (s *Stage) applyCategory(items []hybrid.Item, f model.SearchFilters, analysis model.QueryAnalysis) []hybrid.Item {
	category := f.Category
	if category == "" {
		category = analysis.AuthoritativeCategory()
	}
	if category == "" || category == taxonomy.GeneralCategoryID {
		return items
	}

	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		b := item.Business
		if b.CategoryID == category || b.SubcategoryID == category ||
			s.tax.RootOf(b.CategoryID) == category ||
			(b.SubcategoryID != "" && s.tax.IsParentOf(category, b.SubcategoryID)) {
			kept = append(kept, item)
		}
	}

	strict := s.cfg.StrictCategory || f.StrictCategory
	if len(kept) == 0 && len(items) > 0 && !strict {
		return items
	}
	return kept
}

// applyLocation filters by city name first. The distance filter runs only
// for "near me" style queries (no city entity and no analysis city);
// city-scoped queries skip distance entirely.
func (s *Stage) applyLocation(items []hybrid.Item, f model.SearchFilters, analysis model.QueryAnalysis) []hybrid.Item {
	city := f.City
	if city == "" && analysis.Location != nil {
		city = analysis.Location.City
	}

	if city != "" {
		kept := make([]hybrid.Item, 0, len(items))
		lower := strings.ToLower(city)
		for _, item := range items {
			loc := item.Business.Location
			if strings.ToLower(loc.City) == lower ||
				strings.Contains(strings.ToLower(loc.Address), lower) {
				kept = append(kept, item)
			}
		}
		return kept
	}

	nearMe := len(analysis.Entities.Locations) == 0 && city == ""
	if !nearMe || analysis.Location == nil || f.MaxDistanceM <= 0 {
		return items
	}

	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		loc := item.Business.Location
		if !loc.HasCoordinates() {
			continue
		}
		d := geo.HaversineM(analysis.Location.Lat, analysis.Location.Lng, *loc.Lat, *loc.Lng)
		if d <= f.MaxDistanceM {
			kept = append(kept, item)
		}
	}
	return kept
}

func applyRating(items []hybrid.Item, f model.SearchFilters) []hybrid.Item {
	if f.MinRating <= 0 {
		return items
	}
	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		if item.Business.Rating >= f.MinRating {
			kept = append(kept, item)
		}
	}
	return kept
}

func applyPrice(items []hybrid.Item, f model.SearchFilters) []hybrid.Item {
	if len(f.Prices) == 0 {
		return items
	}
	allowed := make(map[model.PriceRange]bool, len(f.Prices))
	for _, p := range f.Prices {
		allowed[p] = true
	}
	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		if allowed[item.Business.PriceRange] {
			kept = append(kept, item)
		}
	}
	return kept
}

func applyVerified(items []hybrid.Item, f model.SearchFilters) []hybrid.Item {
	if f.Verified == nil {
		return items
	}
	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		if item.Business.Verified == *f.Verified {
			kept = append(kept, item)
		}
	}
	return kept
}

// applyStatus defaults to active-only when the caller didn't say otherwise.
func applyStatus(items []hybrid.Item, f model.SearchFilters) []hybrid.Item {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusActive}
	}
	allowed := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		if allowed[item.Business.Status] {
			kept = append(kept, item)
		}
	}
	return kept
}

// applyOpenNow keeps businesses whose hours cover the current time in their
// own timezone (falling back to server time when the timezone is absent or
// unknown). Businesses without hours data are kept.
func (s *Stage) applyOpenNow(items []hybrid.Item, f model.SearchFilters) []hybrid.Item {
	if !f.OpenNow {
		return items
	}
	kept := make([]hybrid.Item, 0, len(items))
	for _, item := range items {
		if isOpenAt(item.Business, s.now()) {
			kept = append(kept, item)
		}
	}
	return kept
}

func isOpenAt(b model.Business, now time.Time) bool {
	if len(b.Hours) == 0 {
		return true
	}
	if b.Location.Timezone != "" {
		if loc, err := time.LoadLocation(b.Location.Timezone); err == nil {
			now = now.In(loc)
		}
	}

	day := strings.ToLower(now.Weekday().String())
	hours, ok := b.Hours[day]
	if !ok || hours.Closed {
		return false
	}

	open, err1 := time.Parse("15:04", hours.Open)
	close, err2 := time.Parse("15:04", hours.Close)
	if err1 != nil || err2 != nil {
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	openMin := open.Hour()*60 + open.Minute()
	closeMin := close.Hour()*60 + close.Minute()
	if closeMin < openMin {
		// Past-midnight close.
		return minutes >= openMin || minutes < closeMin
	}
	return minutes >= openMin && minutes < closeMin
}
