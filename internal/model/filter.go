package model

import (
	"sort"
	"strconv"
	"strings"
)

// SearchFilters is the declared filter record callers pass in the session.
// Zero values mean "no constraint"; Statuses defaults to {active} at the
// point of application, not here, so the record stays a plain value.
type SearchFilters struct {
	Category  string       `json:"category,omitempty"`
	City      string       `json:"city,omitempty"`
	State     string       `json:"state,omitempty"`
	Country   string       `json:"country,omitempty"`
	MinRating float64      `json:"min_rating,omitempty"`
	Prices    []PriceRange `json:"prices,omitempty"`
	Verified  *bool        `json:"verified,omitempty"`
	Statuses  []Status     `json:"statuses,omitempty"`

	// MaxDistanceM applies only to "near me" style queries.
	MaxDistanceM float64 `json:"max_distance_m,omitempty"`

	// OpenNow keeps only businesses whose hours cover the request time.
	OpenNow bool `json:"open_now,omitempty"`

	// StrictCategory disables the don't-over-filter guardrail for this
	// request.
	StrictCategory bool `json:"strict_category,omitempty"`
}

// CanonicalString renders the filters in a stable order for cache keys.
// Two semantically equal filter records must produce the same string.
func (f SearchFilters) CanonicalString() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}

	add("cat", f.Category)
	add("city", strings.ToLower(f.City))
	add("state", strings.ToLower(f.State))
	add("country", strings.ToLower(f.Country))
	if f.MinRating > 0 {
		add("rating", formatFloat(f.MinRating))
	}
	if len(f.Prices) > 0 {
		prices := make([]string, len(f.Prices))
		for i, p := range f.Prices {
			prices[i] = string(p)
		}
		sort.Strings(prices)
		add("price", strings.Join(prices, ","))
	}
	if f.Verified != nil {
		if *f.Verified {
			add("verified", "true")
		} else {
			add("verified", "false")
		}
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		sort.Strings(statuses)
		add("status", strings.Join(statuses, ","))
	}
	if f.MaxDistanceM > 0 {
		add("dist", formatFloat(f.MaxDistanceM))
	}
	if f.OpenNow {
		add("open", "now")
	}
	if f.StrictCategory {
		add("strict", "1")
	}

	return strings.Join(parts, "&")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
