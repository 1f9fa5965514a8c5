// Package rank turns the filtered candidate list into the final ordering:
// relevance dominates, with distance, rating, review volume, verification,
// and recency as secondary factors.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/placefinder/querycore/internal/geo"
	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/retriever/keyword"
)

// Factor weights. They sum to 1 so the final score stays in [0,1].
const (
	weightRelevance = 0.50
	weightDistance  = 0.15
	weightRating    = 0.15
	weightReviews   = 0.10
	weightVerified  = 0.05
	weightRecency   = 0.05

	// distanceHorizonM is where the distance factor reaches zero.
	distanceHorizonM = 50000.0

	// recencyHorizonDays is where the recency factor reaches zero.
	recencyHorizonDays = 30.0
)

type Ranker struct {
	// now is swappable for tests of the recency factor.
	now func() time.Time
}

func New() *Ranker {
	return &Ranker{now: time.Now}
}

// Rank scores and orders the candidates. The location, when present,
// populates each result's distance; queryKeywords drive the
// keyword-in-name boost. Ties break by rating descending, then name
// ascending, so identical inputs always produce identical order.
func (r *Ranker) Rank(items []hybrid.Item, location *model.ResolvedLocation, queryKeywords []string) []model.RankedBusiness {
	now := r.now()

	ranked := make([]model.RankedBusiness, 0, len(items))
	for _, item := range items {
		b := item.Business

		relevance := item.Combined + nameBoost(b, queryKeywords)
		if relevance > 1 {
			relevance = 1
		}

		var distanceM *float64
		distanceFactor := 0.0
		if location != nil && b.Location.HasCoordinates() {
			d := geo.HaversineM(location.Lat, location.Lng, *b.Location.Lat, *b.Location.Lng)
			distanceM = &d
			distanceFactor = math.Max(0, 1-d/distanceHorizonM)
		}

		ratingFactor := b.Rating / 5
		reviewFactor := math.Min(1, math.Log10(float64(b.ReviewCount)+1)/3)

		verifiedFactor := 0.0
		if b.Verified {
			verifiedFactor = 1
		}

		recencyFactor := 0.0
		if !b.UpdatedAt.IsZero() {
			ageDays := now.Sub(b.UpdatedAt).Hours() / 24
			recencyFactor = math.Max(0, 1-ageDays/recencyHorizonDays)
		}

		score := weightRelevance*relevance +
			weightDistance*distanceFactor +
			weightRating*ratingFactor +
			weightReviews*reviewFactor +
			weightVerified*verifiedFactor +
			weightRecency*recencyFactor

		ranked = append(ranked, model.RankedBusiness{
			Business:      b,
			Relevance:     relevance,
			SemanticScore: item.Semantic,
			KeywordScore:  item.Keyword,
			Score:         score,
			DistanceM:     distanceM,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Business.Rating != ranked[j].Business.Rating {
			return ranked[i].Business.Rating > ranked[j].Business.Rating
		}
		return ranked[i].Business.Name < ranked[j].Business.Name
	})

	return ranked
}

// nameBoost is the keyword-in-name boost, the same grading the keyword
// retriever uses, applied against the ranked item's name and description.
func nameBoost(b model.Business, queryKeywords []string) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}
	name := b.NormalizedName
	if name == "" {
		name = strings.ToLower(b.Name)
	}
	return keyword.Boost(queryKeywords, name, strings.ToLower(b.Description))
}
