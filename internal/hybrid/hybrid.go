// Package hybrid fuses the semantic and keyword retrieval lists into one
// deduplicated, score-attached candidate list, applying the classifier's
// authority override to lexical category signals first.
package hybrid

import (
	"sort"
	"strings"

	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/retriever/keyword"
	"github.com/placefinder/querycore/internal/retriever/semantic"
	"github.com/placefinder/querycore/internal/taxonomy"
)

// Weights control the fusion. Defaults are 0.7 semantic / 0.3 keyword.
type Weights struct {
	Semantic float64
	Keyword  float64
}

func DefaultWeights() Weights {
	return Weights{Semantic: 0.7, Keyword: 0.3}
}

func (w Weights) withDefaults() Weights {
	if w.Semantic == 0 && w.Keyword == 0 {
		return DefaultWeights()
	}
	return w
}

// Item is one merged candidate with its component scores attached for later
// inspection.
type Item struct {
	Business model.Business

	// Semantic is cosine shifted from [-1,1] to [0,1], max over hits.
	Semantic float64

	// Keyword is lexical relevance in [0,1], max over hits.
	Keyword float64

	// Combined is w_s*Semantic + w_k*Keyword clamped to [0,1].
	Combined float64
}

type Merger struct {
	tax *taxonomy.Taxonomy
}

func New(tax *taxonomy.Taxonomy) *Merger {
	return &Merger{tax: tax}
}

// Merge deduplicates by business id (falling back to lowercased name+city)
// keeping the max of each component score, and returns items sorted by
// combined score descending.
//
// When authoritativeCategory is set (classifier confidence >= 0.7), keyword
// relevance is recomputed so only exact matches to that category or its
// subtree contribute category signal; parent-match credit earned against
// other taxonomy hits is discarded. The reserved general root drops all
// category contributions.
func (m *Merger) Merge(semanticResults []semantic.Result, keywordResults []keyword.Result, w Weights, authoritativeCategory string) []Item {
	w = w.withDefaults()

	type slot struct {
		item  Item
		order int
	}
	slots := make(map[string]*slot)
	orderCounter := 0

	lookup := func(b model.Business) *slot {
		key := b.ID
		if key == "" {
			key = strings.ToLower(b.Name) + "|" + strings.ToLower(b.City())
		}
		s, ok := slots[key]
		if !ok {
			s = &slot{item: Item{Business: b}, order: orderCounter}
			orderCounter++
			slots[key] = s
		}
		return s
	}

	for _, res := range semanticResults {
		s := lookup(res.Business)
		shifted := clamp01((res.Similarity + 1) / 2)
		if shifted > s.item.Semantic {
			s.item.Semantic = shifted
		}
	}

	for _, res := range keywordResults {
		s := lookup(res.Business)
		relevance := res.Relevance
		if authoritativeCategory != "" {
			relevance = m.overrideRelevance(res, authoritativeCategory)
		}
		relevance = clamp01(relevance)
		if relevance > s.item.Keyword {
			s.item.Keyword = relevance
		}
	}

	items := make([]Item, 0, len(slots))
	ordered := make([]*slot, 0, len(slots))
	for _, s := range slots {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	for _, s := range ordered {
		s.item.Combined = clamp01(w.Semantic*s.item.Semantic + w.Keyword*s.item.Keyword)
		items = append(items, s.item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Combined != items[j].Combined {
			return items[i].Combined > items[j].Combined
		}
		if items[i].Business.Name != items[j].Business.Name {
			return items[i].Business.Name < items[j].Business.Name
		}
		return items[i].Business.ID < items[j].Business.ID
	})

	return items
}

// overrideRelevance recomputes one keyword result's relevance under the
// authoritative category.
func (m *Merger) overrideRelevance(res keyword.Result, authCategory string) float64 {
	if authCategory == taxonomy.GeneralCategoryID {
		// No category signal at all; the text score stands alone.
		return res.TextScore
	}

	b := res.Business
	exact := b.CategoryID == authCategory ||
		b.SubcategoryID == authCategory ||
		m.tax.RootOf(b.CategoryID) == authCategory ||
		(b.SubcategoryID != "" && m.tax.IsParentOf(authCategory, b.SubcategoryID))

	categoryRelevance := 0.0
	if exact {
		categoryRelevance = 0.7
	}
	return keyword.CombineWithCategory(res.TextScore, categoryRelevance)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
