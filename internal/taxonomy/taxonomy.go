// Package taxonomy holds the static category tree and the pure
// normalization functions the rest of the pipeline canonicalizes through.
// Everything here is table-driven and side-effect free.
package taxonomy

import (
	"fmt"
	"strings"
)

// Category is one node in the reference tree. Roots have an empty ParentID.
type Category struct {
	ID            string
	Name          string
	ParentID      string
	Synonyms      []string
	RegionalTerms []string
}

// Taxonomy is the category tree plus its derived lookup indices.
type Taxonomy struct {
	categories    map[string]Category
	order         []string
	synonymIndex  map[string]string
	regionalIndex map[string]string
	children      map[string][]string
}

// New builds a taxonomy and its indices, validating that every non-root
// category points at an existing parent.
func New(categories []Category) (*Taxonomy, error) {
	t := &Taxonomy{
		categories:    make(map[string]Category, len(categories)),
		synonymIndex:  make(map[string]string),
		regionalIndex: make(map[string]string),
		children:      make(map[string][]string),
	}

	for _, c := range categories {
		if c.ID == "" {
			return nil, fmt.Errorf("category with empty id")
		}
		if _, dup := t.categories[c.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %q", c.ID)
		}
		t.categories[c.ID] = c
		t.order = append(t.order, c.ID)
	}

	for _, c := range categories {
		if c.ParentID != "" {
			if _, ok := t.categories[c.ParentID]; !ok {
				return nil, fmt.Errorf("category %q has unknown parent %q", c.ID, c.ParentID)
			}
			t.children[c.ParentID] = append(t.children[c.ParentID], c.ID)
		}
		for _, s := range c.Synonyms {
			t.synonymIndex[strings.ToLower(s)] = c.ID
		}
		for _, r := range c.RegionalTerms {
			t.regionalIndex[strings.ToLower(r)] = c.ID
		}
	}

	return t, nil
}

// Default returns the taxonomy built from the static reference tables.
// The tables are fixed, so construction cannot fail.
func Default() *Taxonomy {
	t, err := New(defaultCategories)
	if err != nil {
		panic(fmt.Sprintf("default taxonomy invalid: %v", err))
	}
	return t
}

// Category returns the node for id.
func (t *Taxonomy) Category(id string) (Category, bool) {
	c, ok := t.categories[id]
	return c, ok
}

// IsRoot reports whether id names a root category.
func (t *Taxonomy) IsRoot(id string) bool {
	c, ok := t.categories[id]
	return ok && c.ParentID == ""
}

// RootOf walks parents until it hits a root. Unknown ids return "".
func (t *Taxonomy) RootOf(id string) string {
	c, ok := t.categories[id]
	if !ok {
		return ""
	}
	for c.ParentID != "" {
		parent, ok := t.categories[c.ParentID]
		if !ok {
			return ""
		}
		c = parent
	}
	return c.ID
}

// Children returns the direct subcategory ids of id.
func (t *Taxonomy) Children(id string) []string {
	return t.children[id]
}

// MultiWordPhrases returns the curated phrase list in match order. The
// keyword retriever uses it to protect phrase words from stop-word
// filtering.
func MultiWordPhrases() []string {
	phrases := make([]string, len(multiWordPatterns))
	for i, p := range multiWordPatterns {
		phrases[i] = p.Phrase
	}
	return phrases
}

// RootIDs returns every root category id in declaration order, used by the
// classifier prompt.
func (t *Taxonomy) RootIDs() []string {
	var roots []string
	for _, id := range t.order {
		if t.categories[id].ParentID == "" {
			roots = append(roots, id)
		}
	}
	return roots
}

// IsParentOf reports whether parent is an ancestor of id (or the same id).
func (t *Taxonomy) IsParentOf(parent, id string) bool {
	if parent == id {
		return true
	}
	c, ok := t.categories[id]
	for ok && c.ParentID != "" {
		if c.ParentID == parent {
			return true
		}
		c, ok = t.categories[c.ParentID]
	}
	return false
}

// resolve maps one token to a category id without folding to root.
// Resolution order: exact id, synonym, regional term, model label, then the
// same chain over the singular form.
func (t *Taxonomy) resolve(token string) (string, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "", false
	}

	if id, ok := t.resolveExact(token); ok {
		return id, true
	}
	for _, singular := range SingularizeAlternatives(token) {
		if singular == token {
			continue
		}
		if id, ok := t.resolveExact(singular); ok {
			return id, true
		}
	}
	return "", false
}

func (t *Taxonomy) resolveExact(token string) (string, bool) {
	if _, ok := t.categories[token]; ok {
		return token, true
	}
	if id, ok := t.synonymIndex[token]; ok {
		return id, true
	}
	if id, ok := t.regionalIndex[token]; ok {
		return id, true
	}
	if id, ok := modelLabelMappings[token]; ok {
		return id, true
	}
	return "", false
}

// ExtractCategoryIDs pulls category ids out of a free-text query: curated
// multi-word phrases first, then word-by-word resolution with plural
// folding. Returned ids are deduplicated preserving first occurrence and
// may be subcategories; callers fold to root as needed.
func (t *Taxonomy) ExtractCategoryIDs(query string) []string {
	lower := strings.ToLower(query)

	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, p := range multiWordPatterns {
		if strings.Contains(lower, p.Phrase) {
			add(p.ID)
			// Consume the phrase so its words don't re-resolve below
			// ("coffee shops" must not also surface "shops").
			lower = strings.ReplaceAll(lower, p.Phrase, " ")
		}
	}

	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:'\"()")
		if id, ok := t.resolve(word); ok {
			add(id)
		}
	}

	return out
}
