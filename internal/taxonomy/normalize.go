package taxonomy

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/placefinder/querycore/internal/model"
)

// NormalizeBusinessName canonicalizes a display name: lowercase, trademark
// and punctuation stripped, whitespace collapsed. Letters, combining marks,
// digits, spaces, hyphens and apostrophes survive from any script. The
// skipValidation flag bypasses the name-shape checks for inputs that are
// known not to be business names (free-text search queries, category-only
// lookups); the empty check always applies.
func NormalizeBusinessName(input string, skipValidation bool) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(input))

	var b strings.Builder
	for _, r := range lower {
		switch {
		case unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '\'':
			b.WriteRune(r)
		default:
			// Punctuation and symbols become word boundaries so "a&b"
			// doesn't fuse into one token.
			b.WriteRune(' ')
		}
	}

	normalized := strings.Join(strings.Fields(b.String()), " ")
	if normalized == "" {
		return "", false
	}

	if !skipValidation {
		if len([]rune(normalized)) < 2 || len([]rune(normalized)) > 120 {
			return "", false
		}
		hasAlnum := false
		for _, r := range normalized {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				hasAlnum = true
				break
			}
		}
		if !hasAlnum {
			return "", false
		}
	}

	return normalized, true
}

// NormalizeCategory resolves any category-shaped input (id, synonym,
// regional term, model label, plural form) to its root taxonomy id.
func (t *Taxonomy) NormalizeCategory(input string) (string, bool) {
	id, ok := t.resolve(input)
	if !ok {
		return "", false
	}
	root := t.RootOf(id)
	if root == "" {
		return "", false
	}
	return root, true
}

// NormalizeLocationName canonicalizes a city or state name through the
// alias and known-city tables. Unknown places pass through cleaned and
// title-cased; only empty input is none.
func NormalizeLocationName(input string) (string, bool) {
	cleaned := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(input))), " ")
	cleaned = strings.Trim(cleaned, ".,")
	if cleaned == "" {
		return "", false
	}

	if canonical, ok := cityAliases[cleaned]; ok {
		return canonical, true
	}
	if city, ok := knownCities[cleaned]; ok {
		return city.Name, true
	}
	if state, ok := stateAliases[cleaned]; ok {
		return state, true
	}

	return titleCase(cleaned), true
}

// LookupCity returns the known-city entry (with coordinates) for a name,
// following aliases.
func LookupCity(name string) (City, bool) {
	cleaned := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
	if canonical, ok := cityAliases[cleaned]; ok {
		cleaned = strings.ToLower(canonical)
	}
	city, ok := knownCities[cleaned]
	return city, ok
}

// NormalizePriceRange maps price words and tokens to one of the four
// price-tier tokens.
func NormalizePriceRange(input string) (model.PriceRange, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "$", "budget", "cheap", "affordable", "inexpensive":
		return model.PriceBudget, true
	case "$$", "moderate", "mid", "mid-range", "reasonable":
		return model.PriceModerate, true
	case "$$$", "expensive", "upscale", "premium":
		return model.PriceExpensive, true
	case "$$$$", "luxury", "fine", "lavish":
		return model.PriceLuxury, true
	default:
		return "", false
	}
}

// NormalizeRating folds ratings from 10-point and 100-point scales onto the
// canonical 0.0-5.0 one-decimal scale. Accepts numbers or numeric strings;
// out-of-range input is none. Idempotent over its own output.
func NormalizeRating(input any) (float64, bool) {
	var x float64
	switch v := input.(type) {
	case float64:
		x = v
	case float32:
		x = float64(v)
	case int:
		x = float64(v)
	case int64:
		x = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		x = parsed
	default:
		return 0, false
	}

	switch {
	case x < 0 || math.IsNaN(x) || math.IsInf(x, 0):
		return 0, false
	case x <= 5:
		return round1(x), true
	case x <= 10:
		return round1(x / 2), true
	case x <= 100:
		return round1(x / 20), true
	default:
		return 0, false
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// NormalizePhoneNumber canonicalizes to E.164, defaulting unknown country
// to +91. Ten-digit numbers starting 6-9 are treated as Indian mobiles;
// 0-prefixed eleven-digit numbers as STD landlines.
func NormalizePhoneNumber(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}

	hasPlus := strings.HasPrefix(trimmed, "+")
	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hasPlus:
		if len(d) < 8 || len(d) > 15 {
			return "", false
		}
		return "+" + d, true
	case len(d) == 10 && d[0] >= '6' && d[0] <= '9':
		// Indian mobile.
		return "+91" + d, true
	case len(d) == 11 && d[0] == '0':
		// STD landline or 0-prefixed mobile; drop the trunk prefix.
		return "+91" + d[1:], true
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		return "+" + d, true
	default:
		return "", false
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
