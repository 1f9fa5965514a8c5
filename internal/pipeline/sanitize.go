package pipeline

import (
	"strings"
	"unicode"
)

const maxQueryLength = 500

// sanitizeQuery trims, truncates to the length cap, and strips control and
// markup characters. An empty result means the query was unusable.
func sanitizeQuery(raw string) string {
	trimmed := strings.TrimSpace(raw)

	var b strings.Builder
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			continue
		}
		switch r {
		case '<', '>', '{', '}', '`':
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(cleaned)
	if len(runes) > maxQueryLength {
		cleaned = string(runes[:maxQueryLength])
	}
	return cleaned
}

// nearMePhrases mark a query as user-centric rather than city-scoped.
var nearMePhrases = []string{
	"near me", "nearby", "around me", "close to me", "close by", "walking distance",
}

func isNearMeQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range nearMePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
