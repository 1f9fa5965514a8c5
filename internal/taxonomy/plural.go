package taxonomy

import "strings"

// Singularize applies deterministic English plural folding: -ies→y,
// -ves→f/fe, -es after s/x/z/ch/sh, then the general trailing -s. Words
// that don't look plural come back unchanged.
func Singularize(word string) string {
	switch {
	case len(word) > 3 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "ves"):
		return word[:len(word)-3] + "f"
	case len(word) > 2 && strings.HasSuffix(word, "es"):
		stem := word[:len(word)-2]
		if strings.HasSuffix(stem, "s") || strings.HasSuffix(stem, "x") ||
			strings.HasSuffix(stem, "z") || strings.HasSuffix(stem, "ch") ||
			strings.HasSuffix(stem, "sh") {
			return stem
		}
		// Not a sibilant stem: only the trailing s is plural ("cafes").
		return word[:len(word)-1]
	case len(word) > 1 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	default:
		return word
	}
}

// SingularizeAlternatives returns the candidate singular forms to try in
// order. The -ves suffix is ambiguous (wolves→wolf, knives→knife), so both
// foldings are offered.
func SingularizeAlternatives(word string) []string {
	primary := Singularize(word)
	if primary == word {
		return []string{word}
	}
	if strings.HasSuffix(word, "ves") {
		return []string{primary, word[:len(word)-3] + "fe"}
	}
	return []string{primary}
}
