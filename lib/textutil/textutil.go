package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// CourseKey is the matching key for course names across upstream pages:
// trimmed, inner whitespace collapsed, uppercased.
func CourseKey(name string) string {
	name = strings.ReplaceAll(name, "\u00a0", " ")
	name = whitespaceRegex.ReplaceAllString(name, " ")
	return strings.ToUpper(strings.TrimSpace(name))
}

// MostSimilar returns the candidate with the highest Jaro-Winkler similarity to
// name, provided it reaches the threshold.
func MostSimilar(name string, candidates []string, threshold float64) (string, bool) {
	mostSimilar := ""
	var similarity float64
	for _, c := range candidates {
		sim := matchr.JaroWinkler(CourseKey(name), CourseKey(c), false)
		if sim > similarity {
			similarity = sim
			mostSimilar = c
		}
	}
	if mostSimilar == "" || similarity < threshold {
		return "", false
	}
	return mostSimilar, true
}
