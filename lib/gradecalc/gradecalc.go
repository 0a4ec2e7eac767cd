// Package gradecalc computes weighted course percentages from per-assignment
// scores and per-category weights.
package gradecalc

import (
	"sort"

	"skyassist-backend/lib/textutil"
)

// similarityThreshold is the minimum Jaro-Winkler similarity for an unknown
// assignment category to be attributed to a weighted one.
const similarityThreshold = 0.85

type Points struct {
	Earned float64 `json:"earned"`
	Total  float64 `json:"total"`
}

type Assignment struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Grade    *float64 `json:"grade,omitempty"`
	Points   *Points  `json:"points,omitempty"`
	// Ungraded marks the "*" placeholder, it never counts as a zero.
	Ungraded bool `json:"ungraded"`
	NoCount  bool `json:"noCount"`
}

// scorable reports the numerator/denominator contribution of an assignment.
func (a Assignment) scorable() (earned, possible float64, ok bool) {
	if a.Ungraded || a.NoCount {
		return 0, 0, false
	}
	if a.Points != nil {
		return a.Points.Earned, a.Points.Total, true
	}
	if a.Grade != nil {
		return *a.Grade, 100, true
	}
	return 0, 0, false
}

type CategorySummary struct {
	// Weight is the renormalized weight, weights of all categories in a
	// summary sum to 100 unless none of them carried a weight.
	Weight    float64 `json:"weight"`
	RawWeight float64 `json:"rawWeight"`
	Average   float64 `json:"average"`
	Earned    float64 `json:"earned"`
	Possible  float64 `json:"possible"`
	Count     int     `json:"count"`
}

type Summary struct {
	CourseTotal float64                    `json:"courseTotal"`
	Categories  map[string]CategorySummary `json:"categories"`
}

func resolveCategory(name string, weights map[string]float64, names []string) string {
	if _, ok := weights[name]; ok {
		return name
	}
	for _, n := range names {
		if textutil.CourseKey(n) == textutil.CourseKey(name) {
			return n
		}
	}
	match, ok := textutil.MostSimilar(name, names, similarityThreshold)
	if ok {
		return match
	}
	return name
}

// Summarize computes the weighted course total. Categories without any
// scorable assignment are left out entirely and the weights of the remaining
// categories are renormalized to sum to 100.
func Summarize(assignments []Assignment, weights map[string]float64) Summary {
	names := make([]string, 0, len(weights))
	for n := range weights {
		names = append(names, n)
	}
	sort.Strings(names)

	categories := map[string]CategorySummary{}
	for _, a := range assignments {
		earned, possible, ok := a.scorable()
		if !ok {
			continue
		}
		name := resolveCategory(a.Category, weights, names)
		category := categories[name]
		category.RawWeight = weights[name]
		category.Earned += earned
		category.Possible += possible
		category.Count++
		categories[name] = category
	}

	var totalWeight, totalEarned, totalPossible float64
	for name, category := range categories {
		if category.Possible > 0 {
			category.Average = category.Earned / category.Possible * 100
		}
		totalWeight += category.RawWeight
		totalEarned += category.Earned
		totalPossible += category.Possible
		categories[name] = category
	}

	summary := Summary{Categories: categories}
	if totalWeight == 0 {
		// nothing carries a weight, fall back to a straight points total
		if totalPossible > 0 {
			summary.CourseTotal = totalEarned / totalPossible * 100
		}
		return summary
	}

	for name, category := range categories {
		category.Weight = category.RawWeight / totalWeight * 100
		summary.CourseTotal += category.Average * category.Weight / 100
		categories[name] = category
	}
	return summary
}
