package skyward

import (
	"context"
	"sort"
	"strconv"
	"strings"

	scraper "skyassist-backend/lib/scrapers/skyward"
	"skyassist-backend/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
)

// UnifiedCourseData is one live course joined with its historical record.
type UnifiedCourseData struct {
	Key        string `json:"key"`
	Course     string `json:"course"`
	StudentId  string `json:"studentId"`
	CorNumId   string `json:"corNumId"`
	Section    string `json:"section"`
	GbId       string `json:"gbId"`
	Instructor string `json:"instructor"`
	Period     string `json:"period"`
	Time       string `json:"time"`
	// CurrentScores maps a bucket label ("TERM 3") to its live score.
	CurrentScores    map[string]float64   `json:"currentScores"`
	HistoricalGrades scraper.CourseGrades `json:"historicalGrades"`
}

type CombinedData struct {
	Courses []UnifiedCourseData     `json:"courses"`
	History scraper.AcademicHistory `json:"history"`
}

// bucketFields maps a normalized bucket label to the grade slot it fills.
// Exam slots only ever come from the history page.
var bucketFields = map[string]func(*scraper.CourseGrades) *string{
	"TERM 1":  func(g *scraper.CourseGrades) *string { return &g.Pr1 },
	"TERM 2":  func(g *scraper.CourseGrades) *string { return &g.Pr2 },
	"TERM 3":  func(g *scraper.CourseGrades) *string { return &g.Rc1 },
	"TERM 4":  func(g *scraper.CourseGrades) *string { return &g.Pr3 },
	"TERM 5":  func(g *scraper.CourseGrades) *string { return &g.Pr4 },
	"TERM 6":  func(g *scraper.CourseGrades) *string { return &g.Rc2 },
	"TERM 7":  func(g *scraper.CourseGrades) *string { return &g.Pr5 },
	"TERM 8":  func(g *scraper.CourseGrades) *string { return &g.Pr6 },
	"TERM 9":  func(g *scraper.CourseGrades) *string { return &g.Rc3 },
	"TERM 10": func(g *scraper.CourseGrades) *string { return &g.Pr7 },
	"TERM 11": func(g *scraper.CourseGrades) *string { return &g.Pr8 },
	"TERM 12": func(g *scraper.CourseGrades) *string { return &g.Rc4 },
	"SEM 1":   func(g *scraper.CourseGrades) *string { return &g.Sm1 },
	"SEM 2":   func(g *scraper.CourseGrades) *string { return &g.Sm2 },
}

var firstHalfBuckets = []string{"TERM 1", "TERM 2", "TERM 3", "TERM 4", "TERM 5", "TERM 6", "SEM 1"}
var secondHalfBuckets = []string{"TERM 7", "TERM 8", "TERM 9", "TERM 10", "TERM 11", "TERM 12", "SEM 2"}

const fullYearTerms = "1-4"

func normalizeBucket(bucket string) string {
	return strings.Join(strings.Fields(strings.ToUpper(bucket)), " ")
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func applyBuckets(grades *scraper.CourseGrades, scores map[string]float64) {
	for bucket, score := range scores {
		field, ok := bucketFields[normalizeBucket(bucket)]
		if !ok {
			continue
		}
		*field(grades) = formatScore(score)
	}
	grades.FinalGrade = grades.DeriveFinalGrade()
}

func spansYear(scores map[string]float64) bool {
	has := func(buckets []string) bool {
		for bucket := range scores {
			for _, b := range buckets {
				if normalizeBucket(bucket) == b {
					return true
				}
			}
		}
		return false
	}
	return has(firstHalfBuckets) && has(secondHalfBuckets)
}

func courseIdentity(c scraper.GradebookCourse) string {
	if c.CorNumId != "" {
		return c.CorNumId + "_" + c.Section + "_" + c.GbId
	}
	return "name:" + textutil.CourseKey(c.Course)
}

// latestCoursesByName indexes the latest year's courses by matching key. When
// several entries share a key the lexically smallest name wins.
func latestCoursesByName(year scraper.AcademicYear) map[string]scraper.CourseGrades {
	names := make([]string, 0, len(year.Courses))
	for name := range year.Courses {
		names = append(names, name)
	}
	sort.Strings(names)

	result := map[string]scraper.CourseGrades{}
	for _, name := range names {
		key := textutil.CourseKey(name)
		if _, exists := result[key]; !exists {
			result[key] = year.Courses[name]
		}
	}
	return result
}

// Combine joins the live gradebook courses with the academic history. Each
// live course starts from its same-named course in the latest history year
// (or a blank record), live bucket scores overlay the progress and report
// card slots and the result replaces the latest year's course map. Inputs are
// never modified, so the same inputs always produce the same output.
func Combine(ctx context.Context, history scraper.AcademicHistory, courses []scraper.GradebookCourse) CombinedData {
	_, span := tracer.Start(ctx, "Combine")
	defer span.End()

	latestKey, hasLatest := history.LatestYear()
	historical := latestCoursesByName(history[latestKey])

	unified := []UnifiedCourseData{}
	index := map[string]int{}
	for _, c := range courses {
		key := courseIdentity(c)
		if i, exists := index[key]; exists {
			existing := &unified[i]
			for bucket, score := range c.Scores {
				existing.CurrentScores[bucket] = score
			}
			applyBuckets(&existing.HistoricalGrades, c.Scores)
			continue
		}

		grades, found := historical[textutil.CourseKey(c.Course)]
		if !found {
			grades = scraper.CourseGrades{}
			if spansYear(c.Scores) {
				grades.Terms = fullYearTerms
			}
		}
		applyBuckets(&grades, c.Scores)

		scores := make(map[string]float64, len(c.Scores))
		for bucket, score := range c.Scores {
			scores[bucket] = score
		}
		index[key] = len(unified)
		unified = append(unified, UnifiedCourseData{
			Key:              key,
			Course:           c.Course,
			StudentId:        c.StudentId,
			CorNumId:         c.CorNumId,
			Section:          c.Section,
			GbId:             c.GbId,
			Instructor:       c.Instructor,
			Period:           c.Period,
			Time:             c.Time,
			CurrentScores:    scores,
			HistoricalGrades: grades,
		})
	}

	merged := make(scraper.AcademicHistory, len(history))
	for year, record := range history {
		merged[year] = record
	}
	if hasLatest {
		latest := history[latestKey]
		replaced := make(map[string]scraper.CourseGrades, len(unified))
		for _, u := range unified {
			replaced[uniqueName(replaced, u.Course)] = u.HistoricalGrades
		}
		merged[latestKey] = scraper.AcademicYear{
			Grade:   latest.Grade,
			Courses: replaced,
			Alt:     latest.Alt,
		}
	}

	span.SetAttributes(attribute.Int("course_count", len(unified)))
	return CombinedData{Courses: unified, History: merged}
}

func uniqueName(existing map[string]scraper.CourseGrades, name string) string {
	if _, taken := existing[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}
