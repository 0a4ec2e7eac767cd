package skyward

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"skyassist-backend/lib/htmlutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func (c *Client) FetchHistory(ctx context.Context, tokens SessionTokens) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchHistory")
	defer span.End()

	body, err := c.PostAuthenticated(ctx, tokens, EndpointHistory, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch academic history")
		return "", err
	}
	return body, nil
}

const historyColumns = 18

var yearHeader = regexp.MustCompile(`(\d{4})\s*-\s*(\d{4}).*?Grade\s*(\d{1,2})`)

var nonCourseLabels = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^class$`),
	regexp.MustCompile(`(?i)^terms$`),
	regexp.MustCompile(`^\d{4}\s*-\s*\d{4}`),
	regexp.MustCompile(`(?i)^(pr|rc)\d*$`),
	regexp.MustCompile(`(?i)^lunch`),
}

func isCourseLabel(name string) bool {
	if name == "" {
		return false
	}
	for _, re := range nonCourseLabels {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

// ParseHistory reads the academic history page. Rows of the embedded grid
// literal are walked in order, each year header opens a section and the
// course rows up to the next header belong to it.
func ParseHistory(ctx context.Context, markup string) (AcademicHistory, error) {
	_, span := tracer.Start(ctx, "ParseHistory")
	defer span.End()

	grids, err := ParseGridObjects(markup)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read grid literal")
		return AcademicHistory{}, err
	}

	history := AcademicHistory{}
	// course rows seen before any year header
	orphans := 0
	for _, grid := range grids {
		currentYear := ""
		for _, row := range grid.Rows {
			if key, grade, ok := yearHeaderRow(row); ok {
				currentYear = key
				if _, exists := history[key]; !exists {
					history[key] = AcademicYear{
						Grade:   grade,
						Courses: map[string]CourseGrades{},
						Alt:     map[string]CourseGrades{},
					}
				}
				continue
			}
			if len(row) < historyColumns {
				continue
			}
			name := htmlutil.FragmentText(row[0])
			if !isCourseLabel(name) {
				continue
			}
			if currentYear == "" {
				orphans++
				continue
			}
			target := history[currentYear].Courses
			if !htmlutil.HasAnchor(row[0]) {
				target = history[currentYear].Alt
			}
			target[uniqueCourseName(target, name)] = courseGradesFromRow(row)
		}
	}

	if len(history) == 0 && orphans > 0 {
		err := parseError("history", "%d course rows without a year header", orphans)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no year sections")
		return AcademicHistory{}, err
	}

	span.SetAttributes(attribute.Int("year_count", len(history)))
	return history, nil
}

func yearHeaderRow(row []string) (string, int, bool) {
	texts := make([]string, 0, len(row))
	for _, cell := range row {
		if text := htmlutil.FragmentText(cell); text != "" {
			texts = append(texts, text)
		}
	}
	m := yearHeader.FindStringSubmatch(strings.Join(texts, " "))
	if m == nil {
		return "", 0, false
	}
	grade, _ := strconv.Atoi(m[3])
	return m[1] + "-" + m[2], grade, true
}

func uniqueCourseName(existing map[string]CourseGrades, name string) string {
	if _, taken := existing[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}

func courseGradesFromRow(row []string) CourseGrades {
	v := func(i int) string {
		return htmlutil.FragmentText(row[i])
	}
	grades := CourseGrades{
		Terms: v(1),
		Pr1:   v(2),
		Pr2:   v(3),
		Rc1:   v(4),
		Pr3:   v(5),
		Pr4:   v(6),
		Rc2:   v(7),
		Ex1:   v(8),
		Sm1:   v(9),
		Pr5:   v(10),
		Pr6:   v(11),
		Rc3:   v(12),
		Pr7:   v(13),
		Pr8:   v(14),
		Rc4:   v(15),
		Ex2:   v(16),
		Sm2:   v(17),
	}
	grades.FinalGrade = grades.DeriveFinalGrade()
	return grades
}
