package skyward

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// historyRow renders one grid row literal, padding the row out to the full
// column count.
func historyRow(cells ...string) string {
	for len(cells) < historyColumns {
		cells = append(cells, "")
	}
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprintf("{h: '%s'}", c)
	}
	return "{c: [" + strings.Join(parts, ", ") + "]}"
}

func historyPage(rows ...string) string {
	return `<html><body><script>
sff.sv('sf_gridObjects', $.extend((sff.getValue('sf_gridObjects') || {}), {
	'gradeGrid_history': {tb: {r: [` + strings.Join(rows, ",\n") + `]}}
}));
</script></body></html>`
}

func TestParseHistory(t *testing.T) {
	page := historyPage(
		`{c: [{h: '<span class="bld">2023 - 2024 (Grade 10)</span>'}]}`,
		historyRow("Class", "Terms", "PR1", "PR2", "RC1"),
		historyRow(
			`<a href="#">ENGLISH 10</a>`, "1 - 4",
			"90", "91", "92", "93", "94", "95", "88", "92",
			"89", "90", "91", "92", "93", "94", "87", "93",
		),
		historyRow(`<a href="#">ENGLISH 10</a>`, "1 - 2", "80", "81", "82"),
		historyRow(`<a href="#">ENGLISH 10</a>`, "3 - 4", "70"),
		historyRow("STUDY HALL", "1 - 4", "P", "P", "P"),
		historyRow(`<a href="#">LUNCH</a>`, "1 - 4"),
		historyRow("", "1 - 4"),
		`{c: [{h: '2024 - 2025'}, {h: 'Grade 11'}]}`,
		historyRow(`<a href="#">CHEMISTRY</a>`, "1 - 4", "", "", "85", "", "", "87", "", "86"),
	)

	history, err := ParseHistory(context.Background(), page)
	require.NoError(t, err)

	expected := AcademicHistory{
		"2023-2024": {
			Grade: 10,
			Courses: map[string]CourseGrades{
				"ENGLISH 10": {
					Terms: "1 - 4", FinalGrade: "93",
					Pr1: "90", Pr2: "91", Rc1: "92", Pr3: "93", Pr4: "94", Rc2: "95", Ex1: "88", Sm1: "92",
					Pr5: "89", Pr6: "90", Rc3: "91", Pr7: "92", Pr8: "93", Rc4: "94", Ex2: "87", Sm2: "93",
				},
				"ENGLISH 10_2": {Terms: "1 - 2", FinalGrade: "82", Pr1: "80", Pr2: "81", Rc1: "82"},
				"ENGLISH 10_3": {Terms: "3 - 4", Pr1: "70"},
			},
			Alt: map[string]CourseGrades{
				"STUDY HALL": {Terms: "1 - 4", FinalGrade: "P", Pr1: "P", Pr2: "P", Rc1: "P"},
			},
		},
		"2024-2025": {
			Grade: 11,
			Courses: map[string]CourseGrades{
				"CHEMISTRY": {Terms: "1 - 4", FinalGrade: "86", Rc1: "85", Rc2: "87", Sm1: "86"},
			},
			Alt: map[string]CourseGrades{},
		},
	}
	if diff := cmp.Diff(expected, history); diff != "" {
		t.Fatal(diff)
	}

	latest, ok := history.LatestYear()
	require.True(t, ok)
	require.Equal(t, "2024-2025", latest)
}

func TestParseHistoryRoutesUnlinkedRowsToAlt(t *testing.T) {
	page := historyPage(
		`{c: [{h: '2022 - 2023 Grade 9'}]}`,
		historyRow("PHYSICAL EDUCATION", "1 - 4", "A"),
		historyRow(`<span>ART</span>`, "1 - 2", "B"),
	)

	history, err := ParseHistory(context.Background(), page)
	require.NoError(t, err)
	year := history["2022-2023"]
	require.Empty(t, year.Courses)
	require.Len(t, year.Alt, 2)
	require.Contains(t, year.Alt, "PHYSICAL EDUCATION")
	require.Contains(t, year.Alt, "ART")
}

func TestParseHistoryWithoutLiteral(t *testing.T) {
	history, err := ParseHistory(context.Background(), "<html><body>maintenance</body></html>")
	require.ErrorIs(t, err, ErrParse)
	require.Empty(t, history)
}

func TestParseHistoryCoursesWithoutYearHeader(t *testing.T) {
	page := historyPage(
		historyRow(`<a href="#">ENGLISH 10</a>`, "1 - 4", "90", "91", "92"),
		historyRow(`<a href="#">BIOLOGY</a>`, "1 - 4", "88"),
	)

	history, err := ParseHistory(context.Background(), page)
	require.ErrorIs(t, err, ErrParse)
	require.Empty(t, history)
}

func TestParseHistoryEmptyGrid(t *testing.T) {
	history, err := ParseHistory(context.Background(), historyPage(
		historyRow("Class", "Terms", "PR1"),
	))
	require.NoError(t, err)
	require.Empty(t, history)
}
