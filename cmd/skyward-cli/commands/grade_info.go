package commands

import (
	"fmt"
	"sort"
	"strings"

	scraper "skyassist-backend/lib/scrapers/skyward"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var gradeInfoParams scraper.GradeInfoParams

func init() {
	flags := gradeInfoCmd.Flags()
	flags.StringVar(&gradeInfoParams.StudentId, "student", "", "The student id.")
	flags.StringVar(&gradeInfoParams.CorNumId, "course", "", "The course number id.")
	flags.StringVar(&gradeInfoParams.Section, "section", "", "The course section.")
	flags.StringVar(&gradeInfoParams.GbId, "gradebook", "", "The gradebook id.")
	flags.StringVar(&gradeInfoParams.Bucket, "bucket", "", "The grading period, ex. \"TERM 3\".")
	flags.StringVar(&gradeInfoParams.EntityId, "entity", "", "The entity id.")
	flags.StringVar(&gradeInfoParams.Track, "track", "", "The track.")
	flags.StringVar(&gradeInfoParams.SubjectId, "subject", "", "The subject id.")
	rootCmd.AddCommand(gradeInfoCmd)
}

func assignmentGrade(a scraper.Assignment) string {
	switch {
	case a.Ungraded:
		return "*"
	case a.Points != nil:
		return fmt.Sprintf("%s/%s", formatScore(a.Points.Earned), formatScore(a.Points.Total))
	case a.Score != nil:
		return formatScore(*a.Score)
	case a.Grade != nil:
		return fmt.Sprint(*a.Grade)
	}
	return ""
}

func assignmentMeta(a scraper.Assignment) string {
	parts := make([]string, 0, len(a.Meta))
	for _, m := range a.Meta {
		if m.Note != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", m.Type, m.Note))
			continue
		}
		parts = append(parts, string(m.Type))
	}
	return strings.Join(parts, ", ")
}

var gradeInfoCmd = &cobra.Command{
	Use:   "grade-info --student <id> --course <id> --section <id> --gradebook <id> --bucket <bucket>",
	Short: "Prints the assignment breakdown of one course and grading period.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		result, err := unwrap(runtime.Service.FetchGradeInfo(cmd.Context(), gradeInfoParams))
		if err != nil {
			return err
		}

		for _, category := range result.Info.Categories {
			t := newTable()
			title := category.Category
			if category.Weight != nil {
				title += fmt.Sprintf(" (weighted at %s%%)", formatScore(*category.Weight))
			}
			if category.AdjustedWeight != nil {
				title += fmt.Sprintf(" (adjusted to %s%%)", formatScore(*category.AdjustedWeight))
			}
			t.SetTitle(title)
			t.AppendHeader(table.Row{"Date", "Assignment", "Grade", "Notes"})
			for _, a := range category.Assignments {
				t.AppendRow(table.Row{a.Date, a.Name, assignmentGrade(a), assignmentMeta(a)})
			}
			t.Render()
		}

		names := make([]string, 0, len(result.Summary.Categories))
		for name := range result.Summary.Categories {
			names = append(names, name)
		}
		sort.Strings(names)

		t := newTable()
		t.SetTitle("Summary")
		t.AppendHeader(table.Row{"Category", "Weight", "Average", "Count"})
		for _, name := range names {
			c := result.Summary.Categories[name]
			t.AppendRow(table.Row{name, fmt.Sprintf("%.2f", c.Weight), fmt.Sprintf("%.2f", c.Average), c.Count})
		}
		t.AppendFooter(table.Row{"Total", "", fmt.Sprintf("%.2f", result.Summary.CourseTotal), ""})
		t.Render()
		return nil
	},
}
