package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var combinedForce bool

func init() {
	gradesCmd.Flags().BoolVar(&combinedForce, "force", false, "Skip the cache.")
	combinedCmd.Flags().BoolVar(&combinedForce, "force", false, "Skip the cache.")
	historyCmd.Flags().BoolVar(&combinedForce, "force", false, "Skip the cache.")
	rootCmd.AddCommand(gradesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(combinedCmd)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

var gradesCmd = &cobra.Command{
	Use:   "grades [--force]",
	Short: "Prints the current courses with their live scores.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		data, err := unwrap(runtime.Service.GetCombinedData(cmd.Context(), combinedForce))
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Period", "Course", "Instructor", "Scores", "Final", "Grade info"})
		for _, c := range data.Courses {
			buckets := make([]string, 0, len(c.CurrentScores))
			for bucket := range c.CurrentScores {
				buckets = append(buckets, bucket)
			}
			sort.Strings(buckets)
			scores := ""
			for i, bucket := range buckets {
				if i > 0 {
					scores += "\n"
				}
				scores += fmt.Sprintf("%s: %s", bucket, formatScore(c.CurrentScores[bucket]))
			}

			params := ""
			if c.CorNumId != "" {
				params = fmt.Sprintf("--student %s --course %s --section %s --gradebook %s", c.StudentId, c.CorNumId, c.Section, c.GbId)
			}
			t.AppendRow(table.Row{c.Period, c.Course, c.Instructor, scores, c.HistoricalGrades.FinalGrade, params})
			t.AppendSeparator()
		}
		t.Render()
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [--force]",
	Short: "Prints the academic history merged with the live grades.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		data, err := unwrap(runtime.Service.GetCombinedData(cmd.Context(), combinedForce))
		if err != nil {
			return err
		}

		years := make([]string, 0, len(data.History))
		for year := range data.History {
			years = append(years, year)
		}
		sort.Strings(years)

		for _, year := range years {
			record := data.History[year]
			t := newTable()
			t.SetTitle(fmt.Sprintf("%s (grade %d)", year, record.Grade))
			t.AppendHeader(table.Row{"Course", "Terms", "PR1", "PR2", "RC1", "PR3", "PR4", "RC2", "SM1", "PR5", "PR6", "RC3", "PR7", "PR8", "RC4", "SM2", "Final"})

			names := make([]string, 0, len(record.Courses))
			for name := range record.Courses {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				g := record.Courses[name]
				t.AppendRow(table.Row{
					name, g.Terms,
					g.Pr1, g.Pr2, g.Rc1, g.Pr3, g.Pr4, g.Rc2, g.Sm1,
					g.Pr5, g.Pr6, g.Rc3, g.Pr7, g.Pr8, g.Rc4, g.Sm2,
					g.FinalGrade,
				})
			}
			t.Render()
		}
		return nil
	},
}

var combinedCmd = &cobra.Command{
	Use:   "combined [--force]",
	Short: "Prints the combined course and history data as json.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		data, err := unwrap(runtime.Service.GetCombinedData(cmd.Context(), combinedForce))
		if err != nil {
			return err
		}
		return printJson(data)
	},
}
