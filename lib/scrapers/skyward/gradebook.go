package skyward

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"skyassist-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func (c *Client) FetchGradebook(ctx context.Context, tokens SessionTokens) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchGradebook")
	defer span.End()

	body, err := c.PostAuthenticated(ctx, tokens, EndpointGradebook, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch gradebook")
		return "", err
	}
	return body, nil
}

func (c *Client) FetchGradeInfo(ctx context.Context, tokens SessionTokens, params GradeInfoParams) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchGradeInfo")
	defer span.End()
	span.SetAttributes(
		attribute.String("cor_num_id", params.CorNumId),
		attribute.String("bucket", params.Bucket),
	)

	form := url.Values{}
	form.Set("action", "viewGradeInfoDialog")
	form.Set("gridCount", "1")
	form.Set("fromHttp", "yes")
	form.Set("stuId", params.StudentId)
	form.Set("entityId", params.EntityId)
	form.Set("corNumId", params.CorNumId)
	form.Set("track", params.Track)
	form.Set("section", params.Section)
	form.Set("gbId", params.GbId)
	form.Set("bucket", params.Bucket)
	form.Set("subjectId", params.SubjectId)
	form.Set("dialogLevel", "1")
	form.Set("isEoc", "no")
	form.Set("ishttp", "true")

	body, err := c.PostAuthenticated(ctx, tokens, EndpointGradeInfo, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch grade info")
		return "", err
	}
	return body, nil
}

var classDescId = regexp.MustCompile(`^classDesc_([^_]+)_([^_]+)_([^_]+)(?:_([^_]+))?$`)
var periodLabel = regexp.MustCompile(`(?i)period\s*([^\s(]+)`)
var timeRange = regexp.MustCompile(`\(([^)]*)\)`)

// ParseGradebook reads the live gradebook page into its course list. Course
// metadata comes from the class description tables, scores from the
// showGradeInfo anchors which may sit in the page markup or inside the
// sf_gridObjects cells.
func ParseGradebook(ctx context.Context, markup string) ([]GradebookCourse, error) {
	_, span := tracer.Start(ctx, "ParseGradebook")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, parseError("gradebook", "read markup: %v", err)
	}

	var courses []*GradebookCourse
	byKey := map[string]*GradebookCourse{}
	doc.Find("table[id^='classDesc_']").Each(func(_ int, table *goquery.Selection) {
		groups := classDescId.FindStringSubmatch(table.AttrOr("id", ""))
		if groups == nil {
			return
		}
		key := groups[2] + "_" + groups[3]
		if byKey[key] != nil {
			return
		}

		rows := table.Find("tr")
		details := htmlutil.SelectionText(rows.Eq(1))
		course := &GradebookCourse{
			StudentId:  groups[1],
			CorNumId:   groups[2],
			Section:    groups[3],
			GbId:       groups[4],
			Course:     htmlutil.SelectionText(rows.Eq(0)),
			Instructor: htmlutil.SelectionText(rows.Eq(2)),
			Scores:     map[string]float64{},
		}
		if m := periodLabel.FindStringSubmatch(details); m != nil {
			course.Period = m[1]
		}
		if m := timeRange.FindStringSubmatch(details); m != nil {
			course.Time = htmlutil.CleanText(m[1])
		}
		byKey[key] = course
		courses = append(courses, course)
	})
	if len(courses) == 0 {
		span.SetStatus(codes.Error, "no class descriptions")
		return nil, parseError("gradebook", "no class description tables found")
	}

	applyScore := func(anchor *goquery.Selection) {
		course := byKey[anchor.AttrOr("data-cni", "")+"_"+anchor.AttrOr("data-sec", "")]
		if course == nil {
			return
		}
		bucket := strings.ToUpper(htmlutil.CleanText(anchor.AttrOr("data-bkt", "")))
		score, ok := htmlutil.ExtractFloat(anchor.Text())
		if bucket == "" || !ok {
			return
		}
		course.Scores[bucket] = score
		if course.GbId == "" {
			course.GbId = anchor.AttrOr("data-gid", "")
		}
		if course.EntityId == "" {
			course.EntityId = anchor.AttrOr("data-eid", "")
		}
		if course.Track == "" {
			course.Track = anchor.AttrOr("data-trk", "")
		}
		if course.SubjectId == "" {
			course.SubjectId = anchor.AttrOr("data-subjid", "")
		}
	}

	doc.Find("a#showGradeInfo").Each(func(_ int, anchor *goquery.Selection) {
		applyScore(anchor)
	})
	// not every gradebook layout embeds a grid literal
	grids, _ := ParseGridObjects(markup)
	for _, grid := range grids {
		for _, row := range grid.Rows {
			for _, cell := range row {
				if !strings.Contains(cell, "showGradeInfo") {
					continue
				}
				fragment, err := htmlutil.FragmentDocument(cell)
				if err != nil {
					continue
				}
				fragment.Find("a#showGradeInfo").Each(func(_ int, anchor *goquery.Selection) {
					applyScore(anchor)
				})
			}
		}
	}

	result := make([]GradebookCourse, len(courses))
	for i, c := range courses {
		result[i] = *c
	}
	span.SetAttributes(attribute.Int("course_count", len(result)))
	return result, nil
}

var cdataSection = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

var categoryWeight = regexp.MustCompile(`weighted at (-?\d+(?:\.\d+)?)%(?:,\s*adjusted to (-?\d+(?:\.\d+)?)%)?`)
var weightAnnotation = regexp.MustCompile(`(?i)\(?\s*weighted at.*$`)
var reportCardLabel = regexp.MustCompile(`RC\d`)
var pointsPair = regexp.MustCompile(`(-?\d+(\.\d+)?) out of (-?\d+(\.\d+)?)`)

const uncategorized = "Uncategorized"

// ParseGradeInfo reads the grade detail dialog of one course bucket. The
// dialog arrives as a CDATA wrapped fragment, plain markup is accepted too.
func ParseGradeInfo(ctx context.Context, markup string) (GradeInfo, error) {
	_, span := tracer.Start(ctx, "ParseGradeInfo")
	defer span.End()

	fragment := markup
	if sections := cdataSection.FindAllStringSubmatch(markup, -1); len(sections) > 0 {
		var joined strings.Builder
		for _, s := range sections {
			joined.WriteString(s[1])
		}
		fragment = joined.String()
	}

	doc, err := htmlutil.FragmentDocument(fragment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return GradeInfo{}, parseError("grade_info", "read markup: %v", err)
	}
	grid := doc.Find("table[id^='grid_stuAssignmentSummaryGrid']")
	if grid.Length() == 0 {
		span.SetStatus(codes.Error, "no assignment grid")
		return GradeInfo{}, parseError("grade_info", "assignment summary grid not found")
	}

	var categories []*GradeCategory
	var current *GradeCategory
	var lastBold *GradeCategory
	afterBold := false

	grid.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("cat") {
			text := htmlutil.SelectionText(row)
			label := htmlutil.CleanText(weightAnnotation.ReplaceAllString(text, ""))
			weight, adjusted := parseCategoryWeight(text)
			bold := row.Find("span.bld, b, strong").Length() > 0

			if bold {
				current = &GradeCategory{Category: label, Weight: weight, AdjustedWeight: adjusted}
				categories = append(categories, current)
				lastBold = current
				afterBold = true
				return
			}
			if afterBold && reportCardLabel.MatchString(label) && lastBold.Weight == nil {
				lastBold.Weight = weight
				lastBold.AdjustedWeight = adjusted
				afterBold = false
				return
			}
			current = &GradeCategory{Category: label, Weight: weight, AdjustedWeight: adjusted}
			categories = append(categories, current)
			afterBold = false
			return
		}

		if row.Find("a#showAssignmentInfo").Length() == 0 {
			return
		}
		afterBold = false
		if current == nil {
			current = &GradeCategory{Category: uncategorized}
			categories = append(categories, current)
		}
		current.Assignments = append(current.Assignments, parseAssignmentRow(row))
	})

	info := GradeInfo{Categories: []GradeCategory{}}
	for _, c := range categories {
		if (c.Weight == nil || *c.Weight == 0) && len(c.Assignments) == 0 {
			continue
		}
		if c.Assignments == nil {
			c.Assignments = []Assignment{}
		}
		info.Categories = append(info.Categories, *c)
	}
	span.SetAttributes(attribute.Int("category_count", len(info.Categories)))
	return info, nil
}

func parseCategoryWeight(text string) (*float64, *float64) {
	m := categoryWeight.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	var weight, adjusted *float64
	if v, err := strconv.ParseFloat(m[1], 64); err == nil {
		weight = &v
	}
	if m[2] != "" {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			adjusted = &v
		}
	}
	return weight, adjusted
}

func cellTooltip(cell *goquery.Selection) string {
	for _, attr := range []string{"tooltip", "data-tooltip", "title"} {
		if v := htmlutil.CleanText(cell.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func parseAssignmentRow(row *goquery.Selection) Assignment {
	cells := row.Find("td")
	cell := func(i int) *goquery.Selection {
		return cells.Eq(i)
	}

	a := Assignment{
		Date: htmlutil.SelectionText(cell(0)),
		Name: htmlutil.SelectionText(row.Find("a#showAssignmentInfo").First()),
		Meta: []AssignmentMeta{},
	}

	gradeText := htmlutil.SelectionText(cell(2))
	if gradeText == "*" {
		a.Ungraded = true
	} else if grade, ok := htmlutil.ExtractInt(gradeText); ok {
		a.Grade = &grade
	}
	if score, ok := htmlutil.ExtractFloat(cell(3).Text()); ok && !a.Ungraded {
		a.Score = &score
	}
	if m := pointsPair.FindStringSubmatch(htmlutil.SelectionText(cell(4))); m != nil {
		earned, err1 := strconv.ParseFloat(m[1], 64)
		total, err2 := strconv.ParseFloat(m[3], 64)
		if err1 == nil && err2 == nil {
			a.Points = &Points{Earned: earned, Total: total}
		}
	}

	if note := cellTooltip(cell(5)); note != "" {
		a.Meta = append(a.Meta, AssignmentMeta{Type: MetaMissing, Note: note})
	}
	if note := cellTooltip(cell(6)); note != "" {
		a.Meta = append(a.Meta, AssignmentMeta{Type: MetaNoCount, Note: note})
	}
	absent := cellTooltip(cell(7))
	if absent == "" {
		absent = htmlutil.SelectionText(cell(7))
	}
	if absent != "" {
		a.Meta = append(a.Meta, AssignmentMeta{Type: MetaAbsent, Note: absent})
	}
	return a
}
