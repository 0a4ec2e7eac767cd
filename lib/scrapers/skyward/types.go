package skyward

import "net/url"

// SessionTokens are the five opaque values the portal requires on every call
// after login. They are minted together and invalidated together.
type SessionTokens struct {
	Dwd       string `json:"dwd"`
	Wfaacl    string `json:"wfaacl"`
	Encses    string `json:"encses"`
	UserType  string `json:"userType"`
	SessionId string `json:"sessionId"`
	BaseUrl   string `json:"baseUrl"`
}

// Valid reports whether every token is present, a partially populated set is
// the same as no session at all.
func (t SessionTokens) Valid() bool {
	return t.Dwd != "" &&
		t.Wfaacl != "" &&
		t.Encses != "" &&
		t.UserType != "" &&
		t.SessionId != ""
}

// form embeds the tokens the way the portal expects them in a request body.
func (t SessionTokens) form(values url.Values) url.Values {
	if values == nil {
		values = url.Values{}
	}
	values.Set("dwd", t.Dwd)
	values.Set("wfaacl", t.Wfaacl)
	values.Set("encses", t.Encses)
	values.Set("User-Type", t.UserType)
	values.Set("sessionid", t.SessionId)
	return values
}

type Credentials struct {
	Link     string `json:"link"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Message struct {
	ClassName    string `json:"className"`
	MessageRowId string `json:"messageRowId"`
	Subject      string `json:"subject"`
	// From is nil for administrator messages.
	From    *string `json:"from,omitempty"`
	Date    string  `json:"date"`
	Content string  `json:"content"`
}

type MetaType string

const (
	MetaMissing MetaType = "missing"
	MetaNoCount MetaType = "noCount"
	MetaAbsent  MetaType = "absent"
)

type AssignmentMeta struct {
	Type MetaType `json:"type"`
	Note string   `json:"note"`
}

type Points struct {
	Earned float64 `json:"earned"`
	Total  float64 `json:"total"`
}

type Assignment struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Grade *int   `json:"grade,omitempty"`
	// Ungraded is set when the grade cell holds the "*" placeholder.
	Ungraded bool             `json:"ungraded"`
	Score    *float64         `json:"score,omitempty"`
	Points   *Points          `json:"points,omitempty"`
	Meta     []AssignmentMeta `json:"meta"`
}

func (a Assignment) HasMeta(t MetaType) bool {
	for _, m := range a.Meta {
		if m.Type == t {
			return true
		}
	}
	return false
}

type GradeCategory struct {
	Category string `json:"category"`
	// Weight is nil when the portal omits it for the category.
	Weight         *float64     `json:"weight"`
	AdjustedWeight *float64     `json:"adjustedWeight"`
	Assignments    []Assignment `json:"assignments"`
}

type GradeInfo struct {
	Categories []GradeCategory `json:"categories"`
}

// GradeInfoParams identify one course bucket for the grade detail dialog.
type GradeInfoParams struct {
	StudentId string `json:"studentId" validate:"required"`
	EntityId  string `json:"entityId"`
	CorNumId  string `json:"corNumId" validate:"required"`
	Track     string `json:"track"`
	Section   string `json:"section" validate:"required"`
	GbId      string `json:"gbId" validate:"required"`
	Bucket    string `json:"bucket" validate:"required"`
	SubjectId string `json:"subjectId"`
}

// GradebookCourse is one course of the live gradebook.
type GradebookCourse struct {
	StudentId  string `json:"studentId"`
	CorNumId   string `json:"corNumId"`
	Section    string `json:"section"`
	GbId       string `json:"gbId"`
	EntityId   string `json:"entityId,omitempty"`
	Track      string `json:"track,omitempty"`
	SubjectId  string `json:"subjectId,omitempty"`
	Course     string `json:"course"`
	Instructor string `json:"instructor"`
	Period     string `json:"period"`
	Time       string `json:"time"`
	// Scores maps a bucket label ("TERM 3", "SEM 1") to its score.
	Scores map[string]float64 `json:"scores"`
}

// GradeInfoParams addresses the grade detail dialog for one of the course's
// buckets.
func (c GradebookCourse) GradeInfoParams(bucket string) GradeInfoParams {
	return GradeInfoParams{
		StudentId: c.StudentId,
		EntityId:  c.EntityId,
		CorNumId:  c.CorNumId,
		Track:     c.Track,
		Section:   c.Section,
		GbId:      c.GbId,
		Bucket:    bucket,
		SubjectId: c.SubjectId,
	}
}

// CourseGrades holds one course's historical grade slots. Every slot is a
// string since the portal emits "P", "X" or blanks next to numbers, a blank
// slot means the portal reported nothing for it.
type CourseGrades struct {
	Terms      string `json:"terms"`
	FinalGrade string `json:"finalGrade"`
	Sm1        string `json:"sm1"`
	Sm2        string `json:"sm2"`
	Pr1        string `json:"pr1"`
	Pr2        string `json:"pr2"`
	Pr3        string `json:"pr3"`
	Pr4        string `json:"pr4"`
	Pr5        string `json:"pr5"`
	Pr6        string `json:"pr6"`
	Pr7        string `json:"pr7"`
	Pr8        string `json:"pr8"`
	Rc1        string `json:"rc1"`
	Rc2        string `json:"rc2"`
	Rc3        string `json:"rc3"`
	Rc4        string `json:"rc4"`
	Ex1        string `json:"ex1"`
	Ex2        string `json:"ex2"`
}

// DeriveFinalGrade prefers the second semester, then the first, then the most
// recent report card.
func (g CourseGrades) DeriveFinalGrade() string {
	for _, v := range []string{g.Sm2, g.Sm1, g.Rc4, g.Rc3, g.Rc2, g.Rc1} {
		if v != "" {
			return v
		}
	}
	return ""
}

type AcademicYear struct {
	Grade   int                     `json:"grade"`
	Courses map[string]CourseGrades `json:"courses"`
	// Alt holds courses the portal renders without a course link.
	Alt map[string]CourseGrades `json:"alt"`
}

// AcademicHistory is keyed by "YYYY-YYYY".
type AcademicHistory map[string]AcademicYear

// LatestYear returns the key of the most recent academic year.
func (h AcademicHistory) LatestYear() (string, bool) {
	latest := ""
	for k := range h {
		if k > latest {
			latest = k
		}
	}
	return latest, latest != ""
}
