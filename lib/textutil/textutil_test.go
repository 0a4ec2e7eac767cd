package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCourseKey(t *testing.T) {
	require.Equal(t, "AP CALCULUS AB", CourseKey("  Ap  Calculus AB \n"))
	require.Equal(t, CourseKey("English 11"), CourseKey("ENGLISH 11"))
}

func TestMostSimilar(t *testing.T) {
	candidates := []string{"Daily Work", "Major Grades", "Labs"}

	match, ok := MostSimilar("Daily Wrk", candidates, 0.85)
	require.True(t, ok)
	require.Equal(t, "Daily Work", match)

	_, ok = MostSimilar("Participation", candidates, 0.85)
	require.False(t, ok)
}
