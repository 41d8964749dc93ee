package scoring

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/psyportal/internal/apperr"
)

// sdqLike has an emotional scale (higher is worse), a prosocial scale (lower
// is worse, excluded from the total) and a free-text question.
func sdqLike() Test {
	opts := []float64{0, 1, 2}
	return Test{
		Subskalas: []Subskala{
			{ID: "pro", Name: "Prosocial", Direction: DirectionLower, NormalCutoff: 3, BorderlineCutoff: 2, Position: 2},
			{ID: "emo", Name: "Emotional", Direction: DirectionHigher, NormalCutoff: 2, BorderlineCutoff: 3, IncludeInTotal: true, Position: 1},
		},
		Questions: []Q{
			{ID: "q1", Type: TypeLikert, SubskalaID: "emo", Options: opts},
			{ID: "q2", Type: TypeReverse, SubskalaID: "emo", Options: opts},
			{ID: "q3", Type: TypeLikert, SubskalaID: "pro", Options: opts},
			{ID: "q4", Type: TypeLikert, SubskalaID: "pro", Options: opts},
			{ID: "note", Type: TypeText},
		},
		Total: &Cutoffs{Normal: 1, Borderline: 2},
	}
}

func TestScoreSumsAndLabels(t *testing.T) {
	s := New()
	out, err := s.Score(context.Background(), sdqLike(), map[string]Answer{
		"q1":   ValueAnswer(2),
		"q2":   ValueAnswer(0), // reversed to 2
		"q3":   ValueAnswer(1),
		"q4":   TextAnswer("1"),
		"note": TextAnswer("  sleeps badly  "),
	})
	require.NoError(t, err)

	require.Len(t, out.Subskalas, 2)
	emo, pro := out.Subskalas[0], out.Subskalas[1]
	assert.Equal(t, "emo", emo.SubskalaID, "ordered by position")
	assert.Equal(t, 4.0, emo.Score)
	assert.Equal(t, 4.0, emo.Max)
	assert.Equal(t, Abnormal, emo.Label)

	assert.Equal(t, 2.0, pro.Score)
	assert.Equal(t, Borderline, pro.Label)

	assert.Equal(t, 4.0, out.Total, "only subskala included in total")
	assert.Equal(t, 4.0, out.TotalMax)
	assert.Equal(t, Abnormal, out.TotalLabel)

	assert.Equal(t, "sleeps badly", out.Answers["note"].Text)
	v, ok := out.Answers["q4"].Number()
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestScoreWithoutTotalCutoffs(t *testing.T) {
	test := sdqLike()
	test.Total = nil
	out, err := New().Score(context.Background(), test, map[string]Answer{
		"q1": ValueAnswer(0), "q2": ValueAnswer(2), "q3": ValueAnswer(2), "q4": ValueAnswer(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Total)
	assert.Empty(t, out.TotalLabel)
	assert.Equal(t, Normal, out.Subskalas[0].Label)
	assert.Equal(t, Normal, out.Subskalas[1].Label)
}

func TestScoreIncomplete(t *testing.T) {
	_, err := New().Score(context.Background(), sdqLike(), map[string]Answer{
		"q1": ValueAnswer(1),
		"q4": {},
	})
	require.ErrorIs(t, err, apperr.ErrIncomplete)
	var inc *apperr.IncompleteError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, []string{"q2", "q3", "q4"}, inc.Missing)
}

func TestScoreRejectsBadAnswers(t *testing.T) {
	s := New(WithTextMaxLen(5))
	full := func(extra map[string]Answer) map[string]Answer {
		m := map[string]Answer{"q1": ValueAnswer(0), "q2": ValueAnswer(0), "q3": ValueAnswer(0), "q4": ValueAnswer(0)}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}
	cases := map[string]map[string]Answer{
		"unknown question": full(map[string]Answer{"nope": ValueAnswer(1)}),
		"value off scale":  full(map[string]Answer{"q1": ValueAnswer(3)}),
		"non numeric":      full(map[string]Answer{"q1": TextAnswer("often")}),
		"text too long":    full(map[string]Answer{"note": TextAnswer("abcdef")}),
		"number for text":  full(map[string]Answer{"note": ValueAnswer(1)}),
	}
	for name, answers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Score(context.Background(), sdqLike(), answers)
			assert.ErrorIs(t, err, apperr.ErrInvalid)
		})
	}
}

func TestScoreCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Score(ctx, sdqLike(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type doubleStrategy struct{}

func (doubleStrategy) Scored() bool { return true }
func (doubleStrategy) Score(_ context.Context, _ Q, a Answer) (Points, error) {
	v, _ := a.Number()
	return Points{Value: 2 * v, Max: 10, Answer: a}, nil
}

func TestWithStrategy(t *testing.T) {
	s := New(WithStrategy("double", doubleStrategy{}))
	assert.True(t, s.Supports("double"))
	assert.True(t, s.IsScored("double"))
	assert.False(t, s.IsScored(TypeText))
	assert.False(t, s.Supports("essay"))

	out, err := s.Score(context.Background(), Test{
		Subskalas: []Subskala{{ID: "a", Direction: DirectionHigher, NormalCutoff: 5, BorderlineCutoff: 8, IncludeInTotal: true}},
		Questions: []Q{{ID: "x", Type: "double", SubskalaID: "a"}},
	}, map[string]Answer{"x": ValueAnswer(3)})
	require.NoError(t, err)
	assert.Equal(t, 6.0, out.Total)
	assert.Equal(t, Borderline, out.Subskalas[0].Label)
}

func TestBandInclusiveCutoffs(t *testing.T) {
	cases := []struct {
		dir   string
		score float64
		want  Label
	}{
		{DirectionHigher, 10, Normal},
		{DirectionHigher, 10.5, Borderline},
		{DirectionHigher, 14, Borderline},
		{DirectionHigher, 14.1, Abnormal},
		{DirectionLower, 14, Normal},
		{DirectionLower, 13, Borderline},
		{DirectionLower, 10, Borderline},
		{DirectionLower, 9, Abnormal},
	}
	for _, c := range cases {
		normal, borderline := 10.0, 14.0
		if c.dir == DirectionLower {
			normal, borderline = 14, 10
		}
		assert.Equal(t, c.want, Band(c.dir, c.score, normal, borderline), "%s %v", c.dir, c.score)
	}
	assert.True(t, CutoffsOrdered(DirectionHigher, 1, 2))
	assert.False(t, CutoffsOrdered(DirectionHigher, 3, 2))
	assert.True(t, CutoffsOrdered(DirectionLower, 3, 2))
}

func TestAnswerJSON(t *testing.T) {
	var m map[string]Answer
	require.NoError(t, json.Unmarshal([]byte(`{"a":2,"b":"text","c":null,"d":-1.5}`), &m))
	assert.Equal(t, 2.0, *m["a"].Value)
	assert.Equal(t, "text", m["b"].Text)
	assert.True(t, m["c"].Empty())
	assert.Equal(t, -1.5, *m["d"].Value)

	err := json.Unmarshal([]byte(`{"a":true}`), &m)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "number or a string"))

	b, err := json.Marshal(map[string]Answer{"a": ValueAnswer(1), "b": TextAnswer("x")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":"x"}`, string(b))
}
