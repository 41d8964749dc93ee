package scoring

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/mind-engage/psyportal/internal/apperr"
)

const eps = 1e-9

type likertStrategy struct{}

func (likertStrategy) Scored() bool { return true }

func (likertStrategy) Score(_ context.Context, q Q, a Answer) (Points, error) {
	v, err := choose(q, a)
	if err != nil {
		return Points{}, err
	}
	_, hi := bounds(q.Options)
	return Points{Value: v, Max: hi, Answer: ValueAnswer(v)}, nil
}

// reverseStrategy mirrors the scale: the lowest option scores as the highest.
type reverseStrategy struct{}

func (reverseStrategy) Scored() bool { return true }

func (reverseStrategy) Score(_ context.Context, q Q, a Answer) (Points, error) {
	v, err := choose(q, a)
	if err != nil {
		return Points{}, err
	}
	lo, hi := bounds(q.Options)
	return Points{Value: lo + hi - v, Max: hi, Answer: ValueAnswer(v)}, nil
}

type textStrategy struct{ maxLen int }

func (textStrategy) Scored() bool { return false }

func (s textStrategy) Score(_ context.Context, _ Q, a Answer) (Points, error) {
	text := a.Text
	if a.Value != nil {
		return Points{}, apperr.Invalidf("expected a text answer")
	}
	text = strings.TrimSpace(text)
	if s.maxLen > 0 && utf8.RuneCountInString(text) > s.maxLen {
		return Points{}, apperr.Invalidf("answer longer than %d characters", s.maxLen)
	}
	return Points{Answer: TextAnswer(text)}, nil
}

// choose returns the option value matching a.
func choose(q Q, a Answer) (float64, error) {
	v, ok := a.Number()
	if !ok {
		return 0, apperr.Invalidf("expected a numeric answer")
	}
	for _, o := range q.Options {
		if math.Abs(o-v) < eps {
			return o, nil
		}
	}
	return 0, apperr.Invalidf("value %g is not one of the options", v)
}

func bounds(opts []float64) (lo, hi float64) {
	if len(opts) == 0 {
		return 0, 0
	}
	lo, hi = opts[0], opts[0]
	for _, o := range opts[1:] {
		lo = math.Min(lo, o)
		hi = math.Max(hi, o)
	}
	return lo, hi
}
