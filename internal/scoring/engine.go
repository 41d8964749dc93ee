// Package scoring turns a set of answers into per-subskala totals and labels.
package scoring

import (
	"context"
	"fmt"
	"sort"

	"github.com/mind-engage/psyportal/internal/apperr"
)

// Q is the view of a question needed for scoring.
type Q struct {
	ID         string
	Type       string
	SubskalaID string
	Options    []float64 // allowed answer values
}

type Subskala struct {
	ID               string
	Name             string
	Direction        string
	NormalCutoff     float64
	BorderlineCutoff float64
	IncludeInTotal   bool
	Position         int
}

// Cutoffs band the total score. The total is always read higher-is-worse.
type Cutoffs struct {
	Normal     float64
	Borderline float64
}

// Test is what the engine scores against.
type Test struct {
	Subskalas []Subskala
	Questions []Q
	Total     *Cutoffs
}

// Points is the outcome of scoring one answer.
type Points struct {
	Value  float64
	Max    float64
	Answer Answer // normalised form kept with the result
}

// Strategy scores a single question type.
type Strategy interface {
	// Scored reports whether answers add points and are therefore required.
	Scored() bool
	Score(ctx context.Context, q Q, a Answer) (Points, error)
}

type SubskalaScore struct {
	SubskalaID string  `json:"subskala_id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Max        float64 `json:"max"`
	Label      Label   `json:"label"`
}

type Outcome struct {
	Subskalas  []SubskalaScore   `json:"subskalas"`
	Total      float64           `json:"total"`
	TotalMax   float64           `json:"total_max"`
	TotalLabel Label             `json:"total_label,omitempty"`
	Answers    map[string]Answer `json:"answers"` // normalised copy of what was scored
}

// Option configures a Scorer.
type Option func(*config)

type config struct {
	TextMaxLen int
	Extra      map[string]Strategy
}

// WithTextMaxLen caps free-text answers, in runes.
func WithTextMaxLen(n int) Option { return func(c *config) { c.TextMaxLen = n } }

// WithStrategy installs or replaces the strategy for a question type.
func WithStrategy(typ string, s Strategy) Option {
	return func(c *config) { c.Extra[typ] = s }
}

const (
	TypeLikert  = "likert"
	TypeReverse = "reverse"
	TypeText    = "text"
)

// Scorer routes each question to the strategy registered for its type.
type Scorer struct {
	strategies map[string]Strategy
}

// New installs the built-in strategies.
func New(opts ...Option) *Scorer {
	cfg := &config{TextMaxLen: 2000, Extra: map[string]Strategy{}}
	for _, o := range opts {
		o(cfg)
	}
	s := &Scorer{strategies: map[string]Strategy{
		TypeLikert:  likertStrategy{},
		TypeReverse: reverseStrategy{},
		TypeText:    textStrategy{maxLen: cfg.TextMaxLen},
	}}
	for typ, st := range cfg.Extra {
		s.strategies[typ] = st
	}
	return s
}

// Supports reports whether typ has a strategy.
func (s *Scorer) Supports(typ string) bool {
	_, ok := s.strategies[typ]
	return ok
}

// IsScored reports whether questions of typ carry points.
func (s *Scorer) IsScored(typ string) bool {
	st, ok := s.strategies[typ]
	return ok && st.Scored()
}

// Score evaluates answers against t. Every scored question must be answered;
// otherwise an *apperr.IncompleteError lists the missing ids.
func (s *Scorer) Score(ctx context.Context, t Test, answers map[string]Answer) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	byID := make(map[string]Q, len(t.Questions))
	for _, q := range t.Questions {
		byID[q.ID] = q
	}
	unknown := make([]string, 0)
	for id := range answers {
		if _, ok := byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Outcome{}, apperr.Invalidf("unknown question %s", unknown[0])
	}

	type acc struct{ score, max float64 }
	sums := make(map[string]*acc, len(t.Subskalas))
	for _, sk := range t.Subskalas {
		sums[sk.ID] = &acc{}
	}

	out := Outcome{Answers: make(map[string]Answer, len(answers))}
	var missing []string
	for _, q := range t.Questions {
		st, ok := s.strategies[q.Type]
		if !ok {
			return Outcome{}, apperr.Invalidf("question %s: unsupported type %q", q.ID, q.Type)
		}
		a, answered := answers[q.ID]
		if !answered || a.Empty() {
			if st.Scored() {
				missing = append(missing, q.ID)
			}
			continue
		}
		p, err := st.Score(ctx, q, a)
		if err != nil {
			return Outcome{}, fmt.Errorf("question %s: %w", q.ID, err)
		}
		out.Answers[q.ID] = p.Answer
		if !st.Scored() {
			continue
		}
		sum, ok := sums[q.SubskalaID]
		if !ok {
			return Outcome{}, apperr.Invalidf("question %s: unknown subskala %q", q.ID, q.SubskalaID)
		}
		sum.score += p.Value
		sum.max += p.Max
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Outcome{}, &apperr.IncompleteError{Missing: missing}
	}

	scales := append([]Subskala(nil), t.Subskalas...)
	sort.SliceStable(scales, func(i, j int) bool { return scales[i].Position < scales[j].Position })
	out.Subskalas = make([]SubskalaScore, 0, len(scales))
	for _, sk := range scales {
		sum := sums[sk.ID]
		out.Subskalas = append(out.Subskalas, SubskalaScore{
			SubskalaID: sk.ID,
			Name:       sk.Name,
			Score:      sum.score,
			Max:        sum.max,
			Label:      Band(sk.Direction, sum.score, sk.NormalCutoff, sk.BorderlineCutoff),
		})
		if sk.IncludeInTotal {
			out.Total += sum.score
			out.TotalMax += sum.max
		}
	}
	if t.Total != nil {
		out.TotalLabel = Band(DirectionHigher, out.Total, t.Total.Normal, t.Total.Borderline)
	}
	return out, nil
}
