package assessment

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/scoring"
	"github.com/mind-engage/psyportal/internal/slug"
)

// normalize trims and checks t in place, fills in ids, positions and the
// slug, and resolves questions that name their subskala.
func normalize(t *Test, sc *scoring.Scorer) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return apperr.Invalidf("title is required")
	}
	t.Slug = strings.TrimSpace(t.Slug)
	if t.Slug == "" {
		t.Slug = slug.Make(t.Title)
	}
	if !slug.Valid(t.Slug) {
		return apperr.Invalidf("slug must be lowercase letters, digits and dashes")
	}
	if (t.TotalNormalCutoff == nil) != (t.TotalBorderlineCutoff == nil) {
		return apperr.Invalidf("total cutoffs must be set together")
	}
	if t.TotalNormalCutoff != nil && *t.TotalNormalCutoff > *t.TotalBorderlineCutoff {
		return apperr.Invalidf("total normal cutoff must not exceed the borderline cutoff")
	}

	byName := make(map[string]string, len(t.Subskalas))
	byID := make(map[string]bool, len(t.Subskalas))
	autoPos := allZero(len(t.Subskalas), func(i int) int { return t.Subskalas[i].Position })
	for i := range t.Subskalas {
		s := &t.Subskalas[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return apperr.Invalidf("subskala %d: name is required", i+1)
		}
		key := strings.ToLower(s.Name)
		if _, dup := byName[key]; dup {
			return apperr.Invalidf("subskala %q appears twice", s.Name)
		}
		if s.Direction == "" {
			s.Direction = scoring.DirectionHigher
		}
		if !scoring.ValidDirection(s.Direction) {
			return apperr.Invalidf("subskala %q: direction must be higher or lower", s.Name)
		}
		if !scoring.CutoffsOrdered(s.Direction, s.NormalCutoff, s.BorderlineCutoff) {
			return apperr.Invalidf("subskala %q: cutoffs are out of order for direction %s", s.Name, s.Direction)
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if byID[s.ID] {
			return apperr.Invalidf("subskala id %s appears twice", s.ID)
		}
		s.TestID = t.ID
		included := s.InTotal()
		s.IncludeInTotal = &included
		if autoPos {
			s.Position = i + 1
		}
		byName[key] = s.ID
		byID[s.ID] = true
	}

	scored := 0
	seen := make(map[string]bool, len(t.Questions))
	autoPos = allZero(len(t.Questions), func(i int) int { return t.Questions[i].Position })
	for i := range t.Questions {
		q := &t.Questions[i]
		q.Text = strings.TrimSpace(q.Text)
		q.Type = strings.ToLower(strings.TrimSpace(q.Type))
		label := q.ID
		if label == "" {
			label = "#" + strconv.Itoa(i+1)
		}
		if q.Text == "" {
			return apperr.Invalidf("question %s: text is required", label)
		}
		if !sc.Supports(q.Type) {
			return apperr.Invalidf("question %s: unsupported type %q", label, q.Type)
		}
		if q.SubskalaID == "" && q.SubskalaName != "" {
			id, ok := byName[strings.ToLower(strings.TrimSpace(q.SubskalaName))]
			if !ok {
				return apperr.Invalidf("question %s: unknown subskala %q", label, q.SubskalaName)
			}
			q.SubskalaID = id
		}
		q.SubskalaName = ""
		if sc.IsScored(q.Type) {
			if !byID[q.SubskalaID] {
				return apperr.Invalidf("question %s: a subskala of this test is required", label)
			}
			if err := checkOptions(q.Options); err != nil {
				return apperr.Invalidf("question %s: %v", label, err)
			}
			scored++
		} else {
			if q.SubskalaID != "" {
				return apperr.Invalidf("question %s: %s questions cannot belong to a subskala", label, q.Type)
			}
			if len(q.Options) > 0 {
				return apperr.Invalidf("question %s: %s questions take no options", label, q.Type)
			}
		}
		if q.Options == nil {
			q.Options = []Option{}
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if seen[q.ID] {
			return apperr.Invalidf("question id %s appears twice", q.ID)
		}
		seen[q.ID] = true
		q.TestID = t.ID
		if autoPos {
			q.Position = i + 1
		}
	}
	if t.Published && scored == 0 {
		return apperr.Invalidf("a published test needs at least one scored question")
	}

	sort.SliceStable(t.Subskalas, func(i, j int) bool { return t.Subskalas[i].Position < t.Subskalas[j].Position })
	sort.SliceStable(t.Questions, func(i, j int) bool { return t.Questions[i].Position < t.Questions[j].Position })
	return nil
}

func checkOptions(opts []Option) error {
	if len(opts) < 2 {
		return errors.New("at least two options are required")
	}
	vals := make([]float64, 0, len(opts))
	for i := range opts {
		opts[i].Label = strings.TrimSpace(opts[i].Label)
		v := opts[i].Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("option values must be finite")
		}
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	for i := 1; i < len(vals); i++ {
		if vals[i] == vals[i-1] {
			return errors.New("option values must be distinct")
		}
	}
	return nil
}

func allZero(n int, at func(int) int) bool {
	for i := 0; i < n; i++ {
		if at(i) != 0 {
			return false
		}
	}
	return true
}

// structure is the part of a test that existing results depend on.
type structure struct {
	Subskalas []structSubskala `json:"s"`
	Questions []structQuestion `json:"q"`
}

type structSubskala struct {
	ID             string `json:"id"`
	Direction      string `json:"d"`
	IncludeInTotal bool   `json:"t"`
}

type structQuestion struct {
	ID         string    `json:"id"`
	Type       string    `json:"t"`
	SubskalaID string    `json:"s"`
	Values     []float64 `json:"v"`
}

func structureOf(t Test) string {
	st := structure{}
	for _, s := range t.Subskalas {
		st.Subskalas = append(st.Subskalas, structSubskala{ID: s.ID, Direction: s.Direction, IncludeInTotal: s.InTotal()})
	}
	for _, q := range t.Questions {
		vals := make([]float64, 0, len(q.Options))
		for _, o := range q.Options {
			vals = append(vals, o.Value)
		}
		sort.Float64s(vals)
		st.Questions = append(st.Questions, structQuestion{ID: q.ID, Type: q.Type, SubskalaID: q.SubskalaID, Values: vals})
	}
	sort.Slice(st.Subskalas, func(i, j int) bool { return st.Subskalas[i].ID < st.Subskalas[j].ID })
	sort.Slice(st.Questions, func(i, j int) bool { return st.Questions[i].ID < st.Questions[j].ID })
	b, _ := json.Marshal(st)
	return string(b)
}
