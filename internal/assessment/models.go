// Package assessment manages tests, their subskalas and questions, and the
// results users submit against them.
package assessment

import (
	"time"

	"github.com/mind-engage/psyportal/internal/scoring"
)

type Option struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type Question struct {
	ID         string `json:"id"`
	TestID     string `json:"test_id,omitempty"`
	SubskalaID string `json:"subskala_id,omitempty"`
	// SubskalaName may be sent instead of SubskalaID when the subskala is
	// created in the same request. It is resolved on write and never stored.
	SubskalaName string   `json:"subskala_name,omitempty"`
	Text         string   `json:"text"`
	Type         string   `json:"type"` // likert | reverse | text
	Position     int      `json:"position"`
	Options      []Option `json:"options"`
}

type Subskala struct {
	ID               string  `json:"id"`
	TestID           string  `json:"test_id,omitempty"`
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	Direction        string  `json:"direction"` // higher | lower
	NormalCutoff     float64 `json:"normal_cutoff"`
	BorderlineCutoff float64 `json:"borderline_cutoff"`
	// IncludeInTotal defaults to true when omitted.
	IncludeInTotal *bool `json:"include_in_total"`
	Position       int   `json:"position"`
}

// InTotal reports whether the subskala counts towards the test total.
func (s Subskala) InTotal() bool { return s.IncludeInTotal == nil || *s.IncludeInTotal }

type Test struct {
	ID                    string     `json:"id"`
	Slug                  string     `json:"slug"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	Instructions          string     `json:"instructions"`
	Published             bool       `json:"published"`
	TotalNormalCutoff     *float64   `json:"total_normal_cutoff"`
	TotalBorderlineCutoff *float64   `json:"total_borderline_cutoff"`
	CreatedBy             string     `json:"created_by"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Subskalas             []Subskala `json:"subskalas"`
	Questions             []Question `json:"questions"`
}

type TestSummary struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Published     bool      `json:"published"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Result struct {
	ID         string                    `json:"id"`
	TestID     string                    `json:"test_id"`
	TestTitle  string                    `json:"test_title"`
	UserID     string                    `json:"user_id"`
	Username   string                    `json:"username,omitempty"`
	Answers    map[string]scoring.Answer `json:"answers"`
	Scores     []scoring.SubskalaScore   `json:"scores"`
	Total      float64                   `json:"total"`
	TotalLabel scoring.Label             `json:"total_label,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
}

type ListOpts struct {
	Q                  string
	IncludeUnpublished bool
	Limit              int
	Offset             int
}

type ResultListOpts struct {
	TestID string
	UserID string
	Limit  int
	Offset int
}

// PublicSubskala is a subskala without its cutoffs.
type PublicSubskala struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// PublicTest is what test takers see: no cutoffs, no authoring metadata.
type PublicTest struct {
	ID           string           `json:"id"`
	Slug         string           `json:"slug"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Instructions string           `json:"instructions"`
	Subskalas    []PublicSubskala `json:"subskalas"`
	Questions    []Question       `json:"questions"`
}

func (t Test) Public() PublicTest {
	p := PublicTest{
		ID:           t.ID,
		Slug:         t.Slug,
		Title:        t.Title,
		Description:  t.Description,
		Instructions: t.Instructions,
		Subskalas:    make([]PublicSubskala, 0, len(t.Subskalas)),
		Questions:    t.Questions,
	}
	for _, s := range t.Subskalas {
		p.Subskalas = append(p.Subskalas, PublicSubskala{ID: s.ID, Name: s.Name, Description: s.Description, Position: s.Position})
	}
	return p
}

// ScoringView converts t for the scoring engine.
func (t Test) ScoringView() scoring.Test {
	st := scoring.Test{
		Subskalas: make([]scoring.Subskala, 0, len(t.Subskalas)),
		Questions: make([]scoring.Q, 0, len(t.Questions)),
	}
	for _, s := range t.Subskalas {
		st.Subskalas = append(st.Subskalas, scoring.Subskala{
			ID:               s.ID,
			Name:             s.Name,
			Direction:        s.Direction,
			NormalCutoff:     s.NormalCutoff,
			BorderlineCutoff: s.BorderlineCutoff,
			IncludeInTotal:   s.InTotal(),
			Position:         s.Position,
		})
	}
	for _, q := range t.Questions {
		vals := make([]float64, 0, len(q.Options))
		for _, o := range q.Options {
			vals = append(vals, o.Value)
		}
		st.Questions = append(st.Questions, scoring.Q{ID: q.ID, Type: q.Type, SubskalaID: q.SubskalaID, Options: vals})
	}
	if t.TotalNormalCutoff != nil && t.TotalBorderlineCutoff != nil {
		st.Total = &scoring.Cutoffs{Normal: *t.TotalNormalCutoff, Borderline: *t.TotalBorderlineCutoff}
	}
	return st
}

func (t Test) clone() Test {
	c := t
	c.Subskalas = append([]Subskala(nil), t.Subskalas...)
	c.Questions = make([]Question, len(t.Questions))
	for i, q := range t.Questions {
		q.Options = append([]Option(nil), q.Options...)
		c.Questions[i] = q
	}
	return c
}
