package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/audit"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/scoring"
)

type SQLStore struct {
	db     *db.DB
	scorer *scoring.Scorer
	now    func() time.Time
}

func NewSQLStore(d *db.DB, scorer *scoring.Scorer) *SQLStore {
	if scorer == nil {
		scorer = scoring.New()
	}
	return &SQLStore{db: d, scorer: scorer, now: time.Now}
}

const testCols = `id, slug, title, description, instructions, published,
	total_normal_cutoff, total_borderline_cutoff, created_by, created_at, updated_at`

func (s *SQLStore) ListTests(ctx context.Context, opts ListOpts) ([]TestSummary, error) {
	limit, offset := db.Page(opts.Limit, opts.Offset)
	var args db.Args
	query := `SELECT t.id, t.slug, t.title, t.description, t.published, t.created_at, t.updated_at,
		(SELECT COUNT(*) FROM questions q WHERE q.test_id=t.id)
		FROM tests t WHERE 1=1`
	if !opts.IncludeUnpublished {
		query += ` AND t.published=` + args.Add(true)
	}
	if q := strings.TrimSpace(opts.Q); q != "" {
		p := args.Add(db.Like(q))
		query += ` AND (LOWER(t.title) LIKE ` + p + ` ESCAPE '\' OR LOWER(t.description) LIKE ` + p + ` ESCAPE '\')`
	}
	query += ` ORDER BY t.title, t.id LIMIT ` + args.Add(limit) + ` OFFSET ` + args.Add(offset)

	out := []TestSummary{}
	err := s.db.Do(ctx, func(q db.Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ts TestSummary
			var created, updated int64
			if err := rows.Scan(&ts.ID, &ts.Slug, &ts.Title, &ts.Description, &ts.Published,
				&created, &updated, &ts.QuestionCount); err != nil {
				return err
			}
			ts.CreatedAt = time.Unix(created, 0).UTC()
			ts.UpdatedAt = time.Unix(updated, 0).UTC()
			out = append(out, ts)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLStore) GetTest(ctx context.Context, idOrSlug string) (Test, error) {
	var t Test
	err := s.db.Do(ctx, func(q db.Querier) error {
		var err error
		t, err = loadTest(ctx, q, idOrSlug)
		return err
	})
	return t, err
}

func loadTest(ctx context.Context, q db.Querier, idOrSlug string) (Test, error) {
	var (
		t                  Test
		normal, borderline sql.NullFloat64
		created, updated   int64
	)
	err := q.QueryRowContext(ctx, `SELECT `+testCols+` FROM tests WHERE id=$1 OR slug=$1`, idOrSlug).
		Scan(&t.ID, &t.Slug, &t.Title, &t.Description, &t.Instructions, &t.Published,
			&normal, &borderline, &t.CreatedBy, &created, &updated)
	if err != nil {
		return Test{}, db.NotFound(err, "test")
	}
	if normal.Valid {
		t.TotalNormalCutoff = &normal.Float64
	}
	if borderline.Valid {
		t.TotalBorderlineCutoff = &borderline.Float64
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()

	rows, err := q.QueryContext(ctx, `SELECT id, name, description, direction, normal_cutoff, borderline_cutoff,
		include_in_total, position FROM subskalas WHERE test_id=$1 ORDER BY position, name`, t.ID)
	if err != nil {
		return Test{}, err
	}
	t.Subskalas = []Subskala{}
	for rows.Next() {
		sk := Subskala{TestID: t.ID}
		var included bool
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Direction, &sk.NormalCutoff,
			&sk.BorderlineCutoff, &included, &sk.Position); err != nil {
			rows.Close()
			return Test{}, err
		}
		sk.IncludeInTotal = &included
		t.Subskalas = append(t.Subskalas, sk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Test{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT id, subskala_id, text, type, position, options_json
		FROM questions WHERE test_id=$1 ORDER BY position, id`, t.ID)
	if err != nil {
		return Test{}, err
	}
	defer rows.Close()
	t.Questions = []Question{}
	for rows.Next() {
		qu := Question{TestID: t.ID}
		var sub sql.NullString
		var opts string
		if err := rows.Scan(&qu.ID, &sub, &qu.Text, &qu.Type, &qu.Position, &opts); err != nil {
			return Test{}, err
		}
		qu.SubskalaID = sub.String
		if err := json.Unmarshal([]byte(opts), &qu.Options); err != nil {
			return Test{}, err
		}
		t.Questions = append(t.Questions, qu)
	}
	return t, rows.Err()
}

func (s *SQLStore) CreateTest(ctx context.Context, t Test, actor string) (Test, error) {
	now := s.now().UTC().Truncate(time.Second)
	t.ID = uuid.NewString()
	t.CreatedBy = actor
	t.CreatedAt, t.UpdatedAt = now, now
	if err := normalize(&t, s.scorer); err != nil {
		return Test{}, err
	}
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tests (`+testCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			t.ID, t.Slug, t.Title, t.Description, t.Instructions, t.Published,
			t.TotalNormalCutoff, t.TotalBorderlineCutoff, t.CreatedBy, now.Unix(), now.Unix())
		if err != nil {
			return slugConflict(err)
		}
		if err := writeParts(ctx, tx, t); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.TestCreated, t.ID, actor, map[string]string{"slug": t.Slug})
	})
	if err != nil {
		return Test{}, err
	}
	return t, nil
}

func slugConflict(err error) error {
	if db.IsUniqueViolation(err) {
		return apperr.Conflictf("slug already in use")
	}
	return err
}

// writeParts inserts all subskalas and questions of t.
func writeParts(ctx context.Context, q db.Querier, t Test) error {
	for _, sk := range t.Subskalas {
		_, err := q.ExecContext(ctx, `INSERT INTO subskalas
			(id, test_id, name, description, direction, normal_cutoff, borderline_cutoff, include_in_total, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			sk.ID, t.ID, sk.Name, sk.Description, sk.Direction, sk.NormalCutoff, sk.BorderlineCutoff,
			sk.InTotal(), sk.Position)
		if err != nil {
			return err
		}
	}
	for _, qu := range t.Questions {
		opts, err := json.Marshal(qu.Options)
		if err != nil {
			return err
		}
		var sub any
		if qu.SubskalaID != "" {
			sub = qu.SubskalaID
		}
		_, err = q.ExecContext(ctx, `INSERT INTO questions (id, test_id, subskala_id, text, type, position, options_json)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			qu.ID, t.ID, sub, qu.Text, qu.Type, qu.Position, string(opts))
		if err != nil {
			return err
		}
	}
	return nil
}

// mutate loads a test inside a transaction, applies fn to a copy and writes
// the result back. Once results exist the structure must stay the same.
func (s *SQLStore) mutate(ctx context.Context, idOrSlug string, fn func(t *Test) error) (Test, error) {
	var out Test
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		old, err := loadTest(ctx, tx, idOrSlug)
		if err != nil {
			return err
		}
		nt := old.clone()
		if err := fn(&nt); err != nil {
			return err
		}
		nt.ID, nt.CreatedBy, nt.CreatedAt = old.ID, old.CreatedBy, old.CreatedAt
		nt.UpdatedAt = s.now().UTC().Truncate(time.Second)
		if err := normalize(&nt, s.scorer); err != nil {
			return err
		}
		if structureOf(old) != structureOf(nt) {
			has, err := db.Exists(tx.QueryRowContext(ctx, `SELECT 1 FROM test_results WHERE test_id=$1 LIMIT 1`, old.ID))
			if err != nil {
				return err
			}
			if has {
				return apperr.Conflictf("test already has results; subskalas and questions cannot change")
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE tests SET slug=$1, title=$2, description=$3, instructions=$4,
			published=$5, total_normal_cutoff=$6, total_borderline_cutoff=$7, updated_at=$8 WHERE id=$9`,
			nt.Slug, nt.Title, nt.Description, nt.Instructions, nt.Published,
			nt.TotalNormalCutoff, nt.TotalBorderlineCutoff, nt.UpdatedAt.Unix(), nt.ID)
		if err != nil {
			return slugConflict(err)
		}
		// Questions reference subskalas, so they go first.
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, nt.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM subskalas WHERE test_id=$1`, nt.ID); err != nil {
			return err
		}
		if err := writeParts(ctx, tx, nt); err != nil {
			return err
		}
		out = nt
		return nil
	})
	return out, err
}

func (s *SQLStore) UpdateTest(ctx context.Context, idOrSlug string, in Test, actor string) (Test, error) {
	t, err := s.mutate(ctx, idOrSlug, func(t *Test) error {
		t.Slug = in.Slug
		t.Title = in.Title
		t.Description = in.Description
		t.Instructions = in.Instructions
		t.Published = in.Published
		t.TotalNormalCutoff = in.TotalNormalCutoff
		t.TotalBorderlineCutoff = in.TotalBorderlineCutoff
		t.Subskalas = append([]Subskala(nil), in.Subskalas...)
		t.Questions = append([]Question(nil), in.Questions...)
		return nil
	})
	if err == nil {
		s.recordChange(ctx, t.ID, actor, "update")
	}
	return t, err
}

func (s *SQLStore) SetPublished(ctx context.Context, idOrSlug string, published bool, actor string) (Test, error) {
	t, err := s.mutate(ctx, idOrSlug, func(t *Test) error {
		t.Published = published
		return nil
	})
	if err == nil {
		action := "unpublish"
		if published {
			action = "publish"
		}
		s.recordChange(ctx, t.ID, actor, action)
	}
	return t, err
}

// recordChange logs a test edit. Edits are not rolled back when this fails.
func (s *SQLStore) recordChange(ctx context.Context, id, actor, action string) {
	_ = s.db.Do(ctx, func(q db.Querier) error {
		return audit.Append(ctx, q, audit.ContentChanged, id, actor,
			map[string]string{"kind": "test", "action": action})
	})
}

func (s *SQLStore) DeleteTest(ctx context.Context, idOrSlug, actor string) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		var id, sl string
		err := tx.QueryRowContext(ctx, `SELECT id, slug FROM tests WHERE id=$1 OR slug=$1`, idOrSlug).Scan(&id, &sl)
		if err != nil {
			return db.NotFound(err, "test")
		}
		// Subskalas and results cascade; questions must go before subskalas.
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, id); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.TestDeleted, id, actor, map[string]string{"slug": sl})
	})
}

func nextPosition[T any](items []T, pos func(T) int) int {
	hi := 0
	for _, it := range items {
		if p := pos(it); p > hi {
			hi = p
		}
	}
	return hi + 1
}

func (s *SQLStore) AddSubskala(ctx context.Context, testID string, in Subskala, actor string) (Subskala, error) {
	in.ID = uuid.NewString()
	t, err := s.mutate(ctx, testID, func(t *Test) error {
		if in.Position == 0 {
			in.Position = nextPosition(t.Subskalas, func(s Subskala) int { return s.Position })
		}
		t.Subskalas = append(t.Subskalas, in)
		return nil
	})
	if err != nil {
		return Subskala{}, err
	}
	s.recordChange(ctx, t.ID, actor, "subskala.add")
	return findSubskala(t, in.ID)
}

func (s *SQLStore) UpdateSubskala(ctx context.Context, testID string, in Subskala, actor string) (Subskala, error) {
	t, err := s.mutate(ctx, testID, func(t *Test) error {
		for i := range t.Subskalas {
			if t.Subskalas[i].ID == in.ID {
				if in.Position == 0 {
					in.Position = t.Subskalas[i].Position
				}
				if in.IncludeInTotal == nil {
					in.IncludeInTotal = t.Subskalas[i].IncludeInTotal
				}
				t.Subskalas[i] = in
				return nil
			}
		}
		return apperr.NotFoundf("subskala")
	})
	if err != nil {
		return Subskala{}, err
	}
	s.recordChange(ctx, t.ID, actor, "subskala.update")
	return findSubskala(t, in.ID)
}

func (s *SQLStore) DeleteSubskala(ctx context.Context, testID, subskalaID, actor string) error {
	t, err := s.mutate(ctx, testID, func(t *Test) error {
		for _, q := range t.Questions {
			if q.SubskalaID == subskalaID {
				return apperr.Conflictf("subskala still has questions")
			}
		}
		for i := range t.Subskalas {
			if t.Subskalas[i].ID == subskalaID {
				t.Subskalas = append(t.Subskalas[:i], t.Subskalas[i+1:]...)
				return nil
			}
		}
		return apperr.NotFoundf("subskala")
	})
	if err == nil {
		s.recordChange(ctx, t.ID, actor, "subskala.delete")
	}
	return err
}

func findSubskala(t Test, id string) (Subskala, error) {
	for _, sk := range t.Subskalas {
		if sk.ID == id {
			return sk, nil
		}
	}
	return Subskala{}, apperr.NotFoundf("subskala")
}

func (s *SQLStore) AddQuestion(ctx context.Context, testID string, in Question, actor string) (Question, error) {
	in.ID = uuid.NewString()
	t, err := s.mutate(ctx, testID, func(t *Test) error {
		if in.Position == 0 {
			in.Position = nextPosition(t.Questions, func(q Question) int { return q.Position })
		}
		t.Questions = append(t.Questions, in)
		return nil
	})
	if err != nil {
		return Question{}, err
	}
	s.recordChange(ctx, t.ID, actor, "question.add")
	return findQuestion(t, in.ID)
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, testID string, in Question, actor string) (Question, error) {
	t, err := s.mutate(ctx, testID, func(t *Test) error {
		for i := range t.Questions {
			if t.Questions[i].ID == in.ID {
				if in.Position == 0 {
					in.Position = t.Questions[i].Position
				}
				t.Questions[i] = in
				return nil
			}
		}
		return apperr.NotFoundf("question")
	})
	if err != nil {
		return Question{}, err
	}
	s.recordChange(ctx, t.ID, actor, "question.update")
	return findQuestion(t, in.ID)
}

func (s *SQLStore) DeleteQuestion(ctx context.Context, testID, questionID, actor string) error {
	t, err := s.mutate(ctx, testID, func(t *Test) error {
		for i := range t.Questions {
			if t.Questions[i].ID == questionID {
				t.Questions = append(t.Questions[:i], t.Questions[i+1:]...)
				return nil
			}
		}
		return apperr.NotFoundf("question")
	})
	if err == nil {
		s.recordChange(ctx, t.ID, actor, "question.delete")
	}
	return err
}

func findQuestion(t Test, id string) (Question, error) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, nil
		}
	}
	return Question{}, apperr.NotFoundf("question")
}
