package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/audit"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/metrics"
	"github.com/mind-engage/psyportal/internal/scoring"
)

// SubmitResult scores answers against a published test and stores the
// result together with its audit event.
func (s *SQLStore) SubmitResult(ctx context.Context, testID, userID string, answers map[string]scoring.Answer) (Result, error) {
	var r Result
	var testSlug string
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		t, err := loadTest(ctx, tx, testID)
		if err != nil {
			return err
		}
		if !t.Published {
			return apperr.NotFoundf("test")
		}
		out, err := s.scorer.Score(ctx, t.ScoringView(), answers)
		if err != nil {
			return err
		}
		r = Result{
			ID:         uuid.NewString(),
			TestID:     t.ID,
			TestTitle:  t.Title,
			UserID:     userID,
			Answers:    out.Answers,
			Scores:     out.Subskalas,
			Total:      out.Total,
			TotalLabel: out.TotalLabel,
			CreatedAt:  s.now().UTC().Truncate(time.Second),
		}
		testSlug = t.Slug
		aj, err := json.Marshal(r.Answers)
		if err != nil {
			return err
		}
		sj, err := json.Marshal(r.Scores)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO test_results
			(id, test_id, user_id, answers_json, scores_json, total, total_label, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			r.ID, r.TestID, r.UserID, string(aj), string(sj), r.Total, string(r.TotalLabel), r.CreatedAt.Unix())
		if err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.TestSubmitted, r.ID, userID, map[string]any{
			"test_id":     r.TestID,
			"total":       r.Total,
			"total_label": r.TotalLabel,
		})
	})
	if err != nil {
		return Result{}, err
	}
	metrics.ResultScored(testSlug)
	return r, nil
}

const resultSelect = `SELECT r.id, r.test_id, t.title, r.user_id, COALESCE(u.username, ''),
	r.answers_json, r.scores_json, r.total, r.total_label, r.created_at
	FROM test_results r
	JOIN tests t ON t.id = r.test_id
	LEFT JOIN users u ON u.id = r.user_id`

func scanResult(row interface{ Scan(...any) error }) (Result, error) {
	var (
		r       Result
		aj, sj  string
		label   string
		created int64
	)
	if err := row.Scan(&r.ID, &r.TestID, &r.TestTitle, &r.UserID, &r.Username,
		&aj, &sj, &r.Total, &label, &created); err != nil {
		return Result{}, err
	}
	if err := json.Unmarshal([]byte(aj), &r.Answers); err != nil {
		return Result{}, err
	}
	if err := json.Unmarshal([]byte(sj), &r.Scores); err != nil {
		return Result{}, err
	}
	r.TotalLabel = scoring.Label(label)
	r.CreatedAt = time.Unix(created, 0).UTC()
	return r, nil
}

// ListResults returns results newest first.
func (s *SQLStore) ListResults(ctx context.Context, opts ResultListOpts) ([]Result, error) {
	limit, offset := db.Page(opts.Limit, opts.Offset)
	var args db.Args
	query := resultSelect + ` WHERE 1=1`
	if opts.TestID != "" {
		p := args.Add(opts.TestID)
		query += ` AND (r.test_id=` + p + ` OR t.slug=` + p + `)`
	}
	if opts.UserID != "" {
		query += ` AND r.user_id=` + args.Add(opts.UserID)
	}
	query += ` ORDER BY r.created_at DESC, r.id LIMIT ` + args.Add(limit) + ` OFFSET ` + args.Add(offset)

	out := []Result{}
	err := s.db.Do(ctx, func(q db.Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanResult(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLStore) GetResult(ctx context.Context, id string) (Result, error) {
	var r Result
	err := s.db.Do(ctx, func(q db.Querier) error {
		var err error
		r, err = scanResult(q.QueryRowContext(ctx, resultSelect+` WHERE r.id=$1`, id))
		return db.NotFound(err, "result")
	})
	return r, err
}

func (s *SQLStore) DeleteResult(ctx context.Context, id string) error {
	return s.db.Do(ctx, func(q db.Querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM test_results WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFoundf("result")
		}
		return nil
	})
}
