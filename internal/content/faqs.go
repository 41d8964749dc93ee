package content

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/db"
)

const faqCols = `id, question, answer, position, created_at, updated_at`

func scanFAQ(row interface{ Scan(...any) error }) (FAQ, error) {
	var f FAQ
	var created, updated int64
	if err := row.Scan(&f.ID, &f.Question, &f.Answer, &f.Position, &created, &updated); err != nil {
		return FAQ{}, err
	}
	f.CreatedAt, f.UpdatedAt = unix(created), unix(updated)
	return f, nil
}

func (s *SQLStore) ListFAQs(ctx context.Context) ([]FAQ, error) {
	return cached(ctx, s, kindFAQ+":list", func(ctx context.Context) ([]FAQ, error) {
		out := []FAQ{}
		err := s.db.Do(ctx, func(q db.Querier) error {
			rows, err := q.QueryContext(ctx, `SELECT `+faqCols+` FROM faqs ORDER BY position, created_at, id`)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				f, err := scanFAQ(rows)
				if err != nil {
					return err
				}
				out = append(out, f)
			}
			return rows.Err()
		})
		return out, err
	})
}

func (s *SQLStore) GetFAQ(ctx context.Context, id string) (FAQ, error) {
	return cached(ctx, s, kindFAQ+":get:"+id, func(ctx context.Context) (FAQ, error) {
		var f FAQ
		err := s.db.Do(ctx, func(q db.Querier) error {
			var err error
			f, err = scanFAQ(q.QueryRowContext(ctx, `SELECT `+faqCols+` FROM faqs WHERE id=$1`, id))
			return db.NotFound(err, "faq")
		})
		return f, err
	})
}

func normalizeFAQ(f *FAQ) error {
	f.Question = strings.TrimSpace(f.Question)
	f.Answer = strings.TrimSpace(f.Answer)
	if err := required("question", f.Question); err != nil {
		return err
	}
	return required("answer", f.Answer)
}

func (s *SQLStore) CreateFAQ(ctx context.Context, f FAQ, actor string) (FAQ, error) {
	if err := normalizeFAQ(&f); err != nil {
		return FAQ{}, err
	}
	now := s.stamp()
	f.ID = uuid.NewString()
	f.CreatedAt, f.UpdatedAt = now, now
	err := s.write(ctx, kindFAQ, f.ID, "create", actor, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO faqs (`+faqCols+`) VALUES ($1,$2,$3,$4,$5,$6)`,
			f.ID, f.Question, f.Answer, f.Position, now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return FAQ{}, err
	}
	return f, nil
}

func (s *SQLStore) UpdateFAQ(ctx context.Context, id string, in FAQ, actor string) (FAQ, error) {
	if err := normalizeFAQ(&in); err != nil {
		return FAQ{}, err
	}
	var out FAQ
	err := s.write(ctx, kindFAQ, id, "update", actor, func(tx *sql.Tx) error {
		cur, err := scanFAQ(tx.QueryRowContext(ctx, `SELECT `+faqCols+` FROM faqs WHERE id=$1`, id))
		if err != nil {
			return db.NotFound(err, "faq")
		}
		out = cur
		out.Question, out.Answer, out.Position = in.Question, in.Answer, in.Position
		out.UpdatedAt = s.stamp()
		_, err = tx.ExecContext(ctx, `UPDATE faqs SET question=$1, answer=$2, position=$3, updated_at=$4 WHERE id=$5`,
			out.Question, out.Answer, out.Position, out.UpdatedAt.Unix(), id)
		return err
	})
	if err != nil {
		return FAQ{}, err
	}
	return out, nil
}

func (s *SQLStore) DeleteFAQ(ctx context.Context, id, actor string) error {
	return s.write(ctx, kindFAQ, id, "delete", actor, func(tx *sql.Tx) error {
		return deleteRow(ctx, tx, "faqs", id, "faq")
	})
}
