package content

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/slug"
)

const serviceCols = `id, slug, name, description, price_cents, duration_minutes, active, position, created_at, updated_at`

func scanService(row interface{ Scan(...any) error }) (Service, error) {
	var sv Service
	var created, updated int64
	if err := row.Scan(&sv.ID, &sv.Slug, &sv.Name, &sv.Description, &sv.PriceCents, &sv.DurationMinutes,
		&sv.Active, &sv.Position, &created, &updated); err != nil {
		return Service{}, err
	}
	sv.CreatedAt, sv.UpdatedAt = unix(created), unix(updated)
	return sv, nil
}

// ListServices returns services by position. Inactive ones are included
// only on request.
func (s *SQLStore) ListServices(ctx context.Context, includeInactive bool) ([]Service, error) {
	key := kindService + ":list:active"
	query := `SELECT ` + serviceCols + ` FROM services WHERE active=$1 ORDER BY position, name`
	args := []any{true}
	if includeInactive {
		key = kindService + ":list:all"
		query = `SELECT ` + serviceCols + ` FROM services ORDER BY position, name`
		args = nil
	}
	return cached(ctx, s, key, func(ctx context.Context) ([]Service, error) {
		out := []Service{}
		err := s.db.Do(ctx, func(q db.Querier) error {
			rows, err := q.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				sv, err := scanService(rows)
				if err != nil {
					return err
				}
				out = append(out, sv)
			}
			return rows.Err()
		})
		return out, err
	})
}

func (s *SQLStore) GetService(ctx context.Context, idOrSlug string, includeInactive bool) (Service, error) {
	sv, err := cached(ctx, s, kindService+":get:"+idOrSlug, func(ctx context.Context) (Service, error) {
		var sv Service
		err := s.db.Do(ctx, func(q db.Querier) error {
			var err error
			sv, err = scanService(q.QueryRowContext(ctx, `SELECT `+serviceCols+` FROM services WHERE id=$1 OR slug=$1`, idOrSlug))
			return db.NotFound(err, "service")
		})
		return sv, err
	})
	if err != nil {
		return Service{}, err
	}
	if !sv.Active && !includeInactive {
		return Service{}, apperr.NotFoundf("service")
	}
	return sv, nil
}

func normalizeService(sv *Service) error {
	sv.Name = strings.TrimSpace(sv.Name)
	sv.Slug = strings.TrimSpace(sv.Slug)
	if err := required("name", sv.Name); err != nil {
		return err
	}
	if sv.Slug == "" {
		sv.Slug = slug.Make(sv.Name)
	}
	if !slug.Valid(sv.Slug) {
		return apperr.Invalidf("slug must be lowercase letters, digits and dashes")
	}
	if sv.PriceCents < 0 {
		return apperr.Invalidf("price_cents must not be negative")
	}
	if sv.DurationMinutes < 0 {
		return apperr.Invalidf("duration_minutes must not be negative")
	}
	return nil
}

func (s *SQLStore) CreateService(ctx context.Context, sv Service, actor string) (Service, error) {
	if err := normalizeService(&sv); err != nil {
		return Service{}, err
	}
	now := s.stamp()
	sv.ID = uuid.NewString()
	sv.CreatedAt, sv.UpdatedAt = now, now
	err := s.write(ctx, kindService, sv.ID, "create", actor, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO services (`+serviceCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			sv.ID, sv.Slug, sv.Name, sv.Description, sv.PriceCents, sv.DurationMinutes, sv.Active, sv.Position,
			now.Unix(), now.Unix())
		return slugTaken(err)
	})
	if err != nil {
		return Service{}, err
	}
	return sv, nil
}

func (s *SQLStore) UpdateService(ctx context.Context, id string, in Service, actor string) (Service, error) {
	if err := normalizeService(&in); err != nil {
		return Service{}, err
	}
	var out Service
	err := s.write(ctx, kindService, id, "update", actor, func(tx *sql.Tx) error {
		cur, err := scanService(tx.QueryRowContext(ctx, `SELECT `+serviceCols+` FROM services WHERE id=$1`, id))
		if err != nil {
			return db.NotFound(err, "service")
		}
		out = in
		out.ID, out.CreatedAt, out.UpdatedAt = cur.ID, cur.CreatedAt, s.stamp()
		_, err = tx.ExecContext(ctx, `UPDATE services SET slug=$1, name=$2, description=$3, price_cents=$4,
			duration_minutes=$5, active=$6, position=$7, updated_at=$8 WHERE id=$9`,
			out.Slug, out.Name, out.Description, out.PriceCents, out.DurationMinutes, out.Active, out.Position,
			out.UpdatedAt.Unix(), id)
		return slugTaken(err)
	})
	if err != nil {
		return Service{}, err
	}
	return out, nil
}

func (s *SQLStore) DeleteService(ctx context.Context, id, actor string) error {
	return s.write(ctx, kindService, id, "delete", actor, func(tx *sql.Tx) error {
		return deleteRow(ctx, tx, "services", id, "service")
	})
}
