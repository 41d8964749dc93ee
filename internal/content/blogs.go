package content

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/slug"
)

const blogCols = `id, slug, title, excerpt, content, cover_key, author_id, published, published_at, created_at, updated_at`

func scanBlog(row interface{ Scan(...any) error }) (Blog, error) {
	var (
		b                Blog
		publishedAt      sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&b.ID, &b.Slug, &b.Title, &b.Excerpt, &b.Content, &b.CoverKey, &b.AuthorID,
		&b.Published, &publishedAt, &created, &updated); err != nil {
		return Blog{}, err
	}
	if publishedAt.Valid {
		t := unix(publishedAt.Int64)
		b.PublishedAt = &t
	}
	b.CoverURL = MediaURL(b.CoverKey)
	b.CreatedAt, b.UpdatedAt = unix(created), unix(updated)
	return b, nil
}

// ListBlogs returns posts newest first. Drafts are included only on request.
func (s *SQLStore) ListBlogs(ctx context.Context, opts BlogListOpts) ([]Blog, error) {
	key := kindBlog + ":list:" + pageKey(opts.Limit, opts.Offset, opts.IncludeUnpublished, opts.Q)
	return cached(ctx, s, key, func(ctx context.Context) ([]Blog, error) {
		limit, offset := db.Page(opts.Limit, opts.Offset)
		var args db.Args
		query := `SELECT ` + blogCols + ` FROM blogs WHERE 1=1`
		if !opts.IncludeUnpublished {
			query += ` AND published=` + args.Add(true)
		}
		if q := strings.TrimSpace(opts.Q); q != "" {
			p := args.Add(db.Like(q))
			query += ` AND (LOWER(title) LIKE ` + p + ` ESCAPE '\' OR LOWER(excerpt) LIKE ` + p + ` ESCAPE '\')`
		}
		query += ` ORDER BY COALESCE(published_at, created_at) DESC, id LIMIT ` + args.Add(limit) + ` OFFSET ` + args.Add(offset)

		out := []Blog{}
		err := s.db.Do(ctx, func(q db.Querier) error {
			rows, err := q.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				b, err := scanBlog(rows)
				if err != nil {
					return err
				}
				out = append(out, b)
			}
			return rows.Err()
		})
		return out, err
	})
}

// GetBlog looks a post up by id or slug. Drafts are reported as missing
// unless includeDrafts is set.
func (s *SQLStore) GetBlog(ctx context.Context, idOrSlug string, includeDrafts bool) (Blog, error) {
	b, err := cached(ctx, s, kindBlog+":get:"+idOrSlug, func(ctx context.Context) (Blog, error) {
		var b Blog
		err := s.db.Do(ctx, func(q db.Querier) error {
			var err error
			b, err = scanBlog(q.QueryRowContext(ctx, `SELECT `+blogCols+` FROM blogs WHERE id=$1 OR slug=$1`, idOrSlug))
			return db.NotFound(err, "blog")
		})
		return b, err
	})
	if err != nil {
		return Blog{}, err
	}
	if !b.Published && !includeDrafts {
		return Blog{}, apperr.NotFoundf("blog")
	}
	return b, nil
}

func normalizeBlog(b *Blog) error {
	b.Title = strings.TrimSpace(b.Title)
	b.Slug = strings.TrimSpace(b.Slug)
	b.Excerpt = strings.TrimSpace(b.Excerpt)
	if err := required("title", b.Title); err != nil {
		return err
	}
	if err := required("content", b.Content); err != nil {
		return err
	}
	if b.Slug == "" {
		b.Slug = slug.Make(b.Title)
	}
	if !slug.Valid(b.Slug) {
		return apperr.Invalidf("slug must be lowercase letters, digits and dashes")
	}
	return checkMediaKey("cover_key", b.CoverKey)
}

func slugTaken(err error) error {
	if db.IsUniqueViolation(err) {
		return apperr.Conflictf("slug already in use")
	}
	return err
}

func (s *SQLStore) CreateBlog(ctx context.Context, b Blog, actor string) (Blog, error) {
	if err := normalizeBlog(&b); err != nil {
		return Blog{}, err
	}
	now := s.stamp()
	b.ID = uuid.NewString()
	b.AuthorID = actor
	b.CreatedAt, b.UpdatedAt = now, now
	b.PublishedAt = nil
	if b.Published {
		b.PublishedAt = &now
	}
	b.CoverURL = MediaURL(b.CoverKey)
	err := s.write(ctx, kindBlog, b.ID, "create", actor, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO blogs (`+blogCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			b.ID, b.Slug, b.Title, b.Excerpt, b.Content, b.CoverKey, b.AuthorID, b.Published,
			unixPtr(b.PublishedAt), now.Unix(), now.Unix())
		return slugTaken(err)
	})
	if err != nil {
		return Blog{}, err
	}
	return b, nil
}

// UpdateBlog replaces the editable fields of id. PublishedAt is set the
// first time a post is published and kept afterwards.
func (s *SQLStore) UpdateBlog(ctx context.Context, id string, in Blog, actor string) (Blog, error) {
	if err := normalizeBlog(&in); err != nil {
		return Blog{}, err
	}
	var out Blog
	err := s.write(ctx, kindBlog, id, "update", actor, func(tx *sql.Tx) error {
		cur, err := scanBlog(tx.QueryRowContext(ctx, `SELECT `+blogCols+` FROM blogs WHERE id=$1`, id))
		if err != nil {
			return db.NotFound(err, "blog")
		}
		now := s.stamp()
		out = cur
		out.Slug, out.Title, out.Excerpt, out.Content = in.Slug, in.Title, in.Excerpt, in.Content
		out.CoverKey, out.CoverURL = in.CoverKey, MediaURL(in.CoverKey)
		out.Published = in.Published
		out.UpdatedAt = now
		if out.Published && out.PublishedAt == nil {
			out.PublishedAt = &now
		}
		_, err = tx.ExecContext(ctx, `UPDATE blogs SET slug=$1, title=$2, excerpt=$3, content=$4, cover_key=$5,
			published=$6, published_at=$7, updated_at=$8 WHERE id=$9`,
			out.Slug, out.Title, out.Excerpt, out.Content, out.CoverKey, out.Published,
			unixPtr(out.PublishedAt), now.Unix(), id)
		return slugTaken(err)
	})
	if err != nil {
		return Blog{}, err
	}
	return out, nil
}

func (s *SQLStore) DeleteBlog(ctx context.Context, id, actor string) error {
	return s.write(ctx, kindBlog, id, "delete", actor, func(tx *sql.Tx) error {
		return deleteRow(ctx, tx, "blogs", id, "blog")
	})
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
