package content

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/audit"
	"github.com/mind-engage/psyportal/internal/cache"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/storage"
)

const (
	kindBlog    = "blogs"
	kindFAQ     = "faqs"
	kindGallery = "galleries"
	kindService = "services"
)

// SQLStore reads through a cache; every write drops the cache entries of
// the entity kind it touched.
type SQLStore struct {
	db    *db.DB
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewSQLStore(d *db.DB, c cache.Cache, ttl time.Duration) *SQLStore {
	if c == nil {
		c = cache.Nop{}
	}
	return &SQLStore{db: d, cache: c, ttl: ttl, now: time.Now}
}

func (s *SQLStore) stamp() time.Time { return s.now().UTC().Truncate(time.Second) }

func cached[T any](ctx context.Context, s *SQLStore, key string, load func(ctx context.Context) (T, error)) (T, error) {
	return cache.Aside(ctx, s.cache, key, s.ttl, load)
}

// write runs fn and its audit event in one transaction, then invalidates kind.
func (s *SQLStore) write(ctx context.Context, kind, id, action, actor string, fn func(tx *sql.Tx) error) error {
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.ContentChanged, id, actor,
			map[string]string{"kind": kind, "action": action})
	})
	if err == nil {
		cache.Invalidate(ctx, s.cache, kind+":")
	}
	return err
}

func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFoundf("%s", what)
	}
	return nil
}

func deleteRow(ctx context.Context, q db.Querier, table, id, what string) error {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, table), id)
	if err != nil {
		return err
	}
	return mustAffect(res, what)
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.Invalidf("%s is required", field)
	}
	return nil
}

func checkMediaKey(field, key string) error {
	if key != "" && !storage.ValidKey(key) {
		return apperr.Invalidf("%s is not a valid media key", field)
	}
	return nil
}

func unix(ts int64) time.Time { return time.Unix(ts, 0).UTC() }

// pageKey renders list parameters into a cache key suffix.
func pageKey(limit, offset int, extra ...any) string {
	limit, offset = db.Page(limit, offset)
	return fmt.Sprintf("%d:%d:%v", limit, offset, extra)
}
