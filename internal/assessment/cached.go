package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/mind-engage/psyportal/internal/cache"
)

const cachePrefix = "tests:"

// CachedStore serves test reads from a cache and drops the whole test
// namespace on any test edit. Results are never cached.
type CachedStore struct {
	Store
	c   cache.Cache
	ttl time.Duration
}

func NewCachedStore(s Store, c cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: s, c: c, ttl: ttl}
}

func (s *CachedStore) ListTests(ctx context.Context, opts ListOpts) ([]TestSummary, error) {
	key := fmt.Sprintf("%slist:%t:%d:%d:%s", cachePrefix, opts.IncludeUnpublished, opts.Limit, opts.Offset, opts.Q)
	return cache.Aside(ctx, s.c, key, s.ttl, func(ctx context.Context) ([]TestSummary, error) {
		return s.Store.ListTests(ctx, opts)
	})
}

func (s *CachedStore) GetTest(ctx context.Context, idOrSlug string) (Test, error) {
	return cache.Aside(ctx, s.c, cachePrefix+"get:"+idOrSlug, s.ttl, func(ctx context.Context) (Test, error) {
		return s.Store.GetTest(ctx, idOrSlug)
	})
}

func (s *CachedStore) invalidate(ctx context.Context) { cache.Invalidate(ctx, s.c, cachePrefix) }

func (s *CachedStore) CreateTest(ctx context.Context, t Test, actor string) (Test, error) {
	out, err := s.Store.CreateTest(ctx, t, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) UpdateTest(ctx context.Context, idOrSlug string, t Test, actor string) (Test, error) {
	out, err := s.Store.UpdateTest(ctx, idOrSlug, t, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) SetPublished(ctx context.Context, idOrSlug string, published bool, actor string) (Test, error) {
	out, err := s.Store.SetPublished(ctx, idOrSlug, published, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) DeleteTest(ctx context.Context, idOrSlug, actor string) error {
	err := s.Store.DeleteTest(ctx, idOrSlug, actor)
	s.invalidate(ctx)
	return err
}

func (s *CachedStore) AddSubskala(ctx context.Context, testID string, sk Subskala, actor string) (Subskala, error) {
	out, err := s.Store.AddSubskala(ctx, testID, sk, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) UpdateSubskala(ctx context.Context, testID string, sk Subskala, actor string) (Subskala, error) {
	out, err := s.Store.UpdateSubskala(ctx, testID, sk, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) DeleteSubskala(ctx context.Context, testID, subskalaID, actor string) error {
	err := s.Store.DeleteSubskala(ctx, testID, subskalaID, actor)
	s.invalidate(ctx)
	return err
}

func (s *CachedStore) AddQuestion(ctx context.Context, testID string, q Question, actor string) (Question, error) {
	out, err := s.Store.AddQuestion(ctx, testID, q, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) UpdateQuestion(ctx context.Context, testID string, q Question, actor string) (Question, error) {
	out, err := s.Store.UpdateQuestion(ctx, testID, q, actor)
	s.invalidate(ctx)
	return out, err
}

func (s *CachedStore) DeleteQuestion(ctx context.Context, testID, questionID, actor string) error {
	err := s.Store.DeleteQuestion(ctx, testID, questionID, actor)
	s.invalidate(ctx)
	return err
}

