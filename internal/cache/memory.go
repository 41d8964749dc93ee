package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is a size bounded in-process cache. The LRU evicts after the
// default ttl; shorter per-key ttls are checked on read.
type Memory struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration
	now func() time.Time
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Memory{lru: expirable.NewLRU[string, entry](size, nil, ttl), ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return false, nil
	}
	if m.now().After(e.expires) {
		m.lru.Remove(key)
		return false, nil
	}
	return true, decode(e.data, dst)
}

func (m *Memory) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	if ttl <= 0 || ttl > m.ttl {
		ttl = m.ttl
	}
	m.lru.Add(key, entry{data: b, expires: m.now().Add(ttl)})
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range m.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
		}
	}
	return nil
}

func (m *Memory) Len() int { return m.lru.Len() }
