// Package audit keeps an append-only log of account, test and content changes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mind-engage/psyportal/internal/db"
)

const (
	UserRegistered  = "user.registered"
	UserRoleChanged = "user.role_changed"
	UserDeleted     = "user.deleted"
	TestCreated     = "test.created"
	TestDeleted     = "test.deleted"
	TestSubmitted   = "test.submitted"
	ContentChanged  = "content.changed"
	MediaUploaded   = "media.uploaded"
	MediaDeleted    = "media.deleted"
)

type Event struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Actor     string          `json:"actor,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Append writes e using q, so callers can log inside their own transaction.
// data is marshalled to JSON; nil becomes {}.
func Append(ctx context.Context, q db.Querier, typ, key, actor string, data any) error {
	raw := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("audit: marshal %s: %w", typ, err)
		}
		raw = b
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, actor, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		typ, key, actor, string(raw), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", typ, err)
	}
	return nil
}

type ListOpts struct {
	Type   string
	Before int64 // return events with seq < Before; 0 means newest
	Limit  int
}

type Log struct{ db *db.DB }

func NewLog(d *db.DB) *Log { return &Log{db: d} }

// Record appends a standalone event.
func (l *Log) Record(ctx context.Context, typ, key, actor string, data any) error {
	return l.db.Do(ctx, func(q db.Querier) error {
		return Append(ctx, q, typ, key, actor, data)
	})
}

// List returns events newest first.
func (l *Log) List(ctx context.Context, opts ListOpts) ([]Event, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}
	query := `SELECT seq, typ, key, actor, data, created_at FROM event_log WHERE 1=1`
	var args []any
	if opts.Type != "" {
		args = append(args, opts.Type)
		query += fmt.Sprintf(" AND typ=$%d", len(args))
	}
	if opts.Before > 0 {
		args = append(args, opts.Before)
		query += fmt.Sprintf(" AND seq<$%d", len(args))
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	out := []Event{}
	err := l.db.Do(ctx, func(q db.Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Event
			var data string
			var created int64
			if err := rows.Scan(&e.Seq, &e.Type, &e.Key, &e.Actor, &data, &created); err != nil {
				return err
			}
			e.Data = json.RawMessage(data)
			e.CreatedAt = time.Unix(created, 0).UTC()
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}
