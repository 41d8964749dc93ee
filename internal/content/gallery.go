package content

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/db"
)

const galleryCols = `id, title, caption, image_key, position, created_at, updated_at`

func scanGalleryItem(row interface{ Scan(...any) error }) (GalleryItem, error) {
	var g GalleryItem
	var created, updated int64
	if err := row.Scan(&g.ID, &g.Title, &g.Caption, &g.ImageKey, &g.Position, &created, &updated); err != nil {
		return GalleryItem{}, err
	}
	g.ImageURL = MediaURL(g.ImageKey)
	g.CreatedAt, g.UpdatedAt = unix(created), unix(updated)
	return g, nil
}

func (s *SQLStore) ListGallery(ctx context.Context) ([]GalleryItem, error) {
	return cached(ctx, s, kindGallery+":list", func(ctx context.Context) ([]GalleryItem, error) {
		out := []GalleryItem{}
		err := s.db.Do(ctx, func(q db.Querier) error {
			rows, err := q.QueryContext(ctx, `SELECT `+galleryCols+` FROM gallery_items ORDER BY position, created_at, id`)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				g, err := scanGalleryItem(rows)
				if err != nil {
					return err
				}
				out = append(out, g)
			}
			return rows.Err()
		})
		return out, err
	})
}

func (s *SQLStore) GetGalleryItem(ctx context.Context, id string) (GalleryItem, error) {
	return cached(ctx, s, kindGallery+":get:"+id, func(ctx context.Context) (GalleryItem, error) {
		var g GalleryItem
		err := s.db.Do(ctx, func(q db.Querier) error {
			var err error
			g, err = scanGalleryItem(q.QueryRowContext(ctx, `SELECT `+galleryCols+` FROM gallery_items WHERE id=$1`, id))
			return db.NotFound(err, "gallery item")
		})
		return g, err
	})
}

func normalizeGalleryItem(g *GalleryItem) error {
	g.Title = strings.TrimSpace(g.Title)
	g.Caption = strings.TrimSpace(g.Caption)
	g.ImageKey = strings.TrimSpace(g.ImageKey)
	if err := required("title", g.Title); err != nil {
		return err
	}
	if g.ImageKey == "" {
		return apperr.Invalidf("image_key is required")
	}
	return checkMediaKey("image_key", g.ImageKey)
}

func (s *SQLStore) CreateGalleryItem(ctx context.Context, g GalleryItem, actor string) (GalleryItem, error) {
	if err := normalizeGalleryItem(&g); err != nil {
		return GalleryItem{}, err
	}
	now := s.stamp()
	g.ID = uuid.NewString()
	g.ImageURL = MediaURL(g.ImageKey)
	g.CreatedAt, g.UpdatedAt = now, now
	err := s.write(ctx, kindGallery, g.ID, "create", actor, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO gallery_items (`+galleryCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			g.ID, g.Title, g.Caption, g.ImageKey, g.Position, now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return GalleryItem{}, err
	}
	return g, nil
}

func (s *SQLStore) UpdateGalleryItem(ctx context.Context, id string, in GalleryItem, actor string) (GalleryItem, error) {
	if err := normalizeGalleryItem(&in); err != nil {
		return GalleryItem{}, err
	}
	var out GalleryItem
	err := s.write(ctx, kindGallery, id, "update", actor, func(tx *sql.Tx) error {
		cur, err := scanGalleryItem(tx.QueryRowContext(ctx, `SELECT `+galleryCols+` FROM gallery_items WHERE id=$1`, id))
		if err != nil {
			return db.NotFound(err, "gallery item")
		}
		out = cur
		out.Title, out.Caption, out.Position = in.Title, in.Caption, in.Position
		out.ImageKey, out.ImageURL = in.ImageKey, MediaURL(in.ImageKey)
		out.UpdatedAt = s.stamp()
		_, err = tx.ExecContext(ctx, `UPDATE gallery_items SET title=$1, caption=$2, image_key=$3, position=$4, updated_at=$5
			WHERE id=$6`, out.Title, out.Caption, out.ImageKey, out.Position, out.UpdatedAt.Unix(), id)
		return err
	})
	if err != nil {
		return GalleryItem{}, err
	}
	return out, nil
}

func (s *SQLStore) DeleteGalleryItem(ctx context.Context, id, actor string) error {
	return s.write(ctx, kindGallery, id, "delete", actor, func(tx *sql.Tx) error {
		return deleteRow(ctx, tx, "gallery_items", id, "gallery item")
	})
}
