package assessment

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/scoring"
)

// ExportResults writes every result of a test as CSV: one row per result,
// one score and one label column per subskala.
func (s *SQLStore) ExportResults(ctx context.Context, testID string, w io.Writer) error {
	t, err := s.GetTest(ctx, testID)
	if err != nil {
		return err
	}
	var results []Result
	err = s.db.Do(ctx, func(q db.Querier) error {
		rows, err := q.QueryContext(ctx, resultSelect+` WHERE r.test_id=$1 ORDER BY r.created_at, r.id`, t.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanResult(rows)
			if err != nil {
				return err
			}
			results = append(results, r)
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"result_id", "user_id", "username", "created_at"}
	for _, sk := range t.Subskalas {
		header = append(header, sk.Name+"_score", sk.Name+"_label")
	}
	header = append(header, "total", "total_label")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range results {
		byID := make(map[string]scoring.SubskalaScore, len(r.Scores))
		for _, sc := range r.Scores {
			byID[sc.SubskalaID] = sc
		}
		rec := []string{r.ID, r.UserID, r.Username, r.CreatedAt.Format(time.RFC3339)}
		for _, sk := range t.Subskalas {
			sc, ok := byID[sk.ID]
			if !ok {
				rec = append(rec, "", "")
				continue
			}
			rec = append(rec, formatNum(sc.Score), string(sc.Label))
		}
		rec = append(rec, formatNum(r.Total), string(r.TotalLabel))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatNum(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
