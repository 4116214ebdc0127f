package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/wsdump/internal/errors"
)

// Run is one row of replay_runs.
type Run struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ListRuns returns replay runs, newest first. A non-empty source filters by
// the replayed file.
func ListRuns(ctx context.Context, db *sql.DB, source string) ([]Run, error) {
	query := `SELECT id, source, status, started_at, finished_at, error FROM replay_runs`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY started_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			msg      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &started, &finished, &msg); err != nil {
			return nil, errors.NewInternal(err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			t := time.Unix(finished.Int64, 0).UTC()
			r.FinishedAt = &t
		}
		r.Error = msg.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return runs, nil
}
