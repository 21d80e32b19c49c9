package quota

import (
	"context"
	"errors"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"forged/pkg/db"
	"forged/services/builds"
)

// PGStore answers quota queries straight from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore over the shared pool.
func NewPGStore(pool *pgxpool.Pool) (*PGStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PGStore{pool: pool}, nil
}

type runningRow struct {
	ID          int64     `db:"id"`
	ProjectID   uuid.UUID `db:"project_id"`
	Ref         string    `db:"ref"`
	CommitHash  string    `db:"commit_hash"`
	Status      int       `db:"status"`
	BuilderHost *string   `db:"builder_host"`
}

// RunningForUser lists the user's executing non-demo builds across their
// member projects, in id order.
func (s *PGStore) RunningForUser(ctx context.Context, userID uuid.UUID) ([]builds.Build, error) {
	var rows []runningRow
	err := db.Select(ctx, s.pool, &rows, `
SELECT b.id, b.project_id, b.ref, b.commit_hash, b.status, b.builder_host
FROM builds b
JOIN project_members pm ON pm.project_id = b.project_id
WHERE pm.user_id = $1
  AND b.status IN ($2, $3)
  AND b.demo = FALSE
ORDER BY b.id
`, userID, int(builds.StatusBuilding), int(builds.StatusRunning))
	if err != nil {
		return nil, err
	}

	out := make([]builds.Build, 0, len(rows))
	for _, row := range rows {
		b := builds.Build{
			ID:         row.ID,
			ProjectID:  row.ProjectID,
			Ref:        row.Ref,
			CommitHash: row.CommitHash,
			Status:     builds.Status(row.Status),
		}
		if row.BuilderHost != nil {
			b.BuilderHost = *row.BuilderHost
		}
		out = append(out, b)
	}
	return out, nil
}

// Username resolves the quota subject's name for stop messages.
func (s *PGStore) Username(ctx context.Context, userID uuid.UUID) (string, error) {
	var username string
	err := db.Get(ctx, s.pool, &username, `SELECT username FROM users WHERE id = $1`, userID)
	if pgxscan.NotFound(err) {
		return "", builds.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return username, nil
}
