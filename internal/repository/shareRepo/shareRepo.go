package shareRepo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vault-service/internal/model/fileInfo"
)

// ShareRepository persists public-link and archive flags per path.
type ShareRepository struct {
	conn *pgx.Conn
}

func New(db *pgx.Conn) *ShareRepository {
	return &ShareRepository{conn: db}
}

const shareCols = `id, file_path, token, is_public, is_archived, created_by, created_at, updated_at`

func scanShare(row pgx.Row) (*fileInfo.FileShare, error) {
	var s fileInfo.FileShare
	err := row.Scan(&s.ID, &s.Path, &s.Token, &s.IsPublic, &s.IsArchived, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ShareRepository) GetByPath(ctx context.Context, path string) (*fileInfo.FileShare, error) {
	return scanShare(r.conn.QueryRow(ctx,
		`SELECT `+shareCols+` FROM file_shares WHERE file_path = $1`, path))
}

func (r *ShareRepository) GetByToken(ctx context.Context, token string) (*fileInfo.FileShare, error) {
	return scanShare(r.conn.QueryRow(ctx,
		`SELECT `+shareCols+` FROM file_shares WHERE token = $1`, token))
}

// GetByPaths returns the share rows for the given paths, keyed by path.
func (r *ShareRepository) GetByPaths(ctx context.Context, paths []string) (map[string]*fileInfo.FileShare, error) {
	if len(paths) == 0 {
		return map[string]*fileInfo.FileShare{}, nil
	}
	rows, err := r.conn.Query(ctx,
		`SELECT `+shareCols+` FROM file_shares WHERE file_path = ANY($1)`, paths)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := make(map[string]*fileInfo.FileShare)
	for rows.Next() {
		var s fileInfo.FileShare
		if err := rows.Scan(&s.ID, &s.Path, &s.Token, &s.IsPublic, &s.IsArchived, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		shares[s.Path] = &s
	}
	return shares, rows.Err()
}

// Ensure returns the share row for a path, creating it with a fresh token
// when missing.
func (r *ShareRepository) Ensure(ctx context.Context, path string, createdBy uint32) (*fileInfo.FileShare, error) {
	share, err := r.GetByPath(ctx, path)
	if err != nil || share != nil {
		return share, err
	}
	share = &fileInfo.FileShare{
		Path:      path,
		Token:     uuid.New().String(),
		CreatedBy: createdBy,
	}
	err = r.conn.QueryRow(ctx,
		`INSERT INTO file_shares (file_path, token, created_by)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		share.Path, share.Token, share.CreatedBy).
		Scan(&share.ID, &share.CreatedAt, &share.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return share, nil
}

func (r *ShareRepository) SetPublic(ctx context.Context, path string, public bool) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE file_shares SET is_public = $2, updated_at = now() WHERE file_path = $1`,
		path, public)
	return err
}

func (r *ShareRepository) SetArchived(ctx context.Context, path string, archived bool) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE file_shares SET is_archived = $2, updated_at = now() WHERE file_path = $1`,
		path, archived)
	return err
}
