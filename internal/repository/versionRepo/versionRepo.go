package versionRepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vault-service/internal/apperr"
	"vault-service/internal/model/changeRequest"
	"vault-service/internal/model/fileInfo"
)

const uniqueViolation = "23505"

// VersionRepository persists per-path version chains. It is the only
// component that appends; everything else reads.
type VersionRepository struct {
	conn *pgx.Conn
}

func New(db *pgx.Conn) *VersionRepository {
	return &VersionRepository{conn: db}
}

const versionCols = `id, path, version_number, storage_key, size, content_hash, author_id, author, message, is_delete, created_at`

func scanVersion(row pgx.Row) (*fileInfo.FileVersion, error) {
	var v fileInfo.FileVersion
	err := row.Scan(&v.ID, &v.Path, &v.VersionNumber, &v.StorageKey, &v.Size,
		&v.ContentHash, &v.AuthorID, &v.Author, &v.Message, &v.IsDelete, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Head returns the latest version for a path, or nil if the path has no
// history at all.
func (r *VersionRepository) Head(ctx context.Context, path string) (*fileInfo.FileVersion, error) {
	return scanVersion(r.conn.QueryRow(ctx,
		`SELECT `+versionCols+`
		 FROM file_versions
		 WHERE path = $1
		 ORDER BY version_number DESC
		 LIMIT 1`, path))
}

// At returns one specific version of a path, or nil if it does not exist.
func (r *VersionRepository) At(ctx context.Context, path string, version uint32) (*fileInfo.FileVersion, error) {
	return scanVersion(r.conn.QueryRow(ctx,
		`SELECT `+versionCols+`
		 FROM file_versions
		 WHERE path = $1 AND version_number = $2`, path, version))
}

// History returns all versions of a path, oldest first.
func (r *VersionRepository) History(ctx context.Context, path string) ([]*fileInfo.FileVersion, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+versionCols+`
		 FROM file_versions
		 WHERE path = $1
		 ORDER BY version_number ASC`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// AppendBatch commits a set of new versions in one transaction with
// compare-and-append semantics: versions[i] is inserted as expected[i]+1,
// and any head that moved since validation fails the whole batch with
// ConcurrentHeadChanged. Nothing is written unless everything is.
func (r *VersionRepository) AppendBatch(ctx context.Context, versions []*fileInfo.FileVersion, expected []uint32) ([]*fileInfo.FileVersion, error) {
	if len(versions) != len(expected) {
		return nil, errors.New("versions and expected heads must align")
	}

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	committed, err := appendTx(ctx, tx, versions, expected)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return committed, nil
}

// CommitMerge appends a CR's validated versions and flips the CR to merged
// in the same transaction, so a failure on either side leaves both the
// chain and the CR status untouched.
func (r *VersionRepository) CommitMerge(ctx context.Context, crID uint32, versions []*fileInfo.FileVersion, expected []uint32, mergedAt time.Time) ([]*fileInfo.FileVersion, error) {
	if len(versions) != len(expected) {
		return nil, errors.New("versions and expected heads must align")
	}

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	committed, err := appendTx(ctx, tx, versions, expected)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE change_requests
		 SET status = $2, merged_at = $3, updated_at = now()
		 WHERE id = $1`,
		crID, string(changeRequest.StatusMerged), mergedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, apperr.New(apperr.KindNotFound, "change request %d not found", crID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return committed, nil
}

func appendTx(ctx context.Context, tx pgx.Tx, versions []*fileInfo.FileVersion, expected []uint32) ([]*fileInfo.FileVersion, error) {
	committed := make([]*fileInfo.FileVersion, 0, len(versions))
	for i, v := range versions {
		var cur uint32
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version_number), 0) FROM file_versions WHERE path = $1`,
			v.Path).Scan(&cur)
		if err != nil {
			return nil, err
		}
		if cur != expected[i] {
			return nil, apperr.New(apperr.KindConcurrentHeadChanged,
				"head of %s moved from %d to %d", v.Path, expected[i], cur)
		}

		next := cur + 1
		row := tx.QueryRow(ctx,
			`INSERT INTO file_versions (path, version_number, storage_key, size, content_hash, author_id, author, message, is_delete)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, created_at`,
			v.Path, next, v.StorageKey, v.Size, v.ContentHash, v.AuthorID, v.Author, v.Message, v.IsDelete)
		var out fileInfo.FileVersion = *v
		out.VersionNumber = next
		if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				// Another writer took this slot between our MAX read and the
				// insert; surface it exactly like a stale expected head.
				return nil, apperr.New(apperr.KindConcurrentHeadChanged,
					"head of %s moved past %d", v.Path, expected[i])
			}
			return nil, err
		}
		committed = append(committed, &out)
	}
	return committed, nil
}

// Append commits a single version with compare-and-append semantics.
func (r *VersionRepository) Append(ctx context.Context, v *fileInfo.FileVersion, expectedHead uint32) (*fileInfo.FileVersion, error) {
	out, err := r.AppendBatch(ctx, []*fileInfo.FileVersion{v}, []uint32{expectedHead})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ListLive returns the head version of every path under a prefix whose head
// is not a delete marker, ordered by path.
func (r *VersionRepository) ListLive(ctx context.Context, prefix string) ([]*fileInfo.FileVersion, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+versionCols+`
		 FROM file_versions v
		 WHERE v.path LIKE $1 || '%'
		   AND v.version_number = (SELECT MAX(version_number) FROM file_versions WHERE path = v.path)
		   AND NOT v.is_delete
		 ORDER BY v.path ASC`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// Search returns live heads whose path contains the query, case-insensitive.
func (r *VersionRepository) Search(ctx context.Context, query string, limit int) ([]*fileInfo.FileVersion, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+versionCols+`
		 FROM file_versions v
		 WHERE v.path ILIKE '%' || $1 || '%'
		   AND v.version_number = (SELECT MAX(version_number) FROM file_versions WHERE path = v.path)
		   AND NOT v.is_delete
		 ORDER BY v.path ASC
		 LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*fileInfo.FileVersion, error) {
	var versions []*fileInfo.FileVersion
	for rows.Next() {
		var v fileInfo.FileVersion
		if err := rows.Scan(&v.ID, &v.Path, &v.VersionNumber, &v.StorageKey, &v.Size,
			&v.ContentHash, &v.AuthorID, &v.Author, &v.Message, &v.IsDelete, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}
