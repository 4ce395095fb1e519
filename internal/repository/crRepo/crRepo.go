package crRepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"vault-service/internal/model/changeRequest"
)

// CRRepository persists change requests and their staged file entries.
type CRRepository struct {
	conn *pgx.Conn
}

func New(db *pgx.Conn) *CRRepository {
	return &CRRepository{conn: db}
}

const crCols = `id, title, description, status, author_id, author, reviewer_id, reviewer, review_comment, reviewed_at, merged_at, created_at, updated_at`

func scanCR(row pgx.Row) (*changeRequest.ChangeRequest, error) {
	var cr changeRequest.ChangeRequest
	err := row.Scan(&cr.ID, &cr.Title, &cr.Description, &cr.Status, &cr.AuthorID, &cr.Author,
		&cr.ReviewerID, &cr.Reviewer, &cr.ReviewComment, &cr.ReviewedAt, &cr.MergedAt,
		&cr.CreatedAt, &cr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

func (r *CRRepository) Create(ctx context.Context, cr *changeRequest.ChangeRequest) error {
	return r.conn.QueryRow(ctx,
		`INSERT INTO change_requests (title, description, status, author_id, author)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		cr.Title, cr.Description, cr.Status, cr.AuthorID, cr.Author).
		Scan(&cr.ID, &cr.CreatedAt, &cr.UpdatedAt)
}

// GetByID returns a change request with its staged files in insertion
// order, or nil if unknown.
func (r *CRRepository) GetByID(ctx context.Context, id uint32) (*changeRequest.ChangeRequest, error) {
	cr, err := scanCR(r.conn.QueryRow(ctx,
		`SELECT `+crCols+` FROM change_requests WHERE id = $1`, id))
	if err != nil || cr == nil {
		return cr, err
	}

	files, err := r.filesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	cr.Files = files
	return cr, nil
}

func (r *CRRepository) filesFor(ctx context.Context, crID uint32) ([]*changeRequest.CRFile, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT id, change_request_id, file_path, action, staging_key, base_version, size, created_at
		 FROM change_request_files
		 WHERE change_request_id = $1
		 ORDER BY id ASC`, crID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*changeRequest.CRFile
	for rows.Next() {
		var f changeRequest.CRFile
		if err := rows.Scan(&f.ID, &f.CRID, &f.FilePath, &f.Action, &f.StagingKey, &f.BaseVersion, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// List returns a page of change requests ordered by most recent activity,
// plus the total match count.
func (r *CRRepository) List(ctx context.Context, filter changeRequest.ListFilter) ([]*changeRequest.ChangeRequest, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	rows, err := r.conn.Query(ctx,
		`SELECT `+crCols+`
		 FROM change_requests
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = 0 OR author_id = $2)
		 ORDER BY updated_at DESC
		 OFFSET $3 LIMIT $4`,
		string(filter.Status), filter.AuthorID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var crs []*changeRequest.ChangeRequest
	for rows.Next() {
		var cr changeRequest.ChangeRequest
		if err := rows.Scan(&cr.ID, &cr.Title, &cr.Description, &cr.Status, &cr.AuthorID, &cr.Author,
			&cr.ReviewerID, &cr.Reviewer, &cr.ReviewComment, &cr.ReviewedAt, &cr.MergedAt,
			&cr.CreatedAt, &cr.UpdatedAt); err != nil {
			return nil, 0, err
		}
		crs = append(crs, &cr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.conn.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM change_requests
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = 0 OR author_id = $2)`,
		string(filter.Status), filter.AuthorID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return crs, total, nil
}

// LatestDraftByAuthor returns the author's most recently updated draft, or
// nil when none is open.
func (r *CRRepository) LatestDraftByAuthor(ctx context.Context, authorID uint32) (*changeRequest.ChangeRequest, error) {
	cr, err := scanCR(r.conn.QueryRow(ctx,
		`SELECT `+crCols+`
		 FROM change_requests
		 WHERE author_id = $1 AND status = $2
		 ORDER BY updated_at DESC
		 LIMIT 1`, authorID, changeRequest.StatusDraft))
	if err != nil || cr == nil {
		return cr, err
	}
	files, err := r.filesFor(ctx, cr.ID)
	if err != nil {
		return nil, err
	}
	cr.Files = files
	return cr, nil
}

func (r *CRRepository) UpdateMeta(ctx context.Context, id uint32, title, description *string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE change_requests
		 SET title = COALESCE($2, title),
		     description = COALESCE($3, description),
		     updated_at = now()
		 WHERE id = $1`, id, title, description)
	return err
}

// StatusUpdate is applied together with a status change so a transition is
// a single write.
type StatusUpdate struct {
	Status        changeRequest.Status
	ReviewerID    *uint32
	Reviewer      *string
	ReviewComment *string
	ReviewedAt    *time.Time
	MergedAt      *time.Time
	ClearReview   bool
}

func (r *CRRepository) SetStatus(ctx context.Context, id uint32, u StatusUpdate) error {
	if u.ClearReview {
		_, err := r.conn.Exec(ctx,
			`UPDATE change_requests
			 SET status = $2, reviewer_id = NULL, reviewer = NULL, review_comment = NULL, reviewed_at = NULL, updated_at = now()
			 WHERE id = $1`, id, u.Status)
		return err
	}
	_, err := r.conn.Exec(ctx,
		`UPDATE change_requests
		 SET status = $2,
		     reviewer_id = COALESCE($3, reviewer_id),
		     reviewer = COALESCE($4, reviewer),
		     review_comment = COALESCE($5, review_comment),
		     reviewed_at = COALESCE($6, reviewed_at),
		     merged_at = COALESCE($7, merged_at),
		     updated_at = now()
		 WHERE id = $1`,
		id, u.Status, u.ReviewerID, u.Reviewer, u.ReviewComment, u.ReviewedAt, u.MergedAt)
	return err
}

// StageFile inserts a staged entry, replacing any existing entry for the
// same path in the same CR.
func (r *CRRepository) StageFile(ctx context.Context, f *changeRequest.CRFile) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM change_request_files WHERE change_request_id = $1 AND file_path = $2`,
		f.CRID, f.FilePath)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO change_request_files (change_request_id, file_path, action, staging_key, base_version, size)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		f.CRID, f.FilePath, f.Action, f.StagingKey, f.BaseVersion, f.Size).
		Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE change_requests SET updated_at = now() WHERE id = $1`, f.CRID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveFile deletes one staged entry and reports whether it existed.
func (r *CRRepository) RemoveFile(ctx context.Context, crID, fileID uint32) (bool, error) {
	tag, err := r.conn.Exec(ctx,
		`DELETE FROM change_request_files WHERE id = $1 AND change_request_id = $2`,
		fileID, crID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = r.conn.Exec(ctx,
		`UPDATE change_requests SET updated_at = now() WHERE id = $1`, crID)
	return true, err
}

// GetFile returns one staged entry of a CR, or nil if unknown.
func (r *CRRepository) GetFile(ctx context.Context, crID, fileID uint32) (*changeRequest.CRFile, error) {
	var f changeRequest.CRFile
	err := r.conn.QueryRow(ctx,
		`SELECT id, change_request_id, file_path, action, staging_key, base_version, size, created_at
		 FROM change_request_files
		 WHERE id = $1 AND change_request_id = $2`, fileID, crID).
		Scan(&f.ID, &f.CRID, &f.FilePath, &f.Action, &f.StagingKey, &f.BaseVersion, &f.Size, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
