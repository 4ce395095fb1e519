package crService

import (
	"context"
	"strconv"
	"strings"
	"time"

	"vault-service/internal/apperr"
	"vault-service/internal/diff"
	"vault-service/internal/model/actor"
	"vault-service/internal/model/audit"
	"vault-service/internal/model/changeRequest"
	"vault-service/internal/model/fileInfo"
	"vault-service/internal/repository/crRepo"
)

const autoTitlePrefix = "Changes by "

// VersionChain is the committed history the merge engine validates against
// and appends to. CommitMerge appends the versions and flips the CR to
// merged atomically; a failure on either side must leave both untouched.
type VersionChain interface {
	Head(ctx context.Context, path string) (*fileInfo.FileVersion, error)
	At(ctx context.Context, path string, version uint32) (*fileInfo.FileVersion, error)
	CommitMerge(ctx context.Context, crID uint32, versions []*fileInfo.FileVersion, expected []uint32, mergedAt time.Time) ([]*fileInfo.FileVersion, error)
}

// CRStore persists change requests and their staged entries.
type CRStore interface {
	Create(ctx context.Context, cr *changeRequest.ChangeRequest) error
	GetByID(ctx context.Context, id uint32) (*changeRequest.ChangeRequest, error)
	List(ctx context.Context, filter changeRequest.ListFilter) ([]*changeRequest.ChangeRequest, int, error)
	LatestDraftByAuthor(ctx context.Context, authorID uint32) (*changeRequest.ChangeRequest, error)
	UpdateMeta(ctx context.Context, id uint32, title, description *string) error
	SetStatus(ctx context.Context, id uint32, u crRepo.StatusUpdate) error
	StageFile(ctx context.Context, f *changeRequest.CRFile) error
	RemoveFile(ctx context.Context, crID, fileID uint32) (bool, error)
	GetFile(ctx context.Context, crID, fileID uint32) (*changeRequest.CRFile, error)
}

// ContentStore holds immutable blobs addressed by content.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// HeadInvalidator drops cached heads after a merge commits new versions.
type HeadInvalidator interface {
	Invalidate(ctx context.Context, paths ...string) error
}

type Service struct {
	crs   CRStore
	chain VersionChain
	blobs ContentStore
	cache HeadInvalidator
	audit audit.Emitter
}

func New(crs CRStore, chain VersionChain, blobs ContentStore, cache HeadInvalidator, emitter audit.Emitter) *Service {
	return &Service{
		crs:   crs,
		chain: chain,
		blobs: blobs,
		cache: cache,
		audit: emitter,
	}
}

// Create opens a new draft change request.
func (s *Service) Create(ctx context.Context, act actor.Actor, title, description string) (*changeRequest.ChangeRequest, error) {
	if !act.Role.CanWrite() {
		return nil, apperr.New(apperr.KindInvalidTransition, "role %s cannot create change requests", act.Role)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "title is required")
	}

	cr := &changeRequest.ChangeRequest{
		Title:       title,
		Description: description,
		Status:      changeRequest.StatusDraft,
		AuthorID:    act.ID,
		Author:      act.Username,
	}
	if err := s.crs.Create(ctx, cr); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "cr.create", "change_request", formatID(cr.ID), nil))
	return cr, nil
}

// Get returns one change request with its staged files.
func (s *Service) Get(ctx context.Context, id uint32) (*changeRequest.ChangeRequest, error) {
	cr, err := s.crs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, apperr.New(apperr.KindNotFound, "change request %d not found", id)
	}
	return cr, nil
}

// List returns a page of change requests plus the total match count.
func (s *Service) List(ctx context.Context, filter changeRequest.ListFilter) ([]*changeRequest.ChangeRequest, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperr.New(apperr.KindInvalidArgument, "unknown status %q", filter.Status)
	}
	return s.crs.List(ctx, filter)
}

// Update edits title/description while the CR is still editable.
func (s *Service) Update(ctx context.Context, act actor.Actor, id uint32, title, description *string) (*changeRequest.ChangeRequest, error) {
	cr, err := s.editable(ctx, act, id)
	if err != nil {
		return nil, err
	}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return nil, apperr.New(apperr.KindInvalidArgument, "title cannot be empty")
		}
		title = &trimmed
	}
	if err := s.crs.UpdateMeta(ctx, cr.ID, title, description); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "cr.update", "change_request", formatID(cr.ID), nil))
	return s.Get(ctx, id)
}

// Stage records a pending mutation in the CR. For edit and delete the
// current head's version number is captured as the base; it is re-validated
// at merge time, not here, because the CR may sit in review while other
// merges land.
func (s *Service) Stage(ctx context.Context, act actor.Actor, crID uint32, path string, action changeRequest.Action, content []byte) (*changeRequest.CRFile, error) {
	if !act.Role.CanWrite() && action != changeRequest.ActionDelete {
		return nil, apperr.New(apperr.KindInvalidTransition, "role %s cannot stage changes", act.Role)
	}
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, apperr.New(apperr.KindInvalidArgument, "action must be create, edit, or delete")
	}
	cr, err := s.editable(ctx, act, crID)
	if err != nil {
		return nil, err
	}

	head, err := s.chain.Head(ctx, path)
	if err != nil {
		return nil, err
	}

	entry := &changeRequest.CRFile{
		CRID:     cr.ID,
		FilePath: path,
		Action:   action,
	}

	switch action {
	case changeRequest.ActionCreate:
		if head.Live() {
			return nil, apperr.New(apperr.KindAlreadyExists, "%s already exists, use edit", path)
		}
	case changeRequest.ActionEdit, changeRequest.ActionDelete:
		if !head.Live() {
			return nil, apperr.New(apperr.KindNotFound, "%s does not exist, use create", path)
		}
		// Non-writer roles may still delete content they authored.
		if action == changeRequest.ActionDelete && !act.Role.CanWrite() && head.AuthorID != act.ID {
			return nil, apperr.New(apperr.KindInvalidTransition, "role %s may only delete its own files", act.Role)
		}
		entry.BaseVersion = head.VersionNumber
	}

	if action.NeedsContent() {
		if content == nil {
			return nil, apperr.New(apperr.KindInvalidArgument, "content is required for %s", action)
		}
		key, err := s.blobs.Put(ctx, content)
		if err != nil {
			return nil, err
		}
		entry.StagingKey = key
		entry.Size = int64(len(content))
	}

	if err := s.crs.StageFile(ctx, entry); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "cr.stage_"+string(action), "change_request", formatID(cr.ID),
		map[string]string{"path": path}))
	return entry, nil
}

// StageInDraft stages a mutation into the actor's working draft CR,
// creating one lazily. A caller-supplied message replaces the generated
// title while it is still the generated one.
func (s *Service) StageInDraft(ctx context.Context, act actor.Actor, path string, action changeRequest.Action, content []byte, message string) (*changeRequest.ChangeRequest, *changeRequest.CRFile, error) {
	if !act.Role.CanWrite() && action != changeRequest.ActionDelete {
		return nil, nil, apperr.New(apperr.KindInvalidTransition, "role %s cannot stage changes", act.Role)
	}

	cr, err := s.crs.LatestDraftByAuthor(ctx, act.ID)
	if err != nil {
		return nil, nil, err
	}
	if cr == nil {
		cr = &changeRequest.ChangeRequest{
			Title:       autoTitlePrefix + act.Username,
			Description: "Auto-created draft. Edit the title before submitting.",
			Status:      changeRequest.StatusDraft,
			AuthorID:    act.ID,
			Author:      act.Username,
		}
		if err := s.crs.Create(ctx, cr); err != nil {
			return nil, nil, err
		}
		s.audit.Emit(ctx, audit.New(act, "cr.auto_create", "change_request", formatID(cr.ID), nil))
	}

	if message != "" && strings.HasPrefix(cr.Title, autoTitlePrefix) {
		if err := s.crs.UpdateMeta(ctx, cr.ID, &message, nil); err != nil {
			return nil, nil, err
		}
		cr.Title = message
	}

	entry, err := s.Stage(ctx, act, cr.ID, path, action, content)
	if err != nil {
		return nil, nil, err
	}
	return cr, entry, nil
}

// RemoveFile unstages one entry while the CR is still editable.
func (s *Service) RemoveFile(ctx context.Context, act actor.Actor, crID, fileID uint32) error {
	cr, err := s.editable(ctx, act, crID)
	if err != nil {
		return err
	}
	removed, err := s.crs.RemoveFile(ctx, cr.ID, fileID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.New(apperr.KindNotFound, "file entry %d not found in change request %d", fileID, crID)
	}
	s.audit.Emit(ctx, audit.New(act, "cr.remove_file", "change_request", formatID(cr.ID),
		map[string]string{"file_id": formatID(fileID)}))
	return nil
}

// Submit moves a draft or rejected CR into review. Re-submission after a
// rejection is the same transition.
func (s *Service) Submit(ctx context.Context, act actor.Actor, crID uint32) (*changeRequest.ChangeRequest, error) {
	cr, err := s.Get(ctx, crID)
	if err != nil {
		return nil, err
	}
	if cr.AuthorID != act.ID && act.Role != actor.RoleAdmin {
		return nil, apperr.New(apperr.KindInvalidTransition, "only the author or an admin may submit change request %d", crID)
	}
	if !cr.Status.Editable() {
		return nil, apperr.New(apperr.KindInvalidTransition, "cannot submit a change request in status %s", cr.Status)
	}
	if len(cr.Files) == 0 {
		return nil, apperr.New(apperr.KindInvalidTransition, "cannot submit a change request with no staged files")
	}

	if err := s.crs.SetStatus(ctx, cr.ID, crRepo.StatusUpdate{
		Status:      changeRequest.StatusPendingReview,
		ClearReview: true,
	}); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "cr.submit", "change_request", formatID(cr.ID), nil))
	return s.Get(ctx, crID)
}

// Review approves or rejects a pending CR. Reviewers may not review their
// own work; admins are exempt from that rule.
func (s *Service) Review(ctx context.Context, act actor.Actor, crID uint32, approve bool, comment string) (*changeRequest.ChangeRequest, error) {
	cr, err := s.Get(ctx, crID)
	if err != nil {
		return nil, err
	}
	if cr.Status != changeRequest.StatusPendingReview {
		return nil, apperr.New(apperr.KindInvalidTransition, "change request %d is %s, not pending review", crID, cr.Status)
	}
	if !act.Role.CanReview() {
		return nil, apperr.New(apperr.KindInvalidTransition, "role %s cannot review change requests", act.Role)
	}
	if cr.AuthorID == act.ID && act.Role != actor.RoleAdmin {
		return nil, apperr.New(apperr.KindInvalidTransition, "cannot review your own change request")
	}

	status := changeRequest.StatusApproved
	action := "cr.approve"
	if !approve {
		status = changeRequest.StatusRejected
		action = "cr.reject"
	}
	now := time.Now().UTC()
	if err := s.crs.SetStatus(ctx, cr.ID, crRepo.StatusUpdate{
		Status:        status,
		ReviewerID:    &act.ID,
		Reviewer:      &act.Username,
		ReviewComment: &comment,
		ReviewedAt:    &now,
	}); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, action, "change_request", formatID(cr.ID), nil))
	return s.Get(ctx, crID)
}

// Close finalizes a CR without merging. Merged and closed CRs accept no
// further events.
func (s *Service) Close(ctx context.Context, act actor.Actor, crID uint32) (*changeRequest.ChangeRequest, error) {
	cr, err := s.Get(ctx, crID)
	if err != nil {
		return nil, err
	}
	if cr.Status.Terminal() {
		return nil, apperr.New(apperr.KindInvalidTransition, "change request %d is already %s", crID, cr.Status)
	}
	if cr.AuthorID != act.ID && act.Role != actor.RoleAdmin {
		return nil, apperr.New(apperr.KindInvalidTransition, "only the author or an admin may close change request %d", crID)
	}

	if err := s.crs.SetStatus(ctx, cr.ID, crRepo.StatusUpdate{Status: changeRequest.StatusClosed}); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "cr.close", "change_request", formatID(cr.ID), nil))
	return s.Get(ctx, crID)
}

// FileDiff compares a staged entry against the base version it was staged
// on.
type FileDiff struct {
	FilePath    string               `json:"file_path"`
	Action      changeRequest.Action `json:"action"`
	BaseVersion uint32               `json:"base_version,omitempty"`
	Ops         []diff.Op            `json:"ops"`
}

func (s *Service) FileDiff(ctx context.Context, crID, fileID uint32) (*FileDiff, error) {
	if _, err := s.Get(ctx, crID); err != nil {
		return nil, err
	}
	entry, err := s.crs.GetFile(ctx, crID, fileID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.New(apperr.KindNotFound, "file entry %d not found in change request %d", fileID, crID)
	}

	var oldContent, newContent []byte
	if entry.BaseVersion > 0 {
		base, err := s.chain.At(ctx, entry.FilePath, entry.BaseVersion)
		if err != nil {
			return nil, err
		}
		if base.Live() {
			oldContent, err = s.blobs.Get(ctx, base.StorageKey)
			if err != nil {
				return nil, err
			}
		}
	}
	if entry.StagingKey != "" {
		newContent, err = s.blobs.Get(ctx, entry.StagingKey)
		if err != nil {
			return nil, err
		}
	}

	return &FileDiff{
		FilePath:    entry.FilePath,
		Action:      entry.Action,
		BaseVersion: entry.BaseVersion,
		Ops:         diff.Bytes(oldContent, newContent),
	}, nil
}

func (s *Service) editable(ctx context.Context, act actor.Actor, crID uint32) (*changeRequest.ChangeRequest, error) {
	cr, err := s.Get(ctx, crID)
	if err != nil {
		return nil, err
	}
	if cr.AuthorID != act.ID && act.Role != actor.RoleAdmin {
		return nil, apperr.New(apperr.KindInvalidTransition, "only the author or an admin may modify change request %d", crID)
	}
	if !cr.Status.Editable() {
		return nil, apperr.New(apperr.KindInvalidCRState, "change request %d is %s; files can only change in draft or rejected", crID, cr.Status)
	}
	return cr, nil
}

func cleanPath(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", apperr.New(apperr.KindInvalidArgument, "file path is required")
	}
	if strings.HasPrefix(path, "_") {
		return "", apperr.New(apperr.KindInvalidArgument, "paths starting with _ are reserved")
	}
	return path, nil
}

func formatID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
