package fileService

import (
	"context"
	"strconv"
	"strings"

	"vault-service/internal/apperr"
	"vault-service/internal/diff"
	"vault-service/internal/model/actor"
	"vault-service/internal/model/audit"
	"vault-service/internal/model/changeRequest"
	"vault-service/internal/model/fileInfo"
)

const searchLimit = 50

// VersionChain is the read side of the committed history plus the listing
// queries the browse surface needs.
type VersionChain interface {
	Head(ctx context.Context, path string) (*fileInfo.FileVersion, error)
	At(ctx context.Context, path string, version uint32) (*fileInfo.FileVersion, error)
	History(ctx context.Context, path string) ([]*fileInfo.FileVersion, error)
	ListLive(ctx context.Context, prefix string) ([]*fileInfo.FileVersion, error)
	Search(ctx context.Context, query string, limit int) ([]*fileInfo.FileVersion, error)
}

type ContentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutMarker(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
}

// Stager routes file-surface mutations into the actor's draft change
// request; the CR service implements it.
type Stager interface {
	StageInDraft(ctx context.Context, act actor.Actor, path string, action changeRequest.Action, content []byte, message string) (*changeRequest.ChangeRequest, *changeRequest.CRFile, error)
}

// HeadCache is a read-through cache for head lookups.
type HeadCache interface {
	Get(ctx context.Context, path string) (*fileInfo.FileVersion, error)
	Set(ctx context.Context, v *fileInfo.FileVersion) error
}

// ShareStore persists the public/archive flags per path.
type ShareStore interface {
	GetByPath(ctx context.Context, path string) (*fileInfo.FileShare, error)
	GetByToken(ctx context.Context, token string) (*fileInfo.FileShare, error)
	GetByPaths(ctx context.Context, paths []string) (map[string]*fileInfo.FileShare, error)
	Ensure(ctx context.Context, path string, createdBy uint32) (*fileInfo.FileShare, error)
	SetPublic(ctx context.Context, path string, public bool) error
	SetArchived(ctx context.Context, path string, archived bool) error
}

type Service struct {
	chain  VersionChain
	blobs  ContentStore
	stager Stager
	cache  HeadCache
	shares ShareStore
	audit  audit.Emitter
}

func New(chain VersionChain, blobs ContentStore, stager Stager, cache HeadCache, shares ShareStore, emitter audit.Emitter) *Service {
	return &Service{
		chain:  chain,
		blobs:  blobs,
		stager: stager,
		cache:  cache,
		shares: shares,
		audit:  emitter,
	}
}

// Head returns the latest committed version for a path, read through the
// cache when one is wired.
func (s *Service) Head(ctx context.Context, path string) (*fileInfo.FileVersion, error) {
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, path); err == nil && v != nil {
			return v, nil
		}
	}
	head, err := s.chain.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, apperr.New(apperr.KindNotFound, "no history for %s", path)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, head)
	}
	return head, nil
}

// History returns all versions of a path, oldest first.
func (s *Service) History(ctx context.Context, path string) ([]*fileInfo.FileVersion, error) {
	versions, err := s.chain.History(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no history for %s", path)
	}
	return versions, nil
}

// Content returns a version's metadata and decoded bytes. Version 0 means
// the current head. Reading a delete marker is an error: there is nothing
// there anymore.
func (s *Service) Content(ctx context.Context, path string, version uint32) (*fileInfo.FileVersion, []byte, error) {
	var v *fileInfo.FileVersion
	var err error
	if version == 0 {
		v, err = s.Head(ctx, path)
	} else {
		v, err = s.chain.At(ctx, path, version)
		if err == nil && v == nil {
			err = apperr.New(apperr.KindNotFound, "version %d not found for %s", version, path)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if v.IsDelete {
		return nil, nil, apperr.New(apperr.KindNotFound, "%s has been deleted", path)
	}

	data, err := s.blobs.Get(ctx, v.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return v, data, nil
}

// Save stages new content for a path in the actor's draft CR. Whether the
// staged action is create or edit depends on the current head.
func (s *Service) Save(ctx context.Context, act actor.Actor, path string, content []byte, message string) (*changeRequest.ChangeRequest, *changeRequest.CRFile, error) {
	head, err := s.chain.Head(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	action := changeRequest.ActionCreate
	if head.Live() {
		action = changeRequest.ActionEdit
	}

	cr, entry, err := s.stager.StageInDraft(ctx, act, path, action, content, message)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "file.stage_"+string(action), "file", entry.FilePath,
		map[string]string{"cr_id": strconv.FormatUint(uint64(cr.ID), 10)}))
	return cr, entry, nil
}

// Delete stages a deletion of the current head in the actor's draft CR.
// Writer roles may delete anything; anyone else only a head they authored,
// the one staging action open to non-writers.
func (s *Service) Delete(ctx context.Context, act actor.Actor, path string) (*changeRequest.ChangeRequest, *changeRequest.CRFile, error) {
	head, err := s.chain.Head(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if !head.Live() {
		return nil, nil, apperr.New(apperr.KindNotFound, "%s not found or already deleted", path)
	}
	if !act.Role.CanWrite() && head.AuthorID != act.ID {
		return nil, nil, apperr.New(apperr.KindInvalidTransition, "insufficient permissions to delete %s", path)
	}

	cr, entry, err := s.stager.StageInDraft(ctx, act, path, changeRequest.ActionDelete, nil, "")
	if err != nil {
		return nil, nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "file.stage_delete", "file", entry.FilePath,
		map[string]string{"cr_id": strconv.FormatUint(uint64(cr.ID), 10)}))
	return cr, entry, nil
}

// Restore stages the content of an old version as a new pending edit.
// Merging it produces a fresh version; history is never rewound.
func (s *Service) Restore(ctx context.Context, act actor.Actor, path string, version uint32) (*changeRequest.ChangeRequest, *changeRequest.CRFile, error) {
	target, err := s.chain.At(ctx, path, version)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, apperr.New(apperr.KindNotFound, "version %d not found for %s", version, path)
	}
	if target.IsDelete {
		return nil, nil, apperr.New(apperr.KindInvalidArgument, "cannot restore a deletion version")
	}

	content, err := s.blobs.Get(ctx, target.StorageKey)
	if err != nil {
		return nil, nil, err
	}

	head, err := s.chain.Head(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	action := changeRequest.ActionEdit
	if !head.Live() {
		action = changeRequest.ActionCreate
	}

	cr, entry, err := s.stager.StageInDraft(ctx, act, path, action, content, "")
	if err != nil {
		return nil, nil, err
	}
	s.audit.Emit(ctx, audit.New(act, "file.stage_restore", "file", entry.FilePath, map[string]string{
		"cr_id":        strconv.FormatUint(uint64(cr.ID), 10),
		"from_version": strconv.FormatUint(uint64(version), 10),
	}))
	return cr, entry, nil
}

// Diff compares two committed versions of a path line by line. A delete
// marker diffs as empty content.
func (s *Service) Diff(ctx context.Context, path string, oldVersion, newVersion uint32) ([]diff.Op, error) {
	oldV, err := s.chain.At(ctx, path, oldVersion)
	if err != nil {
		return nil, err
	}
	newV, err := s.chain.At(ctx, path, newVersion)
	if err != nil {
		return nil, err
	}
	if oldV == nil || newV == nil {
		return nil, apperr.New(apperr.KindNotFound, "one or both versions not found for %s", path)
	}

	var oldContent, newContent []byte
	if oldV.Live() {
		if oldContent, err = s.blobs.Get(ctx, oldV.StorageKey); err != nil {
			return nil, err
		}
	}
	if newV.Live() {
		if newContent, err = s.blobs.Get(ctx, newV.StorageKey); err != nil {
			return nil, err
		}
	}
	return diff.Bytes(oldContent, newContent), nil
}

// CreateFolder stores a placeholder object so an empty folder is visible
// before any file under it merges. No CR is involved: folders are a store
// convention, not versioned content.
func (s *Service) CreateFolder(ctx context.Context, act actor.Actor, path string) error {
	if !act.Role.CanWrite() {
		return apperr.New(apperr.KindInvalidTransition, "role %s cannot create folders", act.Role)
	}
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return apperr.New(apperr.KindInvalidArgument, "folder path is required")
	}
	if strings.HasPrefix(path, "_") {
		return apperr.New(apperr.KindInvalidArgument, "paths starting with _ are reserved")
	}
	if err := s.blobs.PutMarker(ctx, path+"/"); err != nil {
		return err
	}
	s.audit.Emit(ctx, audit.New(act, "folder.create", "folder", path, nil))
	return nil
}

// DeleteFolder stages a deletion for every live file under the prefix in
// the actor's draft CR, then drops the folder marker. The deletions merge
// through review like any other staged change.
func (s *Service) DeleteFolder(ctx context.Context, act actor.Actor, path string) (*changeRequest.ChangeRequest, int, error) {
	if !act.Role.CanWrite() {
		return nil, 0, apperr.New(apperr.KindInvalidTransition, "role %s cannot delete folders", act.Role)
	}
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, 0, apperr.New(apperr.KindInvalidArgument, "cannot delete root")
	}

	heads, err := s.chain.ListLive(ctx, path+"/")
	if err != nil {
		return nil, 0, err
	}
	if len(heads) == 0 {
		return nil, 0, apperr.New(apperr.KindNotFound, "folder %s not found or empty", path)
	}

	var cr *changeRequest.ChangeRequest
	for _, h := range heads {
		staged, _, err := s.stager.StageInDraft(ctx, act, h.Path, changeRequest.ActionDelete, nil, "")
		if err != nil {
			return nil, 0, err
		}
		cr = staged
	}

	// The marker never entered a chain; dropping it is best effort.
	_ = s.blobs.Remove(ctx, path+"/")

	s.audit.Emit(ctx, audit.New(act, "folder.delete", "folder", path,
		map[string]string{"staged_deletes": strconv.Itoa(len(heads))}))
	return cr, len(heads), nil
}

// Browse lists the live files under a prefix, enriched with share flags.
func (s *Service) Browse(ctx context.Context, prefix string) ([]*fileInfo.File, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	heads, err := s.chain.ListLive(ctx, prefix)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(heads))
	for i, h := range heads {
		paths[i] = h.Path
	}
	shares, err := s.shares.GetByPaths(ctx, paths)
	if err != nil {
		return nil, err
	}

	files := make([]*fileInfo.File, 0, len(heads))
	for _, h := range heads {
		f := &fileInfo.File{Path: h.Path, CurrentVersion: h}
		if share, ok := shares[h.Path]; ok {
			f.IsPublic = share.IsPublic
			f.IsArchived = share.IsArchived
		}
		files = append(files, f)
	}
	return files, nil
}

// Search returns live heads whose path matches the query.
func (s *Service) Search(ctx context.Context, query string) ([]*fileInfo.FileVersion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "search query is required")
	}
	return s.chain.Search(ctx, query, searchLimit)
}

// ShareInfo returns the sharing state of a path; an unknown path simply has
// no share row yet.
func (s *Service) ShareInfo(ctx context.Context, path string) (*fileInfo.FileShare, error) {
	return s.shares.GetByPath(ctx, path)
}

// PublicContent serves the head content behind a share token without any
// authentication. Archived or non-public shares read as missing.
func (s *Service) PublicContent(ctx context.Context, token string) (*fileInfo.FileVersion, []byte, error) {
	share, err := s.shares.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if share == nil || !share.IsPublic || share.IsArchived {
		return nil, nil, apperr.New(apperr.KindNotFound, "shared file not found")
	}
	return s.Content(ctx, share.Path, 0)
}

// TogglePublic flips the public flag of a path, creating the share row on
// first use.
func (s *Service) TogglePublic(ctx context.Context, act actor.Actor, path string) (*fileInfo.FileShare, error) {
	return s.toggleShare(ctx, act, path, "file.toggle_public", func(share *fileInfo.FileShare) (bool, error) {
		share.IsPublic = !share.IsPublic
		return share.IsPublic, s.shares.SetPublic(ctx, path, share.IsPublic)
	})
}

// ToggleArchive flips the archived flag of a path.
func (s *Service) ToggleArchive(ctx context.Context, act actor.Actor, path string) (*fileInfo.FileShare, error) {
	return s.toggleShare(ctx, act, path, "file.toggle_archive", func(share *fileInfo.FileShare) (bool, error) {
		share.IsArchived = !share.IsArchived
		return share.IsArchived, s.shares.SetArchived(ctx, path, share.IsArchived)
	})
}

func (s *Service) toggleShare(ctx context.Context, act actor.Actor, path, action string, flip func(*fileInfo.FileShare) (bool, error)) (*fileInfo.FileShare, error) {
	if !act.Role.CanWrite() {
		return nil, apperr.New(apperr.KindInvalidTransition, "role %s cannot change sharing state", act.Role)
	}
	head, err := s.chain.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	if !head.Live() {
		return nil, apperr.New(apperr.KindNotFound, "%s not found", path)
	}

	share, err := s.shares.Ensure(ctx, path, act.ID)
	if err != nil {
		return nil, err
	}
	state, err := flip(share)
	if err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.New(act, action, "file", path,
		map[string]string{"state": strconv.FormatBool(state)}))
	return share, nil
}
