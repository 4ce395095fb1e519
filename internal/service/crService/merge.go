package crService

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vault-service/internal/apperr"
	"vault-service/internal/model/actor"
	"vault-service/internal/model/audit"
	"vault-service/internal/model/changeRequest"
	"vault-service/internal/model/fileInfo"
)

// Conflict is one staged path that cannot merge against the current heads.
type Conflict struct {
	Path   string      `json:"path"`
	Reason apperr.Kind `json:"reason"`
}

// MergeResult reports either the committed versions or the full conflict
// list, never a mix: the merge is all-or-nothing at CR granularity.
type MergeResult struct {
	Committed []*fileInfo.FileVersion `json:"committed,omitempty"`
	Conflicts []Conflict              `json:"conflicts,omitempty"`
}

func (r *MergeResult) Merged() bool { return len(r.Conflicts) == 0 }

// Merge applies an approved CR onto the version chain in two phases: a
// validation pass over every staged entry, then a single-transaction commit
// only if no entry conflicts. On conflict the CR stays approved and the
// caller gets every conflicting path back for restaging.
func (s *Service) Merge(ctx context.Context, act actor.Actor, crID uint32) (*MergeResult, error) {
	cr, err := s.Get(ctx, crID)
	if err != nil {
		return nil, err
	}
	if !act.Role.CanWrite() {
		return nil, apperr.New(apperr.KindInvalidTransition, "role %s cannot merge change requests", act.Role)
	}
	if cr.Status != changeRequest.StatusApproved {
		return nil, apperr.New(apperr.KindInvalidTransition, "change request %d is %s; only approved change requests merge", crID, cr.Status)
	}

	conflicts, versions, expected, err := s.validate(ctx, cr)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return &MergeResult{Conflicts: conflicts}, nil
	}

	now := time.Now().UTC()
	committed, err := s.chain.CommitMerge(ctx, cr.ID, versions, expected, now)
	if apperr.Is(err, apperr.KindConcurrentHeadChanged) {
		// Another merge landed between our validation pass and the commit.
		// One re-validation turns the race into ordinary conflicts.
		conflicts, versions, expected, err = s.validate(ctx, cr)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return &MergeResult{Conflicts: conflicts}, nil
		}
		committed, err = s.chain.CommitMerge(ctx, cr.ID, versions, expected, now)
	}
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(committed))
	for i, v := range committed {
		paths[i] = v.Path
	}
	if s.cache != nil {
		// Cache only; a failed invalidation expires with the TTL.
		_ = s.cache.Invalidate(ctx, paths...)
	}

	s.audit.Emit(ctx, audit.New(act, "cr.merge", "change_request", formatID(cr.ID),
		map[string]string{"file_count": fmt.Sprintf("%d", len(committed))}))
	return &MergeResult{Committed: committed}, nil
}

// validate is the first merge phase: every staged entry is checked against
// the current head of its path, in insertion order, and no version is built
// for a conflicting entry.
func (s *Service) validate(ctx context.Context, cr *changeRequest.ChangeRequest) ([]Conflict, []*fileInfo.FileVersion, []uint32, error) {
	var (
		conflicts []Conflict
		versions  []*fileInfo.FileVersion
		expected  []uint32
	)

	for _, f := range cr.Files {
		head, err := s.chain.Head(ctx, f.FilePath)
		if err != nil {
			return nil, nil, nil, err
		}

		switch f.Action {
		case changeRequest.ActionCreate:
			if head.Live() {
				conflicts = append(conflicts, Conflict{Path: f.FilePath, Reason: apperr.KindAlreadyExists})
				continue
			}
		case changeRequest.ActionEdit, changeRequest.ActionDelete:
			if !head.Live() || head.VersionNumber != f.BaseVersion {
				conflicts = append(conflicts, Conflict{Path: f.FilePath, Reason: apperr.KindStaleBase})
				continue
			}
		}

		var exp uint32
		if head != nil {
			exp = head.VersionNumber
		}

		v := &fileInfo.FileVersion{
			Path:     f.FilePath,
			AuthorID: cr.AuthorID,
			Author:   cr.Author,
			Message:  fmt.Sprintf("CR #%d: %s", cr.ID, cr.Title),
			IsDelete: f.Action == changeRequest.ActionDelete,
		}
		if !v.IsDelete {
			v.StorageKey = f.StagingKey
			v.Size = f.Size
			v.ContentHash = strings.TrimPrefix(f.StagingKey, "blobs/")
		}
		versions = append(versions, v)
		expected = append(expected, exp)
	}

	return conflicts, versions, expected, nil
}
