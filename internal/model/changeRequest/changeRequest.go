package changeRequest

import (
	"time"
)

// Status is the change request lifecycle state. Merged and closed are
// terminal: no event is accepted from them.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusMerged        Status = "merged"
	StatusClosed        Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved, StatusRejected, StatusMerged, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the status accepts no further events.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusClosed
}

// Editable reports whether the staging area of the CR may still change.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// Action is the kind of staged mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionEdit, ActionDelete:
		return true
	}
	return false
}

// NeedsContent reports whether the action carries staged bytes.
func (a Action) NeedsContent() bool {
	return a == ActionCreate || a == ActionEdit
}

// NeedsBase reports whether the action records the version it was based on.
func (a Action) NeedsBase() bool {
	return a == ActionEdit || a == ActionDelete
}

type ChangeRequest struct {
	ID            uint32     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Status        Status     `json:"status"`
	AuthorID      uint32     `json:"author_id"`
	Author        string     `json:"author"`
	ReviewerID    *uint32    `json:"reviewer_id,omitempty"`
	Reviewer      *string    `json:"reviewer,omitempty"`
	ReviewComment *string    `json:"review_comment,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	MergedAt      *time.Time `json:"merged_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Files         []*CRFile  `json:"files,omitempty"`
}

// CRFile is one staged mutation owned by a change request. Entries are
// unique per (CR, path); re-staging a path replaces the entry.
type CRFile struct {
	ID          uint32    `json:"id"`
	CRID        uint32    `json:"change_request_id"`
	FilePath    string    `json:"file_path"`
	Action      Action    `json:"action"`
	StagingKey  string    `json:"staging_key,omitempty"`
	BaseVersion uint32    `json:"base_version,omitempty"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListFilter narrows a change request listing.
type ListFilter struct {
	Status   Status
	AuthorID uint32
	Page     int
	PerPage  int
}
