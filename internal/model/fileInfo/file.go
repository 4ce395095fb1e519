package fileInfo

import (
	"time"
)

// File is the chain-level view of a path: the latest committed version plus
// the sharing flags. Files are created implicitly by their first committed
// version and never hard-deleted.
type File struct {
	Path           string       `json:"path"`
	IsPublic       bool         `json:"is_public"`
	IsArchived     bool         `json:"is_archived"`
	CurrentVersion *FileVersion `json:"current_version,omitempty"`
}

// FileVersion is one immutable link of a path's version chain. Version
// numbers start at 1 and are contiguous per path; a deletion is a version
// with IsDelete set and no storage key.
type FileVersion struct {
	ID            uint32    `json:"id"`
	Path          string    `json:"path"`
	VersionNumber uint32    `json:"version_number"`
	StorageKey    string    `json:"storage_key"`
	Size          int64     `json:"size"`
	ContentHash   string    `json:"content_hash"`
	AuthorID      uint32    `json:"author_id"`
	Author        string    `json:"author"`
	Message       string    `json:"message"`
	IsDelete      bool      `json:"is_delete"`
	CreatedAt     time.Time `json:"created_at"`
}

// Live reports whether the version represents existing content, i.e. it is
// a real version and not a delete marker.
func (v *FileVersion) Live() bool {
	return v != nil && !v.IsDelete
}

// FileShare carries the public-link and archive flags for a path.
type FileShare struct {
	ID         uint32    `json:"id"`
	Path       string    `json:"path"`
	Token      string    `json:"token"`
	IsPublic   bool      `json:"is_public"`
	IsArchived bool      `json:"is_archived"`
	CreatedBy  uint32    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
