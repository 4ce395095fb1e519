package crService_test

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-service/internal/apperr"
	"vault-service/internal/diff"
	"vault-service/internal/model/actor"
	"vault-service/internal/model/audit"
	"vault-service/internal/model/changeRequest"
	"vault-service/internal/model/fileInfo"
	"vault-service/internal/repository/crRepo"
	"vault-service/internal/service/crService"
)

var (
	admin    = actor.Actor{ID: 1, Username: "root", Role: actor.RoleAdmin}
	approver = actor.Actor{ID: 2, Username: "rev", Role: actor.RoleApprover}
	editor   = actor.Actor{ID: 3, Username: "ed", Role: actor.RoleEditor}
	viewer   = actor.Actor{ID: 4, Username: "guest", Role: actor.RoleViewer}
)

// ── in-memory fakes ─────────────────────────────────────────────────────

type fakeChain struct {
	mu        sync.Mutex
	versions  map[string][]*fileInfo.FileVersion
	crs       *fakeCRStore
	onAppend  func()
	commitErr error
}

func newFakeChain(crs *fakeCRStore) *fakeChain {
	return &fakeChain{versions: map[string][]*fileInfo.FileVersion{}, crs: crs}
}

func (c *fakeChain) head(path string) *fileInfo.FileVersion {
	chain := c.versions[path]
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

func (c *fakeChain) Head(_ context.Context, path string) (*fileInfo.FileVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head(path), nil
}

func (c *fakeChain) At(_ context.Context, path string, version uint32) (*fileInfo.FileVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.versions[path] {
		if v.VersionNumber == version {
			return v, nil
		}
	}
	return nil, nil
}

// CommitMerge mirrors the repository contract: the appends and the status
// flip land together or not at all.
func (c *fakeChain) CommitMerge(_ context.Context, crID uint32, versions []*fileInfo.FileVersion, expected []uint32, mergedAt time.Time) ([]*fileInfo.FileVersion, error) {
	if c.onAppend != nil {
		hook := c.onAppend
		c.onAppend = nil
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Validate every slot before writing anything.
	for i, v := range versions {
		var cur uint32
		if head := c.head(v.Path); head != nil {
			cur = head.VersionNumber
		}
		if cur != expected[i] {
			return nil, apperr.New(apperr.KindConcurrentHeadChanged,
				"head of %s moved from %d to %d", v.Path, expected[i], cur)
		}
	}

	if c.commitErr != nil {
		err := c.commitErr
		c.commitErr = nil
		return nil, err
	}

	committed := make([]*fileInfo.FileVersion, 0, len(versions))
	for i, v := range versions {
		out := *v
		out.VersionNumber = expected[i] + 1
		out.CreatedAt = time.Now().UTC()
		c.versions[v.Path] = append(c.versions[v.Path], &out)
		committed = append(committed, &out)
	}
	c.crs.setMerged(crID, mergedAt)
	return committed, nil
}

// seed commits a version directly, bypassing the merge engine.
func (c *fakeChain) seed(path string, content string, isDelete bool) *fileInfo.FileVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next uint32 = 1
	if head := c.head(path); head != nil {
		next = head.VersionNumber + 1
	}
	v := &fileInfo.FileVersion{
		Path:          path,
		VersionNumber: next,
		StorageKey:    blobKey([]byte(content)),
		Size:          int64(len(content)),
		IsDelete:      isDelete,
		CreatedAt:     time.Now().UTC(),
	}
	if isDelete {
		v.StorageKey = ""
		v.Size = 0
	}
	c.versions[path] = append(c.versions[path], v)
	return v
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: map[string][]byte{}}
}

func blobKey(data []byte) string {
	return fmt.Sprintf("blobs/%x", sha256.Sum256(data))
}

func (b *fakeBlobs) Put(_ context.Context, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := blobKey(data)
	b.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (b *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "blob %s not found", key)
	}
	return data, nil
}

type fakeCRStore struct {
	mu     sync.Mutex
	nextID uint32
	crs    map[uint32]*changeRequest.ChangeRequest
}

func newFakeCRStore() *fakeCRStore {
	return &fakeCRStore{crs: map[uint32]*changeRequest.ChangeRequest{}}
}

func (s *fakeCRStore) Create(_ context.Context, cr *changeRequest.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cr.ID = s.nextID
	cr.CreatedAt = time.Now().UTC()
	cr.UpdatedAt = cr.CreatedAt
	s.crs[cr.ID] = cr
	return nil
}

func (s *fakeCRStore) GetByID(_ context.Context, id uint32) (*changeRequest.ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crs[id], nil
}

func (s *fakeCRStore) List(_ context.Context, filter changeRequest.ListFilter) ([]*changeRequest.ChangeRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*changeRequest.ChangeRequest
	for _, cr := range s.crs {
		if filter.Status != "" && cr.Status != filter.Status {
			continue
		}
		if filter.AuthorID != 0 && cr.AuthorID != filter.AuthorID {
			continue
		}
		out = append(out, cr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, len(out), nil
}

func (s *fakeCRStore) LatestDraftByAuthor(_ context.Context, authorID uint32) (*changeRequest.ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *changeRequest.ChangeRequest
	for _, cr := range s.crs {
		if cr.AuthorID != authorID || cr.Status != changeRequest.StatusDraft {
			continue
		}
		if latest == nil || cr.UpdatedAt.After(latest.UpdatedAt) {
			latest = cr
		}
	}
	return latest, nil
}

func (s *fakeCRStore) UpdateMeta(_ context.Context, id uint32, title, description *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := s.crs[id]
	if title != nil {
		cr.Title = *title
	}
	if description != nil {
		cr.Description = *description
	}
	cr.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeCRStore) SetStatus(_ context.Context, id uint32, u crRepo.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := s.crs[id]
	cr.Status = u.Status
	if u.ClearReview {
		cr.ReviewerID = nil
		cr.Reviewer = nil
		cr.ReviewComment = nil
		cr.ReviewedAt = nil
	} else {
		if u.ReviewerID != nil {
			cr.ReviewerID = u.ReviewerID
		}
		if u.Reviewer != nil {
			cr.Reviewer = u.Reviewer
		}
		if u.ReviewComment != nil {
			cr.ReviewComment = u.ReviewComment
		}
		if u.ReviewedAt != nil {
			cr.ReviewedAt = u.ReviewedAt
		}
		if u.MergedAt != nil {
			cr.MergedAt = u.MergedAt
		}
	}
	cr.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeCRStore) setMerged(id uint32, mergedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := s.crs[id]
	cr.Status = changeRequest.StatusMerged
	cr.MergedAt = &mergedAt
	cr.UpdatedAt = time.Now().UTC()
}

func (s *fakeCRStore) StageFile(_ context.Context, f *changeRequest.CRFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := s.crs[f.CRID]
	kept := cr.Files[:0]
	for _, existing := range cr.Files {
		if existing.FilePath != f.FilePath {
			kept = append(kept, existing)
		}
	}
	s.nextID++
	f.ID = s.nextID
	f.CreatedAt = time.Now().UTC()
	cr.Files = append(kept, f)
	cr.UpdatedAt = f.CreatedAt
	return nil
}

func (s *fakeCRStore) RemoveFile(_ context.Context, crID, fileID uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := s.crs[crID]
	for i, f := range cr.Files {
		if f.ID == fileID {
			cr.Files = append(cr.Files[:i], cr.Files[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeCRStore) GetFile(_ context.Context, crID, fileID uint32) (*changeRequest.CRFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := s.crs[crID]
	if cr == nil {
		return nil, nil
	}
	for _, f := range cr.Files {
		if f.ID == fileID {
			return f, nil
		}
	}
	return nil, nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *fakeCache) Invalidate(_ context.Context, paths ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, paths...)
	return nil
}

type fakeEmitter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (e *fakeEmitter) Emit(_ context.Context, entry audit.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
}

func (e *fakeEmitter) actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.entries))
	for i, entry := range e.entries {
		out[i] = entry.Action
	}
	return out
}

type fixture struct {
	svc     *crService.Service
	chain   *fakeChain
	blobs   *fakeBlobs
	crs     *fakeCRStore
	cache   *fakeCache
	emitter *fakeEmitter
}

func newFixture() *fixture {
	crs := newFakeCRStore()
	f := &fixture{
		chain:   newFakeChain(crs),
		blobs:   newFakeBlobs(),
		crs:     crs,
		cache:   &fakeCache{},
		emitter: &fakeEmitter{},
	}
	f.svc = crService.New(f.crs, f.chain, f.blobs, f.cache, f.emitter)
	return f
}

// seedBlob commits a version whose content is also present in the blob store.
func (f *fixture) seedBlob(path, content string) *fileInfo.FileVersion {
	_, _ = f.blobs.Put(context.Background(), []byte(content))
	return f.chain.seed(path, content, false)
}

// ── tests ───────────────────────────────────────────────────────────────

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("viewer cannot create", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Create(ctx, viewer, "t", "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})

	t.Run("title required", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Create(ctx, editor, "   ", "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	})

	t.Run("starts as draft", func(t *testing.T) {
		f := newFixture()
		cr, err := f.svc.Create(ctx, editor, "Add docs", "desc")
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusDraft, cr.Status)
		assert.Equal(t, editor.ID, cr.AuthorID)
		assert.Contains(t, f.emitter.actions(), "cr.create")
	})
}

func TestStage(t *testing.T) {
	ctx := context.Background()

	t.Run("create on existing file conflicts", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("a.txt", "x\n")
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "a.txt", changeRequest.ActionCreate, []byte("y\n"))
		assert.True(t, apperr.Is(err, apperr.KindAlreadyExists))
	})

	t.Run("edit on missing file is not found", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "nope.txt", changeRequest.ActionEdit, []byte("y\n"))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("edit records the head as base", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("a.txt", "v1\n")
		f.seedBlob("a.txt", "v2\n")
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		entry, err := f.svc.Stage(ctx, editor, cr.ID, "a.txt", changeRequest.ActionEdit, []byte("v3\n"))
		require.NoError(t, err)
		assert.Equal(t, uint32(2), entry.BaseVersion)
		assert.NotEmpty(t, entry.StagingKey)
	})

	t.Run("restaging a path replaces the entry", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "new.txt", changeRequest.ActionCreate, []byte("one\n"))
		require.NoError(t, err)
		_, err = f.svc.Stage(ctx, editor, cr.ID, "new.txt", changeRequest.ActionCreate, []byte("two\n"))
		require.NoError(t, err)

		got, err := f.svc.Get(ctx, cr.ID)
		require.NoError(t, err)
		require.Len(t, got.Files, 1)
		content, err := f.blobs.Get(ctx, got.Files[0].StagingKey)
		require.NoError(t, err)
		assert.Equal(t, "two\n", string(content))
	})

	t.Run("only author or admin may stage", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, approver, cr.ID, "x.txt", changeRequest.ActionCreate, []byte("c\n"))
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

		_, err = f.svc.Stage(ctx, admin, cr.ID, "x.txt", changeRequest.ActionCreate, []byte("c\n"))
		assert.NoError(t, err)
	})

	t.Run("staging after submission is rejected", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "x.txt", changeRequest.ActionCreate, []byte("c\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)

		_, err = f.svc.Stage(ctx, editor, cr.ID, "y.txt", changeRequest.ActionCreate, []byte("c\n"))
		assert.True(t, apperr.Is(err, apperr.KindInvalidCRState))
	})

	t.Run("non-writer may delete only its own content", func(t *testing.T) {
		f := newFixture()
		mine := f.seedBlob("mine.txt", "x\n")
		mine.AuthorID = viewer.ID
		f.seedBlob("theirs.txt", "y\n")

		cr, entry, err := f.svc.StageInDraft(ctx, viewer, "mine.txt", changeRequest.ActionDelete, nil, "")
		require.NoError(t, err)
		assert.Equal(t, viewer.ID, cr.AuthorID)
		assert.Equal(t, changeRequest.ActionDelete, entry.Action)

		_, _, err = f.svc.StageInDraft(ctx, viewer, "theirs.txt", changeRequest.ActionDelete, nil, "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

		_, _, err = f.svc.StageInDraft(ctx, viewer, "other.txt", changeRequest.ActionCreate, []byte("z\n"), "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})

	t.Run("reserved and empty paths rejected", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "  ", changeRequest.ActionCreate, []byte("c\n"))
		assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
		_, err = f.svc.Stage(ctx, editor, cr.ID, "_staging/x", changeRequest.ActionCreate, []byte("c\n"))
		assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("empty CR cannot be submitted", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Submit(ctx, editor, cr.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})

	t.Run("submit moves draft to pending review", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "x.txt", changeRequest.ActionCreate, []byte("c\n"))
		require.NoError(t, err)

		got, err := f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusPendingReview, got.Status)
	})

	t.Run("rejected CR can be restaged and resubmitted", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, editor, "x.txt", "c\n")
		_, err := f.svc.Review(ctx, approver, cr.ID, false, "needs work")
		require.NoError(t, err)

		_, err = f.svc.Stage(ctx, editor, cr.ID, "x.txt", changeRequest.ActionCreate, []byte("better\n"))
		require.NoError(t, err)
		got, err := f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusPendingReview, got.Status)
		assert.Nil(t, got.Reviewer)
		assert.Nil(t, got.ReviewComment)
	})
}

func TestReview(t *testing.T) {
	ctx := context.Background()

	t.Run("approver cannot review own CR", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, approver, "x.txt", "c\n")
		_, err := f.svc.Review(ctx, approver, cr.ID, true, "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})

	t.Run("admin may review own CR", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, admin, "x.txt", "c\n")
		got, err := f.svc.Review(ctx, admin, cr.ID, true, "lgtm")
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusApproved, got.Status)
	})

	t.Run("editor cannot review", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, admin, "x.txt", "c\n")
		_, err := f.svc.Review(ctx, editor, cr.ID, true, "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})

	t.Run("review records reviewer and comment", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, editor, "x.txt", "c\n")
		got, err := f.svc.Review(ctx, approver, cr.ID, false, "not yet")
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusRejected, got.Status)
		require.NotNil(t, got.Reviewer)
		assert.Equal(t, approver.Username, *got.Reviewer)
		require.NotNil(t, got.ReviewComment)
		assert.Equal(t, "not yet", *got.ReviewComment)
	})

	t.Run("draft cannot be reviewed", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Review(ctx, approver, cr.ID, true, "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})
}

func TestTerminalStates(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	cr := submitCR(t, f, editor, "x.txt", "c\n")
	_, err := f.svc.Review(ctx, approver, cr.ID, true, "")
	require.NoError(t, err)
	result, err := f.svc.Merge(ctx, editor, cr.ID)
	require.NoError(t, err)
	require.True(t, result.Merged())

	t.Run("merged CR accepts no events", func(t *testing.T) {
		_, err := f.svc.Stage(ctx, editor, cr.ID, "y.txt", changeRequest.ActionCreate, []byte("c\n"))
		assert.True(t, apperr.Is(err, apperr.KindInvalidCRState))

		_, err = f.svc.Submit(ctx, editor, cr.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

		_, err = f.svc.Merge(ctx, editor, cr.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

		_, err = f.svc.Close(ctx, editor, cr.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})

	t.Run("closed CR accepts no events", func(t *testing.T) {
		closed, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Close(ctx, editor, closed.ID)
		require.NoError(t, err)

		_, err = f.svc.Submit(ctx, editor, closed.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
		_, err = f.svc.Close(ctx, editor, closed.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})
}

func TestMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip: staged content becomes the next version", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("doc.md", "old\n")
		cr, _ := f.svc.Create(ctx, editor, "update doc", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "doc.md", changeRequest.ActionEdit, []byte("new\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		require.NoError(t, err)

		result, err := f.svc.Merge(ctx, editor, cr.ID)
		require.NoError(t, err)
		require.True(t, result.Merged())
		require.Len(t, result.Committed, 1)
		assert.Equal(t, uint32(2), result.Committed[0].VersionNumber)

		content, err := f.blobs.Get(ctx, result.Committed[0].StorageKey)
		require.NoError(t, err)
		assert.Equal(t, "new\n", string(content))

		got, err := f.svc.Get(ctx, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusMerged, got.Status)
		assert.NotNil(t, got.MergedAt)
		assert.Contains(t, f.cache.invalidated, "doc.md")
	})

	t.Run("all-or-nothing: one stale base commits nothing", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("a.txt", "a1\n")
		f.seedBlob("b.txt", "b1\n")
		f.seedBlob("c.txt", "c1\n")

		cr, _ := f.svc.Create(ctx, editor, "t", "")
		for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
			_, err := f.svc.Stage(ctx, editor, cr.ID, p, changeRequest.ActionEdit, []byte(p+" v2\n"))
			require.NoError(t, err)
		}
		_, err := f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		require.NoError(t, err)

		// b.txt moves underneath the CR while it sits approved.
		f.seedBlob("b.txt", "b2 concurrent\n")

		result, err := f.svc.Merge(ctx, editor, cr.ID)
		require.NoError(t, err)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, "b.txt", result.Conflicts[0].Path)
		assert.Equal(t, apperr.KindStaleBase, result.Conflicts[0].Reason)
		assert.Empty(t, result.Committed)

		// Nothing committed anywhere, including the clean paths.
		headA, _ := f.chain.Head(ctx, "a.txt")
		assert.Equal(t, uint32(1), headA.VersionNumber)
		headC, _ := f.chain.Head(ctx, "c.txt")
		assert.Equal(t, uint32(1), headC.VersionNumber)

		// The CR stays approved for restaging.
		got, err := f.svc.Get(ctx, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusApproved, got.Status)
	})

	t.Run("concurrent merge of same path yields stale base", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("a/b.txt", "1\n")
		f.seedBlob("a/b.txt", "2\n")
		f.seedBlob("a/b.txt", "3\n")

		// CR X stages against head v3.
		crX, _ := f.svc.Create(ctx, editor, "x", "")
		_, err := f.svc.Stage(ctx, editor, crX.ID, "a/b.txt", changeRequest.ActionEdit, []byte("from x\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, crX.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, crX.ID, true, "")
		require.NoError(t, err)

		// CR Y stages the same path and merges first, producing v4.
		crY, _ := f.svc.Create(ctx, admin, "y", "")
		_, err = f.svc.Stage(ctx, admin, crY.ID, "a/b.txt", changeRequest.ActionEdit, []byte("from y\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, admin, crY.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, crY.ID, true, "")
		require.NoError(t, err)
		resultY, err := f.svc.Merge(ctx, admin, crY.ID)
		require.NoError(t, err)
		require.True(t, resultY.Merged())
		assert.Equal(t, uint32(4), resultY.Committed[0].VersionNumber)

		// X must now conflict and commit nothing.
		resultX, err := f.svc.Merge(ctx, editor, crX.ID)
		require.NoError(t, err)
		require.Len(t, resultX.Conflicts, 1)
		assert.Equal(t, "a/b.txt", resultX.Conflicts[0].Path)
		assert.Equal(t, apperr.KindStaleBase, resultX.Conflicts[0].Reason)

		head, _ := f.chain.Head(ctx, "a/b.txt")
		assert.Equal(t, uint32(4), head.VersionNumber)
	})

	t.Run("create conflicts when the path appeared meanwhile", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "fresh.txt", changeRequest.ActionCreate, []byte("mine\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		require.NoError(t, err)

		f.seedBlob("fresh.txt", "theirs\n")

		result, err := f.svc.Merge(ctx, editor, cr.ID)
		require.NoError(t, err)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, apperr.KindAlreadyExists, result.Conflicts[0].Reason)
	})

	t.Run("delete appends a marker and allows recreation", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("gone.txt", "content\n")

		cr, _ := f.svc.Create(ctx, editor, "remove", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "gone.txt", changeRequest.ActionDelete, nil)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		require.NoError(t, err)
		result, err := f.svc.Merge(ctx, editor, cr.ID)
		require.NoError(t, err)
		require.True(t, result.Merged())

		head, _ := f.chain.Head(ctx, "gone.txt")
		assert.True(t, head.IsDelete)
		assert.Equal(t, uint32(2), head.VersionNumber)

		// A create at the deleted path goes through and continues the chain.
		cr2, _ := f.svc.Create(ctx, editor, "bring back", "")
		_, err = f.svc.Stage(ctx, editor, cr2.ID, "gone.txt", changeRequest.ActionCreate, []byte("back\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr2.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr2.ID, true, "")
		require.NoError(t, err)
		result2, err := f.svc.Merge(ctx, editor, cr2.ID)
		require.NoError(t, err)
		require.True(t, result2.Merged())
		assert.Equal(t, uint32(3), result2.Committed[0].VersionNumber)
	})

	t.Run("append race is absorbed into conflicts", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("raced.txt", "v1\n")

		cr, _ := f.svc.Create(ctx, editor, "t", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "raced.txt", changeRequest.ActionEdit, []byte("mine\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		require.NoError(t, err)

		// Land a concurrent version after validation but before the commit.
		f.chain.onAppend = func() {
			f.seedBlob("raced.txt", "theirs\n")
		}

		result, err := f.svc.Merge(ctx, editor, cr.ID)
		require.NoError(t, err)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, apperr.KindStaleBase, result.Conflicts[0].Reason)

		got, err := f.svc.Get(ctx, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusApproved, got.Status)
	})

	t.Run("failed commit leaves chain and status untouched", func(t *testing.T) {
		f := newFixture()
		f.seedBlob("doc.md", "old\n")
		cr, _ := f.svc.Create(ctx, editor, "update doc", "")
		_, err := f.svc.Stage(ctx, editor, cr.ID, "doc.md", changeRequest.ActionEdit, []byte("new\n"))
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, editor, cr.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
		require.NoError(t, err)

		f.chain.commitErr = apperr.New(apperr.KindStorageUnavailable, "connection lost")
		_, err = f.svc.Merge(ctx, editor, cr.ID)
		require.Error(t, err)

		// Nothing moved on either side of the commit.
		head, _ := f.chain.Head(ctx, "doc.md")
		assert.Equal(t, uint32(1), head.VersionNumber)
		got, err := f.svc.Get(ctx, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, changeRequest.StatusApproved, got.Status)

		// The same CR merges cleanly on retry, with no stale base against
		// versions of its own.
		result, err := f.svc.Merge(ctx, editor, cr.ID)
		require.NoError(t, err)
		require.True(t, result.Merged())
		assert.Equal(t, uint32(2), result.Committed[0].VersionNumber)
	})

	t.Run("version numbers stay contiguous", func(t *testing.T) {
		f := newFixture()
		for i := 0; i < 4; i++ {
			cr, _ := f.svc.Create(ctx, editor, "t", "")
			action := changeRequest.ActionEdit
			if i == 0 {
				action = changeRequest.ActionCreate
			}
			_, err := f.svc.Stage(ctx, editor, cr.ID, "seq.txt", action, []byte(fmt.Sprintf("rev %d\n", i)))
			require.NoError(t, err)
			_, err = f.svc.Submit(ctx, editor, cr.ID)
			require.NoError(t, err)
			_, err = f.svc.Review(ctx, approver, cr.ID, true, "")
			require.NoError(t, err)
			result, err := f.svc.Merge(ctx, editor, cr.ID)
			require.NoError(t, err)
			require.True(t, result.Merged())
		}

		for i, v := range f.chain.versions["seq.txt"] {
			assert.Equal(t, uint32(i+1), v.VersionNumber)
		}
	})

	t.Run("only approved CRs merge", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, editor, "x.txt", "c\n")
		_, err := f.svc.Merge(ctx, editor, cr.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})
}

func TestStageInDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a draft lazily and reuses it", func(t *testing.T) {
		f := newFixture()
		cr1, _, err := f.svc.StageInDraft(ctx, editor, "a.txt", changeRequest.ActionCreate, []byte("a\n"), "")
		require.NoError(t, err)
		assert.Equal(t, "Changes by ed", cr1.Title)

		cr2, _, err := f.svc.StageInDraft(ctx, editor, "b.txt", changeRequest.ActionCreate, []byte("b\n"), "")
		require.NoError(t, err)
		assert.Equal(t, cr1.ID, cr2.ID)

		got, err := f.svc.Get(ctx, cr1.ID)
		require.NoError(t, err)
		assert.Len(t, got.Files, 2)
	})

	t.Run("message replaces the generated title only", func(t *testing.T) {
		f := newFixture()
		cr, _, err := f.svc.StageInDraft(ctx, editor, "a.txt", changeRequest.ActionCreate, []byte("a\n"), "Initial docs")
		require.NoError(t, err)
		assert.Equal(t, "Initial docs", cr.Title)

		cr, _, err = f.svc.StageInDraft(ctx, editor, "b.txt", changeRequest.ActionCreate, []byte("b\n"), "Something else")
		require.NoError(t, err)
		assert.Equal(t, "Initial docs", cr.Title)
	})

	t.Run("viewer cannot stage", func(t *testing.T) {
		f := newFixture()
		_, _, err := f.svc.StageInDraft(ctx, viewer, "a.txt", changeRequest.ActionCreate, []byte("a\n"), "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	})
}

func TestRemoveFile(t *testing.T) {
	ctx := context.Background()

	t.Run("removes a staged entry while editable", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		entry, err := f.svc.Stage(ctx, editor, cr.ID, "x.txt", changeRequest.ActionCreate, []byte("c\n"))
		require.NoError(t, err)

		require.NoError(t, f.svc.RemoveFile(ctx, editor, cr.ID, entry.ID))
		got, err := f.svc.Get(ctx, cr.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Files)
	})

	t.Run("unknown entry is not found", func(t *testing.T) {
		f := newFixture()
		cr, _ := f.svc.Create(ctx, editor, "t", "")
		err := f.svc.RemoveFile(ctx, editor, cr.ID, 999)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("not allowed once pending review", func(t *testing.T) {
		f := newFixture()
		cr := submitCR(t, f, editor, "x.txt", "c\n")
		err := f.svc.RemoveFile(ctx, editor, cr.ID, cr.Files[0].ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidCRState))
	})
}

func TestFileDiff(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	f.seedBlob("f.txt", "a\nb\n")
	cr, _ := f.svc.Create(ctx, editor, "t", "")
	entry, err := f.svc.Stage(ctx, editor, cr.ID, "f.txt", changeRequest.ActionEdit, []byte("a\nc\n"))
	require.NoError(t, err)

	got, err := f.svc.FileDiff(ctx, cr.ID, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "f.txt", got.FilePath)
	assert.Equal(t, []diff.Op{
		{Kind: diff.Equal, Text: "a"},
		{Kind: diff.Delete, Text: "b"},
		{Kind: diff.Insert, Text: "c"},
	}, got.Ops)

	t.Run("unknown entry", func(t *testing.T) {
		_, err := f.svc.FileDiff(ctx, cr.ID, 12345)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

// submitCR stages one created file and submits, returning the pending CR.
func submitCR(t *testing.T, f *fixture, author actor.Actor, path, content string) *changeRequest.ChangeRequest {
	t.Helper()
	ctx := context.Background()
	cr, err := f.svc.Create(ctx, author, "test change", "")
	require.NoError(t, err)
	_, err = f.svc.Stage(ctx, author, cr.ID, path, changeRequest.ActionCreate, []byte(content))
	require.NoError(t, err)
	got, err := f.svc.Submit(ctx, author, cr.ID)
	require.NoError(t, err)
	return got
}
