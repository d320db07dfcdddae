package testutil

import (
	"io"
	"strings"
	"testing"

	"lockss-go/internal/blobstore"
	"lockss-go/internal/lockss"
	"lockss-go/internal/repository"
)

// NewTestRepository creates a repository over db with a single in-memory
// collection named "test-collection". opts may adjust the options before
// construction.
func NewTestRepository(t *testing.T, db lockss.Database, opts ...func(*repository.Options)) (*repository.Repository, *blobstore.MemoryStore) {
	t.Helper()

	store := blobstore.NewMemoryStore("test-collection")
	options := repository.Options{
		Database:    db,
		Collections: []lockss.BlobStore{store},
		Clock:       FixedClock(),
		IDGenerator: NewStubIDGenerator(),
		TempDir:     t.TempDir(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	repo, err := repository.New(options)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repo, store
}

// CommitVersion writes content as a new preferred version of url, setting
// props given as alternating key/value pairs.
func CommitVersion(t *testing.T, store lockss.ContentStore, auID, url, content string, props ...string) *lockss.Version {
	t.Helper()

	f, err := store.File(t.Context(), auID, url, true)
	if err != nil {
		t.Fatalf("File(%s) failed: %v", url, err)
	}
	w, err := store.CreateVersion(t.Context(), f)
	if err != nil {
		t.Fatalf("CreateVersion(%s) failed: %v", url, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatalf("writing version of %s failed: %v", url, err)
	}
	for i := 0; i+1 < len(props); i += 2 {
		w.SetProperty(props[i], props[i+1])
	}
	v, err := w.Commit(t.Context(), true)
	if err != nil {
		t.Fatalf("Commit(%s) failed: %v", url, err)
	}
	return v
}

// ReadVersion returns the full content of v.
func ReadVersion(t *testing.T, store lockss.ContentStore, v *lockss.Version) string {
	t.Helper()

	rc, err := store.OpenVersion(t.Context(), v)
	if err != nil {
		t.Fatalf("OpenVersion(%s v%d) failed: %v", v.URL, v.Number, err)
	}
	defer rc.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, rc); err != nil {
		t.Fatalf("reading %s v%d failed: %v", v.URL, v.Number, err)
	}
	return sb.String()
}
