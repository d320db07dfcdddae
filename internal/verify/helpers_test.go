package verify_test

import (
	"bytes"
	"io"
	"testing"

	"lockss-go/internal/blobstore"
	"lockss-go/internal/codec"
	"lockss-go/internal/lockss"
	"lockss-go/internal/repository"
	"lockss-go/internal/testutil"
)

const base = "http://example.com/"

type fixture struct {
	au    *lockss.ArchivalUnit
	repo  *repository.Repository
	store *blobstore.MemoryStore
}

// newFixture builds an uncompressed, unsealed repository so tests can
// rewrite stored bytes directly.
func newFixture(t *testing.T, opts ...func(*repository.Options)) *fixture {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	au := testutil.CreateTestAU(t, db, "au-1", base)
	repo, store := testutil.NewTestRepository(t, db, opts...)
	return &fixture{au: au, repo: repo, store: store}
}

// commit stores content with its SHA-1 checksum.
func (f *fixture) commit(t *testing.T, url, content string) *lockss.Version {
	t.Helper()
	return testutil.CommitVersion(t, f.repo, f.au.ID, url, content,
		lockss.ChecksumProperty, testutil.SHA1Hex([]byte(content)),
		lockss.ChecksumAlgorithmProperty, "SHA-1")
}

// corrupt replaces the stored bytes of v without touching its checksum.
func (f *fixture) corrupt(t *testing.T, v *lockss.Version, content string) {
	t.Helper()
	c, err := codec.New(codec.None, 0)
	if err != nil {
		t.Fatalf("codec.New() error = %v", err)
	}
	var buf bytes.Buffer
	w, _ := c.NewWriter(&buf)
	io.WriteString(w, content)
	w.Close()
	if err := f.store.Put(v.BlobID, &buf, int64(buf.Len())); err != nil {
		t.Fatalf("overwriting blob failed: %v", err)
	}
}
