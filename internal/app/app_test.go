package app

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lockss-go/internal/blobstore"
	"lockss-go/internal/codec"
	"lockss-go/internal/config"
	"lockss-go/internal/lockss"
	"lockss-go/internal/testutil"
)

var pages = map[string]string{
	"/journal/":       "index",
	"/journal/a.html": "hello",
	"/journal/b.html": "world",
}

func newContentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("test-host", base)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Collections = []config.CollectionConfig{{Type: "memory", Name: "primary"}}
	cfg.Compression = config.CompressionConfig{Type: "none"}
	cfg.Verification.Algorithm = "SHA-1"
	cfg.ApplyDefaults()
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *LockssApp {
	t.Helper()
	a, err := NewLockssApp(cfg, operation)
	if err != nil {
		t.Fatalf("NewLockssApp() error = %v", err)
	}
	return a
}

func registerJournal(t *testing.T, a *LockssApp, srv *httptest.Server) *lockss.ArchivalUnit {
	t.Helper()
	au, err := a.RegisterAU("journal", "Journal", srv.URL+"/journal/")
	if err != nil {
		t.Fatalf("RegisterAU() error = %v", err)
	}
	return au
}

// corrupt overwrites the stored bytes of v in an unsealed, uncompressed collection.
func corrupt(t *testing.T, a *LockssApp, v *lockss.Version, content string) {
	t.Helper()
	c, err := codec.New(codec.None, 0)
	if err != nil {
		t.Fatalf("codec.New() error = %v", err)
	}
	var buf bytes.Buffer
	w, _ := c.NewWriter(&buf)
	io.WriteString(w, content)
	w.Close()
	store := a.collections[0].(*blobstore.MemoryStore)
	if err := store.Put(v.BlobID, &buf, int64(buf.Len())); err != nil {
		t.Fatalf("overwriting blob failed: %v", err)
	}
}

func TestNewLockssApp_NoCollections(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Collections = nil
	if _, err := NewLockssApp(cfg, "Test"); err == nil {
		t.Fatal("NewLockssApp() with no collections succeeded")
	}
}

func TestLockssApp_RegisterAU(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "RegisterAU")
	defer a.Close()

	registerJournal(t, a, srv)

	if _, err := a.RegisterAU("journal", "", srv.URL+"/other/"); err == nil {
		t.Error("registering a duplicate AU succeeded")
	}
	if a.op.Status != "error" {
		t.Errorf("operation status = %q, want error", a.op.Status)
	}

	aus, err := a.ListAUs()
	if err != nil {
		t.Fatalf("ListAUs() error = %v", err)
	}
	if len(aus) != 1 || aus[0].Name != "Journal" {
		t.Fatalf("ListAUs() = %+v, want the journal AU", aus)
	}

	state, err := a.AuState(t.Context(), "journal")
	if err != nil {
		t.Fatalf("AuState() error = %v", err)
	}
	if state.SubscriptionStatus != lockss.SubscriptionUnknown {
		t.Errorf("initial status = %v, want unknown", state.SubscriptionStatus)
	}
}

func TestLockssApp_ImportTitles(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), "ImportTitles")
	defer a.Close()

	path := filepath.Join(t.TempDir(), "titles.yaml")
	data := "titles:\n  journal-2024: http://journal.example.com/2024/\n  journal-2025:\n    name: Journal 2025\n    base_url: http://journal.example.com/2025/\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	added, err := a.ImportTitles(path)
	if err != nil {
		t.Fatalf("ImportTitles() error = %v", err)
	}
	if added != 2 {
		t.Errorf("ImportTitles() added %d, want 2", added)
	}

	added, err = a.ImportTitles(path)
	if err != nil {
		t.Fatalf("second ImportTitles() error = %v", err)
	}
	if added != 0 {
		t.Errorf("second ImportTitles() added %d, want 0", added)
	}
}

func TestLockssApp_FetchAndVerify(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "Fetch")
	defer a.Close()
	au := registerJournal(t, a, srv)
	ctx := t.Context()

	v, err := a.Fetch(ctx, au.ID, au.BaseURL+"a.html")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if sum, _ := v.Checksum(); sum != "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d" {
		t.Errorf("checksum = %q, want the SHA-1 of hello", sum)
	}
	if alg, _ := v.ChecksumAlgorithm(); alg != "SHA-1" {
		t.Errorf("checksum algorithm = %q, want SHA-1", alg)
	}
	if got := v.Properties[ContentTypeProperty]; got != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", got)
	}
	file, err := a.repo.File(ctx, au.ID, au.BaseURL+"a.html", false)
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if _, err := time.Parse(time.RFC3339, file.Properties[LastFetchedProperty]); err != nil {
		t.Errorf("%s = %q: %v", LastFetchedProperty, file.Properties[LastFetchedProperty], err)
	}
	if _, err := a.Fetch(ctx, au.ID, au.BaseURL+"b.html"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	res, err := a.Verify(ctx, au.ID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.OK() || len(res.Checked) != 2 {
		t.Errorf("Verify() = %+v, want two clean files", res)
	}

	state, err := a.AuState(ctx, au.ID)
	if err != nil {
		t.Fatalf("AuState() error = %v", err)
	}
	if state.SubscriptionStatus != lockss.SubscriptionNotMaintained {
		t.Errorf("status = %v, want not_maintained with detection disabled", state.SubscriptionStatus)
	}
}

func TestLockssApp_FetchMissing(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "Fetch")
	defer a.Close()
	au := registerJournal(t, a, srv)

	if _, err := a.Fetch(t.Context(), au.ID, au.BaseURL+"missing.html"); err == nil {
		t.Fatal("Fetch() of a missing page succeeded")
	}
	if a.op.Status != "error" {
		t.Errorf("operation status = %q, want error", a.op.Status)
	}
	if _, err := a.Fetch(t.Context(), "nope", au.BaseURL+"a.html"); !errors.Is(err, lockss.ErrNotFound) {
		t.Errorf("Fetch() for an unknown AU = %v, want ErrNotFound", err)
	}
}

func TestLockssApp_VerifyDetectsCorruption(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "Verify")
	defer a.Close()
	au := registerJournal(t, a, srv)
	ctx := t.Context()

	v, err := a.Fetch(ctx, au.ID, au.BaseURL+"a.html")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	corrupt(t, a, v, "hellp")

	res, err := a.Verify(ctx, au.ID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(res.Mismatched) != 1 || res.Mismatched[0] != v.URL {
		t.Fatalf("Mismatched = %v, want [%s]", res.Mismatched, v.URL)
	}

	damaged, err := a.Damage(au.ID)
	if err != nil {
		t.Fatalf("Damage() error = %v", err)
	}
	if len(damaged) != 1 || damaged[0].URL != v.URL {
		t.Fatalf("Damage() = %+v, want %s", damaged, v.URL)
	}

	if err := a.ClearDamage(au.ID, v.URL); err != nil {
		t.Fatalf("ClearDamage() error = %v", err)
	}
	if damaged, _ := a.Damage(""); len(damaged) != 0 {
		t.Errorf("Damage() after clear = %+v, want none", damaged)
	}
}

func TestLockssApp_ScheduleEscalatesOnce(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "Schedule")
	defer a.Close()
	au := registerJournal(t, a, srv)
	ctx := t.Context()

	for _, page := range []string{"", "a.html", "b.html"} {
		v, err := a.Fetch(ctx, au.ID, au.BaseURL+page)
		if err != nil {
			t.Fatalf("Fetch(%q) error = %v", page, err)
		}
		if page != "" {
			corrupt(t, a, v, "damaged "+page)
		}
	}

	ok, err := a.Schedule(ctx, au.ID)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !ok {
		t.Fatal("Schedule() refused the run")
	}
	a.scheduled.Wait()

	repairs, err := a.Repairs(0)
	if err != nil {
		t.Fatalf("Repairs() error = %v", err)
	}
	if len(repairs) != 1 {
		t.Fatalf("Repairs() = %d requests, want 1", len(repairs))
	}
	if repairs[0].AuID != au.ID || repairs[0].Priority != lockss.PriorityHigh {
		t.Errorf("repair = %+v, want high priority for %s", repairs[0], au.ID)
	}

	damaged, _ := a.Damage(au.ID)
	if len(damaged) != 2 {
		t.Errorf("Damage() = %d records, want 2", len(damaged))
	}
}

func TestLockssApp_VerifyAll(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "VerifyAll")
	defer a.Close()
	au := registerJournal(t, a, srv)
	if _, err := a.RegisterAU("empty", "", srv.URL+"/empty/"); err != nil {
		t.Fatalf("RegisterAU() error = %v", err)
	}
	if _, err := a.Fetch(t.Context(), au.ID, au.BaseURL+"a.html"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	results, err := a.VerifyAll(t.Context())
	if err != nil {
		t.Fatalf("VerifyAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("VerifyAll() = %d results, want 2", len(results))
	}
	if got := len(results["journal"].Checked); got != 1 {
		t.Errorf("journal checked %d files, want 1", got)
	}
	if got := len(results["empty"].Checked); got != 0 {
		t.Errorf("empty checked %d files, want 0", got)
	}
}

func TestLockssApp_VerificationUnavailable(t *testing.T) {
	srv := newContentServer(t)
	cfg := newTestConfig(t)
	cfg.Verification.Algorithm = ""
	a := newTestApp(t, cfg, "Fetch")
	defer a.Close()
	au := registerJournal(t, a, srv)
	ctx := t.Context()

	v, err := a.Fetch(ctx, au.ID, au.BaseURL+"a.html")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, ok := v.Checksum(); ok {
		t.Error("version has a checksum without a configured algorithm")
	}

	if _, err := a.Verify(ctx, au.ID); !errors.Is(err, lockss.ErrVerificationUnavailable) {
		t.Errorf("Verify() error = %v, want ErrVerificationUnavailable", err)
	}
	if _, err := a.Schedule(ctx, au.ID); !errors.Is(err, lockss.ErrVerificationUnavailable) {
		t.Errorf("Schedule() error = %v, want ErrVerificationUnavailable", err)
	}
	if _, err := a.VerifyAll(ctx); !errors.Is(err, lockss.ErrVerificationUnavailable) {
		t.Errorf("VerifyAll() error = %v, want ErrVerificationUnavailable", err)
	}
}

func TestLockssApp_DeleteUndeleteAndSize(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "Delete")
	defer a.Close()
	au := registerJournal(t, a, srv)
	ctx := t.Context()
	url := au.BaseURL + "a.html"

	for range 2 {
		if _, err := a.Fetch(ctx, au.ID, url); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	versions, err := a.Versions(ctx, au.ID, url)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Number != 2 {
		t.Fatalf("Versions() = %+v, want v2 then v1", versions)
	}

	latest, err := a.Size(ctx, au.ID, "", false)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	all, err := a.Size(ctx, au.ID, "", true)
	if err != nil {
		t.Fatalf("Size(all) error = %v", err)
	}
	if latest != 5 || all != 10 {
		t.Errorf("Size() = %d/%d, want 5/10", latest, all)
	}

	if err := a.Delete(ctx, au.ID, url, 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	versions, _ = a.Versions(ctx, au.ID, url)
	if !versions[0].Deleted {
		t.Error("v2 not marked deleted")
	}
	if err := a.Undelete(ctx, au.ID, url, 2); err != nil {
		t.Fatalf("Undelete() error = %v", err)
	}
	if err := a.Delete(ctx, au.ID, url, 7); !errors.Is(err, lockss.ErrNotFound) {
		t.Errorf("Delete() of a missing version = %v, want ErrNotFound", err)
	}
}

func TestLockssApp_Disks(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), "Disks")
	defer a.Close()

	disks := a.Disks()
	if len(disks) != 1 || disks[0].Name != "primary" {
		t.Fatalf("Disks() = %+v, want the primary collection", disks)
	}
	if disks[0].Err != nil {
		t.Errorf("Disks() error = %v", disks[0].Err)
	}
}

func TestLockssApp_HistoryAndSnapshot(t *testing.T) {
	srv := newContentServer(t)
	a := newTestApp(t, newTestConfig(t), "RegisterAU")
	registerJournal(t, a, srv)

	ops, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "RegisterAU" || ops[0].Parameters != "journal" {
		t.Fatalf("History() = %+v, want the RegisterAU operation", ops)
	}

	store := a.collections[0].(*blobstore.MemoryStore)
	before := store.Len()
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if store.Len() != before+1 {
		t.Errorf("collection holds %d blobs after close, want %d", store.Len(), before+1)
	}
	rc, err := store.Open(a.snapshotID())
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	rc.Close()
}

func TestLockssApp_SealedContent(t *testing.T) {
	srv := newContentServer(t)
	cfg := newTestConfig(t)
	cfg.Encryption.Type = "test"
	cfg.Compression.Type = "zstd"
	t.Setenv(PassphraseEnv, "correct horse")

	a := newTestApp(t, cfg, "Fetch")
	defer a.Close()
	au := registerJournal(t, a, srv)

	v, err := a.Fetch(t.Context(), au.ID, au.BaseURL+"a.html")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	res, err := a.Verify(t.Context(), au.ID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.OK() {
		t.Errorf("Verify() of sealed content mismatched: %v", res.Mismatched)
	}
	if got := testutil.ReadVersion(t, a.repo, v); got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
}
