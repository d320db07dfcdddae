package app

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lockss-go/internal/blobstore"
	"lockss-go/internal/codec"
	"lockss-go/internal/config"
	"lockss-go/internal/database"
	"lockss-go/internal/digest"
	"lockss-go/internal/encryption"
	"lockss-go/internal/hasher"
	"lockss-go/internal/lockss"
	"lockss-go/internal/metrics"
	"lockss-go/internal/repair"
	"lockss-go/internal/repository"
	"lockss-go/internal/selector"
	"lockss-go/internal/subscription"
	"lockss-go/internal/verify"
)

// ContentTypeProperty holds the fetched Content-Type of a version.
const ContentTypeProperty = "Content-Type"

// File properties recorded on every successful fetch.
const (
	LastFetchedProperty = "last-fetched"
	FetchedViaProperty  = "fetched-via" // bind address that succeeded, if any
)

// LockssApp is the application layer between the CLI and the repository
// services. It constructs all dependencies from config, exposes the
// high-level operations and manages the DB lifecycle on Close.
type LockssApp struct {
	cfg         *config.Config
	db          lockss.Database
	collections []lockss.BlobStore
	selector    *selector.Selector
	encryptor   lockss.Encryptor
	repo        *repository.Repository
	states      lockss.AuStateStore
	scheduler   *hasher.Scheduler
	queue       *repair.Queue
	damage      *repair.DamageLedger
	metrics     *metrics.Metrics
	probe       *subscription.Probe
	clock       lockss.Clock
	logger      lockss.Logger

	// algorithm is nil when verification is unavailable; verifyErr says why.
	algorithm *digest.Algorithm
	checker   *verify.ChecksumVerifier
	scheduled *verify.ScheduledVerifier
	verifyErr error

	unlockMu sync.Mutex
	unlocked bool

	op      *Operation
	logFile *os.File
}

// NewLockssApp creates a fully wired LockssApp from the given config.
// operation identifies the command being run (e.g. "RegisterAU", "Daemon").
// The caller must call Close when done.
func NewLockssApp(cfg *config.Config, operation string) (*LockssApp, error) {
	if len(cfg.Collections) == 0 {
		return nil, fmt.Errorf("no collections configured")
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, slog.LevelInfo)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := build(cfg, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.op = NewOperation(operation, "")
	a.logFile = logFile
	return a, nil
}

func build(cfg *config.Config, logger lockss.Logger) (*LockssApp, error) {
	ctx := context.Background()
	clock := lockss.RealClock{}

	collections := make([]lockss.BlobStore, 0, len(cfg.Collections))
	usage := make([]selector.Collection, 0, len(cfg.Collections))
	for _, cc := range cfg.Collections {
		store, err := blobstore.NewFromConfig(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("creating collection %s: %w", cc.Name, err)
		}
		collections = append(collections, store)
		usage = append(usage, store)
	}

	sel := selector.New(selector.Options{
		WarnPercent: cfg.Selector.WarnPercent,
		FullPercent: cfg.Selector.FullPercent,
		Clock:       clock,
		Logger:      logger,
	}, usage...)

	tag, err := codec.ParseTag(cfg.Compression.Type)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	cdc, err := codec.New(tag, cfg.Compression.Level)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	repo, err := repository.New(repository.Options{
		Database:    db,
		Collections: collections,
		Selector:    sel,
		Codec:       cdc,
		Encryptor:   enc,
		Clock:       clock,
		Logger:      logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating repository: %w", err)
	}

	m := metrics.New()
	states := database.NewAuStateStore(db)

	institutional, err := subscription.ResolveAddr(ctx, cfg.Subscription.InstitutionalAddr)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("institutional address: %w", err)
	}
	clockss, err := subscription.ResolveAddr(ctx, cfg.Subscription.ClockssAddr)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("clockss address: %w", err)
	}
	probe, err := subscription.NewProbe(subscription.Options{
		DetectionEnabled:  cfg.Subscription.DetectionEnabled,
		InstitutionalAddr: institutional,
		ClockssAddr:       clockss,
		Fetcher:           subscription.NewHTTPFetcher(cfg.Subscription.Timeout.Duration, "lockss-go/"+cfg.HostID),
		States:            states,
		Recorder:          m,
		Clock:             clock,
		Logger:            logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating subscription probe: %w", err)
	}

	scheduler := hasher.NewScheduler(hasher.Options{
		Workers:        cfg.Hasher.Workers,
		QueueSize:      cfg.Hasher.QueueSize,
		BytesPerSecond: cfg.Hasher.BytesPerSecond,
		StepSize:       cfg.Hasher.StepSize,
		Clock:          clock,
		Logger:         logger,
	})

	a := &LockssApp{
		cfg:         cfg,
		db:          db,
		collections: collections,
		selector:    sel,
		encryptor:   enc,
		repo:        repo,
		states:      states,
		scheduler:   scheduler,
		queue:       repair.NewQueue(db, cfg.Repair.MaxPending, clock, logger),
		damage:      repair.NewDamageLedger(db, clock, logger),
		metrics:     m,
		probe:       probe,
		clock:       clock,
		logger:      logger,
	}
	a.setupVerification()
	scheduler.Start(ctx)
	return a, nil
}

// setupVerification wires both verifiers. A missing or unsupported
// algorithm leaves verification unavailable without failing startup.
func (a *LockssApp) setupVerification() {
	name := a.cfg.Verification.Algorithm
	checker, err := verify.NewChecksumVerifier(name, a.repo, a.damage, a.logger)
	if err != nil {
		a.verifyErr = err
		if name != "" {
			a.logger.Warn("verification disabled", "algorithm", name, "error", err)
		}
		return
	}
	checker.SetRecorder(a.metrics)

	scheduled, err := verify.NewScheduledVerifier(verify.ScheduledOptions{
		Algorithm:        name,
		ScheduleFactor:   a.cfg.Verification.ScheduleFactor,
		ScheduleAddendum: a.cfg.Verification.ScheduleAddendum(),
		Store:            a.repo,
		Scheduler:        a.scheduler,
		PollManager:      a.queue,
		Reporter:         a.damage,
		Recorder:         a.metrics,
		Clock:            a.clock,
		Logger:           a.logger,
	})
	if err != nil {
		a.verifyErr = err
		return
	}

	alg, _ := digest.Lookup(name)
	a.algorithm = &alg
	a.checker = checker
	a.scheduled = scheduled
}

// persistOperation saves the operation to the database, giving it an ID.
// Only commands that change stored state call it.
func (a *LockssApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	rec, err := a.db.CreateOperation(a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

// unlock reads the passphrase once and installs the decryption context.
func (a *LockssApp) unlock() error {
	if a.encryptor == nil {
		return nil
	}
	a.unlockMu.Lock()
	defer a.unlockMu.Unlock()
	if a.unlocked {
		return nil
	}
	passphrase, err := readPassphrase(false)
	if err != nil {
		return err
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking sealing key: %w", err)
	}
	a.repo.SetDecryptor(dc)
	a.unlocked = true
	return nil
}

// InitKeys generates the sealing key pair, protected by a prompted passphrase.
func (a *LockssApp) InitKeys() error {
	if a.encryptor == nil {
		return errors.New("encryption type is none")
	}
	if a.encryptor.IsConfigured() {
		return errors.New("sealing keys already exist")
	}
	passphrase, err := readPassphrase(true)
	if err != nil {
		return err
	}
	return a.encryptor.Setup(passphrase)
}

func (a *LockssApp) findAU(auID string) (*lockss.ArchivalUnit, error) {
	au, err := a.db.FindArchivalUnit(auID)
	if err != nil {
		return nil, fmt.Errorf("finding archival unit: %w", err)
	}
	if au == nil {
		return nil, fmt.Errorf("archival unit %s: %w", auID, lockss.ErrNotFound)
	}
	return au, nil
}

// RegisterAU adds a new archival unit with its initial state.
func (a *LockssApp) RegisterAU(id, name, baseURL string) (*lockss.ArchivalUnit, error) {
	if err := a.persistOperation(id); err != nil {
		return nil, err
	}
	au, err := a.registerAU(id, name, baseURL)
	return au, a.op.Fail(err)
}

func (a *LockssApp) registerAU(id, name, baseURL string) (*lockss.ArchivalUnit, error) {
	if id == "" || baseURL == "" {
		return nil, errors.New("archival unit requires an id and a base url")
	}
	existing, err := a.db.FindArchivalUnit(id)
	if err != nil {
		return nil, fmt.Errorf("finding archival unit: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("archival unit %s already registered", id)
	}
	if name == "" {
		name = id
	}

	now := a.clock.Now()
	au := &lockss.ArchivalUnit{ID: id, Name: name, BaseURL: baseURL, CreatedAt: now}
	if err := a.db.CreateArchivalUnit(au, lockss.NewAuState(id, now)); err != nil {
		return nil, fmt.Errorf("registering archival unit: %w", err)
	}
	a.logger.Info("registered archival unit", "au", id, "base_url", baseURL)
	return au, nil
}

// ImportTitles registers every AU of the title list at path that is not
// registered yet. It returns the number of AUs added.
func (a *LockssApp) ImportTitles(path string) (int, error) {
	if err := a.persistOperation(path); err != nil {
		return 0, err
	}
	titles, err := config.LoadTitles(path)
	if err != nil {
		return 0, a.op.Fail(err)
	}

	added := 0
	for _, title := range titles {
		existing, err := a.db.FindArchivalUnit(title.ID)
		if err != nil {
			return added, a.op.Fail(fmt.Errorf("finding archival unit: %w", err))
		}
		if existing != nil {
			continue
		}
		if _, err := a.registerAU(title.ID, title.Name, title.BaseURL); err != nil {
			return added, a.op.Fail(err)
		}
		added++
	}
	return added, nil
}

// ListAUs returns every registered archival unit.
func (a *LockssApp) ListAUs() ([]*lockss.ArchivalUnit, error) {
	return a.db.ListArchivalUnits()
}

// AuState returns the persisted state of an archival unit.
func (a *LockssApp) AuState(ctx context.Context, auID string) (*lockss.AuState, error) {
	return a.states.LoadAuState(ctx, auID)
}

// Fetch retrieves url through the subscription probe and commits the body
// as the new preferred version. When an algorithm is configured the
// checksum is computed while the content is written.
func (a *LockssApp) Fetch(ctx context.Context, auID, url string) (*lockss.Version, error) {
	if err := a.persistOperation(auID + " " + url); err != nil {
		return nil, err
	}
	v, err := a.fetch(ctx, auID, url)
	return v, a.op.Fail(err)
}

func (a *LockssApp) fetch(ctx context.Context, auID, url string) (*lockss.Version, error) {
	au, err := a.findAU(auID)
	if err != nil {
		return nil, err
	}

	res, err := a.probe.Fetch(ctx, au, url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer res.Body.Close()

	file, err := a.repo.File(ctx, au.ID, url, true)
	if err != nil {
		return nil, err
	}
	w, err := a.repo.CreateVersion(ctx, file)
	if err != nil {
		return nil, err
	}

	var dst io.Writer = w
	var h hash.Hash
	if a.algorithm != nil {
		h = a.algorithm.New()
		dst = io.MultiWriter(w, h)
	}
	if _, err := io.Copy(dst, res.Body); err != nil {
		w.Discard()
		return nil, fmt.Errorf("storing %s: %w", url, err)
	}
	if h != nil {
		w.SetProperty(lockss.ChecksumProperty, digest.Hex(h))
		w.SetProperty(lockss.ChecksumAlgorithmProperty, a.algorithm.Name)
	}
	if res.ContentType != "" {
		w.SetProperty(ContentTypeProperty, res.ContentType)
	}

	v, err := w.Commit(ctx, true)
	if err != nil {
		return nil, err
	}

	fileProps := lockss.Properties{LastFetchedProperty: a.clock.Now().UTC().Format(time.RFC3339)}
	if res.LocalAddr != nil {
		fileProps[FetchedViaProperty] = res.LocalAddr.String()
	}
	if err := a.repo.SetFileProperties(ctx, file, fileProps); err != nil {
		return nil, err
	}
	a.logger.Info("fetched", "au", au.ID, "url", url, "version", v.Number, "size", v.Size)
	return v, nil
}

// Verify audits every file of the AU against its stored checksum.
func (a *LockssApp) Verify(ctx context.Context, auID string) (*verify.VerifyResult, error) {
	if a.checker == nil {
		return nil, a.verifyErr
	}
	if err := a.unlock(); err != nil {
		return nil, err
	}
	au, err := a.findAU(auID)
	if err != nil {
		return nil, err
	}
	return a.checker.Verify(ctx, au)
}

// VerifyAll audits every registered AU, at most hasher.workers at a time.
func (a *LockssApp) VerifyAll(ctx context.Context) (map[string]*verify.VerifyResult, error) {
	if a.checker == nil {
		return nil, a.verifyErr
	}
	if err := a.unlock(); err != nil {
		return nil, err
	}
	aus, err := a.db.ListArchivalUnits()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[string]*verify.VerifyResult, len(aus))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Hasher.Workers, 1))
	for _, au := range aus {
		g.Go(func() error {
			res, err := a.checker.Verify(ctx, au)
			if err != nil {
				return fmt.Errorf("verifying %s: %w", au.ID, err)
			}
			mu.Lock()
			results[au.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Schedule submits a background audit of the AU. It returns false when
// the hash scheduler refused the run. Close waits for accepted runs.
func (a *LockssApp) Schedule(ctx context.Context, auID string) (bool, error) {
	if a.scheduled == nil {
		return false, a.verifyErr
	}
	if err := a.unlock(); err != nil {
		return false, err
	}
	au, err := a.findAU(auID)
	if err != nil {
		return false, err
	}
	return a.scheduled.ScheduleVerification(ctx, au)
}

func (a *LockssApp) scheduleAll(ctx context.Context) {
	aus, err := a.db.ListArchivalUnits()
	if err != nil {
		a.logger.Error("listing archival units", "error", err)
		return
	}
	for _, au := range aus {
		ok, err := a.scheduled.ScheduleVerification(ctx, au)
		switch {
		case err != nil:
			a.logger.Error("scheduling verification", "au", au.ID, "error", err)
		case !ok:
			a.logger.Warn("hash scheduler refused verification", "au", au.ID)
		}
	}
}

// Daemon schedules an audit of every AU each verification interval and
// serves metrics until ctx is cancelled.
func (a *LockssApp) Daemon(ctx context.Context) error {
	if a.scheduled == nil {
		return a.verifyErr
	}
	if err := a.unlock(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if addr := a.cfg.Metrics.Listen; addr != "" {
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", addr)
			return a.metrics.Serve(ctx, addr)
		})
	}
	g.Go(func() error {
		interval := a.cfg.Verification.Interval.Duration
		if interval <= 0 {
			interval = config.DefaultVerifyInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			a.refreshUsage()
			a.scheduleAll(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}

// Versions lists every version of the file at url, most recent first.
func (a *LockssApp) Versions(ctx context.Context, auID, url string) ([]*lockss.Version, error) {
	file, err := a.repo.File(ctx, auID, url, false)
	if err != nil {
		return nil, err
	}
	return a.repo.ListVersions(ctx, file, 0)
}

func (a *LockssApp) findVersion(ctx context.Context, auID, url string, number int) (*lockss.Version, error) {
	versions, err := a.Versions(ctx, auID, url)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Number == number {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%s v%d: %w", url, number, lockss.ErrNotFound)
}

// Delete marks a version deleted.
func (a *LockssApp) Delete(ctx context.Context, auID, url string, number int) error {
	return a.setDeleted(ctx, auID, url, number, true)
}

// Undelete clears the deleted mark of a version.
func (a *LockssApp) Undelete(ctx context.Context, auID, url string, number int) error {
	return a.setDeleted(ctx, auID, url, number, false)
}

func (a *LockssApp) setDeleted(ctx context.Context, auID, url string, number int, deleted bool) error {
	if err := a.persistOperation(fmt.Sprintf("%s %s %d", auID, url, number)); err != nil {
		return err
	}
	v, err := a.findVersion(ctx, auID, url, number)
	if err != nil {
		return a.op.Fail(err)
	}
	if deleted {
		return a.op.Fail(a.repo.Delete(ctx, v))
	}
	return a.op.Fail(a.repo.Undelete(ctx, v))
}

// Size returns the content size below url, the AU root when url is empty.
func (a *LockssApp) Size(ctx context.Context, auID, url string, allVersions bool) (int64, error) {
	if url == "" {
		au, err := a.findAU(auID)
		if err != nil {
			return 0, err
		}
		url = au.BaseURL
	}
	mode := lockss.SizeLatestOnly
	if allVersions {
		mode = lockss.SizeAllVersions
	}
	return a.repo.TreeContentSize(ctx, auID, url, mode, true)
}

// DiskStatus reports one collection's usage.
type DiskStatus struct {
	Name  string
	Level selector.Level
	Usage lockss.DiskUsage
	Err   error
}

// Disks reports the usage of every collection and updates the usage gauge.
func (a *LockssApp) Disks() []DiskStatus {
	statuses := make([]DiskStatus, 0, len(a.collections))
	for _, name := range a.repo.Collections() {
		level, usage, err := a.selector.Status(name)
		statuses = append(statuses, DiskStatus{Name: name, Level: level, Usage: usage, Err: err})
		if err == nil {
			a.metrics.SetCollectionUsage(name, usage.PercentUsed)
		}
	}
	return statuses
}

func (a *LockssApp) refreshUsage() {
	for _, s := range a.Disks() {
		if s.Err != nil {
			a.logger.Warn("reading collection usage", "collection", s.Name, "error", s.Err)
		} else if s.Level != selector.LevelOK {
			a.logger.Warn("collection filling up", "collection", s.Name, "level", s.Level, "percent", s.Usage.PercentUsed)
		}
	}
}

// Repairs lists queued repair poll requests, highest priority first.
func (a *LockssApp) Repairs(limit int) ([]*lockss.RepairRequest, error) {
	return a.queue.List(limit)
}

// Damage lists URLs that failed verification. An empty auID lists all AUs.
func (a *LockssApp) Damage(auID string) ([]*lockss.DamageRecord, error) {
	return a.damage.List(auID)
}

// ClearDamage removes a damage record once the content has been repaired.
func (a *LockssApp) ClearDamage(auID, url string) error {
	if err := a.persistOperation(auID + " " + url); err != nil {
		return err
	}
	return a.op.Fail(a.damage.Clear(auID, url))
}

// History returns the most recent recorded operations.
func (a *LockssApp) History(limit int) ([]*lockss.Operation, error) {
	return a.db.ListOperations(limit)
}

// Collections returns the configured collection names.
func (a *LockssApp) Collections() []string {
	return a.repo.Collections()
}

type backuper interface {
	BackupTo(path string) error
}

// Close waits for accepted verification runs and releases all resources.
// For persisted operations it also finishes the operation record and
// stores a snapshot of the database in the first collection.
func (a *LockssApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.scheduled != nil {
		a.scheduled.Wait()
	}
	a.scheduler.Stop()

	var snapshot string
	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}
		if b, ok := a.db.(backuper); ok {
			path, err := a.snapshotDB(b)
			keep(err)
			snapshot = path
		}
	}

	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}

	if snapshot != "" {
		keep(a.uploadSnapshot(snapshot))
		os.Remove(snapshot)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

func (a *LockssApp) snapshotDB(b backuper) (string, error) {
	tmp, err := os.CreateTemp("", "lockss-db-backup-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for db backup: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses an existing file.
	os.Remove(path)

	if err := b.BackupTo(path); err != nil {
		return "", err
	}
	return path, nil
}

// snapshotID names the database snapshot blob of an operation.
func (a *LockssApp) snapshotID() string {
	return fmt.Sprintf("metadata-%s-db-%d", a.cfg.HostID, a.op.ID)
}

func (a *LockssApp) uploadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db backup: %w", err)
	}

	store := a.collections[0]
	if err := store.Put(a.snapshotID(), f, info.Size()); err != nil {
		return fmt.Errorf("storing db backup in %s: %w", store.Name(), err)
	}
	return nil
}
