// Package repository implements the versioned content store: a URL tree per
// archival unit whose files hold append-only lists of immutable versions.
// Metadata lives in the database; version bytes live in blob collections,
// compressed and optionally sealed.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"lockss-go/internal/codec"
	"lockss-go/internal/lockss"
)

// CollectionSelector picks the collection a new AU root is placed in.
type CollectionSelector interface {
	SelectLeastFull(candidates []string) (string, error)
}

// Options configure a Repository.
type Options struct {
	Database    lockss.Database
	Collections []lockss.BlobStore
	Selector    CollectionSelector // optional; first collection when nil

	Codec     *codec.Codec             // nil stores blobs uncompressed
	Encryptor lockss.Encryptor         // nil stores blobs unsealed
	Decryptor lockss.DecryptionContext // required to read sealed blobs

	Clock       lockss.Clock
	IDGenerator lockss.IDGenerator
	Logger      lockss.Logger
	TempDir     string
}

// Repository implements lockss.ContentStore.
type Repository struct {
	db          lockss.Database
	collections map[string]lockss.BlobStore
	order       []string
	selector    CollectionSelector
	codec       *codec.Codec
	encryptor   lockss.Encryptor
	decryptor   lockss.DecryptionContext
	clock       lockss.Clock
	idgen       lockss.IDGenerator
	logger      lockss.Logger
	tempDir     string

	// mu serializes structural changes (node creation, version append)
	// with tree size computation so a cached size never misses a commit.
	mu sync.Mutex
}

var _ lockss.ContentStore = (*Repository)(nil)

// New creates a Repository. At least one collection is required.
func New(opts Options) (*Repository, error) {
	if opts.Database == nil {
		return nil, fmt.Errorf("repository requires a database")
	}
	if len(opts.Collections) == 0 {
		return nil, fmt.Errorf("repository requires at least one collection")
	}

	r := &Repository{
		db:          opts.Database,
		collections: make(map[string]lockss.BlobStore, len(opts.Collections)),
		selector:    opts.Selector,
		codec:       opts.Codec,
		encryptor:   opts.Encryptor,
		decryptor:   opts.Decryptor,
		clock:       opts.Clock,
		idgen:       opts.IDGenerator,
		logger:      opts.Logger,
		tempDir:     opts.TempDir,
	}
	for _, c := range opts.Collections {
		if _, dup := r.collections[c.Name()]; dup {
			return nil, fmt.Errorf("duplicate collection %q", c.Name())
		}
		r.collections[c.Name()] = c
		r.order = append(r.order, c.Name())
	}
	if r.codec == nil {
		r.codec, _ = codec.New(codec.None, 0)
	}
	if r.clock == nil {
		r.clock = lockss.RealClock{}
	}
	if r.idgen == nil {
		r.idgen = lockss.UUIDGenerator{}
	}
	if r.logger == nil {
		r.logger = lockss.NewNopLogger()
	}
	if r.tempDir == "" {
		r.tempDir = os.TempDir()
	}
	return r, nil
}

// Collections returns the configured collection names in configuration order.
func (r *Repository) Collections() []string {
	return append([]string(nil), r.order...)
}

// SetDecryptor installs the context used to read sealed blobs. Call it
// before content is read concurrently.
func (r *Repository) SetDecryptor(dc lockss.DecryptionContext) {
	r.decryptor = dc
}

func storageError(op, url string, err error) error {
	return &lockss.RepositoryError{Op: op, URL: url, Err: err}
}

func (r *Repository) findAU(auID string) (*lockss.ArchivalUnit, error) {
	au, err := r.db.FindArchivalUnit(auID)
	if err != nil {
		return nil, storageError("find au", "", err)
	}
	if au == nil {
		return nil, fmt.Errorf("archival unit %s: %w", auID, lockss.ErrNotFound)
	}
	return au, nil
}

// Node returns the node at url, creating it and any missing ancestors when create is set.
func (r *Repository) Node(ctx context.Context, auID, url string, create bool) (*lockss.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	au, err := r.findAU(auID)
	if err != nil {
		return nil, err
	}

	node, err := r.db.FindNode(auID, url)
	if err != nil {
		return nil, storageError("find node", url, err)
	}
	if node != nil {
		return node, nil
	}
	if !create {
		return nil, fmt.Errorf("node %s: %w", url, lockss.ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createNodeLocked(au, url)
}

// createNodeLocked creates url and its missing ancestors. r.mu must be held.
func (r *Repository) createNodeLocked(au *lockss.ArchivalUnit, url string) (*lockss.Node, error) {
	// Walk up until an existing ancestor (or past the root) is found.
	var missing []string
	var anchor *lockss.Node
	for cur := url; cur != ""; cur = parentURL(au.BaseURL, cur) {
		n, err := r.db.FindNode(au.ID, cur)
		if err != nil {
			return nil, storageError("find node", cur, err)
		}
		if n != nil {
			anchor = n
			break
		}
		missing = append(missing, cur)
	}
	if len(missing) == 0 {
		return anchor, nil
	}

	var parentID, collection string
	if anchor != nil {
		parentID = anchor.ID
		collection = anchor.Collection
	} else {
		c, err := r.chooseCollection()
		if err != nil {
			return nil, err
		}
		collection = c
	}

	now := r.clock.Now()
	nodes := make([]*lockss.Node, 0, len(missing))
	for i := len(missing) - 1; i >= 0; i-- {
		n := &lockss.Node{
			ID:         r.idgen.New(),
			AuID:       au.ID,
			URL:        missing[i],
			ParentID:   parentID,
			Collection: collection,
			CreatedAt:  now,
		}
		nodes = append(nodes, n)
		parentID = n.ID
	}
	if err := r.db.CreateNodes(nodes); err != nil {
		return nil, storageError("create node", url, err)
	}
	r.logger.Debug("created nodes", "au", au.ID, "url", url, "count", len(nodes), "collection", collection)
	return nodes[len(nodes)-1], nil
}

func (r *Repository) chooseCollection() (string, error) {
	if len(r.order) == 1 || r.selector == nil {
		return r.order[0], nil
	}
	name, err := r.selector.SelectLeastFull(r.order)
	if err != nil {
		return "", err
	}
	if _, ok := r.collections[name]; !ok {
		return "", fmt.Errorf("selector chose unknown collection %q", name)
	}
	return name, nil
}

// File returns the file at url, creating node and file when create is set.
func (r *Repository) File(ctx context.Context, auID, url string, create bool) (*lockss.File, error) {
	node, err := r.Node(ctx, auID, url, create)
	if err != nil {
		return nil, err
	}

	f, err := r.db.FindFile(node.ID)
	if err != nil {
		return nil, storageError("find file", url, err)
	}
	if f != nil {
		return f, nil
	}
	if !create {
		return nil, fmt.Errorf("file %s: %w", url, lockss.ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it while we waited.
	if f, err = r.db.FindFile(node.ID); err != nil {
		return nil, storageError("find file", url, err)
	}
	if f != nil {
		return f, nil
	}
	err = r.db.CreateFile(&lockss.File{
		NodeID:     node.ID,
		Properties: lockss.Properties{},
		CreatedAt:  r.clock.Now(),
	})
	if err != nil {
		return nil, storageError("create file", url, err)
	}
	if f, err = r.db.FindFile(node.ID); err != nil {
		return nil, storageError("find file", url, err)
	}
	return f, nil
}

// Children returns the immediate children of node, ordered by URL.
func (r *Repository) Children(ctx context.Context, node *lockss.Node) ([]*lockss.Node, error) {
	children, err := r.db.FindChildNodes(node.ID)
	if err != nil {
		return nil, storageError("list children", node.URL, err)
	}
	return children, nil
}

// ListVersions returns up to max versions, most recent first. max <= 0 lists all.
func (r *Repository) ListVersions(ctx context.Context, file *lockss.File, max int) ([]*lockss.Version, error) {
	versions, err := r.db.FindVersions(file.NodeID, max)
	if err != nil {
		return nil, storageError("list versions", file.URL, err)
	}
	return versions, nil
}

// CurrentVersion returns the preferred version, falling back to the most
// recent non-deleted version when the preferred one is deleted.
func (r *Repository) CurrentVersion(ctx context.Context, file *lockss.File) (*lockss.Version, error) {
	fresh, err := r.db.FindFile(file.NodeID)
	if err != nil {
		return nil, storageError("find file", file.URL, err)
	}
	if fresh == nil {
		return nil, fmt.Errorf("file %s: %w", file.URL, lockss.ErrNotFound)
	}

	versions, err := r.ListVersions(ctx, fresh, 0)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Number == fresh.PreferredVersion && !v.Deleted {
			return v, nil
		}
	}
	for _, v := range versions {
		if !v.Deleted {
			return v, nil
		}
	}
	return nil, fmt.Errorf("current version of %s: %w", file.URL, lockss.ErrNotFound)
}

// OpenVersion streams the decoded content of version.
func (r *Repository) OpenVersion(ctx context.Context, version *lockss.Version) (io.ReadCloser, error) {
	store, ok := r.collections[version.Collection]
	if !ok {
		return nil, storageError("open version", version.URL,
			fmt.Errorf("collection %q is not configured", version.Collection))
	}

	blob, err := store.Open(version.BlobID)
	if err != nil {
		return nil, storageError("open version", version.URL, err)
	}

	var src io.Reader = blob
	if r.encryptor != nil {
		if r.decryptor == nil {
			blob.Close()
			return nil, storageError("open version", version.URL, errors.New("sealed content requires an unlocked key"))
		}
		if src, err = r.decryptor.DecryptReader(blob); err != nil {
			blob.Close()
			return nil, storageError("open version", version.URL, err)
		}
	}

	content, err := codec.NewReader(src)
	if err != nil {
		blob.Close()
		return nil, storageError("open version", version.URL, err)
	}
	return &versionReader{ReadCloser: content, blob: blob}, nil
}

type versionReader struct {
	io.ReadCloser
	blob io.Closer
}

func (v *versionReader) Close() error {
	err := v.ReadCloser.Close()
	if berr := v.blob.Close(); err == nil {
		err = berr
	}
	return err
}

// Delete marks version deleted. Its bytes stay retrievable.
func (r *Repository) Delete(ctx context.Context, version *lockss.Version) error {
	return r.setDeleted(version, true)
}

// Undelete clears the deleted mark on version.
func (r *Repository) Undelete(ctx context.Context, version *lockss.Version) error {
	return r.setDeleted(version, false)
}

func (r *Repository) setDeleted(version *lockss.Version, deleted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.SetVersionDeleted(version.NodeID, version.Number, deleted); err != nil {
		if errors.Is(err, lockss.ErrNotFound) {
			return err
		}
		return storageError("set deleted", version.URL, err)
	}
	version.Deleted = deleted
	return nil
}

// ContentFiles returns every file of the AU once, ordered by URL.
func (r *Repository) ContentFiles(ctx context.Context, auID string) ([]*lockss.File, error) {
	if _, err := r.findAU(auID); err != nil {
		return nil, err
	}
	files, err := r.db.FindFilesByAU(auID)
	if err != nil {
		return nil, storageError("list files", "", err)
	}
	return files, nil
}

// SetFileProperties merges props into the file's unversioned properties.
// Updates are serialized with node creation.
func (r *Repository) SetFileProperties(ctx context.Context, file *lockss.File, props lockss.Properties) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.db.FindFile(file.NodeID)
	if err != nil {
		return storageError("find file", file.URL, err)
	}
	if current == nil {
		return fmt.Errorf("file %s: %w", file.URL, lockss.ErrNotFound)
	}
	merged := current.Properties.Clone()
	for k, v := range props {
		merged[k] = v
	}
	if err := r.db.SaveFileProperties(file.NodeID, merged); err != nil {
		return storageError("save file properties", file.URL, err)
	}
	file.Properties = merged
	return nil
}

// AddAgreeingPeer records that peerID agrees with the file's content.
func (r *Repository) AddAgreeingPeer(ctx context.Context, file *lockss.File, peerID string) error {
	if err := r.db.AddAgreeingPeer(file.NodeID, peerID); err != nil {
		return storageError("add agreeing peer", file.URL, err)
	}
	return nil
}

// AgreeingPeers returns the peers known to agree with the file's content.
func (r *Repository) AgreeingPeers(ctx context.Context, file *lockss.File) ([]string, error) {
	peers, err := r.db.FindAgreeingPeers(file.NodeID)
	if err != nil {
		return nil, storageError("list agreeing peers", file.URL, err)
	}
	return peers, nil
}
