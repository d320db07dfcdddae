package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"lockss-go/internal/lockss"
)

var errWriterClosed = errors.New("version writer already committed or discarded")

// versionWriter encodes written content into a temp file. Commit uploads
// the file as a blob and then appends the version record.
type versionWriter struct {
	repo  *Repository
	file  *lockss.File
	props lockss.Properties

	tmp     *os.File
	sealer  io.WriteCloser // nil when unsealed
	encoder io.WriteCloser
	size    int64
	err     error
	closed  bool
}

// CreateVersion opens a writer for a new version of file.
func (r *Repository) CreateVersion(ctx context.Context, file *lockss.File) (lockss.VersionWriter, error) {
	if _, ok := r.collections[file.Collection]; !ok {
		return nil, storageError("create version", file.URL,
			fmt.Errorf("collection %q is not configured", file.Collection))
	}

	tmp, err := os.CreateTemp(r.tempDir, "version-*")
	if err != nil {
		return nil, storageError("create version", file.URL, err)
	}
	w := &versionWriter{repo: r, file: file, props: lockss.Properties{}, tmp: tmp}

	var sink io.Writer = tmp
	if r.encryptor != nil {
		if w.sealer, err = r.encryptor.EncryptWriter(tmp); err != nil {
			w.cleanup()
			return nil, storageError("create version", file.URL, err)
		}
		sink = w.sealer
	}
	if w.encoder, err = r.codec.NewWriter(sink); err != nil {
		w.cleanup()
		return nil, storageError("create version", file.URL, err)
	}
	return w, nil
}

func (w *versionWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.encoder.Write(p)
	w.size += int64(n)
	if err != nil {
		w.err = storageError("write version", w.file.URL, err)
		return n, w.err
	}
	return n, nil
}

func (w *versionWriter) SetProperty(key, value string) {
	w.props[key] = value
}

// finish flushes the encoder and sealer so the temp file holds the whole blob.
func (w *versionWriter) finish() error {
	if err := w.encoder.Close(); err != nil {
		return err
	}
	if w.sealer != nil {
		if err := w.sealer.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (w *versionWriter) Commit(ctx context.Context, makePreferred bool) (*lockss.Version, error) {
	if w.closed {
		return nil, errWriterClosed
	}
	w.closed = true
	defer w.cleanup()

	if w.err != nil {
		return nil, w.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := w.finish(); err != nil {
		return nil, storageError("commit version", w.file.URL, err)
	}

	info, err := w.tmp.Stat()
	if err != nil {
		return nil, storageError("commit version", w.file.URL, err)
	}
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return nil, storageError("commit version", w.file.URL, err)
	}

	r := w.repo
	store := r.collections[w.file.Collection]
	blobID := r.idgen.New()
	if err := store.Put(blobID, w.tmp, info.Size()); err != nil {
		return nil, storageError("store blob", w.file.URL, err)
	}

	v := &lockss.Version{
		NodeID:      w.file.NodeID,
		URL:         w.file.URL,
		Collection:  w.file.Collection,
		BlobID:      blobID,
		Size:        w.size,
		Properties:  w.props.Clone(),
		CommittedAt: r.clock.Now(),
	}

	r.mu.Lock()
	err = r.db.AppendVersion(v, makePreferred)
	r.mu.Unlock()
	if err != nil {
		if derr := store.Delete(blobID); derr != nil {
			r.logger.Warn("orphaned blob after failed commit", "collection", store.Name(), "blob", blobID, "error", derr)
		}
		return nil, storageError("commit version", w.file.URL, err)
	}

	r.logger.Debug("committed version", "url", v.URL, "version", v.Number, "size", v.Size, "blob", blobID)
	return v, nil
}

func (w *versionWriter) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cleanup()
	return nil
}

func (w *versionWriter) cleanup() {
	name := w.tmp.Name()
	w.tmp.Close()
	os.Remove(name)
}
