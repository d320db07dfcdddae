package blobstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"lockss-go/internal/lockss"
)

// FileSystemStore is a filesystem-based implementation of the BlobStore
// interface. Blobs are sharded by the first two characters of their id:
//
//	<root>/
//	  blobs/
//	    <id[0:2]>/
//	      <id>
type FileSystemStore struct {
	name     string
	root     string
	blobsDir string
}

// NewFileSystemStore creates a new filesystem blob store rooted at the given path.
func NewFileSystemStore(name, root string) (*FileSystemStore, error) {
	blobsDir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}

	return &FileSystemStore{
		name:     name,
		root:     root,
		blobsDir: blobsDir,
	}, nil
}

func (s *FileSystemStore) Name() string { return s.name }

// Root returns the directory the store lives under.
func (s *FileSystemStore) Root() string { return s.root }

func (s *FileSystemStore) blobPath(id string) (string, error) {
	if len(id) < 3 || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.blobsDir, id[:2], id), nil
}

// Put stores the blob using an atomic write (temp file + rename).
func (s *FileSystemStore) Put(id string, r io.Reader, size int64) error {
	destPath, err := s.blobPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return writeFile(destPath, r, size)
}

func (s *FileSystemStore) Open(id string) (io.ReadCloser, error) {
	srcPath, err := s.blobPath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", id, lockss.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) Delete(id string) error {
	path, err := s.blobPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// DiskUsage reports usage of the filesystem holding the store.
func (s *FileSystemStore) DiskUsage() (lockss.DiskUsage, error) {
	return statfsUsage(s.root)
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup() error {
	for _, dir := range []string{s.root, s.blobsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("collection directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("collection path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to destPath via a temp file in the same directory.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ lockss.BlobStore = (*FileSystemStore)(nil)
