package lockss

import "io"

// BlobStore holds encoded version content for one storage collection.
// Blobs are addressed by opaque IDs assigned by the repository.
type BlobStore interface {
	// Name identifies the collection in node records and logs.
	Name() string

	// Put stores size bytes read from r under id, replacing any previous blob.
	Put(id string, r io.Reader, size int64) error

	// Open returns a reader for the blob stored under id. A missing blob
	// is reported as ErrNotFound.
	Open(id string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(id string) error

	// DiskUsage reports space consumption of the backing storage.
	DiskUsage() (DiskUsage, error)

	// ValidateSetup verifies that the collection is accessible.
	ValidateSetup() error
}

// DiskUsage describes how full a collection's storage is. Avail is -1
// for storage without a fixed capacity.
type DiskUsage struct {
	Used        int64
	Avail       int64
	PercentUsed float64 // 0 to 100
}
