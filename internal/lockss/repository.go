package lockss

import (
	"context"
	"io"
	"time"
)

// ChecksumProperty is the version property holding the lowercase hex digest
// of the version's raw content.
const ChecksumProperty = "checksum"

// ChecksumAlgorithmProperty names the digest algorithm that produced the
// checksum property.
const ChecksumAlgorithmProperty = "checksum-algorithm"

// UnknownSize is returned by TreeContentSize when no cached value exists
// and the caller did not ask for it to be computed.
const UnknownSize int64 = -1

// Properties is a version or file property map. Values are stored and
// returned byte-identical.
type Properties map[string]string

// Clone returns a copy of p. A nil map clones to an empty one.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Node is a position in an AU's URL tree.
type Node struct {
	ID         string
	AuID       string
	URL        string
	ParentID   string // empty for the AU root
	Collection string // blob collection chosen when the node was created
	HasFile    bool
	CreatedAt  time.Time
}

// File is the content-bearing part of a node.
type File struct {
	NodeID           string
	AuID             string
	URL              string
	Collection       string
	Properties       Properties
	PreferredVersion int // 0 until the first commit
	CreatedAt        time.Time
}

// Version is one committed, immutable version of a file. Only Deleted may
// change after commit.
type Version struct {
	NodeID      string
	URL         string
	Collection  string
	Number      int
	BlobID      string
	Size        int64
	Properties  Properties
	Deleted     bool
	CommittedAt time.Time
}

// Checksum returns the stored checksum property, if any.
func (v *Version) Checksum() (string, bool) {
	sum, ok := v.Properties[ChecksumProperty]
	return sum, ok && sum != ""
}

// ChecksumAlgorithm returns the algorithm recorded with the checksum, if any.
func (v *Version) ChecksumAlgorithm() (string, bool) {
	name, ok := v.Properties[ChecksumAlgorithmProperty]
	return name, ok && name != ""
}

// SizeMode selects which versions TreeContentSize counts.
type SizeMode int

const (
	// SizeLatestOnly counts only the most recent version of each file.
	SizeLatestOnly SizeMode = iota
	// SizeAllVersions counts every stored version, deleted ones included.
	SizeAllVersions
)

func (m SizeMode) String() string {
	if m == SizeAllVersions {
		return "all_versions"
	}
	return "latest_only"
}

// VersionWriter receives the bytes of a new version. Exactly one of Commit
// or Discard must be called.
type VersionWriter interface {
	io.Writer

	// SetProperty records a property on the pending version.
	SetProperty(key, value string)

	// Commit appends the version as the file's most recent. The version also
	// becomes preferred when it is the first one or makePreferred is set.
	Commit(ctx context.Context, makePreferred bool) (*Version, error)

	// Discard drops everything written. Prior versions are untouched.
	Discard() error
}

// ContentStore is the versioned content repository.
type ContentStore interface {
	// Node returns the node for url, creating it and its ancestors if create is set.
	Node(ctx context.Context, auID, url string, create bool) (*Node, error)

	// File returns the file at url, creating the node and file if create is set.
	File(ctx context.Context, auID, url string, create bool) (*File, error)

	// SetFileProperties merges props into the file's unversioned properties
	// and persists them. file.Properties is updated on success.
	SetFileProperties(ctx context.Context, file *File, props Properties) error

	// Children returns the immediate children of a node.
	Children(ctx context.Context, node *Node) ([]*Node, error)

	// CreateVersion opens a new version of file for writing.
	CreateVersion(ctx context.Context, file *File) (VersionWriter, error)

	// ListVersions returns up to max versions, most recent first. max <= 0 means all.
	ListVersions(ctx context.Context, file *File, max int) ([]*Version, error)

	// CurrentVersion returns the preferred version, or the most recent
	// non-deleted one when the preferred version is deleted.
	CurrentVersion(ctx context.Context, file *File) (*Version, error)

	// OpenVersion streams the raw content of a version.
	OpenVersion(ctx context.Context, version *Version) (io.ReadCloser, error)

	// Delete and Undelete toggle a version's deleted flag.
	Delete(ctx context.Context, version *Version) error
	Undelete(ctx context.Context, version *Version) error

	// ContentFiles returns every file of the AU, each exactly once.
	ContentFiles(ctx context.Context, auID string) ([]*File, error)

	// TreeContentSize returns the content size of the subtree rooted at url.
	// Without calcIfUnknown an uncached size is reported as UnknownSize.
	TreeContentSize(ctx context.Context, auID, url string, mode SizeMode, calcIfUnknown bool) (int64, error)

	// AddAgreeingPeer and AgreeingPeers maintain the set of peers known to
	// agree with the file's current content.
	AddAgreeingPeer(ctx context.Context, file *File, peerID string) error
	AgreeingPeers(ctx context.Context, file *File) ([]string, error)
}
