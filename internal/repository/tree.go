package repository

import (
	"context"
	"fmt"
	"strings"

	"lockss-go/internal/lockss"
)

// parentURL returns the URL of the tree parent of url within an AU rooted
// at base, or "" when url is the root. URLs that do not extend base hang
// directly off the root.
func parentURL(base, url string) string {
	if url == base {
		return ""
	}
	trimmed := strings.TrimSuffix(url, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return base
	}
	parent := trimmed[:i+1]
	if strings.HasPrefix(parent, base) && len(parent) > len(base) {
		return parent
	}
	return base
}

// TreeContentSize returns the content size of the subtree at url. Computed
// sizes are cached per node until a commit below the node invalidates them.
func (r *Repository) TreeContentSize(ctx context.Context, auID, url string, mode lockss.SizeMode, calcIfUnknown bool) (int64, error) {
	node, err := r.Node(ctx, auID, url, false)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	size, ok, err := r.db.FindTreeSize(node.ID, mode)
	if err != nil {
		return 0, storageError("find tree size", url, err)
	}
	if ok {
		return size, nil
	}
	if !calcIfUnknown {
		return lockss.UnknownSize, nil
	}
	return r.computeTreeSizeLocked(ctx, node, mode)
}

// computeTreeSizeLocked sums the subtree at node, reusing and filling the
// per-node cache. r.mu must be held.
func (r *Repository) computeTreeSizeLocked(ctx context.Context, node *lockss.Node, mode lockss.SizeMode) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if size, ok, err := r.db.FindTreeSize(node.ID, mode); err != nil {
		return 0, storageError("find tree size", node.URL, err)
	} else if ok {
		return size, nil
	}

	var total int64
	if node.HasFile {
		limit := 0
		if mode == lockss.SizeLatestOnly {
			limit = 1
		}
		versions, err := r.db.FindVersions(node.ID, limit)
		if err != nil {
			return 0, storageError("list versions", node.URL, err)
		}
		for _, v := range versions {
			total += v.Size
		}
	}

	children, err := r.db.FindChildNodes(node.ID)
	if err != nil {
		return 0, storageError("list children", node.URL, err)
	}
	for _, child := range children {
		size, err := r.computeTreeSizeLocked(ctx, child, mode)
		if err != nil {
			return 0, err
		}
		total += size
	}

	if err := r.db.SaveTreeSize(node.ID, mode, total); err != nil {
		return 0, storageError("save tree size", node.URL, err)
	}
	return total, nil
}

// Describe formats a version reference for logs and CLI output.
func Describe(v *lockss.Version) string {
	state := ""
	if v.Deleted {
		state = " (deleted)"
	}
	return fmt.Sprintf("%s v%d %d bytes%s", v.URL, v.Number, v.Size, state)
}
