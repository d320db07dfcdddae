//go:build linux || darwin

package blobstore

import (
	"fmt"

	"golang.org/x/sys/unix"

	"lockss-go/internal/lockss"
)

func statfsUsage(path string) (lockss.DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return lockss.DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	used := total - stat.Bfree*uint64(stat.Bsize)

	usage := lockss.DiskUsage{Used: int64(used), Avail: int64(available)}
	// Reserved blocks count as neither used nor available to us.
	if denom := used + available; denom > 0 {
		usage.PercentUsed = float64(used) / float64(denom) * 100.0
	}
	return usage, nil
}
