//go:build !linux && !darwin

package blobstore

import (
	"fmt"

	"lockss-go/internal/lockss"
)

func statfsUsage(path string) (lockss.DiskUsage, error) {
	return lockss.DiskUsage{}, fmt.Errorf("disk usage not supported on this platform: %s", path)
}
