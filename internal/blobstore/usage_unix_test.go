//go:build linux || darwin

package blobstore

import "testing"

func TestFileSystemStore_DiskUsage(t *testing.T) {
	s, err := NewFileSystemStore("fs", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	usage, err := s.DiskUsage()
	if err != nil {
		t.Fatalf("DiskUsage() error = %v", err)
	}
	if usage.PercentUsed < 0 || usage.PercentUsed > 100 {
		t.Errorf("PercentUsed = %v, want within [0, 100]", usage.PercentUsed)
	}
	if usage.Avail < 0 {
		t.Errorf("Avail = %d, want >= 0", usage.Avail)
	}
}
