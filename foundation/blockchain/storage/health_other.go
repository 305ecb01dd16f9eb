//go:build !linux

package storage

// Disk statistics are only gathered on linux.
func diskUsage(path string) (total uint64, avail uint64, err error) {
	return 0, 0, nil
}
