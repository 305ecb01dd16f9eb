package storage

import (
	"time"

	"github.com/pbnjay/memory"
)

// Thresholds used to decide the store is unhealthy.
const (
	maxDiskUsagePercent = 90.0
	minAvailableBytes   = 100 << 20
)

// Health represents the state of the storage area and the host it runs on.
type Health struct {
	IsHealthy        bool    `json:"is_healthy"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	AvailableBytes   uint64  `json:"available_bytes"`
	TotalBytes       uint64  `json:"total_bytes"`
	Corrupted        bool    `json:"corrupted"`
	ReadOpsPerSec    float64 `json:"read_ops_per_sec"`
	WriteOpsPerSec   float64 `json:"write_ops_per_sec"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	FreeMemory       uint64  `json:"free_memory"`
	TotalMemory      uint64  `json:"total_memory"`
}

// StorageHealth reports on disk space, corruption, throughput since the
// store was opened and host memory.
func (s *Store) StorageHealth() (Health, error) {
	report, err := s.PerformIntegrityCheck()
	if err != nil {
		return Health{}, err
	}

	total, avail, err := diskUsage(s.dir)
	if err != nil {
		s.evHandler("storage: StorageHealth: disk usage: ERROR: %s", err)
	}

	h := Health{
		AvailableBytes: avail,
		TotalBytes:     total,
		Corrupted:      !report.IsValid,
		FreeMemory:     memory.FreeMemory(),
		TotalMemory:    memory.TotalMemory(),
	}

	if total > 0 {
		h.DiskUsagePercent = float64(total-avail) / float64(total) * 100
	}

	if elapsed := time.Since(s.opened).Seconds(); elapsed > 0 {
		h.ReadOpsPerSec = float64(s.reads.Load()) / elapsed
		h.WriteOpsPerSec = float64(s.writes.Load()) / elapsed
	}

	hits, misses := s.hits.Load(), s.misses.Load()
	if hits+misses > 0 {
		h.CacheHitRate = float64(hits) / float64(hits+misses)
	}

	h.IsHealthy = !h.Corrupted &&
		h.DiskUsagePercent < maxDiskUsagePercent &&
		(total == 0 || avail >= minAvailableBytes)

	return h, nil
}
