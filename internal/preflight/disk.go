package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/searchview/internal/profiling"
)

// MinDiskSpaceBytes is the minimum required free disk space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks if there's sufficient disk space at the given path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		profiling.FormatBytes(available), profiling.FormatBytes(c.minDisk))

	if available < c.minDisk {
		result.Status = StatusFail
		result.Details = "Segment drains and consolidation need room for a second copy of the store"
		return result
	}

	result.Status = StatusPass
	return result
}
