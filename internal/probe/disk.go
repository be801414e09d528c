package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/disk"
)

const driveMetaTTL = 10 * time.Minute

type driveMeta struct {
	DriveType string
	Model     string
}

// LocalDisks reads usage of locally mounted filesystems.
type LocalDisks struct {
	Timeout time.Duration
	// RequireMount reports a path that is not itself a mount point as not
	// found instead of returning the usage of its parent filesystem.
	RequireMount bool

	blockInfo func() (*ghw.BlockInfo, error)

	mu            sync.Mutex
	meta          map[string]driveMeta
	metaUpdatedAt time.Time
}

func NewLocalDisks(timeout time.Duration, requireMount bool) *LocalDisks {
	return &LocalDisks{
		Timeout:      timeout,
		RequireMount: requireMount,
		blockInfo:    func() (*ghw.BlockInfo, error) { return ghw.Block() },
	}
}

func (d *LocalDisks) Usage(ctx context.Context, mount string) (DiskStat, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(d.Timeout))
	defer cancel()

	var fstype string
	if d.RequireMount {
		part, err := findPartition(ctx, mount)
		if err != nil {
			return DiskStat{}, err
		}
		fstype = strings.TrimSpace(part.Fstype)
	}

	usage, err := callWithContext(ctx, func() (*disk.UsageStat, error) {
		return disk.UsageWithContext(ctx, mount)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DiskStat{}, fmt.Errorf("disk %s: %w", mount, ErrNotFound)
		}
		return DiskStat{}, fmt.Errorf("disk %s: %w", mount, err)
	}
	if usage == nil || usage.Total == 0 {
		return DiskStat{}, fmt.Errorf("disk %s: %w", mount, ErrNotFound)
	}
	if fstype == "" {
		fstype = strings.TrimSpace(usage.Fstype)
	}

	st := DiskStat{
		TotalBytes: usage.Total,
		FreeBytes:  usage.Free,
		Filesystem: fstype,
	}
	if m, ok := d.driveMeta(ctx)[mount]; ok {
		st.DriveType = m.DriveType
		st.Model = m.Model
	}
	return st, nil
}

func findPartition(ctx context.Context, mount string) (disk.PartitionStat, error) {
	parts, err := callWithContext(ctx, func() ([]disk.PartitionStat, error) {
		return disk.PartitionsWithContext(ctx, true)
	})
	if err != nil {
		return disk.PartitionStat{}, fmt.Errorf("list partitions: %w", err)
	}
	for _, p := range parts {
		if p.Mountpoint == mount {
			return p, nil
		}
	}
	return disk.PartitionStat{}, fmt.Errorf("disk %s is not mounted: %w", mount, ErrNotFound)
}

// driveMeta maps mount points to the model and type of the drive behind
// them. Failures and timeouts leave the previous table in place; the
// metadata is decoration only.
func (d *LocalDisks) driveMeta(ctx context.Context) map[string]driveMeta {
	d.mu.Lock()
	prev := d.meta
	if d.blockInfo == nil || (prev != nil && time.Since(d.metaUpdatedAt) < driveMetaTTL) {
		d.mu.Unlock()
		return prev
	}
	// Concurrent callers keep using prev while this one refreshes.
	d.metaUpdatedAt = time.Now()
	d.mu.Unlock()

	info, err := callWithContext(ctx, d.blockInfo)
	if err != nil || info == nil {
		return prev
	}

	meta := make(map[string]driveMeta)
	for _, dk := range info.Disks {
		model := normalizeSpaces(dk.Vendor + " " + dk.Model)
		driveType := driveTypeLabel(dk.DriveType.String(), dk.StorageController.String())
		for _, p := range dk.Partitions {
			if p == nil || p.MountPoint == "" {
				continue
			}
			meta[p.MountPoint] = driveMeta{DriveType: driveType, Model: model}
		}
	}

	d.mu.Lock()
	d.meta = meta
	d.mu.Unlock()
	return meta
}

func driveTypeLabel(driveType, controller string) string {
	controller = strings.TrimSpace(controller)
	if strings.EqualFold(controller, "nvme") {
		return "NVMe"
	}
	driveType = strings.TrimSpace(driveType)
	if driveType == "" || strings.EqualFold(driveType, "unknown") {
		if controller != "" && !strings.EqualFold(controller, "unknown") {
			return strings.ToUpper(controller)
		}
		return ""
	}
	return strings.ToUpper(driveType)
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
