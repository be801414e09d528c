package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomek7667/rendermon/internal/counter"
	"github.com/tomek7667/rendermon/internal/domain"
	"github.com/tomek7667/rendermon/internal/probe"
	"github.com/tomek7667/rendermon/internal/store"
)

const bytesPerGB = 1024 * 1024 * 1024

// TickHealth samples every configured mount and host once and replaces the
// disk and network tables. A mount that cannot be sampled is still listed,
// with all values absent.
func (m *LinkMonitor) TickHealth(ctx context.Context) {
	disks := m.sampleDisks(ctx)
	network := store.Network{
		Internal: m.pingAll(ctx, m.cfg.InternalHosts),
		External: m.pingAll(ctx, m.cfg.ExternalHosts),
	}

	now := m.clock.Now()
	m.store.SetDisks(disks, now)
	m.store.SetNetwork(network, now)
}

// RunHealth samples immediately and then every HealthInterval until ctx is
// cancelled.
func (m *LinkMonitor) RunHealth(ctx context.Context) error {
	m.TickHealth(ctx)

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}
		m.TickHealth(ctx)
	}
}

func (m *LinkMonitor) sampleDisks(ctx context.Context) map[string]domain.DiskUsage {
	out := make(map[string]domain.DiskUsage, len(m.cfg.Mounts))
	for _, mount := range m.cfg.Mounts {
		out[mount] = domain.DiskUsage{}
		if m.probes.Disks == nil {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		st, err := m.probes.Disks.Usage(pctx, mount)
		cancel()
		if err != nil {
			if errors.Is(err, probe.ErrNotFound) {
				m.log.Debug("mount unavailable", zap.String("mount", mount), zap.Error(err))
			} else {
				m.log.Warn("disk usage probe failed", zap.String("mount", mount), zap.Error(err))
			}
			continue
		}
		out[mount] = diskUsage(st)
	}
	return out
}

func diskUsage(st probe.DiskStat) domain.DiskUsage {
	if st.TotalBytes == 0 {
		return domain.DiskUsage{}
	}
	used := st.TotalBytes - min(st.FreeBytes, st.TotalBytes)
	return domain.DiskUsage{
		TotalGB:     domain.Float(counter.Round(float64(st.TotalBytes)/bytesPerGB, 1)),
		UsedGB:      domain.Float(counter.Round(float64(used)/bytesPerGB, 1)),
		UsedPercent: domain.Float(counter.Round(float64(used)/float64(st.TotalBytes)*100, 1)),
		Filesystem:  st.Filesystem,
		DriveType:   st.DriveType,
		Model:       st.Model,
	}
}

func (m *LinkMonitor) pingAll(ctx context.Context, hosts []domain.Host) map[string]domain.Reachability {
	results := make([]domain.Reachability, len(hosts))
	if m.probes.Pinger != nil {
		var g errgroup.Group
		g.SetLimit(m.cfg.PingConcurrency)
		for i, h := range hosts {
			i, h := i, h
			g.Go(func() error {
				pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
				defer cancel()
				results[i] = m.probes.Pinger.Ping(pctx, h.Address)
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make(map[string]domain.Reachability, len(hosts))
	for i, h := range hosts {
		r := results[i]
		r.Address = h.Address
		if !r.Reachable {
			r.LatencyMs = nil
		}
		out[h.Name] = r
	}
	return out
}
