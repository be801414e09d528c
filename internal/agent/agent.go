// Package agent runs on a render node: it samples the node's load and
// reports it to the monitor as a single telemetry datagram per interval.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/domain"
	"github.com/tomek7667/rendermon/internal/message"
)

type Config struct {
	// Name is reported as the node name. Empty means the upper-cased short
	// hostname.
	Name string
	// Target is the monitor's UDP address.
	Target   string
	Interval time.Duration
	// WatchApps are reported in preference to whatever else is running.
	WatchApps []string
	// MinAppCPU is the share a process needs to be reported when no
	// watched application runs.
	MinAppCPU    float64
	NvidiaSMI    string
	ProbeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Target:       "127.0.0.1:43217",
		Interval:     time.Second,
		WatchApps:    []string{"maya", "houdini", "blender", "c4d", "nuke", "aftereffects", "kick", "vray"},
		MinAppCPU:    5,
		ProbeTimeout: 2 * time.Second,
	}
}

type Agent struct {
	cfg Config
	log *zap.Logger

	cpu  cpuSampler
	apps appSampler
	gpu  func(ctx context.Context) (float64, error)

	sample func(ctx context.Context) (domain.NodeSample, error)
}

func New(cfg Config, logger *zap.Logger) *Agent {
	def := DefaultConfig()
	if cfg.Target == "" {
		cfg.Target = def.Target
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Agent{
		cfg:  cfg,
		log:  logger,
		apps: appSampler{watch: cfg.WatchApps, minCPU: cfg.MinAppCPU},
	}
	a.gpu = func(ctx context.Context) (float64, error) {
		return gpuPercent(ctx, cfg.NvidiaSMI, cfg.ProbeTimeout)
	}
	a.sample = a.Sample
	return a
}

// Sample measures the node once. GPU utilisation is 0 on nodes without a
// usable nvidia-smi.
func (a *Agent) Sample(ctx context.Context) (domain.NodeSample, error) {
	name, err := a.name(ctx)
	if err != nil {
		return domain.NodeSample{}, err
	}
	s := domain.NodeSample{Name: name, ActiveApp: idleApp}

	if s.CPUPercent, err = a.cpu.Percent(ctx); err != nil {
		return domain.NodeSample{}, fmt.Errorf("cpu: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return domain.NodeSample{}, fmt.Errorf("memory: %w", err)
	}
	s.MemMB = int64(vm.Used / (1024 * 1024))

	if gpu, err := a.gpu(ctx); err == nil {
		s.GPUPercent = gpu
	} else if !errors.Is(err, errNoNvidiaSMI) {
		a.log.Debug("gpu sampling failed", zap.Error(err))
	}

	if app, err := a.apps.Active(ctx, time.Now()); err == nil {
		s.ActiveApp = app
	} else {
		a.log.Debug("process sampling failed", zap.Error(err))
	}
	return s, nil
}

func (a *Agent) name(ctx context.Context) (string, error) {
	if a.cfg.Name != "" {
		return a.cfg.Name, nil
	}
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}
	a.cfg.Name = nodeName(info.Hostname)
	if a.cfg.Name == "" {
		return "", errors.New("hostname: empty")
	}
	return a.cfg.Name, nil
}

// nodeName turns "render003.local" into "RENDER003".
func nodeName(hostname string) string {
	short, _, _ := strings.Cut(strings.TrimSpace(hostname), ".")
	return strings.ToUpper(short)
}

// Run reports every Interval until ctx is cancelled. Failed samples and
// sends are logged and skipped.
func (a *Agent) Run(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", a.cfg.Target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.Target, err)
	}
	defer conn.Close()

	a.log.Info("reporting", zap.String("target", a.cfg.Target), zap.Duration("interval", a.cfg.Interval))

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := a.report(ctx, conn); err != nil {
			a.log.Warn("report failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) report(ctx context.Context, conn net.Conn) error {
	s, err := a.sample(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte(message.Format(s))); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
