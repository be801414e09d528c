// Package monitor polls the network side of the farm on two independent
// schedules: WAN octet counters (fast) and disk usage plus host
// reachability (slow). Results are written to the store; probe I/O never
// happens under the store lock.
package monitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/domain"
	"github.com/tomek7667/rendermon/internal/probe"
	"github.com/tomek7667/rendermon/internal/store"
)

// Clock allows for deterministic testing.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Store is the part of the aggregate the monitor writes to.
type Store interface {
	UpdateTraffic(in, out float64, now time.Time)
	SetDisks(disks map[string]domain.DiskUsage, now time.Time)
	SetNetwork(network store.Network, now time.Time)
}

type Config struct {
	CounterInterval time.Duration
	HealthInterval  time.Duration
	ProbeTimeout    time.Duration
	Mounts          []string
	InternalHosts   []domain.Host
	ExternalHosts   []domain.Host
	// PingConcurrency bounds the number of pings in flight per health tick.
	PingConcurrency int
}

func DefaultConfig() Config {
	return Config{
		CounterInterval: 500 * time.Millisecond,
		HealthInterval:  15 * time.Second,
		ProbeTimeout:    probe.DefaultTimeout,
		PingConcurrency: 4,
	}
}

type Probes struct {
	Counters probe.CounterSource
	Pinger   probe.Pinger
	Disks    probe.DiskStatter
}

type LinkMonitor struct {
	cfg    Config
	store  Store
	probes Probes
	clock  Clock
	log    *zap.Logger

	// Counter baseline. Only the counter loop touches these.
	prevIn       uint64
	prevOut      uint64
	lastSample   time.Time
	bootstrapped bool
	failing      bool
}

func New(cfg Config, st Store, probes Probes, clock Clock, logger *zap.Logger) *LinkMonitor {
	def := DefaultConfig()
	if cfg.CounterInterval <= 0 {
		cfg.CounterInterval = def.CounterInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = def.PingConcurrency
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkMonitor{
		cfg:    cfg,
		store:  st,
		probes: probes,
		clock:  clock,
		log:    logger,
	}
}
