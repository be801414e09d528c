// Package store holds the aggregated render farm state: per-node telemetry
// with bounded history, disk usage, host reachability and WAN traffic.
//
// Every mutation and every snapshot goes through a single lock held only
// for in-memory copies; callers do their I/O before or after.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/tomek7667/rendermon/internal/domain"
)

// DefaultHistoryLength is the number of samples kept per series.
const DefaultHistoryLength = 120

type nodeState struct {
	latest   domain.NodeSample
	lastSeen int64
	cpu      []float64
	gpu      []float64
	ping     domain.Reachability
}

type Store struct {
	mu         sync.RWMutex
	historyLen int

	nodes   map[string]*nodeState
	disks   map[string]domain.DiskUsage
	network Network
	traffic Traffic
	updated Freshness
	stats   Stats

	// version increases on every mutation.
	version uint64
	changes chan struct{}
}

func New(historyLen int) *Store {
	if historyLen <= 0 {
		historyLen = DefaultHistoryLength
	}
	return &Store{
		historyLen: historyLen,
		nodes:      make(map[string]*nodeState),
		disks:      make(map[string]domain.DiskUsage),
		network:    Network{}.Clone(),
		changes:    make(chan struct{}, 1),
	}
}

// HistoryLength returns the bound applied to every history series.
func (s *Store) HistoryLength() int {
	return s.historyLen
}

// Apply records a sample reported by a node at now. A node seen for the
// first time is created.
func (s *Store) Apply(sample domain.NodeSample, now time.Time) {
	s.mu.Lock()
	n, ok := s.nodes[sample.Name]
	if !ok {
		n = &nodeState{}
		if r, found := s.network.Internal[sample.Name]; found {
			n.ping = r.Clone()
		}
		s.nodes[sample.Name] = n
	}
	n.latest = sample
	n.lastSeen = now.Unix()
	n.cpu = appendBounded(n.cpu, sample.CPUPercent, s.historyLen)
	n.gpu = appendBounded(n.gpu, sample.GPUPercent, s.historyLen)
	if len(n.cpu) != len(n.gpu) {
		s.mu.Unlock()
		panic(fmt.Sprintf("store: history of node %q out of step: cpu=%d gpu=%d", sample.Name, len(n.cpu), len(n.gpu)))
	}
	s.stats.Applied++
	s.updated.Nodes = now.UnixMilli()
	s.version++
	s.mu.Unlock()

	s.notify()
}

// RecordMalformed counts a dropped datagram.
func (s *Store) RecordMalformed() {
	s.mu.Lock()
	s.stats.Malformed++
	s.version++
	s.mu.Unlock()

	s.notify()
}

// SetDisks replaces the disk usage table.
func (s *Store) SetDisks(disks map[string]domain.DiskUsage, now time.Time) {
	cp := cloneDisks(disks)

	s.mu.Lock()
	s.disks = cp
	s.updated.Disks = now.UnixMilli()
	s.version++
	s.mu.Unlock()

	s.notify()
}

// SetNetwork replaces the reachability tables. Nodes named like an internal
// host take that host's reachability as their own.
func (s *Store) SetNetwork(network Network, now time.Time) {
	cp := network.Clone()

	s.mu.Lock()
	s.network = cp
	for name, r := range cp.Internal {
		if n, ok := s.nodes[name]; ok {
			n.ping = r.Clone()
		}
	}
	s.updated.Network = now.UnixMilli()
	s.version++
	s.mu.Unlock()

	s.notify()
}

// UpdateTraffic records the latest WAN rates in MB/s and appends them to
// the traffic history.
func (s *Store) UpdateTraffic(in, out float64, now time.Time) {
	s.mu.Lock()
	s.traffic.In = in
	s.traffic.Out = out
	s.traffic.History.In = appendBounded(s.traffic.History.In, in, s.historyLen)
	s.traffic.History.Out = appendBounded(s.traffic.History.Out, out, s.historyLen)
	s.updated.Traffic = now.UnixMilli()
	s.version++
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	snap, _ := s.SnapshotVersioned()
	return snap
}

// SnapshotVersioned returns a deep copy of the current state together with
// the version it was taken at.
func (s *Store) SnapshotVersioned() (Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make(map[string]NodeStatus, len(s.nodes))
	for name, n := range s.nodes {
		nodes[name] = NodeStatus{
			CPU:      n.latest.CPUPercent,
			GPU:      n.latest.GPUPercent,
			Mem:      n.latest.MemMB,
			App:      n.latest.ActiveApp,
			LastSeen: n.lastSeen,
			History: NodeHistory{
				CPU: cloneSeries(n.cpu),
				GPU: cloneSeries(n.gpu),
			},
			Ping: n.ping.Clone(),
		}
	}

	return Snapshot{
		Nodes:   nodes,
		Disks:   cloneDisks(s.disks),
		Network: s.network.Clone(),
		Traffic: s.traffic.clone(),
		Updated: s.updated,
		Stats:   s.stats,
	}, s.version
}

// Changes signals after mutations. Signals are coalesced: a receiver that
// falls behind sees one pending signal, not one per mutation.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
