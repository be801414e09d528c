package store

import (
	"time"

	"github.com/tomek7667/rendermon/internal/domain"
)

// Snapshot is a point-in-time copy of the store. It shares no memory with
// the store and can be handed to any number of readers.
type Snapshot struct {
	Nodes   map[string]NodeStatus       `json:"nodes"`
	Disks   map[string]domain.DiskUsage `json:"disks"`
	Network Network                     `json:"network"`
	Traffic Traffic                     `json:"traffic"`
	Updated Freshness                   `json:"updated"`
	Stats   Stats                       `json:"stats"`
}

type NodeStatus struct {
	CPU      float64             `json:"cpu"`
	GPU      float64             `json:"gpu"`
	Mem      int64               `json:"mem"`
	App      string              `json:"app"`
	LastSeen int64               `json:"lastSeen"`
	History  NodeHistory         `json:"history"`
	Ping     domain.Reachability `json:"ping"`
}

type NodeHistory struct {
	CPU []float64 `json:"cpu"`
	GPU []float64 `json:"gpu"`
}

// Network holds the latest reachability of the internal and external hosts,
// keyed by host name.
type Network struct {
	Internal map[string]domain.Reachability `json:"internal"`
	External map[string]domain.Reachability `json:"external"`
}

// Traffic is the WAN throughput in MB/s.
type Traffic struct {
	In      float64        `json:"in"`
	Out     float64        `json:"out"`
	History TrafficHistory `json:"history"`
}

type TrafficHistory struct {
	In  []float64 `json:"in"`
	Out []float64 `json:"out"`
}

// Freshness records when each part of the store last changed, in unix
// milliseconds. Zero means never.
type Freshness struct {
	Nodes   int64 `json:"nodes"`
	Disks   int64 `json:"disks"`
	Network int64 `json:"network"`
	Traffic int64 `json:"traffic"`
}

type Stats struct {
	Applied   uint64 `json:"applied"`
	Malformed uint64 `json:"malformed"`
}

// Clone returns a deep copy of n. Nil maps come back empty.
func (n Network) Clone() Network {
	return Network{
		Internal: cloneReachability(n.Internal),
		External: cloneReachability(n.External),
	}
}

func (t Traffic) clone() Traffic {
	t.History = TrafficHistory{
		In:  cloneSeries(t.History.In),
		Out: cloneSeries(t.History.Out),
	}
	return t
}

// WithoutStaleNodes returns a copy of s without the nodes that have not
// reported within maxAge of now. A non-positive maxAge returns s unchanged.
func (s Snapshot) WithoutStaleNodes(now time.Time, maxAge time.Duration) Snapshot {
	if maxAge <= 0 {
		return s
	}
	cutoff := now.Add(-maxAge).Unix()
	nodes := make(map[string]NodeStatus, len(s.Nodes))
	for name, n := range s.Nodes {
		if n.LastSeen >= cutoff {
			nodes[name] = n
		}
	}
	s.Nodes = nodes
	return s
}

func cloneReachability(src map[string]domain.Reachability) map[string]domain.Reachability {
	out := make(map[string]domain.Reachability, len(src))
	for k, v := range src {
		out[k] = v.Clone()
	}
	return out
}

func cloneDisks(src map[string]domain.DiskUsage) map[string]domain.DiskUsage {
	out := make(map[string]domain.DiskUsage, len(src))
	for k, v := range src {
		out[k] = v.Clone()
	}
	return out
}
