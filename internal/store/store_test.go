package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tomek7667/rendermon/internal/domain"
)

var t0 = time.Unix(1700000000, 0)

func sample(name string, cpu, gpu float64, mem int64, app string) domain.NodeSample {
	return domain.NodeSample{Name: name, CPUPercent: cpu, GPUPercent: gpu, MemMB: mem, ActiveApp: app}
}

func TestApplyTwoSamples(t *testing.T) {
	s := New(DefaultHistoryLength)
	s.Apply(sample("RENDER01", 55.5, 10.0, 2048, "maya"), t0)
	s.Apply(sample("RENDER01", 60.0, 12.0, 2100, "nuke"), t0.Add(2*time.Second))

	snap := s.Snapshot()
	n, ok := snap.Nodes["RENDER01"]
	if !ok {
		t.Fatal("expected RENDER01 in snapshot")
	}
	if n.CPU != 60.0 || n.GPU != 12.0 || n.Mem != 2100 || n.App != "nuke" {
		t.Errorf("unexpected latest values %+v", n)
	}
	if n.LastSeen != t0.Add(2*time.Second).Unix() {
		t.Errorf("expected lastSeen %d, got %d", t0.Add(2*time.Second).Unix(), n.LastSeen)
	}
	if !reflect.DeepEqual(n.History.CPU, []float64{55.5, 60.0}) {
		t.Errorf("unexpected cpu history %v", n.History.CPU)
	}
	if !reflect.DeepEqual(n.History.GPU, []float64{10.0, 12.0}) {
		t.Errorf("unexpected gpu history %v", n.History.GPU)
	}
	if n.Ping.Reachable || n.Ping.LatencyMs != nil {
		t.Errorf("expected unknown reachability, got %+v", n.Ping)
	}
	if snap.Stats.Applied != 2 {
		t.Errorf("expected 2 applied, got %d", snap.Stats.Applied)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	const limit = 5
	for _, n := range []int{1, limit - 1, limit, limit + 1, 3*limit + 2} {
		t.Run(fmt.Sprintf("%d samples", n), func(t *testing.T) {
			s := New(limit)
			var cpus, gpus []float64
			for i := 0; i < n; i++ {
				cpu, gpu := float64(i), float64(i)+0.5
				s.Apply(sample("N", cpu, gpu, int64(i), "app"), t0.Add(time.Duration(i)*time.Second))
				cpus = append(cpus, cpu)
				gpus = append(gpus, gpu)

				h := s.Snapshot().Nodes["N"].History
				if len(h.CPU) > limit || len(h.CPU) != len(h.GPU) {
					t.Fatalf("after %d samples: cpu=%d gpu=%d", i+1, len(h.CPU), len(h.GPU))
				}
			}

			keep := n
			if keep > limit {
				keep = limit
			}
			h := s.Snapshot().Nodes["N"].History
			if !reflect.DeepEqual(h.CPU, cpus[len(cpus)-keep:]) {
				t.Errorf("cpu history %v, want %v", h.CPU, cpus[len(cpus)-keep:])
			}
			if !reflect.DeepEqual(h.GPU, gpus[len(gpus)-keep:]) {
				t.Errorf("gpu history %v, want %v", h.GPU, gpus[len(gpus)-keep:])
			}
		})
	}
}

func TestNewDefaultsHistoryLength(t *testing.T) {
	if got := New(0).HistoryLength(); got != DefaultHistoryLength {
		t.Errorf("expected %d, got %d", DefaultHistoryLength, got)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	s := New(10)
	s.Apply(sample("A", 1, 2, 3, "x"), t0)
	s.SetDisks(map[string]domain.DiskUsage{
		"/mnt/lib":  {TotalGB: domain.Float(100), UsedGB: domain.Float(40), UsedPercent: domain.Float(40)},
		"/mnt/gone": {},
	}, t0)
	s.SetNetwork(Network{
		Internal: map[string]domain.Reachability{"NAS": {Address: "10.0.1.99", Reachable: true, LatencyMs: domain.Float(0.4)}},
	}, t0)
	s.UpdateTraffic(1.25, 0.5, t0)

	first, v1 := s.SnapshotVersioned()
	second, v2 := s.SnapshotVersioned()
	if v1 != v2 {
		t.Errorf("version changed without mutation: %d -> %d", v1, v2)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("snapshots differ:\n%+v\n%+v", first, second)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("encoded snapshots differ:\n%s\n%s", a, b)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := New(10)
	s.Apply(sample("A", 1, 2, 3, "x"), t0)
	s.SetDisks(map[string]domain.DiskUsage{"/d": {TotalGB: domain.Float(10), UsedGB: domain.Float(1), UsedPercent: domain.Float(10)}}, t0)
	s.SetNetwork(Network{External: map[string]domain.Reachability{"DNS": {Reachable: true, LatencyMs: domain.Float(9)}}}, t0)
	s.UpdateTraffic(1, 2, t0)

	snap := s.Snapshot()
	n := snap.Nodes["A"]
	n.History.CPU[0] = 999
	*snap.Disks["/d"].TotalGB = 999
	*snap.Network.External["DNS"].LatencyMs = 999
	snap.Traffic.History.In[0] = 999
	snap.Nodes["B"] = NodeStatus{}

	again := s.Snapshot()
	if again.Nodes["A"].History.CPU[0] != 1 {
		t.Error("node history shared with snapshot")
	}
	if *again.Disks["/d"].TotalGB != 10 {
		t.Error("disk usage shared with snapshot")
	}
	if *again.Network.External["DNS"].LatencyMs != 9 {
		t.Error("reachability shared with snapshot")
	}
	if again.Traffic.History.In[0] != 1 {
		t.Error("traffic history shared with snapshot")
	}
	if _, ok := again.Nodes["B"]; ok {
		t.Error("node map shared with snapshot")
	}
}

func TestSetDisksCopiesInput(t *testing.T) {
	s := New(10)
	in := map[string]domain.DiskUsage{"/d": {TotalGB: domain.Float(10)}}
	s.SetDisks(in, t0)
	*in["/d"].TotalGB = 1
	in["/other"] = domain.DiskUsage{}

	snap := s.Snapshot()
	if *snap.Disks["/d"].TotalGB != 10 || len(snap.Disks) != 1 {
		t.Errorf("store kept a reference to the caller's map: %+v", snap.Disks)
	}
}

func TestEmptySnapshotEncoding(t *testing.T) {
	b, err := json.Marshal(New(10).Snapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"nodes":{},"disks":{},"network":{"internal":{},"external":{}},"traffic":{"in":0,"out":0,"history":{"in":[],"out":[]}},"updated":{"nodes":0,"disks":0,"network":0,"traffic":0},"stats":{"applied":0,"malformed":0}}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}
}

func TestAbsentDiskEncodesNulls(t *testing.T) {
	s := New(10)
	s.SetDisks(map[string]domain.DiskUsage{"/mnt/renders_b": {}}, t0)

	b, err := json.Marshal(s.Snapshot().Disks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"/mnt/renders_b":{"totalGb":null,"usedGb":null,"usedPercent":null}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestTrafficHistory(t *testing.T) {
	s := New(3)
	for i := 1; i <= 5; i++ {
		s.UpdateTraffic(float64(i), float64(-i), t0.Add(time.Duration(i)*time.Second))
	}

	tr := s.Snapshot().Traffic
	if tr.In != 5 || tr.Out != -5 {
		t.Errorf("unexpected current rates %v/%v", tr.In, tr.Out)
	}
	if !reflect.DeepEqual(tr.History.In, []float64{3, 4, 5}) || !reflect.DeepEqual(tr.History.Out, []float64{-3, -4, -5}) {
		t.Errorf("unexpected history %+v", tr.History)
	}
}

func TestInternalHostReachabilityAppliesToNode(t *testing.T) {
	s := New(10)
	s.Apply(sample("RENDER003", 1, 1, 1, "x"), t0)
	s.SetNetwork(Network{
		Internal: map[string]domain.Reachability{
			"RENDER003": {Address: "render003.local", Reachable: true, LatencyMs: domain.Float(1.5)},
			"RENDER005": {Address: "render005.local", Reachable: false},
		},
	}, t0)

	snap := s.Snapshot()
	if p := snap.Nodes["RENDER003"].Ping; !p.Reachable || p.LatencyMs == nil || *p.LatencyMs != 1.5 {
		t.Errorf("unexpected ping for existing node: %+v", p)
	}

	// A node that first reports after the health check picks up the known state.
	s.Apply(sample("RENDER005", 1, 1, 1, "x"), t0.Add(time.Second))
	if p := s.Snapshot().Nodes["RENDER005"].Ping; p.Address != "render005.local" || p.Reachable {
		t.Errorf("unexpected ping for new node: %+v", p)
	}
}

func TestFreshnessAndVersion(t *testing.T) {
	s := New(10)
	if _, v := s.SnapshotVersioned(); v != 0 {
		t.Fatalf("expected version 0, got %d", v)
	}

	s.Apply(sample("A", 1, 1, 1, "x"), t0)
	s.SetDisks(nil, t0.Add(time.Second))
	s.SetNetwork(Network{}, t0.Add(2*time.Second))
	s.UpdateTraffic(0, 0, t0.Add(3*time.Second))
	s.RecordMalformed()

	snap, v := s.SnapshotVersioned()
	if v != 5 {
		t.Errorf("expected version 5, got %d", v)
	}
	want := Freshness{
		Nodes:   t0.UnixMilli(),
		Disks:   t0.Add(time.Second).UnixMilli(),
		Network: t0.Add(2 * time.Second).UnixMilli(),
		Traffic: t0.Add(3 * time.Second).UnixMilli(),
	}
	if snap.Updated != want {
		t.Errorf("got %+v, want %+v", snap.Updated, want)
	}
	if snap.Stats.Malformed != 1 {
		t.Errorf("expected 1 malformed, got %d", snap.Stats.Malformed)
	}
}

func TestChangesAreCoalesced(t *testing.T) {
	s := New(10)
	for i := 0; i < 10; i++ {
		s.Apply(sample("A", 1, 1, 1, "x"), t0)
	}

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("expected signals to be coalesced")
	default:
	}
}

func TestWithoutStaleNodes(t *testing.T) {
	s := New(10)
	s.Apply(sample("OLD", 1, 1, 1, "x"), t0)
	s.Apply(sample("NEW", 1, 1, 1, "x"), t0.Add(50*time.Second))

	snap := s.Snapshot()
	filtered := snap.WithoutStaleNodes(t0.Add(60*time.Second), 30*time.Second)
	if _, ok := filtered.Nodes["OLD"]; ok {
		t.Error("expected OLD to be filtered")
	}
	if _, ok := filtered.Nodes["NEW"]; !ok {
		t.Error("expected NEW to be kept")
	}
	if len(snap.Nodes) != 2 {
		t.Error("filter modified the original snapshot")
	}
	if len(s.Snapshot().Nodes) != 2 {
		t.Error("filter removed nodes from the store")
	}
	if got := snap.WithoutStaleNodes(t0.Add(time.Hour), 0); len(got.Nodes) != 2 {
		t.Error("zero max age should disable filtering")
	}
}

func TestConcurrentApplyAndSnapshot(t *testing.T) {
	const (
		writers = 8
		perNode = 200
		limit   = 50
	)
	s := New(limit)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				for name, n := range snap.Nodes {
					if len(n.History.CPU) != len(n.History.GPU) || len(n.History.CPU) > limit {
						t.Errorf("torn history for %s: cpu=%d gpu=%d", name, len(n.History.CPU), len(n.History.GPU))
						return
					}
					// every sample carries cpu == gpu == mem, so any mix of fields is visible
					if n.CPU != n.GPU || int64(n.CPU) != n.Mem {
						t.Errorf("torn latest values for %s: %+v", name, n)
						return
					}
				}
			}
		}()
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("RENDER%02d", w)
			for i := 0; i < perNode; i++ {
				v := float64(i)
				s.Apply(sample(name, v, v, int64(i), "app"), t0.Add(time.Duration(i)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	snap := s.Snapshot()
	if len(snap.Nodes) != writers {
		t.Fatalf("expected %d nodes, got %d", writers, len(snap.Nodes))
	}
	if snap.Stats.Applied != writers*perNode {
		t.Errorf("expected %d applied, got %d", writers*perNode, snap.Stats.Applied)
	}
	for name, n := range snap.Nodes {
		if n.CPU != perNode-1 {
			t.Errorf("%s: expected last cpu %d, got %v", name, perNode-1, n.CPU)
		}
		if len(n.History.CPU) != limit {
			t.Fatalf("%s: expected %d history entries, got %d", name, limit, len(n.History.CPU))
		}
		for i, v := range n.History.CPU {
			if want := float64(perNode - limit + i); v != want {
				t.Errorf("%s: history[%d] = %v, want %v", name, i, v, want)
				break
			}
		}
	}
}
