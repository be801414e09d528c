package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"

	"github.com/jaypipes/ghw"
)

func TestParseLatency(t *testing.T) {
	tests := []struct {
		name   string
		out    string
		want   float64
		wantOK bool
	}{
		{
			name:   "linux",
			out:    "PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.\n64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=12.3 ms\n\n--- 8.8.8.8 ping statistics ---\n1 packets transmitted, 1 received, 0% packet loss, time 0ms\n",
			want:   12.3,
			wantOK: true,
		},
		{
			name:   "windows",
			out:    "Reply from 10.0.1.99: bytes=32 time=4ms TTL=64\r\n",
			want:   4,
			wantOK: true,
		},
		{
			name:   "windows sub millisecond",
			out:    "Reply from 10.0.1.1: bytes=32 time<1ms TTL=64\r\n",
			want:   1,
			wantOK: true,
		},
		{
			name:   "summary only",
			out:    "1 packets transmitted, 0 received, 100% packet loss, time 0ms\n",
			wantOK: false,
		},
		{
			name:   "empty",
			out:    "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLatency(tt.out)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPingArgs(t *testing.T) {
	tests := []struct {
		goos    string
		timeout time.Duration
		want    []string
	}{
		{"linux", 2 * time.Second, []string{"-c", "1", "-W", "2", "host"}},
		{"linux", 100 * time.Millisecond, []string{"-c", "1", "-W", "1", "host"}},
		{"darwin", 3 * time.Second, []string{"-c", "1", "-t", "3", "host"}},
		{"windows", 1500 * time.Millisecond, []string{"-n", "1", "-w", "1500", "host"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			if got := pingArgs(tt.goos, "host", tt.timeout); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecPinger(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the ping command")
	}
	dir := t.TempDir()

	reply := filepath.Join(dir, "reply")
	if err := os.WriteFile(reply, []byte("#!/bin/sh\necho '64 bytes from x: icmp_seq=1 ttl=64 time=0.456 ms'\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	fail := filepath.Join(dir, "fail")
	if err := os.WriteFile(fail, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	hang := filepath.Join(dir, "hang")
	if err := os.WriteFile(hang, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("reply", func(t *testing.T) {
		r := ExecPinger{Command: reply}.Ping(context.Background(), "10.0.1.99")
		if !r.Reachable || r.LatencyMs == nil || *r.LatencyMs != 0.46 || r.Address != "10.0.1.99" {
			t.Errorf("unexpected result %+v", r)
		}
	})

	t.Run("non zero exit", func(t *testing.T) {
		r := ExecPinger{Command: fail}.Ping(context.Background(), "10.0.1.99")
		if r.Reachable || r.LatencyMs != nil {
			t.Errorf("expected unreachable, got %+v", r)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		r := ExecPinger{Command: filepath.Join(dir, "nope")}.Ping(context.Background(), "10.0.1.99")
		if r.Reachable {
			t.Errorf("expected unreachable, got %+v", r)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		r := ExecPinger{Command: hang, Timeout: 200 * time.Millisecond}.Ping(context.Background(), "10.0.1.99")
		if r.Reachable {
			t.Errorf("expected unreachable, got %+v", r)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("ping was not bounded by its timeout: %v", elapsed)
		}
	})
}

func TestCallWithContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := callWithContext(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCallWithContextResult(t *testing.T) {
	v, err := callWithContext(context.Background(), func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestLocalDisksMissingMount(t *testing.T) {
	d := NewLocalDisks(time.Second, false)
	_, err := d.Usage(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalDisksExistingPath(t *testing.T) {
	d := NewLocalDisks(5*time.Second, false)
	st, err := d.Usage(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalBytes == 0 || st.FreeBytes > st.TotalBytes {
		t.Errorf("implausible usage %+v", st)
	}
}

func TestLocalDisksRequireMount(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("mount table layout differs")
	}
	d := NewLocalDisks(5*time.Second, true)
	_, err := d.Usage(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a plain directory to be reported as not mounted, got %v", err)
	}
}

func TestDriveMetaBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	prev := map[string]driveMeta{"/mnt/lib": {DriveType: "HDD", Model: "WD Red"}}
	d := NewLocalDisks(time.Second, false)
	d.blockInfo = func() (*ghw.BlockInfo, error) {
		<-release
		return &ghw.BlockInfo{}, nil
	}
	d.meta = prev
	d.metaUpdatedAt = time.Now().Add(-2 * driveMetaTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := d.driveMeta(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("drive metadata lookup was not bounded by its context: %v", elapsed)
	}
	if !reflect.DeepEqual(got, prev) {
		t.Errorf("expected the previous table on timeout, got %v", got)
	}
}

func TestUsageWithStuckDriveMeta(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := NewLocalDisks(100*time.Millisecond, false)
	d.blockInfo = func() (*ghw.BlockInfo, error) {
		<-release
		return nil, errors.New("unreachable")
	}

	start := time.Now()
	st, err := d.Usage(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("usage was not bounded by its timeout: %v", elapsed)
	}
	if st.TotalBytes == 0 || st.DriveType != "" {
		t.Errorf("unexpected stat %+v", st)
	}
}

func TestSNMPCountersOIDs(t *testing.T) {
	c := NewSNMPCounters(SNMPConfig{Target: "10.0.1.1", IfIndex: 2})
	if c.inOID != ".1.3.6.1.2.1.2.2.1.10.2" || c.outOID != ".1.3.6.1.2.1.2.2.1.16.2" || c.Width() != 32 {
		t.Errorf("unexpected 32-bit setup: %s %s %d", c.inOID, c.outOID, c.Width())
	}
	if c.cfg.Port != 161 || c.cfg.Community != "public" {
		t.Errorf("unexpected defaults: %+v", c.cfg)
	}

	hc := NewSNMPCounters(SNMPConfig{Target: "10.0.1.1", IfIndex: 2, HighCapacity: true})
	if hc.inOID != ".1.3.6.1.2.1.31.1.1.1.6.2" || hc.outOID != ".1.3.6.1.2.1.31.1.1.1.10.2" || hc.Width() != 64 {
		t.Errorf("unexpected 64-bit setup: %s %s %d", hc.inOID, hc.outOID, hc.Width())
	}
}

func TestDriveTypeLabel(t *testing.T) {
	tests := []struct {
		driveType, controller, want string
	}{
		{"SSD", "NVMe", "NVMe"},
		{"hdd", "SCSI", "HDD"},
		{"unknown", "virtio", "VIRTIO"},
		{"", "unknown", ""},
	}
	for _, tt := range tests {
		if got := driveTypeLabel(tt.driveType, tt.controller); got != tt.want {
			t.Errorf("driveTypeLabel(%q, %q) = %q, want %q", tt.driveType, tt.controller, got, tt.want)
		}
	}
}
