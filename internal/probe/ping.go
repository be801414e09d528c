package probe

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tomek7667/rendermon/internal/counter"
	"github.com/tomek7667/rendermon/internal/domain"
)

// ExecPinger runs the system ping utility once per call. Raw ICMP sockets
// need elevated privileges; the setuid ping binary does not.
type ExecPinger struct {
	Timeout time.Duration
	// Command defaults to "ping".
	Command string
}

func (p ExecPinger) Ping(ctx context.Context, address string) domain.Reachability {
	r := domain.Reachability{Address: address}

	timeout := timeoutOrDefault(p.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := p.Command
	if command == "" {
		command = "ping"
	}
	out, err := exec.CommandContext(ctx, command, pingArgs(runtime.GOOS, address, timeout)...).Output()
	if err != nil {
		return r
	}

	if ms, ok := parseLatency(string(out)); ok {
		r.Reachable = true
		r.LatencyMs = domain.Float(counter.Round(ms, 2))
	}
	return r
}

func pingArgs(goos, address string, timeout time.Duration) []string {
	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), address}
	case "darwin", "freebsd":
		return []string{"-c", "1", "-t", strconv.Itoa(secs), address}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(secs), address}
	}
}

// parseLatency extracts the round trip time from ping output such as
// "time=12.3 ms", "time=12ms" or "time<1ms".
func parseLatency(out string) (float64, bool) {
	for _, line := range strings.Split(out, "\n") {
		idx := strings.Index(line, "time")
		for idx >= 0 {
			rest := line[idx+len("time"):]
			if len(rest) > 0 && (rest[0] == '=' || rest[0] == '<') {
				field := strings.Fields(rest[1:])
				if len(field) > 0 {
					v := strings.TrimSuffix(field[0], "ms")
					if ms, err := strconv.ParseFloat(v, 64); err == nil {
						return ms, true
					}
				}
			}
			next := strings.Index(rest, "time")
			if next < 0 {
				break
			}
			idx += len("time") + next
		}
	}
	return 0, false
}
