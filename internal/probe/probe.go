// Package probe samples the outside world for the link monitor: WAN octet
// counters, host reachability and disk usage. Every call is bounded by a
// timeout so an unresponsive target cannot stall a polling loop.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomek7667/rendermon/internal/domain"
)

const DefaultTimeout = 2 * time.Second

var (
	// ErrNotFound is returned when the probed object does not exist, such as
	// an unmounted disk or a missing counter.
	ErrNotFound = errors.New("probe: not found")
	ErrTimeout  = errors.New("probe: timed out")
)

// Octets is one reading of an interface's byte counters.
type Octets struct {
	In  uint64
	Out uint64
}

// CounterSource reads the in/out octet counters of the monitored link.
type CounterSource interface {
	ReadOctets(ctx context.Context) (Octets, error)
	// Width is the counter size in bits; counters wrap at 2^Width.
	Width() uint
}

// Pinger checks whether a host answers. Failures are reported as an
// unreachable result rather than an error.
type Pinger interface {
	Ping(ctx context.Context, address string) domain.Reachability
}

// DiskStat is the raw usage of one mount point.
type DiskStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	Filesystem string
	DriveType  string
	Model      string
}

// DiskStatter reports usage for a mount point, or ErrNotFound.
type DiskStatter interface {
	Usage(ctx context.Context, mount string) (DiskStat, error)
}

// callWithContext runs fn on its own goroutine and gives up when ctx is
// done. Used for calls that do not honour a context themselves (statfs on a
// hung network mount). The goroutine finishes whenever fn returns.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
