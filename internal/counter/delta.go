// Package counter derives byte rates from monotonically increasing
// interface octet counters.
package counter

import (
	"errors"
	"math"
	"time"
)

const bytesPerMB = 1024 * 1024

// ErrNoElapsed is returned by Rate when no time has passed between samples.
var ErrNoElapsed = errors.New("counter: elapsed time must be positive")

// Delta returns how far a width-bit counter advanced from prev to curr.
//
// A curr smaller than prev is treated as exactly one wrap of the counter.
// If the counter wrapped more than once between the two samples the result
// is short by a multiple of 2^width; sample often enough that this cannot
// happen (a 32-bit counter on a 1 Gbit/s link wraps every ~34s).
func Delta(prev, curr uint64, width uint) uint64 {
	if curr >= prev {
		return curr - prev
	}
	if width == 0 || width >= 64 {
		// unsigned subtraction already wraps modulo 2^64
		return curr - prev
	}
	return curr + (uint64(1) << width) - prev
}

// Rate converts a byte delta observed over elapsed into MB/s.
func Rate(deltaBytes uint64, elapsed time.Duration) (float64, error) {
	if elapsed <= 0 {
		return 0, ErrNoElapsed
	}
	return float64(deltaBytes) / bytesPerMB / elapsed.Seconds(), nil
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
