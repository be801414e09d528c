package agent

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
)

// cpuSampler turns cumulative CPU times into a utilisation percentage
// between two calls. The first call only seeds the baseline.
type cpuSampler struct {
	prevTotal float64
	prevIdle  float64
	havePrev  bool
}

func (c *cpuSampler) Percent(ctx context.Context) (float64, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(times) == 0 {
		return 0, nil
	}

	total := cpuTimesTotal(times[0])
	idle := times[0].Idle + times[0].Iowait
	if !c.havePrev {
		c.prevTotal, c.prevIdle, c.havePrev = total, idle, true
		return 0, nil
	}

	usage := cpuUsage(total-c.prevTotal, idle-c.prevIdle)
	c.prevTotal, c.prevIdle = total, idle
	return usage, nil
}

// cpuUsage is the busy share of totalDelta, clamped to [0, 100].
func cpuUsage(totalDelta, idleDelta float64) float64 {
	if totalDelta <= 0 {
		return 0
	}
	usage := (totalDelta - idleDelta) / totalDelta * 100
	return min(max(usage, 0), 100)
}

func cpuTimesTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Guest + t.GuestNice
}
