package agent

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const idleApp = "idle"

type procSample struct {
	Name       string
	CPUPercent float64
}

// appSampler reports the application a node is busy with.
type appSampler struct {
	watch  []string
	minCPU float64

	prevTimes  map[int32]float64
	lastSample time.Time
}

func (a *appSampler) Active(ctx context.Context, now time.Time) (string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return "", err
	}

	elapsed := now.Sub(a.lastSample).Seconds()
	cores := max(runtime.NumCPU(), 1)
	next := make(map[int32]float64, len(procs))
	samples := make([]procSample, 0, len(procs))

	for _, p := range procs {
		if p == nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		s := procSample{Name: name}
		if times, err := p.TimesWithContext(ctx); err == nil && times != nil {
			total := cpuTimesTotal(*times)
			next[p.Pid] = total
			if prev, ok := a.prevTimes[p.Pid]; ok && elapsed > 0 {
				s.CPUPercent = min(max(total-prev, 0)/elapsed*100/float64(cores), 100)
			}
		}
		samples = append(samples, s)
	}

	a.prevTimes = next
	a.lastSample = now
	return chooseApp(a.watch, samples, a.minCPU), nil
}

// chooseApp picks the first watched application that is running, in watch
// list order, then the busiest process at or above minCPU, then idle.
func chooseApp(watch []string, procs []procSample, minCPU float64) string {
	running := make(map[string]string, len(procs))
	for _, p := range procs {
		running[appKey(p.Name)] = p.Name
	}
	for _, w := range watch {
		if _, ok := running[appKey(w)]; ok {
			return w
		}
	}

	var top *procSample
	for i := range procs {
		if procs[i].CPUPercent < minCPU {
			continue
		}
		if top == nil || procs[i].CPUPercent > top.CPUPercent {
			top = &procs[i]
		}
	}
	if top == nil {
		return idleApp
	}
	if ext := filepath.Ext(top.Name); strings.EqualFold(ext, ".exe") {
		return strings.TrimSuffix(top.Name, ext)
	}
	return top.Name
}

// appKey matches "Maya.exe" against a watch entry "maya".
func appKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}
