package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var errNoNvidiaSMI = errors.New("nvidia-smi not found")

// gpuPercent returns the utilisation of the busiest NVIDIA GPU as reported
// by nvidia-smi.
func gpuPercent(ctx context.Context, command string, timeout time.Duration) (float64, error) {
	path := command
	if path == "" {
		var err error
		if path, err = findNvidiaSMI(); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path,
		"--query-gpu=utilization.gpu",
		"--format=csv,noheader,nounits",
	).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return parseGPUUtilisation(string(out))
}

// parseGPUUtilisation reads one utilisation value per line and returns the
// highest.
func parseGPUUtilisation(out string) (float64, error) {
	var (
		best  float64
		found bool
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(line, "%")), 64)
		if err != nil {
			// "[N/A]" on GPUs that do not expose utilisation
			continue
		}
		if !found || v > best {
			best, found = v, true
		}
	}
	if !found {
		return 0, fmt.Errorf("no gpu utilisation in nvidia-smi output %q", strings.TrimSpace(out))
	}
	return best, nil
}

func findNvidiaSMI() (string, error) {
	if p, err := exec.LookPath("nvidia-smi"); err == nil {
		return p, nil
	}
	if runtime.GOOS == "windows" {
		for _, c := range []string{
			os.ExpandEnv(`${ProgramFiles}\NVIDIA Corporation\NVSMI\nvidia-smi.exe`),
			os.ExpandEnv(`${SystemRoot}\System32\nvidia-smi.exe`),
		} {
			if _, err := os.Stat(c); err == nil {
				return c, nil
			}
		}
	}
	return "", errNoNvidiaSMI
}
