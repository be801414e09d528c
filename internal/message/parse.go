// Package message reads and writes the single-line telemetry record render
// nodes send to the monitor:
//
//	NAME|CPU: 55.5%|GPU: 10.0%|MEM: 2048MB|APP: maya
package message

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tomek7667/rendermon/internal/domain"
)

// ErrMalformed is wrapped by every error Parse returns.
var ErrMalformed = errors.New("malformed message")

const (
	fieldSep = "|"
	keySep   = ":"

	keyCPU = "CPU"
	keyGPU = "GPU"
	keyMem = "MEM"
	keyApp = "APP"
)

// positional is the field order used when a field carries no known key.
var positional = []string{keyCPU, keyGPU, keyMem, keyApp}

// Parse turns one record into a NodeSample. Fields after the name are
// looked up by key; a field without a recognised key takes the key of its
// position. All four fields and a non-empty name are required.
func Parse(line string) (domain.NodeSample, error) {
	parts := strings.Split(strings.TrimSpace(line), fieldSep)
	if len(parts) < 1+len(positional) {
		return domain.NodeSample{}, malformed("expected %d fields, got %d", 1+len(positional), len(parts))
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return domain.NodeSample{}, malformed("empty node name")
	}

	values := make(map[string]string, len(positional))
	for i, field := range parts[1:] {
		key, value, ok := strings.Cut(field, keySep)
		key = strings.ToUpper(strings.TrimSpace(key))
		if !ok || !isKnownKey(key) {
			if i >= len(positional) {
				continue
			}
			key, value = positional[i], field
		}
		values[key] = strings.TrimSpace(value)
	}

	for _, k := range positional {
		if _, ok := values[k]; !ok {
			return domain.NodeSample{}, malformed("missing %s field", k)
		}
	}

	cpu, err := parsePercent(keyCPU, values[keyCPU])
	if err != nil {
		return domain.NodeSample{}, err
	}
	gpu, err := parsePercent(keyGPU, values[keyGPU])
	if err != nil {
		return domain.NodeSample{}, err
	}
	mem, err := parseMegabytes(values[keyMem])
	if err != nil {
		return domain.NodeSample{}, err
	}

	return domain.NodeSample{
		Name:       name,
		CPUPercent: cpu,
		GPUPercent: gpu,
		MemMB:      mem,
		ActiveApp:  values[keyApp],
	}, nil
}

func isKnownKey(key string) bool {
	for _, k := range positional {
		if k == key {
			return true
		}
	}
	return false
}

func parsePercent(key, raw string) (float64, error) {
	s := strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, malformed("%s value %q is not a number", key, raw)
	}
	// NaN and Inf cannot be encoded into the published JSON.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, malformed("%s value %q is not finite", key, raw)
	}
	return v, nil
}

func parseMegabytes(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && strings.EqualFold(s[len(s)-2:], "MB") {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, malformed("%s value %q is not an integer", keyMem, raw)
	}
	return v, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
