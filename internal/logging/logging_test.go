package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rendermon.log")
	logger, err := New(Options{Production: true, Level: "warn", File: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden below warn")
	logger.Warn("disk usage probe failed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"disk usage probe failed"`) {
		t.Errorf("expected a JSON warn line, got %q", out)
	}
	if strings.Contains(out, "hidden below warn") {
		t.Errorf("info line should be filtered, got %q", out)
	}
}
