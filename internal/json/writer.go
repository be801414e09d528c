// Package json mirrors the aggregate snapshot into a JSON file for static
// front ends that read a file instead of polling the HTTP endpoint.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/store"
)

// DefaultMinInterval bounds how often the file is rewritten.
const DefaultMinInterval = 250 * time.Millisecond

type Source interface {
	Snapshot() store.Snapshot
	Changes() <-chan struct{}
}

type Writer struct {
	Path        string
	MinInterval time.Duration

	src Source
	log *zap.Logger
}

func New(path string, src Source, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		Path:        path,
		MinInterval: DefaultMinInterval,
		src:         src,
		log:         logger,
	}
}

// Run writes the current snapshot and rewrites it after store changes
// until ctx is cancelled. Changes arriving during MinInterval are folded
// into the next write.
func (w *Writer) Run(ctx context.Context) error {
	w.log.Info("writing snapshots", zap.String("path", w.Path))
	w.writeLogged()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.src.Changes():
		}

		if w.MinInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.MinInterval):
			}
		}
		w.writeLogged()
	}
}

func (w *Writer) writeLogged() {
	if err := w.Write(); err != nil {
		w.log.Warn("failed to write snapshot", zap.Error(err))
	}
}

// Write replaces the file with the current snapshot. Readers see either
// the old or the new content, never a partial file.
func (w *Writer) Write() error {
	data, err := json.MarshalIndent(w.src.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return writeFileAtomic(w.Path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
