package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/store"
)

const (
	statusPath       = "/status.json"
	legacyStatusPath = "/render_status.json"
	healthPath       = "/healthz"
)

const (
	// Encoded snapshots are small; only the most recent versions matter.
	snapshotCacheMaxCost  = 16 << 20
	snapshotCacheCounters = 1e4
	snapshotCacheBuffer   = 64
)

func newSnapshotCache() (*ristretto.Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: snapshotCacheCounters,
		MaxCost:     snapshotCacheMaxCost,
		BufferItems: snapshotCacheBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot cache: %w", err)
	}
	return cache, nil
}

func (s *Server) AddStatusRoutes() {
	s.r.Get(statusPath, s.handleStatus)
	s.r.Get(legacyStatusPath, s.handleStatus)

	s.r.Get(healthPath, func(w http.ResponseWriter, r *http.Request) {
		snap, version := s.store.SnapshotVersioned()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
			"updated": snap.Updated,
		})
	})
}

func (s *Server) AddNodeRoutes() {
	s.r.Get("/api/nodes", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := s.filteredSnapshot(w, r)
		if !ok {
			return
		}
		names := make([]string, 0, len(snap.Nodes))
		for name := range snap.Nodes {
			names = append(names, name)
		}
		sort.Strings(names)
		writeJSON(w, http.StatusOK, names)
	})

	s.r.Get("/api/nodes/{name}", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := s.filteredSnapshot(w, r)
		if !ok {
			return
		}
		node, ok := snap.Nodes[chi.URLParam(r, "name")]
		if !ok {
			http.Error(w, "unknown node", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, node)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	maxAge, err := s.maxAge(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, version := s.store.SnapshotVersioned()
	var body []byte
	if maxAge > 0 {
		body, err = json.Marshal(snap.WithoutStaleNodes(s.now(), maxAge))
	} else {
		body, err = s.encodedSnapshot(snap, version)
	}
	if err != nil {
		s.log.Error("failed to encode snapshot", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	setJSONHeaders(w)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// encodedSnapshot returns the JSON for the snapshot taken at version,
// reusing the encoding when the store has not changed since.
func (s *Server) encodedSnapshot(snap store.Snapshot, version uint64) ([]byte, error) {
	if v, ok := s.cache.Get(version); ok {
		if body, ok := v.([]byte); ok {
			return body, nil
		}
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	s.cache.Set(version, body, int64(len(body)))
	return body, nil
}

func (s *Server) filteredSnapshot(w http.ResponseWriter, r *http.Request) (store.Snapshot, bool) {
	maxAge, err := s.maxAge(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return store.Snapshot{}, false
	}
	snap, _ := s.store.SnapshotVersioned()
	return snap.WithoutStaleNodes(s.now(), maxAge), true
}

// maxAge reads the maxAge query parameter, either a duration ("30s") or a
// number of seconds. Without it the server default applies.
func (s *Server) maxAge(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("maxAge")
	if raw == "" {
		return s.nodeMaxAge, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid maxAge %q", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid maxAge %q", raw)
	}
	return d, nil
}

func setJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setJSONHeaders(w)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
