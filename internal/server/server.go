// Package server is the HTTP collaborator: producers push change envelopes
// through it and operators read the observability surface. It never mutates
// graphs itself; every write goes through the queue and the single worker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/untoldecay/graphtwin/internal/audit"
	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/graph"
	"github.com/untoldecay/graphtwin/internal/monitor"
	"github.com/untoldecay/graphtwin/internal/queue"
	"github.com/untoldecay/graphtwin/internal/store"
)

// maxBodyBytes bounds request bodies; direct imports of large graphs fit
// comfortably.
const maxBodyBytes = 64 << 20

// Server wires the HTTP surface to the queue, store, monitor, and audit
// trail.
type Server struct {
	queue   queue.Queue
	store   *store.Store
	monitor *monitor.Monitor
	audit   audit.Log
	log     *slog.Logger
}

func New(q queue.Queue, st *store.Store, mon *monitor.Monitor, aud audit.Log, log *slog.Logger) *Server {
	return &Server{queue: q, store: st, monitor: mon, audit: aud, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/changes", s.handleChanges)
	mux.HandleFunc("/api/changes/bulk", s.handleBulkChanges)
	mux.HandleFunc("/api/versions", s.handleVersions)
	mux.HandleFunc("/api/versions/", s.handleVersionSubtree)
	mux.HandleFunc("/api/queue", s.handleQueue)
	mux.HandleFunc("/api/processing", s.handleProcessing)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/audit", s.handleAudit)
	return mux
}

// ListenAndServe serves on the configured host and port until ctx is
// cancelled, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(config.GetString("server.host"), strconv.Itoa(config.GetInt("server.port")))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		s.log.Info("http server stopped")
		return nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrBadVersion):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrBusy):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	pending, err := s.queue.Len(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	inflight, _ := s.queue.InFlight(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pending":   pending,
		"in_flight": inflight,
	})
}

// readEnvelope pulls a validated envelope plus its raw bytes from the
// request. The raw bytes are what gets queued, so the worker sees exactly
// what the producer sent.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) (*change.Envelope, []byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return nil, nil, false
	}
	env, err := change.Decode(body)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	return env, body, true
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	env, body, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	if err := s.queue.Push(r.Context(), body); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("enqueue: %w", err))
		return
	}
	s.log.Info("change queued",
		"action", env.Action, "version", env.Version, "timestamp", env.Timestamp)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "queued",
		"action":    env.Action,
		"type":      env.Type,
		"version":   env.Version,
		"timestamp": env.Timestamp,
	})
}

type rejectedItem struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// handleBulkChanges accepts a bulk envelope and reports a per-item
// structural breakdown at enqueue time. The whole envelope is queued as
// long as at least one item parses; apply-time failures are still possible
// and end up in the audit trail.
func (s *Server) handleBulkChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	env, body, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	if !change.IsBulk(env.Action) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Errorf("action %q is not a bulk action", env.Action))
		return
	}

	accepted := 0
	rejected := []rejectedItem{}
	for i, raw := range env.Items() {
		if _, err := change.ParseOp(env.Action, raw); err != nil {
			rejected = append(rejected, rejectedItem{Index: i, Error: err.Error()})
			continue
		}
		accepted++
	}
	if accepted == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "no valid items in bulk payload",
			"rejected": rejected,
		})
		return
	}

	if err := s.queue.Push(r.Context(), body); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("enqueue: %w", err))
		return
	}
	s.log.Info("bulk change queued",
		"action", env.Action, "version", env.Version,
		"accepted", accepted, "rejected", len(rejected))
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "queued",
		"action":   env.Action,
		"version":  env.Version,
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	versions, err := s.store.ListVersions()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// handleVersionSubtree routes /api/versions/<v>[/...]:
//
//	<v>               GET summary, DELETE version
//	<v>/schema        GET live schema
//	<v>/state         GET live state
//	<v>/archive       GET archive timestamps
//	<v>/archive/<ts>  GET snapshot pair at ts
func (s *Server) handleVersionSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/versions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("version required"))
		return
	}
	version := parts[0]

	switch {
	case len(parts) == 1:
		s.handleVersionRoot(w, r, version)
	case len(parts) == 2 && parts[1] == "schema":
		s.handleLive(w, r, version, store.Schema)
	case len(parts) == 2 && parts[1] == "state":
		s.handleLive(w, r, version, store.State)
	case len(parts) == 2 && parts[1] == "archive":
		s.handleArchiveIndex(w, r, version)
	case len(parts) == 3 && parts[1] == "archive":
		s.handleArchiveSnapshot(w, r, version, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleVersionRoot(w http.ResponseWriter, r *http.Request, version string) {
	switch r.Method {
	case http.MethodGet:
		schemaStamps, err := s.store.ArchiveTimestamps(version, store.Schema)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		stateStamps, _ := s.store.ArchiveTimestamps(version, store.State)
		resp := map[string]any{
			"version":         version,
			"schema_archives": len(schemaStamps),
			"state_archives":  len(stateStamps),
		}
		if current, ok := s.monitor.Current(version); ok {
			resp["current_timestamp"] = current
		}
		s.writeJSON(w, http.StatusOK, resp)

	case http.MethodDelete:
		if err := s.store.DeleteVersion(version); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.log.Info("version deleted", "version", version)
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "version": version})

	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

// handleLive serves the live document. Default is the stored node-link JSON
// byte-for-byte; format=compressed re-encodes with the archive codec.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, version string, kind store.Kind) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if r.URL.Query().Get("format") == "compressed" {
		g, err := s.store.LoadLive(version, kind)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		data, err := graph.MarshalCompressed(g)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	data, err := s.store.ReadLiveRaw(version, kind)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleArchiveIndex(w http.ResponseWriter, r *http.Request, version string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	schemaStamps, err := s.store.ArchiveTimestamps(version, store.Schema)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	stateStamps, err := s.store.ArchiveTimestamps(version, store.State)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if schemaStamps == nil {
		schemaStamps = []int64{}
	}
	if stateStamps == nil {
		stateStamps = []int64{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": version,
		"schema":  schemaStamps,
		"state":   stateStamps,
	})
}

// handleArchiveSnapshot serves the snapshot pair at one timestamp,
// decompressed to node-link documents. format=compressed returns the stored
// compressed documents instead.
func (s *Server) handleArchiveSnapshot(w http.ResponseWriter, r *http.Request, version, tsRaw string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("bad timestamp %q", tsRaw))
		return
	}

	compressed := r.URL.Query().Get("format") == "compressed"
	read := func(kind store.Kind) (json.RawMessage, error) {
		if compressed {
			return s.store.ReadArchiveRaw(version, kind, ts)
		}
		g, err := s.store.ReadArchive(version, kind, ts)
		if err != nil {
			return nil, err
		}
		return graph.Marshal(g)
	}

	schemaDoc, err := read(store.Schema)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	stateDoc, err := read(store.State)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":   version,
		"timestamp": ts,
		"schema":    schemaDoc,
		"state":     stateDoc,
	})
}

// handleQueue reports depth on GET and truncates on DELETE. DELETE drops
// pending items only; anything in flight is the worker's business.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending, err := s.queue.Len(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		inflight, err := s.queue.InFlight(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		byVersion, err := s.queue.LenByVersion(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"pending":    pending,
			"in_flight":  inflight,
			"by_version": byVersion,
		})

	case http.MethodDelete:
		version := r.URL.Query().Get("version")
		var dropped int
		var err error
		if version == "" {
			dropped, err = s.queue.Truncate(r.Context())
		} else {
			dropped, err = s.queue.TruncateByVersion(r.Context(), version)
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.log.Info("queue truncated", "version", version, "dropped", dropped)
		s.writeJSON(w, http.StatusOK, map[string]any{"dropped": dropped})

	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) handleProcessing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"processing": s.monitor.Processing()})
}

type versionStats struct {
	Schema           graph.Stats `json:"schema"`
	State            graph.Stats `json:"state"`
	Archives         int         `json:"archives"`
	CurrentTimestamp *int64      `json:"current_timestamp,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	versions, err := s.store.ListVersions()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	perVersion := map[string]versionStats{}
	for _, version := range versions {
		schema, err := s.store.LoadLive(version, store.Schema)
		if err != nil {
			s.log.Warn("stats skipping unreadable schema", "version", version, "error", err)
			continue
		}
		state, err := s.store.LoadLive(version, store.State)
		if err != nil {
			s.log.Warn("stats skipping unreadable state", "version", version, "error", err)
			continue
		}
		stamps, _ := s.store.ArchiveTimestamps(version, store.Schema)
		vs := versionStats{
			Schema:   schema.Stats(),
			State:    state.Stats(),
			Archives: len(stamps),
		}
		if current, ok := s.monitor.Current(version); ok {
			vs.CurrentTimestamp = &current
		}
		perVersion[version] = vs
	}

	pending, _ := s.queue.Len(r.Context())
	inflight, _ := s.queue.InFlight(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"versions": perVersion,
		"queue":    map[string]int{"pending": pending, "in_flight": inflight},
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", raw))
			return
		}
		limit = n
	}
	deltas, err := s.audit.List(r.Context(), r.URL.Query().Get("version"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if deltas == nil {
		deltas = []*audit.Delta{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deltas": deltas})
}
