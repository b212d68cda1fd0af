// Package chi exposes one document array over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/array"
	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/logger"
	"github.com/kailas-cloud/docarray/internal/snapshot"
	healthuc "github.com/kailas-cloud/docarray/internal/usecase/health"
)

const maxBodyBytes = 16 << 20

// Server serves an array. Handlers hold mu for the whole request since the
// array is not safe for concurrent use.
type Server struct {
	mu        sync.Mutex
	docs      *array.Array
	snapshots snapshot.Store
	health    *healthuc.Service
	logger    *zap.Logger
}

// NewServer creates an HTTP API server. snapshots may be nil to disable push.
func NewServer(docs *array.Array, snapshots snapshot.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{docs: docs, snapshots: snapshots, logger: logger}
	s.health = healthuc.New(healthuc.CheckerFunc(func(ctx context.Context) error {
		_, err := s.docs.Backend().DocIDExists(ctx, "_health")
		return err
	}))
	if c, ok := snapshots.(healthuc.Checker); ok {
		s.health.With("snapshots", c)
	}
	return s
}

// Register mounts every route on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/docs", func(r chi.Router) {
		r.Get("/", s.ListDocuments)
		r.Post("/", s.AddDocument)
		r.Get("/{key}", s.GetDocument)
		r.Delete("/{key}", s.DeleteDocument)
	})
	r.Get("/offsets", s.ListOffsets)
	r.Get("/export", s.Export)
	r.Post("/snapshots/{name}", s.PushSnapshot)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    healthuc.Status                 `json:"status"`
	Checks    map[string]healthuc.CheckResult `json:"checks"`
	Backend   string                          `json:"backend"`
	Documents int                             `json:"documents"`
}

// HealthCheck handles GET /health by probing the backend.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := s.health.Check(r.Context())
	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{
		Status:    report.Status,
		Checks:    report.Checks,
		Backend:   s.docs.Backend().Name(),
		Documents: s.docs.Len(),
	})
}

// ListResponse is the body of GET /docs.
type ListResponse struct {
	Length int      `json:"length"`
	IDs    []string `json:"ids"`
}

// ListDocuments handles GET /docs.
func (s *Server) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, ListResponse{Length: s.docs.Len(), IDs: s.docs.IDs()})
}

// selectorFor reads key as an id when the array holds it, else as an offset.
func (s *Server) selectorFor(key string) array.Selector {
	if s.docs.Contains(key) {
		return array.ID(key)
	}
	if n, err := strconv.Atoi(key); err == nil {
		return array.Offset(n)
	}
	return array.ID(key)
}

// GetDocument handles GET /docs/{key}; key is an id or an offset.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.docs.Get(r.Context(), s.selectorFor(chi.URLParam(r, "key")))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs[0])
}

// AddResponse is the body of a successful POST /docs.
type AddResponse struct {
	ID     string `json:"id"`
	Offset int    `json:"offset"`
}

// AddDocument handles POST /docs: append, or insert before ?at=k.
func (s *Server) AddDocument(w http.ResponseWriter, r *http.Request) {
	var doc document.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	at, insert := 0, false
	if v := r.URL.Query().Get("at"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("at must be an integer, got %q", v))
			return
		}
		at, insert = n, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if insert {
		err = s.docs.Insert(r.Context(), at, doc)
	} else {
		err = s.docs.Append(r.Context(), doc)
	}
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	offset := s.docs.Len() - 1
	if insert && at >= 0 {
		offset = at
	} else if insert {
		offset = at + s.docs.Len() - 1
	}
	logger.FromContext(r.Context()).Debug("Document added", zap.String("id", doc.ID()), zap.Int("offset", offset))
	writeJSON(w, http.StatusCreated, AddResponse{ID: doc.ID(), Offset: offset})
}

// DeleteDocument handles DELETE /docs/{key}; key is an id or an offset.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.docs.Delete(r.Context(), s.selectorFor(chi.URLParam(r, "key"))); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOffsets handles GET /offsets with the persisted offset meta.
func (s *Server) ListOffsets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.docs.OffsetIDs(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []offsetid.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ExportResponse is the body of GET /export.
type ExportResponse struct {
	Protocol codec.Protocol    `json:"protocol"`
	Compress codec.Compression `json:"compress"`
	Payload  string            `json:"payload"`
}

// Export handles GET /export?protocol=&compress= with a base64 payload.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := codec.ParseProtocol(q.Get("protocol"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	c, err := codec.ParseCompression(q.Get("compress"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.docs.ToBase64(r.Context(), p, c)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{Protocol: p, Compress: c, Payload: payload})
}

// errNoSnapshots is returned when push is requested without a store.
var errNoSnapshots = errors.New("snapshot store is not configured")

// PushSnapshot handles POST /snapshots/{name}.
func (s *Server) PushSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotImplemented, CodeNotEnabled, errNoSnapshots.Error())
		return
	}
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.docs.Push(r.Context(), s.snapshots, name); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": name, "documents": s.docs.Len()})
}
