// Package docserver exposes document extraction over HTTP: multipart
// uploads in, extraction results out, plus the trace collector endpoints
// that fleet nodes ship their attempt batches to.
package docserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pearl-OS/PearlOS-sub006/dbopen"
	"github.com/pearl-OS/PearlOS-sub006/docext"
	"github.com/pearl-OS/PearlOS-sub006/idgen"
	"github.com/pearl-OS/PearlOS-sub006/kit"
	"github.com/pearl-OS/PearlOS-sub006/trace"
)

const (
	// uploadOverhead covers multipart framing and form fields beyond the
	// document itself.
	uploadOverhead = 1 << 20

	// multipartMemory is the in-memory threshold before parts spill to disk.
	multipartMemory = 8 << 20
)

// Server routes extraction requests to a shared Processor.
type Server struct {
	cfg    *Config
	logger *slog.Logger

	proc   *docext.Processor // per-config defaults
	forced *docext.Processor // same deps, OCR always on

	rec     trace.Recorder
	store   *trace.Store // nil unless trace_db is configured
	traceDB *sql.DB

	newRequestID idgen.Generator
	newScratchID idgen.Generator

	router chi.Router
}

// NewServer wires a Server from configuration: extraction processors,
// the data directory and, when configured, the trace store or remote
// trace shipper.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		rec:          trace.Nop(),
		newRequestID: idgen.Prefixed("req_", idgen.NanoID(12)),
		newScratchID: idgen.Timestamped(idgen.NanoID(6)),
	}

	switch {
	case cfg.TraceURL != "":
		s.rec = trace.NewRemoteStore(cfg.TraceURL, nil)
	case cfg.TraceDB != "":
		db, err := dbopen.Open(cfg.TraceDB,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(trace.Schema),
		)
		if err != nil {
			return nil, fmt.Errorf("open trace db: %w", err)
		}
		s.traceDB = db
		s.store = trace.NewStore(db)
		s.rec = s.store
	}

	var depOpts []docext.DepsOption
	if cfg.OCR.Endpoint != "" {
		depOpts = append(depOpts, docext.WithOCREndpoint(cfg.OCR.Endpoint))
	}
	deps := docext.NewDeps(depOpts...)

	pc := cfg.ProcessorConfig()
	pc.Deps = deps
	pc.Recorder = s.rec
	pc.Logger = logger
	s.proc = docext.New(pc)

	fc := pc
	fc.ForceOCR = true
	s.forced = docext.New(fc)

	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler for mounting or testing.
func (s *Server) Handler() http.Handler { return s.router }

// Close flushes the trace recorder and releases the trace database.
func (s *Server) Close() error {
	err := s.rec.Close()
	if s.traceDB != nil {
		if cerr := s.traceDB.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("docserver listening", "addr", s.cfg.Listen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)
		r.Get("/formats", s.handleFormats)
		r.Post("/traces", trace.IngestHandler(s.rec))
		r.Get("/traces", s.handleTraceRecent)
	})
	return r
}

// requestContext assigns each request an ID (honoring an inbound
// X-Request-ID) and stamps transport metadata into the context.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = s.newRequestID()
		}
		ctx := kit.WithRequestID(r.Context(), reqID)
		ctx = kit.WithTransport(ctx, "http")
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"trace_store": s.store != nil,
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats": docext.SupportedFormats(),
	})
}

// handleExtract accepts a multipart upload under the "file" field and
// returns the extraction Result as JSON. Failed extractions respond 422
// with the same Result shape so clients parse one payload either way.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileBytes()+uploadOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		http.Error(w, fmt.Sprintf("parse form: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name, err := sanitizeName(header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, err := s.spoolUpload(file, name)
	if err != nil {
		s.logger.Error("spool upload", "request_id", kit.GetRequestID(ctx), "error", err)
		http.Error(w, "spool upload failed", http.StatusInternalServerError)
		return
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("read spooled upload", "request_id", kit.GetRequestID(ctx), "error", err)
		http.Error(w, "read upload failed", http.StatusInternalServerError)
		return
	}

	s.sniffMismatch(ctx, name, data)

	proc := s.proc
	if r.FormValue("force_ocr") == "true" {
		proc = s.forced
	}

	res := proc.Process(ctx, name, data)
	s.logger.Info("extract request",
		"request_id", kit.GetRequestID(ctx),
		"remote", kit.GetRemoteAddr(ctx),
		"file", name,
		"size", header.Size,
		"success", res.Success,
	)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *Server) handleTraceRecent(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "trace store not configured", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}
	attempts, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("trace recent", "error", err)
		http.Error(w, "trace query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"count":    len(attempts),
	})
}

// sanitizeName reduces a client-supplied filename to a safe base name.
func sanitizeName(raw string) (string, error) {
	name := filepath.Base(strings.TrimSpace(raw))
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", raw)
	}
	return name, nil
}

// spoolUpload streams the part into the data directory under a
// timestamped scratch name. The joined path must stay inside the
// uploads dir; a name that escapes it is rejected.
func (s *Server) spoolUpload(file multipart.File, name string) (string, error) {
	dir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Clean(filepath.Join(dir, s.newScratchID()+"_"+name))
	if !strings.HasPrefix(path, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe upload path for %q", name)
	}
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return path, nil
}

// sniffMismatch compares the sniffed content type against what the
// extension promises and logs disagreements. Dispatch stays
// extension-only; this is an operator signal, not a gate.
func (s *Server) sniffMismatch(ctx context.Context, name string, data []byte) {
	docType, err := docext.Detect(name)
	if err != nil {
		return
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mime := http.DetectContentType(head)

	var want string
	switch docType {
	case docext.TypePDF:
		want = "application/pdf"
	case docext.TypeDocx:
		want = "application/zip"
	default:
		// Plain-text formats sniff as too many MIME variants to compare.
		return
	}
	if !strings.HasPrefix(mime, want) {
		s.logger.Warn("extension/content mismatch",
			"request_id", kit.GetRequestID(ctx),
			"file", name,
			"document_type", string(docType),
			"sniffed_mime", mime,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
