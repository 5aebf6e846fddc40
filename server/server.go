package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"auto_doc_writer/engine"
	"auto_doc_writer/generator"
	"auto_doc_writer/publisher"
	"auto_doc_writer/store"
)

// Server exposes documents over JSON and streams engine steps as server-sent events.
type Server struct {
	advancer engine.Advancer
	streamer *engine.Streamer
	store    *store.Store
	logger   *slog.Logger
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreamOptions configures the streamer behind the /stream endpoint.
func WithStreamOptions(opts ...engine.StreamOption) Option {
	return func(s *Server) {
		s.streamer = engine.NewStreamer(s.advancer, append(opts, engine.WithStreamLogger(s.logger))...)
	}
}

func New(advancer engine.Advancer, st *store.Store, opts ...Option) (*Server, error) {
	if advancer == nil {
		return nil, errors.New("engine required")
	}
	if st == nil {
		return nil, errors.New("store required")
	}
	s := &Server{
		advancer: advancer,
		store:    st,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streamer == nil {
		s.streamer = engine.NewStreamer(advancer, engine.WithStreamLogger(s.logger))
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/advance", s.handleAdvance)
			r.Post("/stream", s.handleStream)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

// --- Handlers ---

type createReq struct {
	Instruction string `json:"instruction"`
}

// advanceReq carries the reply to a clarifying question, or a replacement instruction.
type advanceReq struct {
	Answer string `json:"answer"`
}

type documentResp struct {
	Document store.Document   `json:"document"`
	Sections []engine.Section `json:"sections"`
	Phase    engine.Phase     `json:"phase"`
	Plan     *engine.Plan     `json:"plan,omitempty"`
	Summary  string           `json:"summary,omitempty"`
}

const summaryChars = 160

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.Instruction = strings.TrimSpace(req.Instruction)
	if req.Instruction == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "instruction is required")
		return
	}
	doc, err := s.store.CreateDocument(r.Context(), req.Instruction)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, sections, err := s.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	plan, _ := engine.DecodePlan(doc.Memory)
	rendered := publisher.RenderMarkdown(publisher.Document{Title: doc.Title, Sections: sections})
	writeJSON(w, http.StatusOK, documentResp{
		Document: doc,
		Sections: sections,
		Phase:    engine.CurrentPhase(doc.Memory),
		Plan:     plan,
		Summary:  publisher.Digest(rendered, summaryChars),
	})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.prepare(w, r)
	if !ok {
		return
	}
	res, err := s.advancer.Advance(r.Context(), req)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if err := s.store.ApplyResult(r.Context(), id, res); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.prepare(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.streamer.Stream(r.Context(), req) {
		if ev.Type == engine.EventComplete && ev.Result != nil {
			// Persist before the client sees complete so a reconnect resumes from here.
			if err := s.store.ApplyResult(context.WithoutCancel(r.Context()), id, *ev.Result); err != nil {
				s.logger.Error("server.apply_failed", "document_id", id, "error", err.Error())
				ev = engine.Event{Type: engine.EventError, Error: err.Error()}
			}
		}
		if err := writeEvent(w, ev); err != nil {
			s.logger.Info("server.stream_write_failed", "document_id", id, "error", err.Error())
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, sections, err := s.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	out := publisher.Document{Title: doc.Title, Sections: sections}
	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, publisher.RenderMarkdown(out))
	case "html":
		page, err := publisher.RenderHTML(out)
		if err != nil {
			s.handleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported format "+format)
	}
}

// --- Helpers ---

func (s *Server) load(ctx context.Context, id string) (store.Document, []engine.Section, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, nil, err
	}
	sections, err := s.store.Sections(ctx, id)
	if err != nil {
		return store.Document{}, nil, err
	}
	if sections == nil {
		sections = []engine.Section{}
	}
	return doc, sections, nil
}

func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (string, engine.Request, bool) {
	id := chi.URLParam(r, "id")
	var body advanceReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return "", engine.Request{}, false
		}
	}
	req, err := s.store.NextRequest(r.Context(), id, body.Answer)
	if err != nil {
		s.handleError(w, err)
		return "", engine.Request{}, false
	}
	req.CorrelationID = middleware.GetReqID(r.Context())
	return id, req, true
}

func (s *Server) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAnswerRequired):
		writeError(w, http.StatusBadRequest, "answer_required", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, generator.ErrAllProvidersFailed):
		writeError(w, http.StatusBadGateway, "providers_failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.logger.Error("server.internal_error", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiErrorBody{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEvent(w io.Writer, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
