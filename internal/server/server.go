// Package server exposes the pipeline engine over HTTP: job submission and
// inspection as JSON, live job progress as a WebSocket stream.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valpere/turjuman/internal/chunker"
	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/engine"
	"github.com/valpere/turjuman/internal/events"
)

// Server routes HTTP traffic to the engine.
type Server struct {
	eng *engine.Engine
	log *slog.Logger
	mux *http.ServeMux

	upgrader websocket.Upgrader
}

// New creates a Server.
func New(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		eng: eng,
		log: log,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins in local use.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	s.mux.HandleFunc("GET /api/jobs", s.handleList)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/jobs/{id}/ws", s.handleStream)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// ServeHTTP implements http.Handler with request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

type submitPayload struct {
	JobID            string                `json:"job_id"`
	Content          string                `json:"original_content"`
	Filename         string                `json:"original_filename"`
	Config           domain.Config         `json:"config"`
	GlossarySelector string                `json:"glossary_selector"`
	Glossary         []domain.GlossaryTerm `json:"glossary,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	selector := payload.GlossarySelector
	if selector == "" && len(payload.Glossary) > 0 {
		selector = engine.SelectorInline
	}

	job, err := s.eng.Submit(engine.SubmitRequest{
		JobID:            payload.JobID,
		OriginalContent:  payload.Content,
		OriginalFilename: payload.Filename,
		Config:           payload.Config,
		GlossarySelector: selector,
		InlineGlossary:   payload.Glossary,
	})
	switch {
	case errors.Is(err, chunker.ErrEmptyDocument):
		s.writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	case errors.Is(err, engine.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info("job accepted", "job_id", job.ID, "mode", job.Config.TranslationMode)
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.eng.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.eng.Get(r.PathValue("id"))
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream upgrades to WebSocket and streams job updates. The current
// snapshot is sent first so late subscribers start from known state; the
// stream ends with an {"event": "end"} marker after the terminal update.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Subscribe before loading the snapshot: a job finishing in between
	// would otherwise tear its topic down unseen and leave the stream
	// silent. A terminal snapshot ends the stream right after it is sent.
	sub := s.eng.Subscribe(id)
	defer sub.Close()

	job, err := s.eng.Get(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"event": "snapshot", "job": job}); err != nil {
		return
	}
	if job.Status.Terminal() {
		conn.WriteJSON(map[string]any{"event": "end"})
		return
	}

	for update := range sub.C {
		if err := s.writeUpdate(conn, update); err != nil {
			s.log.Debug("websocket write failed", "job_id", id, "error", err)
			return
		}
		if update.Final {
			break
		}
	}
	conn.WriteJSON(map[string]any{"event": "end"})
}

func (s *Server) writeUpdate(conn *websocket.Conn, update events.Update) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(map[string]any{"event": "update", "update": update})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
