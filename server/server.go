// Package server exposes the engine over HTTP: one route set per
// model operation, JSON bodies, and a websocket change feed. The
// server is a thin boundary; validation and transaction scoping live
// in the engine.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	marcidb "github.com/den59k/marci-db"
)

type Server struct {
	db     *marcidb.DB
	logger *zap.Logger
	hub    *watchHub
	mux    *http.ServeMux
}

func New(db *marcidb.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:     db,
		logger: logger,
		hub:    newWatchHub(logger),
		mux:    http.NewServeMux(),
	}
	db.OnChange(s.hub.publish)

	s.mux.HandleFunc("POST /{model}/insert", s.handleInsert)
	s.mux.HandleFunc("GET /{model}/findMany", s.handleFindManyFull)
	s.mux.HandleFunc("POST /{model}/findMany", s.handleFindMany)
	s.mux.HandleFunc("POST /{model}/update", s.handleUpdate)
	s.mux.HandleFunc("POST /{model}/delete", s.handleDelete)
	s.mux.HandleFunc("GET /watch", s.hub.handleWatch)
	return s
}

func (s *Server) Run(addr string) error {
	s.hub.start()
	defer s.hub.stop()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set("X-Request-Id", reqID)
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		zap.String("req_id", reqID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var fields map[string]any
	if !s.readJSON(w, r, &fields) {
		return
	}
	id, err := s.db.Insert(model, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

// handleFindManyFull is the GET form: every field, relations expanded
// one level.
func (s *Server) handleFindManyFull(w http.ResponseWriter, r *http.Request) {
	modelName := r.PathValue("model")
	model, err := s.db.Schema().Model(modelName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.db.FindMany(modelName, marcidb.FullProjection(model), nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

type findManyRequest struct {
	Select map[string]any `json:"select"`
	Where  map[string]any `json:"where"`
}

func (s *Server) handleFindMany(w http.ResponseWriter, r *http.Request) {
	modelName := r.PathValue("model")
	var req findManyRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	model, err := s.db.Schema().Model(modelName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var proj *marcidb.Projection
	if req.Select != nil {
		proj, err = marcidb.ParseProjection(model, req.Select)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	docs, err := s.db.FindMany(modelName, proj, req.Where)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

type updateRequest struct {
	ID   marcidb.EntityID `json:"id"`
	Data map[string]any   `json:"data"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var req updateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.db.Update(model, req.ID, req.Data); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": req.ID})
}

type deleteRequest struct {
	ID marcidb.EntityID `json:"id"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var req deleteRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.db.Delete(model, req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": req.ID})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad json: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errStatus(err)
	if status >= 500 {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}

func errStatus(err error) int {
	var (
		se *marcidb.SchemaError
		ve *marcidb.ValidationError
	)
	switch {
	case marcidb.IsNotFound(err):
		return http.StatusNotFound
	case marcidb.IsConstraint(err) || errors.Is(err, marcidb.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &se), errors.As(err, &ve):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
