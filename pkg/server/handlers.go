package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/valve"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/scheduler"
)

const defaultLogLimit = 100

// StartRequest is the body of POST /schedule.
type StartRequest struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	Frequency       int    `json:"frequency"`
	TimeUnit        string `json:"time_unit"`
}

// RunResponse is the body answered by POST /run.
type RunResponse struct {
	RunID string `json:"run_id"`
}

// LogsResponse is the body answered by GET /logs.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// lever holds the valve open while a request is served, so shutdown waits for it.
func (s *Server) lever(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(valve.ValveCtxKey).(*valve.Valve); ok {
			lev := valve.Lever(r.Context())
			if err := lev.Open(); err != nil {
				s.writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			defer lev.Close()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) StartBackup(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	unit, err := schedule.ParseTimeUnit(req.TimeUnit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.scheduler.StartBackup(req.SourcePath, req.DestinationPath, req.Frequency, unit)
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.PublishStatus()
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) StopBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.StopBackup(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.PublishStatus()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RunNow(w http.ResponseWriter, r *http.Request) {
	id, err := s.scheduler.RunNow()
	switch {
	case errors.Is(err, scheduler.ErrBackupInProgress):
		s.writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, scheduler.ErrNotScheduled):
		s.writeError(w, http.StatusPreconditionFailed, err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.PublishStatus()
	s.writeJSON(w, http.StatusAccepted, RunResponse{RunID: id})
}

func (s *Server) Logs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	resp := LogsResponse{Lines: []string{}}
	if s.logs != nil {
		if lines := s.logs.Lines(limit); lines != nil {
			resp.Lines = lines
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}
