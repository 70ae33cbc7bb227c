package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/orneryd/attend/pkg/cycle"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"tick":    s.sched.Snapshot().Tick,
		"uptime":  time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tick":           snap.Tick,
		"scheduler":      snap.Stats,
		"last":           snap.Last,
		"concepts":       snap.Concepts,
		"pending":        snap.Pending,
		"priority_total": snap.PriorityTotal,
		"inbox":          s.sched.Inbox().Stats(),
		"server":         s.Stats(),
	})
}

func (s *Server) handleConcepts(w http.ResponseWriter, r *http.Request) {
	s.writeItems(w, r, s.sched.Snapshot().TopConcepts)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.writeItems(w, r, s.sched.Snapshot().TopPending)
}

func (s *Server) writeItems(w http.ResponseWriter, r *http.Request, items []cycle.ItemView) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(items) {
			items = items[:n]
		}
	}
	if items == nil {
		items = []cycle.ItemView{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tick":  s.sched.Snapshot().Tick,
		"items": items,
	})
}

// InputRequest is the body of POST /inputs.
type InputRequest struct {
	Inputs []string `json:"inputs"`
}

// InputResult reports what happened to one input line.
type InputResult struct {
	Input string `json:"input"`
	ID    string `json:"id,omitempty"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}

// InputResponse is the body returned by POST /inputs.
type InputResponse struct {
	Accepted int           `json:"accepted"`
	Results  []InputResult `json:"results"`
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Inputs) == 0 {
		s.writeError(w, http.StatusBadRequest, "inputs required")
		return
	}
	if len(req.Inputs) > s.config.MaxInputs {
		s.writeError(w, http.StatusRequestEntityTooLarge, "too many inputs")
		return
	}

	tick := s.sched.Snapshot().Tick
	resp := InputResponse{Results: make([]InputResult, 0, len(req.Inputs))}
	var firstErr error
	for _, line := range req.Inputs {
		res := InputResult{Input: line}
		t, err := cycle.ParseInput(s.sched.Interner(), line, nil, tick)
		if err == nil {
			err = s.sched.Inbox().Submit(t)
		}
		if err != nil {
			res.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			res.ID = t.ID.String()
			res.Key = t.Key()
			resp.Accepted++
		}
		resp.Results = append(resp.Results, res)
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = statusFor(firstErr)
		s.errorCount.Add(1)
	}
	s.writeJSON(w, status, resp)
}

// statusFor maps a refused input to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cycle.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, cycle.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, cycle.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, cycle.ErrInboxFull), errors.Is(err, cycle.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// JSON helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}
