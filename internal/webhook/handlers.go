package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"noticebot/internal/dispatch"
	"noticebot/internal/notice"
	"noticebot/internal/storage"
	"noticebot/internal/waha"
	"noticebot/pkg/logx"
)

type errorBody struct {
	Error string `json:"error"`
}

type acceptedBody struct {
	JobID string         `json:"job_id"`
	State dispatch.State `json:"state"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if !Verify(s.cfg.Secret, body, r.Header.Get(SignatureHeader)) {
		s.log.Warn("webhook signature rejected", logx.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	var n notice.Notice
	if err := json.Unmarshal(body, &n); err != nil {
		writeError(w, http.StatusBadRequest, "body is invalid json")
		return
	}
	if err := n.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), n, "webhook")
	switch {
	case errors.Is(err, dispatch.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, dispatch.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := http.StatusAccepted
	if job.State == dispatch.StateDeduped {
		code = http.StatusOK
	}
	writeJSON(w, code, acceptedBody{JobID: job.ID, State: job.State})
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobs.Job(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// jobList returns recent jobs, newest first.
func (s *Server) jobList(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.Jobs()
	if n := queryLimit(r, 50); len(jobs) > n {
		jobs = jobs[:n]
	}
	if jobs == nil {
		jobs = []dispatch.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func (s *Server) deliveries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad notice id")
		return
	}
	recs, err := s.store.ListDeliveries(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		s.log.Error("list deliveries failed", logx.Int64("notice", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if recs == nil {
		recs = []storage.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz is ready only while the remote session is WORKING.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	st, err := s.session.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	code := http.StatusOK
	if st.Status != waha.StatusWorking {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"session": st.Name, "status": string(st.Status)})
}
