package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/schedule"
	"github.com/sw33tLie/pbxsched/pkg/storage"
)

type registerRequest struct {
	URL         string `json:"url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	OTPSecret   string `json:"otpSecret"`
}

type instanceView struct {
	instance.Record
	Health instance.Health `json:"health"`
}

type scheduleResponse struct {
	InstanceID string              `json:"instanceId"`
	Date       string              `json:"date"`
	FetchedAt  time.Time           `json:"fetchedAt"`
	Blocks     []schedule.Block    `json:"blocks"`
	Conflicts  []schedule.Conflict `json:"conflicts"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	reg := s.Orch.Registry()
	out := []instanceView{}
	for _, rec := range reg.List() {
		h, _ := reg.Health(rec.ID)
		out = append(out, instanceView{Record: rec, Health: h})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.WrapError(err, apperrors.ErrCodeValidation, "request body is not valid JSON"))
		return
	}
	rec, err := s.Orch.Registry().Register(instance.Registration{
		BaseURL:     req.URL,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		OTPSecret:   req.OTPSecret,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.Orch.Registry().Health(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Orch.VerifyLogin(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h, err := s.Orch.Registry().Health(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Orch.SyncInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	p, err := s.Orch.Payload(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	date := s.now()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := time.Parse("2006-01-02", q)
		if err != nil {
			writeError(w, apperrors.NewValidationError("invalid date").AddField("date", "expected YYYY-MM-DD", q))
			return
		}
		date = d
	}

	id := r.PathValue("id")
	p, err := s.Orch.Payload(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	blocks := schedule.EvaluatePayload(p, date)
	conflicts := schedule.DetectConflicts(blocks)
	if blocks == nil {
		blocks = []schedule.Block{}
	}
	if conflicts == nil {
		conflicts = []schedule.Conflict{}
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		InstanceID: id,
		Date:       date.Format("2006-01-02"),
		FetchedAt:  p.FetchedAt,
		Blocks:     blocks,
		Conflicts:  conflicts,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, apperrors.NewValidationError("invalid limit").AddField("limit", "expected a non-negative integer", q))
			return
		}
		limit = n
	}
	runs, err := s.Orch.ListSyncRuns(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []storage.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status of its code. Errors outside the
// taxonomy become INTERNAL_ERROR.
func writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error")
	}
	resp := appErr.ToErrorResponse()
	if ve, ok := err.(*apperrors.ValidationError); ok && ve.HasFields() {
		meta := map[string]interface{}{"fields": ve.Fields}
		for k, v := range resp.Metadata {
			meta[k] = v
		}
		resp.Metadata = meta
	}
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apperrors.RetryAfterSeconds(appErr.RetryAfter)))
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
