package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"tiktok-sheets/internal/database"
	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/service"
	"tiktok-sheets/internal/worker"

	"github.com/go-chi/chi/v5"
)

type createAccountRequest struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
	AuthCode  string `json:"auth_code"`
}

type statusRequest struct {
	Enabled *bool `json:"enabled"`
}

type runRequest struct {
	FullYear bool `json:"full_year"`
}

type jobView struct {
	AccountID      string `json:"account_id"`
	CronExpression string `json:"cron_expression"`
}

func (s *HTTPServer) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.ListAccounts(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *HTTPServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountRequest
	if !decodeBody(w, r, &body) {
		return
	}
	account, err := s.accounts.CreateAccount(r.Context(), body.AppKey, body.AppSecret, body.AuthCode)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *HTTPServer) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch service.TaskPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	account, err := s.accounts.UpdateTask(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	account, err := s.accounts.SetEnabled(r.Context(), chi.URLParam(r, "id"), *body.Enabled)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	req, err := s.accounts.RequestRun(r.Context(), chi.URLParam(r, "id"), body.FullYear)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *HTTPServer) handleJobs(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.jobs.Snapshot()
	jobs := make([]jobView, 0, len(snapshot))
	for id, expr := range snapshot {
		jobs = append(jobs, jobView{AccountID: id, CronExpression: expr})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].AccountID < jobs[j].AccountID })
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *marketplace.APIError
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, worker.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "run queue is full")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
