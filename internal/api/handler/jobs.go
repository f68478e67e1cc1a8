package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobledger/internal/api/response"
	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

const maxBodyBytes = 1 << 20

// Lifecycle defines the lifecycle operations the handlers depend on.
// *lifecycle.Service implements it.
type Lifecycle interface {
	CreateJobRequest(ctx context.Context, req *models.JobRequest, md *models.JobRequestMetadata) (*models.JobRequest, error)
	CreateJobAndJobExecution(ctx context.Context, job *models.Job, exec *models.JobExecution) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobExecution(ctx context.Context, id string) (*models.JobExecution, error)
	GetJobRequest(ctx context.Context, id string) (*models.JobRequest, error)
	GetJobRequestMetadata(ctx context.Context, id string) (*models.JobRequestMetadata, error)
	GetJobStatus(ctx context.Context, id string) (models.JobStatus, string, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, message string) error
	UpdateJobWithRuntimeEnvironment(ctx context.Context, jobID, clusterID, commandID string, applicationIDs []string) error
	SetJobRunningInformation(ctx context.Context, id string, processID int, checkDelay int64, timeout time.Time) error
	SetJobCompletionInformation(ctx context.Context, id string, exitCode int, status models.JobStatus, message string) error
	DeleteAllJobsCreatedBeforeDate(ctx context.Context, cutoff time.Time) (int64, error)
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON body", nil)
		return false
	}
	return true
}

// NewCreateJobRequestHandler returns an http.HandlerFunc for POST /api/v1/job-requests.
// Client host and user agent are taken from the HTTP request.
func NewCreateJobRequestHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			models.JobRequest
			NumAttachments         int   `json:"num_attachments"`
			TotalSizeOfAttachments int64 `json:"total_size_of_attachments"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}

		md := &models.JobRequestMetadata{
			ID:                     body.ID,
			ClientHost:             clientHost(r),
			UserAgent:              r.UserAgent(),
			NumAttachments:         body.NumAttachments,
			TotalSizeOfAttachments: body.TotalSizeOfAttachments,
		}
		stored, err := svc.CreateJobRequest(r.Context(), &body.JobRequest, md)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, stored)
	}
}

type jobWithExecution struct {
	Job       *models.Job          `json:"job"`
	Execution *models.JobExecution `json:"execution"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body jobWithExecution
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := svc.CreateJobAndJobExecution(r.Context(), body.Job, body.Execution); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, body)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetJob(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

type statusBody struct {
	Status        models.JobStatus `json:"status"`
	StatusMessage string           `json:"status_message"`
}

// parseStatus reads a status from a request body. Case and surrounding
// space are ignored.
func parseStatus(raw string) (models.JobStatus, error) {
	status, err := models.ParseJobStatus(raw)
	if err != nil {
		return "", apperrors.Validation("status", err.Error())
	}
	return status, nil
}

// NewGetJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/status.
func NewGetJobStatusHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, msg, err := svc.GetJobStatus(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, statusBody{Status: status, StatusMessage: msg})
	}
}

// NewGetJobExecutionHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/execution.
func NewGetJobExecutionHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exec, err := svc.GetJobExecution(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, exec)
	}
}

// NewGetJobRequestHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/request.
func NewGetJobRequestHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		req, err := svc.GetJobRequest(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		md, err := svc.GetJobRequestMetadata(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"request": req, "metadata": md})
	}
}

// NewUpdateJobStatusHandler returns an http.HandlerFunc for PUT /api/v1/jobs/{jobID}/status.
func NewUpdateJobStatusHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status        string `json:"status"`
			StatusMessage string `json:"status_message"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		status, err := parseStatus(body.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := svc.UpdateJobStatus(r.Context(), chi.URLParam(r, "jobID"), status, body.StatusMessage); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewBindRuntimeEnvironmentHandler returns an http.HandlerFunc for PUT /api/v1/jobs/{jobID}/runtime.
func NewBindRuntimeEnvironmentHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ClusterID      string   `json:"cluster_id"`
			CommandID      string   `json:"command_id"`
			ApplicationIDs []string `json:"application_ids"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		err := svc.UpdateJobWithRuntimeEnvironment(r.Context(), chi.URLParam(r, "jobID"),
			body.ClusterID, body.CommandID, body.ApplicationIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewSetRunningInformationHandler returns an http.HandlerFunc for
// PUT /api/v1/jobs/{jobID}/execution/running.
func NewSetRunningInformationHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ProcessID  *int       `json:"process_id"`
			CheckDelay *int64     `json:"check_delay"`
			Timeout    *time.Time `json:"timeout"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		switch {
		case body.ProcessID == nil:
			writeError(w, r, apperrors.Validation("process_id", "process_id is required"))
			return
		case body.CheckDelay == nil:
			writeError(w, r, apperrors.Validation("check_delay", "check_delay is required"))
			return
		case body.Timeout == nil:
			writeError(w, r, apperrors.Validation("timeout", "timeout is required"))
			return
		}

		err := svc.SetJobRunningInformation(r.Context(), chi.URLParam(r, "jobID"),
			*body.ProcessID, *body.CheckDelay, *body.Timeout)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewSetCompletionInformationHandler returns an http.HandlerFunc for
// PUT /api/v1/jobs/{jobID}/execution/completion.
func NewSetCompletionInformationHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ExitCode      *int   `json:"exit_code"`
			Status        string `json:"status"`
			StatusMessage string `json:"status_message"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if body.ExitCode == nil {
			writeError(w, r, apperrors.Validation("exit_code", "exit_code is required"))
			return
		}
		status, err := parseStatus(body.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}

		err = svc.SetJobCompletionInformation(r.Context(), chi.URLParam(r, "jobID"),
			*body.ExitCode, status, body.StatusMessage)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewDeleteJobsHandler returns an http.HandlerFunc for
// DELETE /api/v1/jobs?created_before=RFC3339.
func NewDeleteJobsHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("created_before")
		if raw == "" {
			writeError(w, r, apperrors.Validation("created_before", "created_before is required"))
			return
		}
		cutoff, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, apperrors.Validation("created_before", "created_before must be a valid RFC3339 timestamp"))
			return
		}

		deleted, err := svc.DeleteAllJobsCreatedBeforeDate(r.Context(), cutoff)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]int64{"deleted": deleted})
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
