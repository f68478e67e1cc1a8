package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// maxFieldLength bounds ids, names and hosts, which are VARCHAR(255) columns.
const maxFieldLength = 255

// field is a named string value, checked in declaration order.
type field struct {
	name  string
	value string
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func requireID(name, id string) error {
	return requireFields(field{name, id})
}

// requireFields rejects the first blank or overlong value.
func requireFields(fields ...field) error {
	for _, f := range fields {
		if isBlank(f.value) {
			return apperrors.Validation(f.name, f.name+" is required")
		}
		if err := checkLength(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

func checkLength(name, value string) error {
	if utf8.RuneCountInString(value) > maxFieldLength {
		return apperrors.Validation(name, fmt.Sprintf("%s must be at most %d characters", name, maxFieldLength))
	}
	return nil
}

// checkInt32 rejects values that do not fit an INTEGER column.
func checkInt32(name string, v int64) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return apperrors.Validation(name, fmt.Sprintf("%s is out of range", name))
	}
	return nil
}

func validateStatusMessage(message string) error {
	if isBlank(message) {
		return apperrors.Validation("status_message", "status message is required")
	}
	if utf8.RuneCountInString(message) > models.MaxStatusMessageLength {
		return apperrors.Validation("status_message",
			fmt.Sprintf("status message must be at most %d characters", models.MaxStatusMessageLength))
	}
	return nil
}

func validateStatus(status models.JobStatus) error {
	if !status.IsValid() {
		return apperrors.Validation("status", fmt.Sprintf("unknown job status %q", status))
	}
	return nil
}

func validateJobRequest(req *models.JobRequest, md *models.JobRequestMetadata) error {
	if req == nil {
		return apperrors.Validation("job_request", "job request is required")
	}
	if md == nil {
		return apperrors.Validation("job_request_metadata", "job request metadata is required")
	}
	if err := requireFields(field{"name", req.Name}, field{"user", req.User}, field{"version", req.Version}); err != nil {
		return err
	}
	if err := checkLength("id", req.ID); err != nil {
		return err
	}

	if len(req.ClusterCriteria) == 0 {
		return apperrors.Validation("cluster_criteria", "at least one cluster criterion is required")
	}
	for i, criterion := range req.ClusterCriteria {
		if err := validateTags(fmt.Sprintf("cluster_criteria[%d]", i), criterion.Tags); err != nil {
			return err
		}
	}
	if err := validateTags("command_criteria", req.CommandCriteria); err != nil {
		return err
	}
	for _, id := range req.ApplicationIDs {
		if isBlank(id) {
			return apperrors.Validation("application_ids", "application ids must not be blank")
		}
	}

	limits := []struct {
		name  string
		value *int
	}{
		{"cpu", req.CPU},
		{"memory", req.Memory},
		{"timeout_seconds", req.TimeoutSeconds},
	}
	for _, l := range limits {
		if l.value == nil {
			continue
		}
		if *l.value < 1 {
			return apperrors.Validation(l.name, l.name+" must be at least 1")
		}
		if err := checkInt32(l.name, int64(*l.value)); err != nil {
			return err
		}
	}

	if md.NumAttachments < 0 || md.TotalSizeOfAttachments < 0 {
		return apperrors.Validation("job_request_metadata", "attachment counts must not be negative")
	}
	if err := checkInt32("num_attachments", int64(md.NumAttachments)); err != nil {
		return err
	}
	if err := checkLength("client_host", md.ClientHost); err != nil {
		return err
	}
	if !isBlank(md.ID) && !isBlank(req.ID) && md.ID != req.ID {
		return apperrors.Validation("job_request_metadata.id", "metadata id must match the job request id")
	}
	return nil
}

func validateTags(field string, tags []string) error {
	if len(tags) == 0 {
		return apperrors.Validation(field, field+" needs at least one tag")
	}
	for _, tag := range tags {
		if isBlank(tag) {
			return apperrors.Validation(field, field+" tags must not be blank")
		}
	}
	return nil
}

func validateNewJob(job *models.Job, exec *models.JobExecution) error {
	if job == nil {
		return apperrors.Validation("job", "job is required")
	}
	if exec == nil {
		return apperrors.Validation("job_execution", "job execution is required")
	}
	if err := requireFields(
		field{"id", job.ID},
		field{"name", job.Name},
		field{"user", job.User},
		field{"version", job.Version},
	); err != nil {
		return err
	}
	if job.Status != "" && job.Status != models.StatusInit {
		return apperrors.Validation("status", "a new job must start in INIT")
	}
	if job.StatusMessage != "" {
		if err := validateStatusMessage(job.StatusMessage); err != nil {
			return err
		}
	}
	if job.HasRuntimeEnvironment() || job.ApplicationIDs != nil {
		return apperrors.Validation("runtime_environment", "a new job must not have a runtime environment")
	}
	if job.Started != nil || job.Finished != nil {
		return apperrors.Validation("started", "a new job must not have started or finished")
	}

	if !isBlank(exec.ID) && exec.ID != job.ID {
		return apperrors.Validation("job_execution.id", "job execution id must match the job id")
	}
	if err := requireFields(field{"host_name", exec.HostName}); err != nil {
		return err
	}
	if exec.HasRunningInformation() || exec.HasCompletionInformation() {
		return apperrors.Validation("job_execution", "a new job execution must not carry telemetry")
	}
	return nil
}

func validateRuntimeEnvironment(jobID, clusterID, commandID string, applicationIDs []string) error {
	if err := requireFields(field{"job_id", jobID}, field{"cluster_id", clusterID}, field{"command_id", commandID}); err != nil {
		return err
	}
	seen := make(map[string]bool, len(applicationIDs))
	for _, id := range applicationIDs {
		if isBlank(id) {
			return apperrors.Validation("application_ids", "application ids must not be blank")
		}
		if seen[id] {
			return apperrors.Validation("application_ids", fmt.Sprintf("application id %q is listed twice", id))
		}
		seen[id] = true
	}
	return nil
}

func validateRunningInformation(id string, processID int, checkDelay int64, timeout time.Time) error {
	if err := requireID("id", id); err != nil {
		return err
	}
	if processID < 0 {
		return apperrors.Validation("process_id", "process id must not be negative")
	}
	if err := checkInt32("process_id", int64(processID)); err != nil {
		return err
	}
	if checkDelay < 1 {
		return apperrors.Validation("check_delay", "check delay must be at least 1")
	}
	if timeout.IsZero() {
		return apperrors.Validation("timeout", "timeout is required")
	}
	return nil
}

func validateCompletion(id string, exitCode int, status models.JobStatus, message string) error {
	if err := requireID("id", id); err != nil {
		return err
	}
	if err := checkInt32("exit_code", int64(exitCode)); err != nil {
		return err
	}
	if !status.IsTerminal() {
		return apperrors.Validation("status", fmt.Sprintf("completion status must be terminal, got %q", status))
	}
	return validateStatusMessage(message)
}
