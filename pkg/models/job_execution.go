package models

import "time"

// JobExecution holds the runtime facts of a job's OS process.
// ProcessID, CheckDelay and Timeout are recorded together when the process
// launches; ExitCode and FinalStatus are recorded together when it ends.
type JobExecution struct {
	ID          string     `db:"id"           json:"id"`
	HostName    string     `db:"host_name"    json:"host_name"`
	ProcessID   *int       `db:"process_id"   json:"process_id,omitempty"`
	CheckDelay  *int64     `db:"check_delay"  json:"check_delay,omitempty"` // milliseconds
	Timeout     *time.Time `db:"timeout"      json:"timeout,omitempty"`
	ExitCode    *int       `db:"exit_code"    json:"exit_code,omitempty"`
	FinalStatus *JobStatus `db:"final_status" json:"final_status,omitempty"`
	Created     time.Time  `db:"created"      json:"created"`
	Updated     time.Time  `db:"updated"      json:"updated"`
}

// HasRunningInformation reports whether any process telemetry has been recorded.
func (e *JobExecution) HasRunningInformation() bool {
	return e.ProcessID != nil || e.CheckDelay != nil || e.Timeout != nil
}

// HasCompletionInformation reports whether the exit code or final status has been recorded.
func (e *JobExecution) HasCompletionInformation() bool {
	return e.ExitCode != nil || e.FinalStatus != nil
}

// RunningInformationEquals reports whether the recorded telemetry matches the given values.
func (e *JobExecution) RunningInformationEquals(processID int, checkDelay int64, timeout time.Time) bool {
	return e.ProcessID != nil && *e.ProcessID == processID &&
		e.CheckDelay != nil && *e.CheckDelay == checkDelay &&
		e.Timeout != nil && e.Timeout.Equal(timeout)
}

// CompletionInformationEquals reports whether the recorded completion matches the given values.
func (e *JobExecution) CompletionInformationEquals(exitCode int, status JobStatus) bool {
	return e.ExitCode != nil && *e.ExitCode == exitCode &&
		e.FinalStatus != nil && *e.FinalStatus == status
}

// Clone returns a deep copy of e.
func (e *JobExecution) Clone() *JobExecution {
	if e == nil {
		return nil
	}
	c := *e
	if e.ProcessID != nil {
		v := *e.ProcessID
		c.ProcessID = &v
	}
	if e.CheckDelay != nil {
		v := *e.CheckDelay
		c.CheckDelay = &v
	}
	if e.ExitCode != nil {
		v := *e.ExitCode
		c.ExitCode = &v
	}
	if e.FinalStatus != nil {
		v := *e.FinalStatus
		c.FinalStatus = &v
	}
	c.Timeout = cloneTime(e.Timeout)
	return &c
}
