package models

import (
	"fmt"
	"strings"
)

// JobStatus is the lifecycle state of a job. Every job starts in StatusInit.
type JobStatus string

const (
	StatusInit      JobStatus = "INIT"
	StatusAccepted  JobStatus = "ACCEPTED"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
	StatusKilled    JobStatus = "KILLED"
	StatusInvalid   JobStatus = "INVALID"
)

// DefaultInitMessage is the status message recorded for a new job when the caller gives none.
const DefaultInitMessage = "Job Accepted and in initialization phase."

// DefaultRunningMessage is recorded when process information moves a job to StatusRunning.
const DefaultRunningMessage = "Job is running."

// MaxStatusMessageLength bounds the status message stored with a job.
const MaxStatusMessageLength = 255

var allStatuses = []JobStatus{
	StatusInit, StatusAccepted, StatusRunning,
	StatusSucceeded, StatusFailed, StatusKilled, StatusInvalid,
}

var validTransitions = map[JobStatus][]JobStatus{
	StatusInit:     {StatusAccepted, StatusInvalid, StatusFailed, StatusKilled},
	StatusAccepted: {StatusRunning, StatusFailed, StatusKilled},
	StatusRunning:  {StatusSucceeded, StatusFailed, StatusKilled},
}

// Statuses returns every known status in lifecycle order.
func Statuses() []JobStatus {
	out := make([]JobStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseJobStatus converts s (case-insensitive) into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	candidate := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown job status %q, want one of %v", s, Statuses())
}

func (s JobStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusKilled, StatusInvalid:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from one status to another.
// A terminal status re-set to itself is allowed; callers treat it as a no-op.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return from.IsTerminal()
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsNoOpTransition reports whether moving from -> to leaves the job untouched.
func IsNoOpTransition(from, to JobStatus) bool {
	return from == to && from.IsTerminal()
}
