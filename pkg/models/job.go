package models

import (
	"time"
)

// Job is the mutable lifecycle record of one submitted unit of work.
// ClusterID, CommandID and ApplicationIDs are bound together exactly once by the
// scheduler; before that ClusterID and CommandID are nil.
type Job struct {
	ID             string     `db:"id"              json:"id"`
	Name           string     `db:"name"            json:"name"`
	User           string     `db:"user_name"       json:"user"`
	Version        string     `db:"version"         json:"version"`
	CommandArgs    string     `db:"command_args"    json:"command_args,omitempty"`
	Status         JobStatus  `db:"status"          json:"status"`
	StatusMessage  string     `db:"status_msg"      json:"status_message"`
	ClusterID      *string    `db:"cluster_id"      json:"cluster_id,omitempty"`
	CommandID      *string    `db:"command_id"      json:"command_id,omitempty"`
	ApplicationIDs []string   `db:"application_ids" json:"application_ids,omitempty"`
	Started        *time.Time `db:"started"         json:"started,omitempty"`
	Finished       *time.Time `db:"finished"        json:"finished,omitempty"`
	Created        time.Time  `db:"created"         json:"created"`
	Updated        time.Time  `db:"updated"         json:"updated"`
}

// HasRuntimeEnvironment reports whether the cluster/command binding has been recorded.
func (j *Job) HasRuntimeEnvironment() bool {
	return j.ClusterID != nil || j.CommandID != nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.ClusterID = cloneString(j.ClusterID)
	c.CommandID = cloneString(j.CommandID)
	c.Started = cloneTime(j.Started)
	c.Finished = cloneTime(j.Finished)
	if j.ApplicationIDs != nil {
		c.ApplicationIDs = append([]string(nil), j.ApplicationIDs...)
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
