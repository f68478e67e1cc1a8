package models

import "time"

// ClusterCriterion is one ordered preference of tags a cluster must carry.
type ClusterCriterion struct {
	Tags []string `json:"tags"`
}

// JobRequest is the immutable submission a job was created from.
type JobRequest struct {
	ID              string             `db:"id"               json:"id"`
	Name            string             `db:"name"             json:"name"`
	User            string             `db:"user_name"        json:"user"`
	Version         string             `db:"version"          json:"version"`
	CommandArgs     string             `db:"command_args"     json:"command_args,omitempty"`
	Tags            []string           `db:"tags"             json:"tags,omitempty"`
	ClusterCriteria []ClusterCriterion `db:"cluster_criteria" json:"cluster_criteria"`
	CommandCriteria []string           `db:"command_criteria" json:"command_criteria"`
	ApplicationIDs  []string           `db:"application_ids"  json:"application_ids,omitempty"`
	CPU             *int               `db:"cpu"              json:"cpu,omitempty"`
	Memory          *int               `db:"memory"           json:"memory,omitempty"`
	TimeoutSeconds  *int               `db:"timeout_seconds"  json:"timeout_seconds,omitempty"`
	Created         time.Time          `db:"created"          json:"created"`
}

// JobRequestMetadata records how a request reached the service. Keyed 1:1 by request id.
type JobRequestMetadata struct {
	ID                     string    `db:"id"                         json:"id"`
	ClientHost             string    `db:"client_host"                json:"client_host,omitempty"`
	UserAgent              string    `db:"user_agent"                 json:"user_agent,omitempty"`
	NumAttachments         int       `db:"num_attachments"            json:"num_attachments"`
	TotalSizeOfAttachments int64     `db:"total_size_of_attachments"  json:"total_size_of_attachments"`
	Created                time.Time `db:"created"                    json:"created"`
}
