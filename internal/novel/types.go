// Package novel defines core types shared across subsystems.
package novel

import (
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures per-job extraction knobs requested by the client.
type JobParameters struct {
	// MaxChapters caps how many chapters are processed; 0 means all.
	MaxChapters int `json:"max_chapters"`
	// MinMentions is the mention threshold for a name to count as a character.
	MinMentions int `json:"min_mentions"`
	// Tags carry caller-supplied labels through to job metadata.
	Tags map[string]string `json:"tags,omitempty"`
}

// Job represents the metadata persisted for each uploaded manuscript.
type Job struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	BlobURI    string        `json:"blob_uri"`
	TextHash   string        `json:"text_hash"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks extraction output per job.
type JobCounters struct {
	Chapters   int `json:"chapters"`
	Characters int `json:"characters"`
	Events     int `json:"events"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	BlobURI   string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
