package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeIngestArchive JobType = "ingest_archive"
	JobTypeDeleteObjects JobType = "delete_objects"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// maxRetriesFor returns how often a job type is retried. Ingestion records its
// failure on the asset row and discards the spooled upload, so a retry would
// have nothing to work with.
func maxRetriesFor(jobType JobType) int {
	if jobType == JobTypeIngestArchive {
		return 0
	}
	return DefaultMaxRetries
}

// IngestArchiveJobPayload carries a prepared upload to a worker.
type IngestArchiveJobPayload struct {
	AssetUUID string `json:"asset_uuid"`
	BookID    uint   `json:"book_id"`
	Kind      string `json:"kind"`
	Ext       string `json:"ext"`
	SpoolPath string `json:"spool_path"`
}

func IngestArchivePayloadFor(p *ingest.Pending) IngestArchiveJobPayload {
	return IngestArchiveJobPayload{
		AssetUUID: p.AssetUUID,
		BookID:    p.BookID,
		Kind:      string(p.Kind),
		Ext:       p.Ext,
		SpoolPath: p.SpoolPath,
	}
}

// ToMap converts the payload to a map for storage
func (p IngestArchiveJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"asset_uuid": p.AssetUUID,
		"book_id":    p.BookID,
		"kind":       p.Kind,
		"ext":        p.Ext,
		"spool_path": p.SpoolPath,
	}
}

// Pending rebuilds the prepared upload the ingestor continues with.
func (p IngestArchiveJobPayload) Pending() *ingest.Pending {
	return &ingest.Pending{
		AssetUUID: p.AssetUUID,
		BookID:    p.BookID,
		Kind:      ingest.ArchiveKind(p.Kind),
		Ext:       p.Ext,
		SpoolPath: p.SpoolPath,
	}
}

func IngestArchiveJobPayloadFromMap(data map[string]interface{}) (*IngestArchiveJobPayload, error) {
	var payload IngestArchiveJobPayload
	err := fromMap(data, &payload)
	return &payload, err
}

// DeleteObjectsJobPayload lists storage keys that are no longer referenced.
type DeleteObjectsJobPayload struct {
	Keys   []string `json:"keys"`
	Reason string   `json:"reason,omitempty"`
}

func (p DeleteObjectsJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"keys": p.Keys,
	}
	if p.Reason != "" {
		m["reason"] = p.Reason
	}
	return m
}

func DeleteObjectsJobPayloadFromMap(data map[string]interface{}) (*DeleteObjectsJobPayload, error) {
	var payload DeleteObjectsJobPayload
	err := fromMap(data, &payload)
	return &payload, err
}

// fromMap decodes a payload map that went through a JSON round trip in Redis.
func fromMap(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
