package jobqueue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
)

func TestJobType(t *testing.T) {
	assert.Equal(t, "ingest_archive", string(JobTypeIngestArchive))
	assert.Equal(t, "delete_objects", string(JobTypeDeleteObjects))
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"Failed job with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Failed job with no retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"Ingest job never retries", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: maxRetriesFor(JobTypeIngestArchive)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{MaxRetries: 3}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("bucket unreachable")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "bucket unreachable", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

// roundTrip stores and reloads a job the way Redis does.
func roundTrip(t *testing.T, job *Job) *Job {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	var out Job
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestIngestArchivePayloadSurvivesStorage(t *testing.T) {
	pending := &ingest.Pending{
		AssetUUID: "3f1c",
		BookID:    77,
		Kind:      ingest.KindCbz,
		Ext:       ".cbz",
		SpoolPath: "/tmp/bookfox-upload-1",
	}
	job := roundTrip(t, &Job{Type: JobTypeIngestArchive, Payload: IngestArchivePayloadFor(pending).ToMap()})

	payload, err := IngestArchiveJobPayloadFromMap(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, pending, payload.Pending())
}

func TestDeleteObjectsPayloadSurvivesStorage(t *testing.T) {
	keys := []string{"books/1/.incoming/a/original.pdf", "books/1/original.pdf"}
	job := roundTrip(t, &Job{Type: JobTypeDeleteObjects, Payload: DeleteObjectsJobPayload{Keys: keys, Reason: "superseded"}.ToMap()})

	payload, err := DeleteObjectsJobPayloadFromMap(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, keys, payload.Keys)
	assert.Equal(t, "superseded", payload.Reason)
}
