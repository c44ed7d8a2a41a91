package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

// EnqueueIngest hands a prepared upload to a background worker.
func (q *Queue) EnqueueIngest(ctx context.Context, p *ingest.Pending) (*Job, error) {
	return q.EnqueueJob(ctx, JobTypeIngestArchive, IngestArchivePayloadFor(p).ToMap())
}

// IngestProcessor continues a prepared upload. The ingestor marks the asset
// failed itself, so the job result only mirrors the outcome.
func IngestProcessor(in *ingest.Ingestor) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := IngestArchiveJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("failed to parse ingest payload: %w", err)
		}
		res, err := in.Process(ctx, payload.Pending())
		if err != nil {
			return err
		}
		log.Infof("[IngestJob] Asset %s of book %d is %s", res.AssetUUID, payload.BookID, res.Status)
		return nil
	}
}

// DeleteObjectsProcessor removes unreferenced objects. Missing objects count as deleted.
func DeleteObjectsProcessor(store storage.ObjectStore) Handler {
	cleaner := ingest.InlineCleaner{Store: store}
	return func(ctx context.Context, job *Job) error {
		payload, err := DeleteObjectsJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("failed to parse delete payload: %w", err)
		}
		if err := cleaner.Cleanup(ctx, payload.Keys); err != nil {
			return err
		}
		log.Infof("[DeleteObjectsJob] Removed %d objects (%s)", len(payload.Keys), payload.Reason)
		return nil
	}
}

// ObjectCleaner defers object deletion to the queue. It satisfies ingest.Cleaner.
type ObjectCleaner struct {
	Queue  *Queue
	Reason string
}

func (c ObjectCleaner) Cleanup(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.Queue.EnqueueJob(ctx, JobTypeDeleteObjects, DeleteObjectsJobPayload{Keys: keys, Reason: c.Reason}.ToMap())
	return err
}
