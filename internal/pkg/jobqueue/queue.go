package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
)

// Redis layout: job bodies live under KeyPrefix+"job:<id>", ids move from
// PendingKey to ProcessingKey while a worker owns them, and retries wait in the
// DelayedKey sorted set scored by due time in unix milliseconds.
const (
	KeyPrefix     = "bookfox:jobs:"
	PendingKey    = KeyPrefix + "pending"
	ProcessingKey = KeyPrefix + "processing"
	DelayedKey    = KeyPrefix + "delayed"
	StatsKey      = KeyPrefix + "stats"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	dequeueWait     = time.Second
	promoteInterval = time.Second
)

func jobKey(id string) string {
	return KeyPrefix + "job:" + id
}

// Handler processes one job. Errors carrying a non-retryable apperr code fail
// the job permanently; everything else is retried up to the job's MaxRetries.
type Handler func(ctx context.Context, job *Job) error

type Config struct {
	Workers       int
	RetryDelay    time.Duration
	JobTimeout    time.Duration
	StuckAfter    time.Duration
	StuckInterval time.Duration
	SweepInterval time.Duration
}

// LoadConfig reads the JOBQUEUE_* settings and SWEEP_INTERVAL.
func LoadConfig() Config {
	return Config{
		Workers:       env.GetInt("JOBQUEUE_WORKERS", 3),
		RetryDelay:    env.GetDuration("JOBQUEUE_RETRY_DELAY", time.Minute),
		JobTimeout:    env.GetDuration("JOBQUEUE_JOB_TIMEOUT", 15*time.Minute),
		StuckAfter:    env.GetDuration("JOBQUEUE_STUCK_AFTER", 30*time.Minute),
		StuckInterval: env.GetDuration("JOBQUEUE_STUCK_INTERVAL", time.Minute),
		SweepInterval: env.GetDuration("SWEEP_INTERVAL", time.Minute),
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 15 * time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Minute
	}
	if c.StuckInterval <= 0 {
		c.StuckInterval = time.Minute
	}
	return c
}

// Queue runs background jobs from Redis lists with a fixed number of workers.
type Queue struct {
	client   *redis.Client
	config   Config
	handlers map[JobType]Handler
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewQueue creates a job queue. A nil client falls back to the shared cache client.
func NewQueue(client *redis.Client, config Config) *Queue {
	if client == nil {
		client = cache.GetClient()
	}
	return &Queue{
		client:   client,
		config:   config.withDefaults(),
		handlers: make(map[JobType]Handler),
		stopCh:   make(chan struct{}),
	}
}

// Handle registers the processor of a job type. Register before Start.
func (q *Queue) Handle(jobType JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType JobType) Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[jobType]
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.config.Workers)

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.maintain()
}

// Stop waits for running jobs to finish. Workers notice the stop signal after
// at most one dequeue wait.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// pause sleeps for d or until the queue stops. It reports false on stop.
func (q *Queue) pause(d time.Duration) bool {
	select {
	case <-q.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Errorf("[JobQueue] Worker %d: dequeue failed: %v", id, err)
			if !q.pause(time.Second) {
				return
			}
			continue
		}
		log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.processJob(ctx, job)
	}
}

// maintain promotes due retries and recovers jobs whose worker died.
func (q *Queue) maintain() {
	defer q.wg.Done()
	promote := time.NewTicker(promoteInterval)
	defer promote.Stop()
	stuck := time.NewTicker(q.config.StuckInterval)
	defer stuck.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case now := <-promote.C:
			q.promoteDue(ctx, now)
		case now := <-stuck.C:
			q.recoverStuck(ctx, q.config.StuckAfter, now)
		}
	}
}

// promoteDue moves retries whose delay elapsed back to the pending list.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) int {
	ids, err := q.client.ZRangeByScore(ctx, DelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		log.Errorf("[JobQueue] Reading delayed jobs failed: %v", err)
		return 0
	}
	moved := 0
	for _, id := range ids {
		// only the caller whose ZRem removed the id pushes it
		n, err := q.client.ZRem(ctx, DelayedKey, id).Result()
		if err != nil || n == 0 {
			continue
		}
		if err := q.client.LPush(ctx, PendingKey, id).Err(); err != nil {
			log.Errorf("[JobQueue] Requeueing job %s failed: %v", id, err)
			q.client.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
			continue
		}
		moved++
	}
	return moved
}

// recoverStuck returns jobs that have been processing for longer than maxAge to pending.
func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration, now time.Time) int {
	ids, err := q.client.LRange(ctx, ProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Reading processing list failed: %v", err)
		return 0
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil || job.Status != JobStatusProcessing {
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Dropping unreadable job %s: %v", id, err)
			}
			q.client.LRem(ctx, ProcessingKey, 1, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}
		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker loss"
		job.UpdatedAt = now
		q.updateJob(ctx, job)

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, ProcessingKey, 1, id)
		pipe.RPush(ctx, PendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Errorf("[JobQueue] Requeueing stuck job %s failed: %v", id, err)
			continue
		}
		recovered++
	}
	return recovered
}

func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: maxRetriesFor(jobType),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), body, JobTTL)
	pipe.LPush(ctx, PendingKey, job.ID)
	pipe.HIncrBy(ctx, StatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	body, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// dequeueJob claims the next pending job. It returns redis.Nil when nothing
// arrived within the dequeue wait.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, PendingKey, ProcessingKey, dequeueWait).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.loadJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, ProcessingKey, 1, id)
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job %s expired before it ran", id)
		}
		return nil, err
	}
	return job, nil
}

// permanent reports whether err must not be retried.
func permanent(err error) bool {
	code := apperr.CodeOf(err)
	return code != "" && !apperr.IsRetryable(err)
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error = apperr.Newf(apperr.CodeValidation, "unknown job type: %s", job.Type)
	if h := q.handler(job.Type); h != nil {
		jobCtx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
		err = h(jobCtx, job)
		cancel()
	}

	if err == nil {
		job.MarkAsCompleted()
		log.Infof("[JobQueue] Job %s completed", job.ID)
		q.bumpStats(ctx, JobStatusCompleted)
		q.updateJob(ctx, job)
	} else {
		job.MarkAsFailed(err.Error())
		if job.IsRetryable() && !permanent(err) {
			job.MarkAsRetrying()
			delay := q.config.RetryDelay * time.Duration(job.RetryCount)
			log.Warnf("[JobQueue] Job %s failed, retry %d/%d in %s: %v", job.ID, job.RetryCount, job.MaxRetries, delay, err)
			q.updateJob(ctx, job)
			due := time.Now().Add(delay).UnixMilli()
			if err := q.client.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(due), Member: job.ID}).Err(); err != nil {
				log.Errorf("[JobQueue] Scheduling retry of job %s failed: %v", job.ID, err)
			}
		} else {
			log.Errorf("[JobQueue] Job %s permanently failed after %d attempts: %v", job.ID, job.RetryCount, err)
			q.updateJob(ctx, job)
			q.bumpStats(ctx, JobStatusFailed)
		}
	}

	if err := q.client.LRem(ctx, ProcessingKey, 1, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Releasing job %s failed: %v", job.ID, err)
	}
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	body, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to encode job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, jobKey(job.ID), body, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) bumpStats(ctx context.Context, status JobStatus) {
	if err := q.client.HIncrBy(ctx, StatsKey, string(status), 1).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob returns a job record. Records expire JobTTL after their last update.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.loadJob(ctx, jobID)
	if errors.Is(err, redis.Nil) {
		return nil, apperr.Newf(apperr.CodeNotFound, "job %s", jobID)
	}
	return job, err
}

// GetJobStats returns how many jobs were enqueued, completed and permanently failed.
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	raw, err := q.client.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, err
	}
	stats := make(map[JobStatus]int64, len(raw))
	for status, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			stats[JobStatus(status)] = n
		}
	}
	return stats, nil
}

func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, PendingKey).Result()
}

func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, ProcessingKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry.
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DelayedKey).Result()
}
