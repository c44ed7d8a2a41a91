package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/entitlements"
	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
)

// Task is a periodic background job run by the Manager. RunAtStart tasks also
// run once right after Start, before the first tick.
type Task struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Manager manages the job queue and the periodic background tasks
type Manager struct {
	queue   *Queue
	tasks   []Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager(queue *Queue, tasks ...Task) *Manager {
	return &Manager{
		queue:  queue,
		tasks:  tasks,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	for _, task := range m.tasks {
		if task.Interval <= 0 {
			log.Warnf("[JobQueue Manager] Task %s has no interval, skipping", task.Name)
			continue
		}
		m.wg.Add(1)
		go m.taskWorker(task, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) taskWorker(task Task, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.Name, task.Interval)
	if task.RunAtStart {
		runTask(task)
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", task.Name)
			return
		case <-ticker.C:
			runTask(task)
		}
	}
}

// runTask bounds one run by the task interval.
func runTask(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), task.Interval)
	defer cancel()
	if err := task.Run(ctx); err != nil {
		log.Errorf("[JobQueue Manager] %s error: %v", task.Name, err)
	}
}

// RunTaskOnce exposes a manual trigger for a single task run (admin use).
func (m *Manager) RunTaskOnce(ctx context.Context, name string) error {
	for _, task := range m.tasks {
		if task.Name == name {
			return task.Run(ctx)
		}
	}
	return fmt.Errorf("unknown task: %s", name)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ReconcileTask persists entitlement expiry and fails abandoned uploads.
func ReconcileTask(interval time.Duration, ents *entitlements.Store, in *ingest.Ingestor) Task {
	return Task{
		Name:       "reconcile",
		Interval:   interval,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			if _, err := ents.Sweep(ctx, ents.Now()); err != nil {
				return fmt.Errorf("entitlement sweep: %w", err)
			}
			if _, err := in.FailStale(ctx, in.StaleAfter()); err != nil {
				return fmt.Errorf("stale uploads: %w", err)
			}
			return nil
		},
	}
}
