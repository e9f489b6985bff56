// Package batch executes groups of transcription requests asynchronously
// with partial-failure tolerance: one bad item never sinks the batch.
package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/kinyvoice/kinyvoice-core/internal/pipeline"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Item is one audio payload within a batch submission.
type Item struct {
	Name string
	Data []byte
}

// ItemResult records a per-item outcome: either a persisted record id or a
// failure reason.
type ItemResult struct {
	Name     string `json:"name"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Job is a point-in-time snapshot of a batch job.
type Job struct {
	ID     string       `json:"job_id"`
	Status Status       `json:"status"`
	Items  []ItemResult `json:"items"`
	Total  int          `json:"total"`
	Failed int          `json:"failed"`
}

type jobState struct {
	id     string
	status Status
	items  []ItemResult
}

// Runner owns batch execution: every submission gets a tracked goroutine
// bounded by a worker-slot semaphore, so concurrency stays capped while
// submission never blocks. Jobs are ephemeral, held in memory until pruned.
type Runner struct {
	pipe   *pipeline.Pipeline
	cfg    config.BatchConfig
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*jobState
	done   []string // completed job ids, oldest first
}

func NewRunner(parent context.Context, cfg config.BatchConfig, pipe *pipeline.Pipeline, log *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		pipe:   pipe,
		cfg:    cfg,
		log:    log.With(slog.String("component", "batch-runner")),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan struct{}, cfg.Workers),
		jobs:   make(map[string]*jobState),
	}
}

// Submit registers a job and schedules it, returning immediately.
// Submission itself cannot fail; only individual items can.
func (r *Runner) Submit(items []Item) string {
	job := &jobState{
		id:     uuid.NewString(),
		status: StatusProcessing,
		items:  make([]ItemResult, len(items)),
	}
	for i, item := range items {
		job.items[i] = ItemResult{Name: item.Name}
	}

	r.mu.Lock()
	r.jobs[job.id] = job
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case r.slots <- struct{}{}:
			defer func() { <-r.slots }()
			r.run(job, items)
		case <-r.ctx.Done():
			r.finish(job, "runner shut down")
		}
	}()

	return job.id
}

func (r *Runner) run(job *jobState, items []Item) {
	for i, item := range items {
		rec, err := r.pipe.TranscribeOne(r.ctx, item.Data, "")
		r.mu.Lock()
		if err != nil {
			job.items[i].Error = err.Error()
			r.mu.Unlock()
			r.log.Warn("batch item failed",
				slog.String("job_id", job.id),
				slog.String("item", item.Name),
				slog.String("error", err.Error()))
			continue
		}
		job.items[i].RecordID = rec.ID
		r.mu.Unlock()
	}
	r.finish(job, "")
	r.log.Info("batch job completed", slog.String("job_id", job.id), slog.Int("items", len(items)))
}

// finish marks the job completed; pendingErr fills any item not yet resolved.
func (r *Runner) finish(job *jobState, pendingErr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pendingErr != "" {
		for i := range job.items {
			if job.items[i].RecordID == "" && job.items[i].Error == "" {
				job.items[i].Error = pendingErr
			}
		}
	}
	job.status = StatusCompleted
	r.done = append(r.done, job.id)
	r.pruneLocked()
}

// pruneLocked drops the oldest completed jobs beyond the retention cap.
func (r *Runner) pruneLocked() {
	for len(r.done) > r.cfg.MaxJobs {
		oldest := r.done[0]
		r.done = r.done[1:]
		delete(r.jobs, oldest)
	}
}

// Get returns a snapshot of a job's state.
func (r *Runner) Get(jobID string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	snapshot := Job{
		ID:     job.id,
		Status: job.status,
		Items:  make([]ItemResult, len(job.items)),
		Total:  len(job.items),
	}
	copy(snapshot.Items, job.items)
	for _, it := range snapshot.Items {
		if it.Error != "" {
			snapshot.Failed++
		}
	}
	return snapshot, true
}

// Close stops accepting work and waits for in-flight jobs to settle.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
