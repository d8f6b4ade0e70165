package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/appraise/internal/metrics"
	"github.com/kalambet/appraise/internal/storage"
)

// blobDeleteAttempts bounds retries of one orphan cleanup.
const blobDeleteAttempts = 5

// JobStore is the slice of the job queue the worker needs.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// BlobDeleter removes stored objects. Deleting a missing key must succeed.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type handlerFunc func(ctx context.Context, job *storage.Job) error

// Worker drains the outbox queue, one job at a time.
type Worker struct {
	store    JobStore
	poll     time.Duration
	handlers map[string]handlerFunc
	types    []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewWorker returns a worker that removes orphaned upload blobs, polling the
// queue every pollInterval (1s when <= 0) while it is empty.
func NewWorker(store JobStore, blobs BlobDeleter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	w := &Worker{
		store:   store,
		poll:    pollInterval,
		logger:  slog.Default(),
		metrics: metrics.Default(),
	}
	w.handle(storage.JobBlobDelete, deleteBlob(blobs, w.logger))
	return w
}

func (w *Worker) handle(jobType string, fn handlerFunc) {
	if w.handlers == nil {
		w.handlers = make(map[string]handlerFunc)
	}
	w.handlers[jobType] = fn
	w.types = append(w.types, jobType)
}

type blobDeletePayload struct {
	Key string `json:"key"`
}

// EnqueueBlobDelete records that the object under key must be removed and
// returns the job id.
func EnqueueBlobDelete(store JobStore, key string) (string, error) {
	payload, err := json.Marshal(blobDeletePayload{Key: key})
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	id := uuid.NewString()
	if err := store.EnqueueJob(storage.Job{
		ID:          id,
		Type:        storage.JobBlobDelete,
		PayloadJSON: string(payload),
		MaxAttempts: blobDeleteAttempts,
	}); err != nil {
		return "", fmt.Errorf("enqueueing blob delete for %s: %w", key, err)
	}
	return id, nil
}

func deleteBlob(blobs BlobDeleter, logger *slog.Logger) handlerFunc {
	return func(ctx context.Context, job *storage.Job) error {
		var p blobDeletePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if p.Key == "" {
			return errors.New("payload has no blob key")
		}
		if err := blobs.Delete(ctx, p.Key); err != nil {
			return err
		}
		logger.Info("orphaned upload removed", "job_id", job.ID, "key", p.Key)
		return nil
	}
}

// Run processes jobs back to back and sleeps for the poll interval whenever
// the queue is empty, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("reconcile iteration failed", "error", err)
		}
		if worked {
			timer.Reset(0)
		} else {
			timer.Reset(w.poll)
		}
	}
}

// RunOnce claims one runnable job and executes it. It reports whether a job
// was claimed; a failing job is recorded for retry and is not an error here.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(w.types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.handlers[job.Type](ctx, job); err != nil {
		w.logger.Warn("reconcile job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		w.metrics.RecordReconcile("failed")
		if ferr := w.store.FailJob(job.ID, err.Error()); ferr != nil {
			w.logger.Error("recording job failure", "job_id", job.ID, "error", ferr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.metrics.RecordReconcile("completed")
	return true, nil
}
