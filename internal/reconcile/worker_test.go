package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/appraise/internal/storage"
)

type mockDeleter struct {
	mu       sync.Mutex
	deleted  []string
	deleteFn func(key string) error
}

func (m *mockDeleter) Delete(_ context.Context, key string) error {
	if m.deleteFn != nil {
		if err := m.deleteFn(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("SELECT job: %v", err)
	}
	return status, attempts
}

func TestWorker_DeletesBlob(t *testing.T) {
	store := openTestStore(t)
	jobID, err := EnqueueBlobDelete(store, "u-1/r-1.pdf")
	if err != nil {
		t.Fatalf("EnqueueBlobDelete: %v", err)
	}

	deleter := &mockDeleter{}
	w := NewWorker(store, deleter, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "u-1/r-1.pdf" {
		t.Errorf("deleted = %v", deleter.deleted)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockDeleter{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with an empty queue")
	}
}

func TestWorker_RetriesThenFails(t *testing.T) {
	store := openTestStore(t)
	jobID, err := EnqueueBlobDelete(store, "u-1/r-1.pdf")
	if err != nil {
		t.Fatalf("EnqueueBlobDelete: %v", err)
	}

	deleter := &mockDeleter{deleteFn: func(string) error { return errors.New("bucket unreachable") }}
	w := NewWorker(store, deleter, 0)

	for i := 1; i <= 5; i++ {
		didWork, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d found no job", i)
		}
		status, attempts := jobStatus(t, store, jobID)
		if attempts != i {
			t.Errorf("attempts = %d, want %d", attempts, i)
		}
		if i < 5 {
			if status != "pending" {
				t.Errorf("status after attempt %d = %q, want pending", i, status)
			}
			resetRunAfter(t, store, jobID)
		} else if status != "failed" {
			t.Errorf("final status = %q, want failed", status)
		}
	}
}

func TestWorker_BadPayload(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{ID: "j-bad", Type: storage.JobBlobDelete, PayloadJSON: `{`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, &mockDeleter{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if status, _ := jobStatus(t, store, "j-bad"); status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockDeleter{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if _, err := EnqueueBlobDelete(store, "u-1/r-2.pdf"); err != nil {
		t.Fatalf("EnqueueBlobDelete: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n, _ := store.CountJobs("completed"); n != 1 {
		t.Errorf("completed jobs = %d, want 1", n)
	}
}
