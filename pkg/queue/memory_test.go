package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// TestMemoryQueueFIFO verifies ordering and basic enqueue/dequeue.
func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(&models.Job{ID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue()
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if job.ID != want {
			t.Fatalf("dequeued %s, want %s", job.ID, want)
		}
	}
}

// TestMemoryQueueBackpressure verifies a full queue rejects with the
// CapacityExceeded category.
func TestMemoryQueueBackpressure(t *testing.T) {
	q := NewMemoryQueue(2)
	defer q.Close()

	if err := q.Enqueue(&models.Job{ID: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(&models.Job{ID: "b"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Enqueue(&models.Job{ID: "c"}); !errors.Is(err, apperr.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want CapacityExceeded", err)
	}

	// Dequeue frees a slot.
	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Enqueue(&models.Job{ID: "c"}); err != nil {
		t.Fatalf("enqueue after dequeue: %v", err)
	}
}

// TestMemoryQueueCancelMark verifies canceled jobs are dropped at dequeue.
func TestMemoryQueueCancelMark(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()

	q.Enqueue(&models.Job{ID: "victim"})
	q.Enqueue(&models.Job{ID: "survivor"})
	q.RequestCancel("victim")

	job, err := q.Dequeue()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job.ID != "survivor" {
		t.Fatalf("dequeued %s, want survivor", job.ID)
	}
}

// TestMemoryQueueExclusiveDelivery verifies each job is delivered to exactly
// one concurrent consumer.
func TestMemoryQueueExclusiveDelivery(t *testing.T) {
	const total = 100
	q := NewMemoryQueue(total)

	for i := 0; i < total; i++ {
		q.Enqueue(&models.Job{ID: string(rune('A' + i%26))})
	}
	q.Close()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := q.Dequeue(); err != nil {
					return // closed and drained
				}
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count != total {
		t.Fatalf("delivered %d jobs, want %d", count, total)
	}
}

// TestMemoryQueueNackRequeue verifies nack with requeue puts the job back.
func TestMemoryQueueNackRequeue(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()

	job := &models.Job{ID: "retry-me"}
	q.Enqueue(job)

	got, err := q.Dequeue()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Nack(got, true); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again, err := q.Dequeue()
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if again.ID != "retry-me" {
		t.Fatalf("dequeued %s, want retry-me", again.ID)
	}
}
