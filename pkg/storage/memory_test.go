package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

func newJob(id string, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:        id,
		InputRef:  "/audio/" + id + ".wav",
		State:     models.StateQueued,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// TestMemoryJobStoreSnapshots verifies Get returns copies: mutating a
// returned job must not leak back into the store.
func TestMemoryJobStoreSnapshots(t *testing.T) {
	s := NewMemoryJobStore()
	if err := s.Save(newJob("j1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.State = models.StateFailed
	got.Error = "tampered"

	again, err := s.Get("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.State != models.StateQueued || again.Error != "" {
		t.Fatalf("caller mutation leaked into store: %+v", again)
	}
}

// TestMemoryJobStoreUpdateAborts verifies a failing update callback leaves
// the stored job untouched.
func TestMemoryJobStoreUpdateAborts(t *testing.T) {
	s := NewMemoryJobStore()
	s.Save(newJob("j1", time.Now()))

	wantErr := fmt.Errorf("refuse")
	err := s.Update("j1", func(j *models.Job) error {
		j.State = models.StateRunning
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the callback error", err)
	}

	got, _ := s.Get("j1")
	if got.State != models.StateQueued {
		t.Fatalf("state = %s, aborted update must not apply", got.State)
	}
}

// TestMemoryJobStoreListOrder verifies newest-first ordering.
func TestMemoryJobStoreListOrder(t *testing.T) {
	s := NewMemoryJobStore()
	base := time.Now()
	s.Save(newJob("old", base.Add(-2*time.Hour)))
	s.Save(newJob("mid", base.Add(-1*time.Hour)))
	s.Save(newJob("new", base))

	jobs, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "mid", "old"}
	for i, j := range jobs {
		if j.ID != want[i] {
			t.Fatalf("list[%d] = %s, want %s", i, j.ID, want[i])
		}
	}
}

// TestMemoryJobStoreNotFound covers the missing-key category on all ops.
func TestMemoryJobStoreNotFound(t *testing.T) {
	s := NewMemoryJobStore()

	if _, err := s.Get("ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("get err = %v, want NotFound", err)
	}
	if err := s.Update("ghost", func(*models.Job) error { return nil }); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("update err = %v, want NotFound", err)
	}
	if err := s.Delete("ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("delete err = %v, want NotFound", err)
	}
}

// TestMemoryResultStoreUpdateAtomic verifies the update callback operates on
// a copy and replaces the stored value wholesale.
func TestMemoryResultStoreUpdateAtomic(t *testing.T) {
	s := NewMemoryResultStore()
	s.Save(&models.AnalysisResult{
		AnalysisID: "a1",
		Segments: []models.Segment{
			{ID: "seg_0001", SpeakerID: "SPEAKER_00", SpeakerLabel: "Speaker 1", Text: "hello"},
			{ID: "seg_0002", SpeakerID: "SPEAKER_00", SpeakerLabel: "Speaker 1", Text: "world"},
		},
	})

	err := s.Update("a1", func(r *models.AnalysisResult) error {
		for i := range r.Segments {
			r.Segments[i].SpeakerLabel = "Alice"
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get("a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, seg := range got.Segments {
		if seg.SpeakerLabel != "Alice" {
			t.Fatalf("segment %s label = %s, want Alice", seg.ID, seg.SpeakerLabel)
		}
	}

	// Mutating the snapshot must not touch the store.
	got.Segments[0].Text = "tampered"
	again, _ := s.Get("a1")
	if again.Segments[0].Text != "hello" {
		t.Fatal("caller mutation leaked into store")
	}
}
