package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"astrored/internal/orbit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "astrored.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordJobQueued(JobRecord{ID: "j1", Target: "K19X01A", Source: "cli", Status: "queued", Observations: 12}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobStart("j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("j1", "completed", map[string]any{"attempts": 4}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}

	rec, err := s.Job("j1")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if rec.Status != "completed" || rec.Target != "K19X01A" || rec.Observations != 12 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Fatalf("expected timestamps, got %+v", rec)
	}
	meta, err := s.JobMeta("j1")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["attempts"] != float64(4) {
		t.Fatalf("expected attempts=4, got %v", meta)
	}
}

func TestRecentJobsOrder(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordJobQueued(JobRecord{ID: id, Status: "queued"}); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.RecentJobs(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("expected newest first, got %+v", recs)
	}
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Job("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.JobMeta("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.LatestOrbit("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrbitAndAttempts(t *testing.T) {
	s := openTestStore(t)
	est := orbit.Estimate{
		SemimajorAxis: orbit.Element{Value: 2.77, Sigma: 1e-6},
		Eccentricity:  orbit.Element{Value: 0.076, Sigma: 1e-7},
		Inclination:   orbit.Element{Value: 10.6, Sigma: 1e-5},
		Node:          orbit.Element{Value: 80.3, Sigma: 1e-5},
		ArgPerihelion: orbit.Element{Value: 73.1, Sigma: 1e-5},
		MeanAnomaly:   orbit.Element{Value: 291.4, Sigma: 2e-5},
		Epoch:         2460200.5,
	}
	if err := s.RecordOrbit("j1", "00001", est); err != nil {
		t.Fatalf("record orbit: %v", err)
	}
	got, jobID, err := s.LatestOrbit("00001")
	if err != nil {
		t.Fatalf("latest orbit: %v", err)
	}
	if got != est || jobID != "j1" {
		t.Fatalf("expected %v from j1, got %v from %s", est, got, jobID)
	}

	attempts := []AttemptRecord{
		{Scope: "whole", Observations: 30, Outcome: "failed", Error: "diverged", DurationMS: 120},
		{Scope: "partition", Year: 2019, Observations: 10, Outcome: "converged", DurationMS: 80},
	}
	if err := s.RecordAttempts("j1", attempts); err != nil {
		t.Fatalf("record attempts: %v", err)
	}
	back, err := s.Attempts("j1")
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(back) != 2 || back[0] != attempts[0] || back[1] != attempts[1] {
		t.Fatalf("expected %+v, got %+v", attempts, back)
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("expected nil store writes to be no-ops, got %v", err)
	}
	if err := s.RecordOrbit("x", "y", orbit.Estimate{}); err != nil {
		t.Fatalf("expected nil store writes to be no-ops, got %v", err)
	}
	if _, err := s.RecentJobs(1); err == nil {
		t.Fatalf("expected error reading from nil store")
	}
}
