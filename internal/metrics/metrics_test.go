package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecorderExposition(t *testing.T) {
	r := New()
	r.RecordAttempt(ScopeWhole, "failed", 0.2)
	r.RecordAttempt(ScopePartition, "converged", 0.1)
	r.RecordSolve("ok")
	r.RecordJob("completed")
	r.SetQueueDepth(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`astrored_solver_attempts_total{outcome="failed",scope="whole"} 1`,
		`astrored_solver_attempts_total{outcome="converged",scope="partition"} 1`,
		`astrored_solver_solves_total{outcome="ok"} 1`,
		`astrored_pipeline_jobs_total{status="completed"} 1`,
		`astrored_pipeline_queue_depth 3`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, text)
		}
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordAttempt(ScopeWhole, "failed", 1)
	r.RecordSolve("ok")
	r.RecordJob("failed")
	r.SetQueueDepth(1)
}

func TestRecordersAreIndependent(t *testing.T) {
	// separate registries must not collide on registration
	_ = New()
	_ = New()
}
