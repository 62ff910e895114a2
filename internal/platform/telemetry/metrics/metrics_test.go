package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	r.ObserveOperation("approve", "", time.Millisecond)
	r.ObserveOperation("approve", "conflict", time.Millisecond)
	r.ObserveOperation("approve", "conflict", 2*time.Millisecond)

	if got := testutil.ToFloat64(r.operations.WithLabelValues("approve", OutcomeOK)); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.operations.WithLabelValues("approve", "conflict")); got != 2 {
		t.Fatalf("conflict count = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(r.duration); got != 1 {
		t.Fatalf("histogram series = %d, want 1", got)
	}
}

func TestRecorderCountsTransitions(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r.ObserveTransition("RECRUITING", "RECRUITED")
	if got := testutil.ToFloat64(r.transitions.WithLabelValues("RECRUITING", "RECRUITED")); got != 1 {
		t.Fatalf("transition count = %v, want 1", got)
	}
}

func TestRecorderToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("first recorder: %v", err)
	}
	second, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("second recorder: %v", err)
	}
	second.ObserveOperation("join", "", time.Millisecond)
	if got := testutil.ToFloat64(first.operations.WithLabelValues("join", OutcomeOK)); got != 1 {
		t.Fatalf("shared count = %v, want 1", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveOperation("approve", "", time.Millisecond)
	r.ObserveTransition("RECRUITING", "RECRUITED")
}
