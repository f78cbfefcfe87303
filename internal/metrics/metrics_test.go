package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counts(t *testing.T) {
	c := New(func() float64 { return 110e6 })

	c.ObserveOperation("complete_task", nil)
	c.ObserveOperation("complete_task", errors.New("boom"))
	c.ObserveOperation("complete_task", nil)
	c.ObservePayout("task_earning", 97_500_000)
	c.ObservePayout("task_earning", 2_500_000)
	c.ObserveSweep("expire", "skipped")

	if got := testutil.ToFloat64(c.operations.WithLabelValues("complete_task", "ok")); got != 2 {
		t.Errorf("ok ops: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.operations.WithLabelValues("complete_task", "error")); got != 1 {
		t.Errorf("error ops: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.payoutSum.WithLabelValues("task_earning")); got != 100_000_000 {
		t.Errorf("payout sum: got %v", got)
	}
	if got := testutil.ToFloat64(c.sweeps.WithLabelValues("expire", "skipped")); got != 1 {
		t.Errorf("sweeps: got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New(func() float64 { return 42 })
	c.ObserveOperation("create_task", nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`gigvault_escrow_operations_total{op="create_task",result="ok"} 1`,
		`gigvault_escrow_custodied_tokens 42`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
