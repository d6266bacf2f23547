package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("test")
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.registry == nil {
		t.Error("registry should not be nil")
	}
}

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.RecordFireSkipped()

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "cyclebot_cycle_fires_skipped_total" {
			found = true
		}
	}
	if !found {
		t.Error("default namespace cyclebot not applied")
	}
}

func TestCollector_UnitMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordUnitStarted()
	c.RecordUnitStarted()
	c.RecordUnitFinished("success")

	if got := testutil.ToFloat64(c.unitsActive); got != 1 {
		t.Errorf("units active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.unitsFinished.WithLabelValues("success")); got != 1 {
		t.Errorf("units finished = %v, want 1", got)
	}
}

func TestCollector_CycleAndTxMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordCycle("rubic", "success", 3*time.Second)
	c.RecordCycle("rubic", "failed", time.Second)
	c.RecordCycle("rubic", "success", 2*time.Second)
	c.RecordTx("wrap", "sent")
	c.RecordTx("wrap", "confirmed")
	c.RecordFireSkipped()
	c.RecordEventsDropped(3)
	c.RecordEventsDropped(0)

	if got := testutil.ToFloat64(c.cyclesTotal.WithLabelValues("rubic", "success")); got != 2 {
		t.Errorf("successful cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.txTotal.WithLabelValues("wrap", "confirmed")); got != 1 {
		t.Errorf("confirmed tx = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.eventsDropped); got != 3 {
		t.Errorf("dropped events = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(c.cycleDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestNoOpCollector(t *testing.T) {
	c := NewNoOpCollector()

	// Should not panic
	c.RecordUnitStarted()
	c.RecordUnitFinished("failed")
	c.RecordCycle("magma", "success", time.Second)
	c.RecordFireSkipped()
	c.RecordTx("stake", "sent")
	c.RecordEventsDropped(1)
}

// =============================================================================
// HTTP
// =============================================================================

func TestRouter_MetricsAndHealth(t *testing.T) {
	c := NewCollector("test")
	c.RecordTx("unwrap", "sent")
	srv := httptest.NewServer(Router(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("/healthz = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `test_tx_total{action="unwrap",stage="sent"} 1`) {
		t.Errorf("/metrics missing tx counter:\n%s", body)
	}
	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("/healthz", "200")); got != 1 {
		t.Errorf("healthz requests = %v, want 1", got)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewCollector("test"), zerolog.Nop())
	addr, err := s.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
