package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Event("start", "greet")
	m.EventError("text", "classification")
	m.ClassifyDuration("ok", 0.3)
	m.SetActiveSessions(3)
	m.AddInFlight(1)
	m.Update("photo", "ok")
	m.MessageSent("main")
	m.SendFailure()
	m.ShutdownRequested()
}

func TestCounters(t *testing.T) {
	m := New()
	m.Event("photo", "store_image")
	m.Event("photo", "store_image")
	m.SetActiveSessions(4)
	m.AddInFlight(2)
	m.AddInFlight(-1)
	m.ShutdownRequested()

	if got := testutil.ToFloat64(m.events.WithLabelValues("photo", "store_image")); got != 2 {
		t.Fatalf("events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 4 {
		t.Fatalf("active sessions = %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("in flight = %v", got)
	}
	if got := testutil.ToFloat64(m.shutdownRequests); got != 1 {
		t.Fatalf("shutdown requests = %v", got)
	}
}
