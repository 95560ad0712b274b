package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/sim"
)

func TestTaskCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskStarted(sim.KindBrew)
	m.TaskFinished(sim.KindBrew, sim.OutcomeCompleted, 31*time.Second)
	m.TaskStarted(sim.KindHeatUp)
	m.TaskFinished(sim.KindHeatUp, sim.OutcomeCancelled, 3*time.Second)

	if got := testutil.ToFloat64(m.tasksStarted.WithLabelValues("brew")); got != 1 {
		t.Errorf("brew started: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tasksFinished.WithLabelValues("heat_up", "cancelled")); got != 1 {
		t.Errorf("heat_up cancelled: got %v, want 1", got)
	}
}

func TestTickAppliedCountsCups(t *testing.T) {
	m := New(prometheus.NewRegistry())

	s := machine.Default()
	s.CupsSinceFilled = 2 // restored state, not brewed now
	m.TickApplied(s)

	s.CupsSinceFilled = 4
	s.Temperature = 94
	s.PoweredOn = true
	m.TickApplied(s)

	s.CupsSinceFilled = 0 // refill
	m.TickApplied(s)

	if got := testutil.ToFloat64(m.cups); got != 2 {
		t.Errorf("cups: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.temperature); got != 94 {
		t.Errorf("temperature: got %v, want 94", got)
	}
	if got := testutil.ToFloat64(m.poweredOn); got != 1 {
		t.Errorf("powered_on: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ticks); got != 3 {
		t.Errorf("snapshots: got %v, want 3", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/history/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/history/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/history/{kind}", "GET", "418")); got != 1 {
		t.Errorf("requests: got %v, want 1", got)
	}
}

func TestSetObservers(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetObservers(3)
	if got := testutil.ToFloat64(m.observers); got != 3 {
		t.Errorf("observers: got %v, want 3", got)
	}
}
