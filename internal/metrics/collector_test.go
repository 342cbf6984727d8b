package metrics

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterIdentity(t *testing.T) {
	c := NewCollector()
	a := c.Counter("porter_test_total", "help")
	b := c.Counter("porter_test_total", "other help")
	if a != b {
		t.Fatal("same name must return the same counter")
	}
	a.Inc()
	a.Add(2)
	if b.Value() != 3 {
		t.Errorf("counter = %d, want 3", b.Value())
	}
}

func TestGauge(t *testing.T) {
	c := NewCollector()
	g := c.Gauge("porter_test_gauge", "help")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Errorf("gauge = %d, want 1", g.Value())
	}
	g.Set(9)
	if g.Value() != 9 {
		t.Errorf("gauge = %d, want 9", g.Value())
	}
}

func TestHandlerExposition(t *testing.T) {
	c := NewCollector()
	c.Counter("porter_b_total", "second").Add(5)
	c.Counter("porter_a_total", "first").Inc()
	c.Gauge("porter_g", "a gauge").Set(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"porter_uptime_seconds",
		"# TYPE porter_a_total counter",
		"porter_a_total 1",
		"porter_b_total 5",
		"# TYPE porter_g gauge",
		"porter_g 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}

	// Counters render sorted by name.
	if strings.Index(body, "porter_a_total") > strings.Index(body, "porter_b_total") {
		t.Error("counters not sorted by name")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestHandlerDuringRegistration(t *testing.T) {
	c := NewCollector()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			c.Counter(fmt.Sprintf("porter_late_%d_total", i), "late registration").Inc()
		}
	}()

	h := c.Handler()
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	}
	<-done

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "porter_late_199_total 1") {
		t.Error("late-registered counter missing from exposition")
	}
}
