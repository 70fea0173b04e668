package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	m := New()
	m.IngestTotal.WithLabelValues("success").Inc()
	m.QuotaRejections.WithLabelValues("acme", "events_per_day").Inc()

	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
	if got := testutil.ToFloat64(m.IngestTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("ingest total = %v, want 1", got)
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.IngestTotal.WithLabelValues("success").Inc()
	if got := testutil.ToFloat64(b.IngestTotal.WithLabelValues("success")); got != 0 {
		t.Fatalf("expected independent registries, got %v on second instance", got)
	}
}
