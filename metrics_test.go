package abac

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordDecisions(t *testing.T) {
	m := NewMetrics("abac_test")
	m.Init()
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()

	f.evaluate(1, "/api/users", "read")
	f.evaluate(99, "/api/users", "read")
	f.evaluate(3, "/api/users", "delete")
	_ = f.dir.PutPolicy(ctx, NewPolicyBuilder().Name("broken").Allow().Priority(1000).When(Condition{"xor": nil}).Build())
	f.evaluate(2, "/api/reports", "read")

	checks := []struct {
		c    prometheus.Collector
		want float64
	}{
		{m.decisions.WithLabelValues("ALLOW", reasonPolicy), 2},
		{m.decisions.WithLabelValues("DENY", reasonSubject), 1},
		{m.decisions.WithLabelValues("DENY", reasonNoMatch), 1},
		{m.decisions.WithLabelValues("DENY", reasonError), 0},
		{m.conditionErrors, 1},
	}
	for i, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Fatalf("check %d: got %v, want %v", i, got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Fatalf("expected both decision histograms, got %d", n)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics("")
	m.Init()
	m.recordDecision(EffectAllow, reasonPolicy, 0)
	expected := `
# HELP abac_pdp_decisions_total Total number of access decisions by outcome
# TYPE abac_pdp_decisions_total counter
abac_pdp_decisions_total{decision="ALLOW",reason="policy"} 1
abac_pdp_decisions_total{decision="DENY",reason="action_not_found"} 0
abac_pdp_decisions_total{decision="DENY",reason="error"} 0
abac_pdp_decisions_total{decision="DENY",reason="no_applicable"} 0
abac_pdp_decisions_total{decision="DENY",reason="no_match"} 0
abac_pdp_decisions_total{decision="DENY",reason="policy"} 0
abac_pdp_decisions_total{decision="DENY",reason="resource_not_found"} 0
abac_pdp_decisions_total{decision="DENY",reason="subject_unavailable"} 0
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "abac_pdp_decisions_total"); err != nil {
		t.Fatal(err)
	}
}

func TestMetricsMustRegisterTwice(t *testing.T) {
	m := NewMetrics("twice")
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)
	m.MustRegister(reg)
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("gather: %d %v", n, err)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Init()
	m.recordDecision(EffectDeny, reasonError, 0)
	m.conditionFailed(3)
	m.auditDropped()
	m.auditFailed()
	m.MustRegister(prometheus.NewRegistry())
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}
