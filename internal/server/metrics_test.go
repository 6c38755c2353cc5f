package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherOne(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s not found in gathered metrics", name)
	return nil
}

func TestMetrics_LeadSaved(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &stubGenerator{reply: "x"}, nil)

	env.srv.LeadSaved()
	env.srv.LeadSaved()

	mf := gatherOne(t, env.reg, "zudu_leads_saved_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("want 2, got %v", v)
	}
}

func TestMetrics_ActiveSessionsTracksRegistry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &stubGenerator{reply: "x"}, nil)

	env.createSession(t)
	env.createSession(t)

	mf := gatherOne(t, env.reg, "zudu_sessions_active")
	if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 2 {
		t.Errorf("want 2, got %v", v)
	}
}

func TestMetrics_TurnOutcomeLabels(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &stubGenerator{reply: "x"}, nil)

	env.srv.metrics.turnsTotal.WithLabelValues("timeout").Inc()

	mf := gatherOne(t, env.reg, "zudu_turns_total")
	found := false
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "outcome" && lp.GetValue() == "timeout" {
				found = m.GetCounter().GetValue() == 1
			}
		}
	}
	if !found {
		t.Error(`zudu_turns_total{outcome="timeout"} = 1 not found`)
	}
}
