package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestVerdictMetrics(t *testing.T) {
	VerdictsTotal.Reset()

	VerdictsTotal.WithLabelValues("proceed").Inc()
	VerdictsTotal.WithLabelValues("proceed").Inc()
	VerdictsTotal.WithLabelValues("reject").Inc()

	if got := testutil.ToFloat64(VerdictsTotal.WithLabelValues("proceed")); got != 2 {
		t.Errorf("expected 2 proceed verdicts, got %v", got)
	}
	if got := testutil.ToFloat64(VerdictsTotal.WithLabelValues("reject")); got != 1 {
		t.Errorf("expected 1 reject verdict, got %v", got)
	}
}

func TestSessionGauges(t *testing.T) {
	SessionsOpen.Set(0)
	SessionsOpen.Inc()
	SessionsOpen.Inc()
	SessionsOpen.Dec()

	if got := testutil.ToFloat64(SessionsOpen); got != 1 {
		t.Errorf("expected 1 open session, got %v", got)
	}
}

func TestMetricsRegistered(t *testing.T) {
	BlacklistMatchers.WithLabelValues("literal").Set(3)
	MatcherHitsTotal.WithLabelValues("regex", "subject").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	want := map[string]bool{
		"contentfilter_blacklist_matchers": false,
		"contentfilter_matcher_hits_total": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("metric %s not registered", name)
		}
	}

	expected := `
# HELP contentfilter_blacklist_matchers Number of loaded blacklist matchers
# TYPE contentfilter_blacklist_matchers gauge
contentfilter_blacklist_matchers{kind="literal"} 3
`
	if err := testutil.CollectAndCompare(BlacklistMatchers, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected collecting result:\n%s", err)
	}
}
