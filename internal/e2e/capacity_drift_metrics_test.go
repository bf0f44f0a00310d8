package e2e

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/harborline/harborline/internal/jobs"
	"github.com/harborline/harborline/jobs"
)

// Simulates the metric trail of two integrity scans: one that finds drifted
// rows and one that finds the ledgers reconciled again. The alerting rule
// fires on the gauge alone, so a recovered scan must write zero explicitly.
func TestIntegrityScanMetricsFireAndClearDriftAlert(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	tracker := metrics.Track(jobs.TaskCapacityIntegrityScan)
	metrics.SetDrift("trip_aggregate", 2)
	metrics.SetDrift("conservation", 1)
	metrics.SetDrift("block_bounds", 0)
	metrics.SetDrift("grant_ledger", 0)
	if err := tracker.End(nil); err != nil {
		t.Fatalf("unexpected error ending tracker: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "harborline_jobs_total", map[string]string{"job": jobs.TaskCapacityIntegrityScan, "status": "success"}, 1) {
		t.Fatal("expected harborline_jobs_total increment for the integrity scan")
	}
	if !metricExists(families, "harborline_job_duration_seconds") {
		t.Fatal("expected harborline_job_duration_seconds to be recorded")
	}
	if got := gaugeValue(t, families, "harborline_capacity_drift_rows", map[string]string{"check": "trip_aggregate"}); got != 2 {
		t.Fatalf("expected 2 drifted trip_aggregate rows, got %f", got)
	}

	// Second scan: drift repaired, plus a transient query failure.
	tracker = metrics.Track(jobs.TaskCapacityIntegrityScan)
	metrics.SetDrift("trip_aggregate", 0)
	metrics.SetDrift("conservation", 0)
	if err := tracker.End(errors.New("query timeout")); err == nil {
		t.Fatal("expected error to propagate through the tracker")
	}

	families, err = reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "harborline_jobs_total", map[string]string{"job": jobs.TaskCapacityIntegrityScan, "status": "failure"}, 1) {
		t.Fatal("expected a failure increment for the second scan")
	}
	for _, check := range []string{"trip_aggregate", "conservation", "block_bounds", "grant_ledger"} {
		if got := gaugeValue(t, families, "harborline_capacity_drift_rows", map[string]string{"check": check}); got != 0 {
			t.Fatalf("expected drift gauge for %s to clear, got %f", check, got)
		}
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func gaugeValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) && metric.GetGauge() != nil {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("gauge %s with labels %v not found", name, labels)
	return 0
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
