package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronMetricsSplitOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	end := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	m.ObserveJob("subscription-cycle-sweep", 2*time.Second, nil, end)
	m.ObserveJob("subscription-cycle-sweep", time.Second, errors.New("db down"), end.Add(time.Hour))
	m.ObserveCycle(false)
	m.ObserveCycle(true)
	m.ObserveCycle(true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	job := map[string]string{"job": "subscription-cycle-sweep"}

	for outcome, want := range map[string]float64{"success": 1, "failure": 1} {
		labels := map[string]string{"job": "subscription-cycle-sweep", "outcome": outcome}
		got, err := metricValue(mfs, "meterly_cron_job_runs_total", labels)
		if err != nil || got != want {
			t.Fatalf("runs{%s}=%v err=%v, want %v", outcome, got, err, want)
		}
	}
	if got, err := metricValue(mfs, "meterly_cron_job_last_success_timestamp_seconds", job); err != nil || got != float64(end.Unix()) {
		t.Fatalf("last success=%v err=%v, failures must not move it", got, err)
	}
	if got, err := metricValue(mfs, "meterly_cron_job_duration_seconds", job); err != nil || got != 3 {
		t.Fatalf("duration sum=%v err=%v", got, err)
	}
	if got, err := metricValue(mfs, "meterly_cron_cycles_total", map[string]string{"result": "skipped"}); err != nil || got != 2 {
		t.Fatalf("skipped cycles=%v err=%v", got, err)
	}
}

func TestNilCronMetricsAreNoops(t *testing.T) {
	var m *CronMetrics
	m.ObserveJob("job", time.Second, nil, time.Now())
	m.ObserveCycle(true)
	NewCronMetrics(nil).ObserveJob("", 0, errors.New("x"), time.Now())
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	return metricValue(mfs, name, map[string]string{label: value})
}

// metricValue returns the counter value, gauge value or histogram sum of the
// first series carrying all labels.
func metricValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !hasLabels(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.Counter != nil:
				return metric.GetCounter().GetValue(), nil
			case metric.Gauge != nil:
				return metric.GetGauge().GetValue(), nil
			case metric.Histogram != nil:
				return metric.GetHistogram().GetSampleSum(), nil
			}
		}
		return 0, fmt.Errorf("metric %q has no series %v", name, labels)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
