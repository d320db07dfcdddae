package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lockss-go/internal/lockss"
)

func TestFileVerified(t *testing.T) {
	m := New()
	m.FileVerified("au-1", true)
	m.FileVerified("au-1", false)
	m.FileVerified("au-1", false)

	if got := testutil.ToFloat64(m.filesVerified.WithLabelValues("match")); got != 1 {
		t.Errorf("match count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.mismatches.WithLabelValues("au-1")); got != 2 {
		t.Errorf("mismatch count = %v, want 2", got)
	}
}

func TestRepairEnqueued(t *testing.T) {
	m := New()
	m.RepairEnqueued("au-1", nil)
	m.RepairEnqueued("au-1", lockss.ErrQueueFull)

	tests := []struct {
		outcome string
		want    float64
	}{
		{"accepted", 1},
		{"queue_full", 1},
		{"failed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			if got := testutil.ToFloat64(m.repairsEnqueued.WithLabelValues(tt.outcome)); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RunFinished("au-1", 2048, true)
	m.ProbeFinished("au-1", lockss.SubscriptionYes)
	m.SetCollectionUsage("disk-1", 42.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"lockss_hash_bytes_total 2048",
		"lockss_hash_run_overruns_total 1",
		`lockss_subscription_probes_total{status="yes"} 1`,
		`lockss_collection_percent_used{collection="disk-1"} 42.5`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
