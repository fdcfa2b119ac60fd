package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransition_MovesGauge(t *testing.T) {
	m := New()
	m.RecordTransition("", "uploading")
	m.RecordTransition("uploading", "processing")

	if got := testutil.ToFloat64(m.DocumentsByStatus.WithLabelValues("uploading")); got != 0 {
		t.Errorf("uploading gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.DocumentsByStatus.WithLabelValues("processing")); got != 1 {
		t.Errorf("processing gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("processing")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordUpload("accepted")
	m.RecordTransition("a", "b")
	m.RecordStage("chunking", time.Second)
	m.RecordHTTP("GET", "/documents", 200, time.Millisecond)
	m.SeedStatus("ready")

	var c *Client
	c.RecordPollAttempt()
	c.RecordPollExhausted()
	if len(c.Totals()) != 0 {
		t.Error("nil client should report no totals")
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.RecordUpload("accepted")
	m.RecordChunks(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`policyqa_uploads_total{result="accepted"} 1`,
		"policyqa_chunks_indexed_total 3",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(string(body), "policyqa_client_poll") {
		t.Error("client poller counters belong to the client registry")
	}
}

func TestSeedStatus_LeavesTransitionsAlone(t *testing.T) {
	m := New()
	m.SeedStatus("ready")
	m.SeedStatus("ready")

	if got := testutil.ToFloat64(m.DocumentsByStatus.WithLabelValues("ready")); got != 2 {
		t.Errorf("ready gauge = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.TransitionsTotal); got != 0 {
		t.Errorf("seeding recorded %d transition series", got)
	}
}

func TestClient_Totals(t *testing.T) {
	c := NewClient()
	c.RecordPollAttempt()
	c.RecordPollAttempt()
	c.RecordPollExhausted()

	totals := c.Totals()
	if totals["policyqa_client_poll_attempts_total"] != 2 {
		t.Errorf("attempts = %v, want 2", totals["policyqa_client_poll_attempts_total"])
	}
	if totals["policyqa_client_poll_exhausted_total"] != 1 {
		t.Errorf("exhausted = %v, want 1", totals["policyqa_client_poll_exhausted_total"])
	}
}
