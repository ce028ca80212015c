package observability

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordTurn(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTurn("completed", 1.2)
	m.RecordTurn("completed", 0.4)
	m.RecordTurn("cancelled", 0.1)

	expected := `
		# HELP jarvis_turns_total Total number of conversation turns by outcome
		# TYPE jarvis_turns_total counter
		jarvis_turns_total{outcome="cancelled"} 1
		jarvis_turns_total{outcome="completed"} 2
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.TurnDuration); count != 2 {
		t.Errorf("expected 2 duration series, got %d", count)
	}
}

func TestMetricsToolExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordToolExecution("system_status", "remote", "success", 0.3)
	m.RecordToolExecution("system_status", "remote", "timeout", 90)
	m.RecordToolExecution("calculator", "local", "success", 0.001)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("system_status", "remote", "timeout")); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 3 {
		t.Errorf("expected 3 series, got %d", count)
	}
}

func TestMetricsConnectionsGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.ActiveConnections); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}
}

func TestMetricsCleanupIgnoresZero(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordCleanup("deleted", 0)
	m.RecordCleanup("summarized", 3)

	if count := testutil.CollectAndCount(m.CleanupSessions); count != 1 {
		t.Errorf("expected 1 series, got %d", count)
	}
	if got := testutil.ToFloat64(m.CleanupSessions.WithLabelValues("summarized")); got != 3 {
		t.Errorf("summarized = %v, want 3", got)
	}
}

func TestMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordTurn("completed", 1)
	m.TokenStreamed("mock")
	m.RecordLLMRequest("mock", "success", 1)
	m.RecordToolExecution("x", "local", "success", 1)
	m.RecordHTTPRequest("GET", "/", "200", 1)
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordCleanup("deleted", 1)
	m.RecordWriteConflict("retried")
}

func TestMetricsConcurrent(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.TokenStreamed("openai")
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.TokensStreamed.WithLabelValues("openai")); got != 50 {
		t.Errorf("tokens = %v, want 50", got)
	}
}
