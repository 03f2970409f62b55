package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("rpc_calls_total", map[string]string{"service": "EvaluationService", "outcome": "ok"}, 3)
	r.SetGauge("upload_sessions_active", nil, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `rpc_calls_total{outcome="ok",service="EvaluationService"} 3`) {
		t.Fatalf("missing rpc counter in output: %s", out)
	}
	if !strings.Contains(out, "upload_sessions_active 2") {
		t.Fatalf("missing session gauge in output: %s", out)
	}
}

func TestCounterAccumulatesPerLabelSet(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("notifications_appended_total", nil, 1)
	r.IncCounter("notifications_appended_total", nil, 2)
	r.IncCounter("notifications_appended_total", map[string]string{"source": "monitor"}, 1)

	s := r.Snapshot()
	if len(s.Counters) != 2 {
		t.Fatalf("expected 2 counter series, got %d", len(s.Counters))
	}
	var plain, labeled float64
	for _, p := range s.Counters {
		if len(p.Labels) == 0 {
			plain = p.Value
		} else {
			labeled = p.Value
		}
	}
	if plain != 3 || labeled != 1 {
		t.Fatalf("unexpected counter values plain=%v labeled=%v", plain, labeled)
	}
}
