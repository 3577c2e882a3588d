package llm

import "testing"

func TestRecordTokenMetricsAccumulatesPerModel(t *testing.T) {
	resetTokenMetricsState()
	defer resetTokenMetricsState()

	RecordTokenMetrics("claude-opus", 100, 50)
	RecordTokenMetrics("claude-opus", 20, 10)
	RecordTokenMetrics("gpt-5", 5, 5)

	totals := TokenTotalsSnapshot()
	if len(totals) != 2 {
		t.Fatalf("expected 2 models, got %d", len(totals))
	}
	if totals[0].Model != "claude-opus" || totals[0].Total != 180 {
		t.Fatalf("unexpected top total: %+v", totals[0])
	}
}

func TestRecordTokenMetricsIgnoresEmptyModel(t *testing.T) {
	resetTokenMetricsState()
	defer resetTokenMetricsState()

	RecordTokenMetrics("", 100, 50)
	if len(TokenTotalsSnapshot()) != 0 {
		t.Fatalf("expected no totals recorded for empty model")
	}
}
