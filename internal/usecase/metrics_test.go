package usecase

import (
	"context"
	"testing"

	"github.com/example/okra-classifier/internal/repository"
)

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalCount:        4,
		FallbackCount:     1,
		AverageConfidence: 0.7,
		AverageLatencyMs:  3.5,
		ByLabel:           []repository.LabelCount{{Prediction: "mature_Okra", Count: 4}},
	}}
	uc := newTestUseCase(repo, &stubCache{}, Options{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FallbackRate != 0.25 {
		t.Fatalf("unexpected fallback rate: %v", summary.FallbackRate)
	}
	if summary.PredictionCounts["mature_Okra"] != 4 {
		t.Fatalf("unexpected mature count: %d", summary.PredictionCounts["mature_Okra"])
	}
	if n, ok := summary.PredictionCounts["over_matured_Okra"]; !ok || n != 0 {
		t.Fatalf("expected zero over-matured count, got %d (present=%t)", n, ok)
	}
}

func TestGetMetricsSummaryEmpty(t *testing.T) {
	uc := newTestUseCase(&stubRepository{agg: &repository.MetricsAggregation{}}, &stubCache{}, Options{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalRequests != 0 || summary.FallbackRate != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
