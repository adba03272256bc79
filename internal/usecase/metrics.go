package usecase

import (
	"context"

	"github.com/example/okra-classifier/internal/scorer"
)

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalRequests     int64            `json:"total_requests"`
	FallbackRequests  int64            `json:"fallback_requests"`
	FallbackRate      float64          `json:"fallback_rate"`
	PredictionCounts  map[string]int64 `json:"prediction_counts"`
	AverageConfidence float64          `json:"average_confidence"`
	AverageLatencyMs  float64          `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates classification metrics from persisted records.
// Every label of the vocabulary appears in PredictionCounts, zero or not.
func (uc *ClassificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:     aggregation.TotalCount,
		FallbackRequests:  aggregation.FallbackCount,
		PredictionCounts:  make(map[string]int64, len(scorer.Labels)),
		AverageConfidence: aggregation.AverageConfidence,
		AverageLatencyMs:  aggregation.AverageLatencyMs,
	}
	for _, l := range scorer.Labels {
		summary.PredictionCounts[string(l)] = 0
	}
	for _, lc := range aggregation.ByLabel {
		summary.PredictionCounts[lc.Prediction] = lc.Count
	}
	if aggregation.TotalCount > 0 {
		summary.FallbackRate = float64(aggregation.FallbackCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}
