package usecase

import (
	"context"
	"math"
	"time"
)

// AnalysisSummary represents aggregated screening insights for one user.
type AnalysisSummary struct {
	Total             int64      `json:"total"`
	Concerning        int64      `json:"concerning"`
	Normal            int64      `json:"normal"`
	ConcerningRate    float64    `json:"concerningRate"`
	AverageConfidence float64    `json:"averageConfidence"`
	LastAnalysisAt    *time.Time `json:"lastAnalysisAt"`
}

// Summary aggregates the user's persisted analyses.
func (uc *AnalysisUseCase) Summary(ctx context.Context, userID string) (*AnalysisSummary, error) {
	aggregation, err := uc.repo.SummaryForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &AnalysisSummary{
		Total:             aggregation.Total,
		Concerning:        aggregation.Concerning,
		Normal:            aggregation.Total - aggregation.Concerning,
		AverageConfidence: round3(aggregation.AverageConfidence),
		LastAnalysisAt:    aggregation.LastAnalysisAt,
	}

	if aggregation.Total > 0 {
		summary.ConcerningRate = round3(float64(aggregation.Concerning) / float64(aggregation.Total))
	}

	return summary, nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
