package handlers

import (
	"time"

	"github.com/example/oralscan/internal/repository"
	"github.com/example/oralscan/internal/verdict"
)

// AnalysisResponse is the wire shape of one analysis.
type AnalysisResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	ImageURL        string  `json:"imageUrl"`
	Result          string  `json:"result"`
	Confidence      float64 `json:"confidence"`
	Explanation     *string `json:"explanation"`
	Recommendations *string `json:"recommendations,omitempty"`
	Timestamp       string  `json:"timestamp"`
	Severity        string  `json:"severity"`
	Status          string  `json:"status"`
	Source          string  `json:"source,omitempty"`
	FollowUpDate    *string `json:"followUpDate,omitempty"`
}

func newAnalysisResponse(a *repository.Analysis, v *verdict.Verdict) AnalysisResponse {
	resp := AnalysisResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		ImageURL:        a.ImageURL,
		Result:          a.Result,
		Confidence:      a.ConfidenceFloat(),
		Explanation:     a.Explanation,
		Recommendations: a.Recommendations,
		Timestamp:       a.CreatedAt.UTC().Format(time.RFC3339),
		Severity:        a.Severity,
		Status:          a.Status,
	}
	if v != nil {
		resp.Source = string(v.Source)
	}
	if a.FollowUpDate != nil {
		d := time.Time(*a.FollowUpDate).Format(time.DateOnly)
		resp.FollowUpDate = &d
	}
	return resp
}

func newHistoryResponse(analyses []repository.Analysis) []AnalysisResponse {
	out := make([]AnalysisResponse, 0, len(analyses))
	for i := range analyses {
		out = append(out, newAnalysisResponse(&analyses[i], nil))
	}
	return out
}
