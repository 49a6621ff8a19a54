package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/oralscan/internal/logging"
	"github.com/example/oralscan/internal/retry"
	"github.com/example/oralscan/internal/verdict"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("record not found")

// Summary aggregates a user's analyses.
type Summary struct {
	Total             int64
	Concerning        int64
	AverageConfidence float64
	LastAnalysisAt    *time.Time
}

// AnalysisRepository provides persistence APIs for analyses.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  retry.Default.Attempts,
		initialBackoff: retry.Default.InitialBackoff,
		maxBackoff:     retry.Default.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{}, &Analysis{})
}

// Ping checks database connectivity.
func (r *AnalysisRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Insert persists one analysis; id and timestamp are filled in on a.
func (r *AnalysisRepository) Insert(ctx context.Context, a *Analysis) error {
	return r.executeWithRetry(ctx, "repository.insert_analysis", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).Create(a).Error
	})
}

// ListByUser returns every analysis owned by userID, most recent first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string) ([]Analysis, error) {
	var out []Analysis
	err := r.executeWithRetry(ctx, "repository.list_by_user", logging.RequestID(ctx), func() error {
		out = out[:0]
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Order("id DESC").
			Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByIDForUser retrieves one analysis matching the id and owner.
func (r *AnalysisRepository) FindByIDForUser(ctx context.Context, id, userID string) (*Analysis, error) {
	var a Analysis
	err := r.executeWithRetry(ctx, "repository.find_by_id", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).First(&a, "id = ? AND user_id = ?", id, userID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteByIDForUser removes the analysis only when userID owns it.
func (r *AnalysisRepository) DeleteByIDForUser(ctx context.Context, id, userID string) error {
	var affected int64
	err := r.executeWithRetry(ctx, "repository.delete_by_id", logging.RequestID(ctx), func() error {
		res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Analysis{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SummaryForUser aggregates counts and average confidence for userID.
func (r *AnalysisRepository) SummaryForUser(ctx context.Context, userID string) (*Summary, error) {
	var row struct {
		Total         int64
		Concerning    int64
		AvgConfidence sql.NullFloat64
	}
	var latest []Analysis
	err := r.executeWithRetry(ctx, "repository.summary_for_user", logging.RequestID(ctx), func() error {
		err := r.db.WithContext(ctx).Model(&Analysis{}).
			Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0) AS concerning, AVG(confidence) AS avg_confidence", verdict.ResultConcerning).
			Where("user_id = ?", userID).
			Scan(&row).Error
		if err != nil {
			return err
		}
		return r.db.WithContext(ctx).
			Select("id", "created_at").
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(1).
			Find(&latest).Error
	})
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: row.Total, Concerning: row.Concerning}
	if row.AvgConfidence.Valid {
		summary.AverageConfidence = row.AvgConfidence.Float64
	}
	if len(latest) == 1 {
		at := latest[0].CreatedAt
		summary.LastAnalysisAt = &at
	}
	return summary, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}, r.logger, operation, requestID, nil, fn)
}
