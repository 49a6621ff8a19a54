package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/oralscan/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "oralscan.db")), &gorm.Config{
		Logger: logging.NewGormLogger(zap.NewNop(), time.Second),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestRepository(t *testing.T) *AnalysisRepository {
	t.Helper()
	repo := NewAnalysisRepository(openTestDB(t), zap.NewNop())
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func newAnalysis(userID, result string, confidence float64, createdAt time.Time) *Analysis {
	c := decimal.NewFromFloat(confidence)
	return &Analysis{
		UserID:     userID,
		ImageURL:   "data:image/png;base64,AAAA",
		Result:     result,
		Confidence: c,
		Severity:   SeverityFor(result, c),
		Status:     StatusCompleted,
		CreatedAt:  createdAt,
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &AnalysisRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &AnalysisRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestInsertAssignsIDAndRoundsConfidence(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a := newAnalysis("user-1", "Concerning", 0.87654, time.Time{})
	require.NoError(t, repo.Insert(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := repo.FindByIDForUser(ctx, a.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, got.Confidence.Equal(decimal.RequireFromString("0.877")), "confidence %s", got.Confidence)
	assert.Equal(t, "Concerning", got.Result)
	assert.Equal(t, SeverityHigh, got.Severity)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestInsertClampsOutOfRangeConfidence(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	high := newAnalysis("user-1", "Normal", 1.7, time.Time{})
	low := newAnalysis("user-1", "Normal", -0.2, time.Time{})
	require.NoError(t, repo.Insert(ctx, high))
	require.NoError(t, repo.Insert(ctx, low))

	got, err := repo.FindByIDForUser(ctx, high.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.ConfidenceFloat())

	got, err = repo.FindByIDForUser(ctx, low.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.ConfidenceFloat())
}

func TestListByUserOrdersNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first := newAnalysis("user-1", "Normal", 0.5, base)
	third := newAnalysis("user-1", "Normal", 0.5, base.Add(2*time.Hour))
	second := newAnalysis("user-1", "Concerning", 0.5, base.Add(time.Hour))
	other := newAnalysis("user-2", "Normal", 0.5, base.Add(3*time.Hour))
	for _, a := range []*Analysis{first, third, second, other} {
		require.NoError(t, repo.Insert(ctx, a))
	}

	got, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, third.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, first.ID, got[2].ID)
}

func TestListByUserBreaksTiesByID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	a := newAnalysis("user-1", "Normal", 0.5, at)
	a.ID = "11111111-1111-4111-8111-111111111111"
	b := newAnalysis("user-1", "Normal", 0.5, at)
	b.ID = "22222222-2222-4222-8222-222222222222"
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))

	got, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)
}

func TestListByUserEmpty(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.ListByUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindByIDForUserHidesOtherUsersRows(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a := newAnalysis("user-1", "Normal", 0.4, time.Time{})
	require.NoError(t, repo.Insert(ctx, a))

	_, err := repo.FindByIDForUser(ctx, a.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByIDForUser(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByIDForUserRequiresOwnership(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a := newAnalysis("user-1", "Normal", 0.4, time.Time{})
	require.NoError(t, repo.Insert(ctx, a))

	err := repo.DeleteByIDForUser(ctx, a.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByIDForUser(ctx, a.ID, "user-1")
	require.NoError(t, err, "row must survive a delete by another user")

	require.NoError(t, repo.DeleteByIDForUser(ctx, a.ID, "user-1"))
	_, err = repo.FindByIDForUser(ctx, a.ID, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.DeleteByIDForUser(ctx, a.ID, "user-1"), ErrNotFound)
}

func TestSummaryForUser(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, newAnalysis("user-1", "Normal", 0.2, base)))
	require.NoError(t, repo.Insert(ctx, newAnalysis("user-1", "Concerning", 0.9, base.Add(time.Hour))))
	require.NoError(t, repo.Insert(ctx, newAnalysis("user-1", "Concerning", 0.7, base.Add(30*time.Minute))))
	require.NoError(t, repo.Insert(ctx, newAnalysis("user-2", "Concerning", 1, base.Add(5*time.Hour))))

	summary, err := repo.SummaryForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(2), summary.Concerning)
	assert.InDelta(t, 0.6, summary.AverageConfidence, 0.0001)
	require.NotNil(t, summary.LastAnalysisAt)
	assert.True(t, summary.LastAnalysisAt.Equal(base.Add(time.Hour)), "last analysis %s", summary.LastAnalysisAt)
}

func TestSummaryForUserWithoutRows(t *testing.T) {
	repo := newTestRepository(t)

	summary, err := repo.SummaryForUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Concerning)
	assert.Zero(t, summary.AverageConfidence)
	assert.Nil(t, summary.LastAnalysisAt)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		result     string
		confidence string
		want       string
	}{
		{"Normal", "0.99", SeverityLow},
		{"Concerning", "0.8", SeverityHigh},
		{"Concerning", "0.95", SeverityHigh},
		{"Concerning", "0.799", SeverityMedium},
		{"Concerning", "0", SeverityMedium},
	}
	for _, tt := range tests {
		got := SeverityFor(tt.result, decimal.RequireFromString(tt.confidence))
		assert.Equal(t, tt.want, got, "%s/%s", tt.result, tt.confidence)
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepository(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
