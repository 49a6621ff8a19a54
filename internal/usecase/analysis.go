package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/oralscan/internal/config"
	"github.com/example/oralscan/internal/imaging"
	"github.com/example/oralscan/internal/inference"
	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/logging"
	"github.com/example/oralscan/internal/repository"
	"github.com/example/oralscan/internal/retry"
	"github.com/example/oralscan/internal/storage"
	"github.com/example/oralscan/internal/verdict"
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	Insert(ctx context.Context, a *repository.Analysis) error
	ListByUser(ctx context.Context, userID string) ([]repository.Analysis, error)
	FindByIDForUser(ctx context.Context, id, userID string) (*repository.Analysis, error)
	DeleteByIDForUser(ctx context.Context, id, userID string) error
	SummaryForUser(ctx context.Context, userID string) (*repository.Summary, error)
}

// Options tunes timeouts and cache lifetimes.
type Options struct {
	InferenceTimeout time.Duration
	HistoryTTL       time.Duration
	// MaxDimension bounds the image sent for inference; 0 sends the original.
	MaxDimension int
}

const (
	processingTTL     = time.Minute
	defaultHistoryTTL = 5 * time.Minute
)

// AnalysisUseCase encapsulates the screening flow and the per-user read APIs.
type AnalysisUseCase struct {
	repo             AnalysisRepository
	cache            Cache
	client           inference.Client
	images           storage.ImageStore
	logger           *zap.Logger
	inferenceTimeout time.Duration
	maxDimension     int
	inferenceRetry   retry.Policy
	cacheRetry       retry.Policy
	historyTTL       time.Duration
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, client inference.Client, images storage.ImageStore, logger *zap.Logger, opts Options) *AnalysisUseCase {
	if cache == nil {
		cache = NoopCache{}
	}
	if images == nil {
		images = storage.InlineStore{}
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = config.DefaultInferenceTimeout
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = defaultHistoryTTL
	}
	return &AnalysisUseCase{
		repo:             repo,
		cache:            cache,
		client:           client,
		images:           images,
		logger:           logger.Named("analysis_usecase"),
		inferenceTimeout: opts.InferenceTimeout,
		maxDimension:     opts.MaxDimension,
		inferenceRetry:   retry.Policy{Attempts: 2, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 250 * time.Millisecond},
		cacheRetry:       retry.Default,
		historyTTL:       opts.HistoryTTL,
	}
}

// Analyze runs one image through inference, parses the verdict and persists it.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, userID string, img *intake.Image) (*repository.Analysis, *verdict.Verdict, error) {
	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", requestID)

	analysisID := uuid.NewString()
	processingKey := processingCacheKey(analysisID)
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, processingKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Warn("failed to set processing flag", zap.Error(err))
	}
	defer func() {
		if err := uc.cache.Del(context.WithoutCancel(ctx), processingKey); err != nil {
			opLogger.Warn("failed to clear processing flag", zap.Error(err))
		}
	}()

	payload, err := imaging.Downscale(img, uc.maxDimension)
	if err != nil {
		opLogger.Warn("failed to downscale image, sending original", zap.Error(err))
		payload = img
	}

	completion, err := uc.complete(ctx, requestID, payload)
	if err != nil {
		opLogger.Error("inference failed", zap.Error(err), zap.String("kind", inference.KindOf(err).String()))
		return nil, nil, err
	}

	v := verdict.Parse(completion)
	if !v.Parsed() {
		opLogger.Warn("completion was not structured, used keyword heuristic", zap.String("result", v.Result))
	}

	imageRef, err := uc.images.Put(ctx, analysisID, img)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.store_image", requestID, err)
		opLogger.Error("failed to store image", zap.Error(wrapped))
		return nil, nil, wrapped
	}

	confidence := repository.ClampConfidence(decimal.NewFromFloat(v.Confidence))
	analysis := &repository.Analysis{
		ID:              analysisID,
		UserID:          userID,
		ImageURL:        imageRef,
		Result:          v.Result,
		Confidence:      confidence,
		Explanation:     optionalString(v.Explanation),
		Recommendations: optionalString(v.Recommendations),
		Severity:        repository.SeverityFor(v.Result, confidence),
		Status:          repository.StatusCompleted,
	}
	if err := uc.repo.Insert(ctx, analysis); err != nil {
		wrapped := logging.NewOperationError("usecase.insert_analysis", requestID, err)
		opLogger.Error("failed to persist analysis", zap.Error(wrapped))
		if delErr := uc.images.Delete(context.WithoutCancel(ctx), imageRef); delErr != nil {
			opLogger.Warn("failed to remove orphaned image", zap.Error(delErr))
		}
		return nil, nil, wrapped
	}

	uc.invalidateHistory(ctx, requestID, userID)
	opLogger.Info("analysis stored",
		zap.String("analysis_id", analysis.ID),
		zap.String("result", analysis.Result),
		zap.String("source", string(v.Source)),
	)
	return analysis, &v, nil
}

// complete calls the inference client with a per-attempt timeout and retries
// a network failure once.
func (uc *AnalysisUseCase) complete(ctx context.Context, requestID string, img *intake.Image) (string, error) {
	var completion string
	err := retry.Do(ctx, uc.inferenceRetry, uc.logger, "usecase.inference", requestID, inference.IsRetryable, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, uc.inferenceTimeout)
		defer cancel()
		text, err := uc.client.Complete(attemptCtx, img)
		if err != nil {
			return err
		}
		completion = text
		return nil
	})
	return completion, err
}

// History returns the user's analyses, most recent first.
func (uc *AnalysisUseCase) History(ctx context.Context, userID string) ([]repository.Analysis, error) {
	requestID := logging.RequestID(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.history", requestID)
	cacheKey := historyCacheKey(userID)

	if cached, err := uc.withCacheGet(ctx, requestID, "cache.get.history", cacheKey); err == nil {
		var analyses []repository.Analysis
		if err := json.Unmarshal([]byte(cached), &analyses); err != nil {
			opLogger.Warn("failed to decode cached history", zap.Error(err))
		} else {
			return analyses, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	analyses, err := uc.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if analyses == nil {
		analyses = []repository.Analysis{}
	}

	serialized, err := json.Marshal(analyses)
	if err != nil {
		opLogger.Warn("failed to serialize history", zap.Error(err))
		return analyses, nil
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.history", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.historyTTL)
	}); err != nil {
		opLogger.Warn("failed to cache history", zap.Error(err))
	}
	return analyses, nil
}

// Get returns one analysis owned by userID.
func (uc *AnalysisUseCase) Get(ctx context.Context, id, userID string) (*repository.Analysis, error) {
	return uc.repo.FindByIDForUser(ctx, id, userID)
}

// Delete removes an analysis owned by userID together with its stored image.
func (uc *AnalysisUseCase) Delete(ctx context.Context, id, userID string) error {
	requestID := logging.RequestID(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.delete", requestID)

	analysis, err := uc.repo.FindByIDForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := uc.repo.DeleteByIDForUser(ctx, id, userID); err != nil {
		return err
	}

	if err := uc.images.Delete(ctx, analysis.ImageURL); err != nil {
		opLogger.Warn("failed to remove stored image", zap.String("analysis_id", id), zap.Error(err))
	}
	uc.invalidateHistory(ctx, requestID, userID)
	return nil
}

func (uc *AnalysisUseCase) invalidateHistory(ctx context.Context, requestID, userID string) {
	if err := uc.withCacheRetry(ctx, requestID, "cache.del.history", func() error {
		return uc.cache.Del(ctx, historyCacheKey(userID))
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.invalidate_history", requestID).Warn("failed to invalidate history cache", zap.Error(err))
	}
}

func (uc *AnalysisUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.cacheRetry, uc.logger, operation, requestID, nil, fn)
}

// withCacheGet returns redis.Nil on a miss without treating it as a failure.
func (uc *AnalysisUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var (
		result string
		miss   bool
	)
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return result, nil
}

func historyCacheKey(userID string) string {
	return fmt.Sprintf("analysis:history:%s", userID)
}

func processingCacheKey(analysisID string) string {
	return fmt.Sprintf("analysis:processing:%s", analysisID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
