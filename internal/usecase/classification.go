package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/okra-classifier/internal/logging"
	"github.com/example/okra-classifier/internal/repository"
	"github.com/example/okra-classifier/internal/scorer"
)

const processingMarker = "processing"

// ErrStillProcessing is returned by GetResult while a classification for
// the request id has started but not been stored yet.
var ErrStillProcessing = errors.New("classification still processing")

// ClassificationRepository defines the persistence operations needed by the use case.
type ClassificationRepository interface {
	SaveRecord(ctx context.Context, record *repository.ClassificationRecord) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.ClassificationRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Scorer is implemented by *scorer.Scorer.
type Scorer interface {
	Score(data []byte) (scorer.Result, error)
	ScoreOrFallback(data []byte) (scorer.Result, error)
}

// Options tune the use case. Zero values select defaults.
type Options struct {
	// FallbackEnabled masks unreadable images behind a flagged random result
	// instead of returning the decode error.
	FallbackEnabled bool
	ResultTTL       time.Duration
	MaxBatchFiles   int
}

// ClassificationUseCase ties scoring, caching and persistence together.
type ClassificationUseCase struct {
	repo           ClassificationRepository
	cache          Cache
	scorer         Scorer
	logger         *zap.Logger
	opts           Options
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Classification is a scored upload together with its request id.
type Classification struct {
	RequestID string
	Filename  string
	Result    scorer.Result
}

type cachedClassification struct {
	RequestID      string    `json:"request_id"`
	Filename       string    `json:"filename"`
	Prediction     string    `json:"prediction"`
	Confidence     float64   `json:"confidence"`
	MatureProb     float64   `json:"mature_prob"`
	OverMatureProb float64   `json:"over_mature_prob"`
	Fallback       bool      `json:"fallback"`
	GreenRatio     float64   `json:"green_ratio"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Hash           string    `json:"sha1_hash"`
	LatencyMs      float64   `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewClassificationUseCase(repo ClassificationRepository, cache Cache, s Scorer, logger *zap.Logger, opts Options) *ClassificationUseCase {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Minute
	}
	if opts.MaxBatchFiles <= 0 {
		opts.MaxBatchFiles = 10
	}
	return &ClassificationUseCase{
		repo:           repo,
		cache:          cache,
		scorer:         s,
		logger:         logger.Named("classification_usecase"),
		opts:           opts,
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// MaxBatchFiles is the upper bound on files accepted by ClassifyBatch.
func (uc *ClassificationUseCase) MaxBatchFiles() int {
	return uc.opts.MaxBatchFiles
}

// Classify scores one upload, stores the record and caches it for read-back.
// With fallback disabled an unreadable image returns the
// *imageprocessor.DecodeError and nothing is stored.
func (uc *ClassificationUseCase) Classify(ctx context.Context, filename string, data []byte) (*Classification, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify", requestID)
	cacheKey := resultCacheKey(requestID)
	started := uc.now()

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	result, err := uc.score(data)
	if err != nil {
		if !result.Fallback {
			opLogger.Info("image rejected", zap.String("filename", filename), zap.Error(err))
			uc.clearProcessing(ctx, requestID, opLogger)
			return nil, err
		}
		opLogger.Warn("image analysis failed, using random fallback", zap.String("filename", filename), zap.Error(err))
	}

	hash := sha1.Sum(data)
	record := &repository.ClassificationRecord{
		RequestID:      requestID,
		Filename:       filename,
		Prediction:     string(result.Label),
		Confidence:     result.Confidence,
		MatureProb:     result.MatureProb,
		OverMatureProb: result.OverMatureProb,
		Fallback:       result.Fallback,
		SHA1Hash:       hex.EncodeToString(hash[:]),
		LatencyMs:      float64(uc.now().Sub(started).Microseconds()) / 1000,
		CreatedAt:      uc.now().UTC(),
	}
	if a := result.Analysis; a != nil {
		record.GreenRatio = a.GreenRatio
		record.Width = a.Width
		record.Height = a.Height
	}

	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_record", requestID, err)
		opLogger.Error("failed to persist classification", zap.Error(wrapped))
		uc.clearProcessing(ctx, requestID, opLogger)
		return nil, wrapped
	}

	serialized, err := json.Marshal(toCached(record))
	if err != nil {
		opLogger.Error("failed to serialize classification", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.opts.ResultTTL)
	}); err != nil {
		opLogger.Error("failed to cache classification", zap.Error(err))
		return nil, err
	}

	opLogger.Info("classification result",
		zap.String("prediction", string(result.Label)),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("fallback", result.Fallback),
	)
	return &Classification{RequestID: requestID, Filename: filename, Result: result}, nil
}

// clearProcessing drops the processing marker of a request that will never
// get a result, so read-back answers 404 instead of 202.
func (uc *ClassificationUseCase) clearProcessing(ctx context.Context, requestID string, opLogger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := uc.withRedisRetry(ctx, requestID, "cache.del.processing", func() error {
		return uc.cache.Del(ctx, resultCacheKey(requestID))
	}); err != nil {
		opLogger.Warn("failed to clear processing flag", zap.Error(err))
	}
}

func (uc *ClassificationUseCase) score(data []byte) (scorer.Result, error) {
	if uc.opts.FallbackEnabled {
		return uc.scorer.ScoreOrFallback(data)
	}
	return uc.scorer.Score(data)
}

// GetResult returns a stored classification, from cache when possible.
func (uc *ClassificationUseCase) GetResult(ctx context.Context, requestID string) (*repository.ClassificationRecord, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultCacheKey(requestID))
	switch {
	case err == nil && cached == processingMarker:
		return nil, ErrStillProcessing
	case err == nil:
		var payload cachedClassification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else {
			return fromCached(payload), nil
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

func toCached(r *repository.ClassificationRecord) cachedClassification {
	return cachedClassification{
		RequestID:      r.RequestID,
		Filename:       r.Filename,
		Prediction:     r.Prediction,
		Confidence:     r.Confidence,
		MatureProb:     r.MatureProb,
		OverMatureProb: r.OverMatureProb,
		Fallback:       r.Fallback,
		GreenRatio:     r.GreenRatio,
		Width:          r.Width,
		Height:         r.Height,
		Hash:           r.SHA1Hash,
		LatencyMs:      r.LatencyMs,
		CreatedAt:      r.CreatedAt,
	}
}

func fromCached(c cachedClassification) *repository.ClassificationRecord {
	return &repository.ClassificationRecord{
		RequestID:      c.RequestID,
		Filename:       c.Filename,
		Prediction:     c.Prediction,
		Confidence:     c.Confidence,
		MatureProb:     c.MatureProb,
		OverMatureProb: c.OverMatureProb,
		Fallback:       c.Fallback,
		GreenRatio:     c.GreenRatio,
		Width:          c.Width,
		Height:         c.Height,
		SHA1Hash:       c.Hash,
		LatencyMs:      c.LatencyMs,
		CreatedAt:      c.CreatedAt,
	}
}

func (uc *ClassificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ClassificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
