package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/okra-classifier/internal/logging"
)

// ErrNotFound is returned when no record matches the request id.
var ErrNotFound = errors.New("classification record not found")

// ClassificationRecord is the persisted outcome of one classified upload.
type ClassificationRecord struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Filename       string    `gorm:"column:filename;size:255"`
	Prediction     string    `gorm:"column:prediction;size:32;index"`
	Confidence     float64   `gorm:"column:confidence"`
	MatureProb     float64   `gorm:"column:mature_prob"`
	OverMatureProb float64   `gorm:"column:over_mature_prob"`
	Fallback       bool      `gorm:"column:fallback"`
	GreenRatio     float64   `gorm:"column:green_ratio"`
	Width          int       `gorm:"column:width"`
	Height         int       `gorm:"column:height"`
	SHA1Hash       string    `gorm:"column:sha1_hash;size:40;index"`
	LatencyMs      float64   `gorm:"column:latency_ms"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (ClassificationRecord) TableName() string {
	return "classification_records"
}

// LabelCount is the number of records carrying a prediction.
type LabelCount struct {
	Prediction string
	Count      int64
}

// MetricsAggregation holds the raw aggregates over all records.
type MetricsAggregation struct {
	TotalCount        int64
	FallbackCount     int64
	AverageConfidence float64
	AverageLatencyMs  float64
	ByLabel           []LabelCount
}

// ClassificationRepository persists classification records with gorm.
type ClassificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClassificationRepository(db *gorm.DB, logger *zap.Logger) *ClassificationRepository {
	return &ClassificationRepository{
		db:             db,
		logger:         logger.Named("classification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     500 * time.Millisecond,
	}
}

// AutoMigrate creates or updates the records table.
func (r *ClassificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ClassificationRecord{})
	})
}

// SaveRecord inserts a record.
func (r *ClassificationRepository) SaveRecord(ctx context.Context, record *ClassificationRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRequestID loads a record, returning ErrNotFound when absent.
func (r *ClassificationRepository) FindByRequestID(ctx context.Context, requestID string) (*ClassificationRecord, error) {
	var record ClassificationRecord
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		err := r.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics computes totals, averages and per-label counts.
func (r *ClassificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		var totals metricsTotals
		if err := totalsQuery(r.db.WithContext(ctx)).Scan(&totals).Error; err != nil {
			return err
		}

		var byLabel []LabelCount
		if err := labelCountsQuery(r.db.WithContext(ctx)).Scan(&byLabel).Error; err != nil {
			return err
		}

		agg = MetricsAggregation{
			TotalCount:        totals.TotalCount,
			FallbackCount:     totals.FallbackCount,
			AverageConfidence: totals.AverageConfidence,
			AverageLatencyMs:  totals.AverageLatencyMs,
			ByLabel:           byLabel,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

type metricsTotals struct {
	TotalCount        int64
	FallbackCount     int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// totalsQuery selects one row of metricsTotals. COALESCE keeps the sums
// and averages at zero on an empty table.
func totalsQuery(db *gorm.DB) *gorm.DB {
	return db.Model(&ClassificationRecord{}).
		Select("COUNT(*) AS total_count, " +
			"COALESCE(SUM(CASE WHEN fallback THEN 1 ELSE 0 END), 0) AS fallback_count, " +
			"COALESCE(AVG(confidence), 0) AS average_confidence, " +
			"COALESCE(AVG(latency_ms), 0) AS average_latency_ms")
}

// labelCountsQuery selects one LabelCount row per stored prediction.
func labelCountsQuery(db *gorm.DB) *gorm.DB {
	return db.Model(&ClassificationRecord{}).
		Select("prediction, COUNT(*) AS count").
		Group("prediction").
		Order("prediction")
}

func (r *ClassificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	backoff := r.initialBackoff
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		if !isTransientError(err) {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
