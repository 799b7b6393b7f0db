package provider

import (
	"context"

	"github.com/tldrify/core/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormUsageSink appends usage rows to the provider_usages table.
type GormUsageSink struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormUsageSink(db *gorm.DB, logger *zap.Logger) *GormUsageSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormUsageSink{db: db, logger: logger.Named("Usage")}
}

func (s *GormUsageSink) Record(ctx context.Context, usage UsageRecord) {
	row := models.ProviderUsageModel{
		Provider:     usage.Provider,
		Model:        usage.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		RequestID:    usage.RequestID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		// Usage accounting must never fail the pipeline.
		s.logger.Warn("record usage failed", zap.Error(err))
	}
}

// ZapUsageSink logs usage records; handy in dev and as a secondary sink.
type ZapUsageSink struct {
	logger *zap.Logger
}

func NewZapUsageSink(logger *zap.Logger) *ZapUsageSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapUsageSink{logger: logger.Named("Usage")}
}

func (s *ZapUsageSink) Record(_ context.Context, usage UsageRecord) {
	s.logger.Info("provider usage",
		zap.String("provider", usage.Provider),
		zap.String("model", usage.Model),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.String("request_id", usage.RequestID),
	)
}

// MultiUsageSink fans a record out to several sinks.
type MultiUsageSink []UsageSink

func (m MultiUsageSink) Record(ctx context.Context, usage UsageRecord) {
	for _, s := range m {
		s.Record(ctx, usage)
	}
}

// MemoryUsageSink collects records for assertions in tests.
type MemoryUsageSink struct {
	Records []UsageRecord
}

func (s *MemoryUsageSink) Record(_ context.Context, usage UsageRecord) {
	s.Records = append(s.Records, usage)
}
