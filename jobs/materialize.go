package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sessionledger/sessionledger/internal/billing"
	jobmetrics "github.com/sessionledger/sessionledger/internal/jobs"
)

// MaterializeJob expands recurring templates for a date. The underlying run
// is idempotent, so asynq retries are safe.
type MaterializeJob struct {
	service *billing.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewMaterializeJob constructs the job.
func NewMaterializeJob(service *billing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics, now func() time.Time) *MaterializeJob {
	if now == nil {
		now = time.Now
	}
	return &MaterializeJob{service: service, logger: logger, metrics: metrics, now: now}
}

// Handle processes TaskTypeMaterialize tasks.
func (j *MaterializeJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("materialize")

	var payload MaterializePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	asOf, err := payload.Date(j.now)
	if err != nil {
		j.logger.Error("materialize payload date", slog.Any("error", err))
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	result, err := j.service.MaterializeRecurring(ctx, asOf, payload.AccountID)
	if err != nil {
		return tracker.End(err)
	}
	if len(result.Errors) > 0 {
		// Per-template failures were isolated and logged; the run itself
		// succeeded and retrying would skip the created instances anyway.
		j.logger.Warn("materialization finished with failures",
			slog.Int("failed", len(result.Errors)))
	}
	return tracker.End(nil)
}
