package imputation

import (
	"context"
	"log/slog"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// Persister writes imputed points through the storage upsert. Failures are
// logged and returned in the result, never raised to the caller.
type Persister struct {
	writer   storage.PointWriter
	recorder Recorder
	logger   *slog.Logger
}

// NewPersister creates a persister. recorder may be nil.
func NewPersister(writer storage.PointWriter, recorder Recorder) *Persister {
	return &Persister{
		writer:   writer,
		recorder: recorder,
		logger:   slog.Default().With("component", "imputation_persister"),
	}
}

// Persist upserts the batch in a single transaction.
func (p *Persister) Persist(ctx context.Context, points []models.DataPoint) PersistResult {
	result := PersistResult{Attempted: len(points), Status: models.ResultSuccess}
	if len(points) == 0 {
		return result
	}

	written, err := p.writer.UpsertImputed(ctx, points)
	if err != nil {
		p.logger.Error("Failed to persist imputed points",
			"user_id", points[0].UserID,
			"metric", points[0].MetricType,
			"points", len(points),
			"error", err,
		)
		if p.recorder != nil {
			p.recorder.RecordImputationFailure("persist")
		}
		result.Status = models.ResultFailed
		result.Err = err
		return result
	}

	result.Written = written
	p.logger.Debug("Persisted imputed points",
		"user_id", points[0].UserID,
		"metric", points[0].MetricType,
		"attempted", len(points),
		"written", written,
	)
	return result
}
