package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/models"
)

// DefaultInitialLookback is the window of the first ingest when no cursor
// file exists.
const DefaultInitialLookback = 24 * time.Hour

// lastRunLayouts are the accepted cursor formats. Zone-less values are UTC.
var lastRunLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Ingester generates data from the last recorded run up to now and then
// advances the cursor.
type Ingester struct {
	generator   *Generator
	lastRunFile string
	userID      string
	lookback    time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewIngester creates an ingester for userID.
func NewIngester(generator *Generator, cfg config.GeneratorConfig, userID string) *Ingester {
	if userID == "" {
		userID = models.DefaultUserID
	}
	return &Ingester{
		generator:   generator,
		lastRunFile: cfg.LastRunFile,
		userID:      userID,
		lookback:    config.ParseDurationOr(cfg.InitialLookback, DefaultInitialLookback),
		now:         time.Now,
		logger:      slog.Default().With("component", "ingester"),
	}
}

// Run ingests one window. The cursor only advances when the write
// succeeded.
func (i *Ingester) Run(ctx context.Context) (*Result, error) {
	now := i.now().UTC()

	start, err := ReadLastRun(i.lastRunFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		start = now.Add(-i.lookback)
		i.logger.Info("No last run recorded, starting from lookback", "file", i.lastRunFile, "start", start)
	case err != nil:
		return nil, err
	}

	if !start.Before(now) {
		i.logger.Info("Nothing to ingest", "last_run", start, "now", now)
		return &Result{StartTime: start, EndTime: now, Logs: []string{}}, nil
	}

	i.logger.Info("Ingest running", "from", start, "to", now)
	result, err := i.generator.run(ctx, models.JobTypeIngest, i.userID, start, now)
	if err != nil {
		return result, err
	}

	if err := WriteLastRun(i.lastRunFile, now); err != nil {
		return result, err
	}
	i.logger.Info("Ingest done, last run updated", "last_run", now, "points", result.TotalPoints, "saved", result.SavedPoints)
	return result, nil
}

// ReadLastRun parses the cursor file. Anything after a '#' is ignored.
// The error wraps os.ErrNotExist when the file is missing.
func ReadLastRun(path string) (time.Time, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last run file: %w", err)
	}

	value, _, _ := strings.Cut(string(raw), "#")
	value = strings.TrimSpace(value)
	for _, layout := range lastRunLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q in %s", value, path)
}

// WriteLastRun replaces the cursor file atomically.
func WriteLastRun(path string, ts time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for last run file: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(ts.UTC().Format(time.RFC3339Nano)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write last run file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace last run file: %w", err)
	}
	return nil
}
