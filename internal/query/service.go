// Package query serves range queries over stored health-metric series and
// runs the gap pipeline on demand.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// DataSource is the value of DataResponse.DataSource for hourly reads.
const DataSource = "raw_hourly"

// DataRequest describes one page of a series. Zero Page and PerPage take
// the defaults.
type DataRequest struct {
	StartDate       string
	EndDate         string
	UserID          string
	Metric          string
	Page            int
	PerPage         int
	IncludeImputed  bool
	ApplyImputation bool
}

// DataResponse is the payload of a range query.
type DataResponse struct {
	Data                 []models.DataPoint `json:"data"`
	Page                 int                `json:"page"`
	PerPage              int                `json:"per_page"`
	Total                int64              `json:"total"`
	Returned             int                `json:"returned"`
	DataSource           string             `json:"data_source"`
	DateRangeDays        int                `json:"date_range_days"`
	HasImputationSupport bool               `json:"has_imputation_support"`
	GapsDetected         []models.GapReport `json:"gaps_detected"`
	DataSummary          models.DataSummary `json:"data_summary"`
	ImputationApplied    bool               `json:"imputation_applied"`
}

// Service validates range queries and reads them from storage.
type Service struct {
	store      storage.FullStorage
	integrator *Integrator
	rules      DateRules
	cfg        config.QueryConfig
	logger     *slog.Logger
}

// NewService creates a query service. integrator may be nil, in which case
// apply_imputation is accepted but has no effect.
func NewService(store storage.FullStorage, integrator *Integrator, cfg config.QueryConfig) (*Service, error) {
	rules, err := NewDateRules(cfg.ValidationTimezone, cfg.MaxRangeDays)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:      store,
		integrator: integrator,
		rules:      rules,
		cfg:        cfg,
		logger:     slog.Default().With("component", "query_service"),
	}, nil
}

// Rules returns the date rules applied to requests.
func (s *Service) Rules() DateRules {
	return s.rules
}

// SetClock overrides the clock used for the end-date check.
func (s *Service) SetClock(now func() time.Time) {
	s.rules.Now = now
}

// GetData validates req, reads one page of the series and, when requested,
// runs the gap pipeline over it.
func (s *Service) GetData(ctx context.Context, req DataRequest) (*DataResponse, error) {
	metric, start, end, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	resp, err := s.store.Query(ctx, storage.QueryRequest{
		UserID:         req.UserID,
		Metric:         metric,
		Start:          start,
		End:            end,
		IncludeImputed: req.IncludeImputed,
		Limit:          req.PerPage,
		Offset:         (req.Page - 1) * req.PerPage,
		OrderBy:        "timestamp_asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for %s: %w", metric, req.UserID, err)
	}

	points := resp.Points
	if points == nil {
		points = []models.DataPoint{}
	}

	out := &DataResponse{
		Data:                 points,
		Page:                 req.Page,
		PerPage:              req.PerPage,
		Total:                resp.Total,
		DataSource:           DataSource,
		DateRangeDays:        int(end.Sub(start) / (24 * time.Hour)),
		HasImputationSupport: true,
		GapsDetected:         []models.GapReport{},
		DataSummary:          models.Summarize(points),
	}

	if req.ApplyImputation && len(points) > 1 && s.integrator != nil {
		result := s.integrator.Integrate(ctx, points)
		out.Data = result.Points
		out.DataSummary = result.Summary
		out.GapsDetected = models.GapReports(result.Gaps)
		out.ImputationApplied = len(result.Gaps) > 0

		if result.Status != models.ResultSuccess {
			s.logger.Warn("Imputation degraded",
				"user_id", req.UserID,
				"metric", metric,
				"status", result.Status,
				"error", result.Err,
			)
		}
	}

	out.Returned = len(out.Data)
	return out, nil
}

func (s *Service) validate(req *DataRequest) (models.MetricType, time.Time, time.Time, error) {
	var zero time.Time

	req.UserID = strings.TrimSpace(req.UserID)
	if req.StartDate == "" || req.EndDate == "" || req.UserID == "" || req.Metric == "" {
		return "", zero, zero, invalid("query", "start_date, end_date, user_id, and metric are required")
	}

	metric, err := models.ParseMetricType(req.Metric)
	if err != nil {
		return "", zero, zero, err
	}

	start, errStart := ParseTimestamp(req.StartDate)
	end, errEnd := ParseTimestamp(req.EndDate)
	if errStart != nil || errEnd != nil {
		return "", zero, zero, invalid("start_date", "start_date and end_date must be ISO 8601 format")
	}
	if !end.After(start) {
		return "", zero, zero, invalid("end_date", "end_date must be after start_date")
	}
	if err := s.rules.Validate(start, end); err != nil {
		return "", zero, zero, err
	}

	if req.Page == 0 {
		req.Page = 1
	}
	if req.PerPage == 0 {
		req.PerPage = s.cfg.DefaultPageSize
	}
	if req.Page < 1 {
		return "", zero, zero, invalid("page", "page must be at least 1")
	}
	if req.PerPage < 1 || (s.cfg.MaxPageSize > 0 && req.PerPage > s.cfg.MaxPageSize) {
		return "", zero, zero, invalid("per_page", "per_page must be between 1 and %d", s.cfg.MaxPageSize)
	}

	return metric, start, end, nil
}

// Metrics lists the metrics with stored data, or the full catalogue when
// none are stored or storage cannot be read.
func (s *Service) Metrics(ctx context.Context) []string {
	stored, err := s.store.ListMetrics(ctx)
	if err != nil {
		s.logger.Warn("Failed to list stored metrics", "error", err)
		return models.MetricNames()
	}
	if len(stored) == 0 {
		return models.MetricNames()
	}

	names := make([]string, 0, len(stored))
	for _, m := range stored {
		names = append(names, string(m))
	}
	return names
}

// Users returns per-user data statistics. When storage holds no data or
// cannot be read a single placeholder for the default user is returned.
func (s *Service) Users(ctx context.Context) []models.UserStats {
	stats, err := s.store.GetUserStats(ctx)
	if err != nil {
		s.logger.Warn("Failed to read user statistics", "error", err)
	}
	if err != nil || len(stats) == 0 {
		return []models.UserStats{{UserID: s.defaultUser()}}
	}
	return stats
}

func (s *Service) defaultUser() string {
	if s.cfg.DefaultUserID != "" {
		return s.cfg.DefaultUserID
	}
	return models.DefaultUserID
}
