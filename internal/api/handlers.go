package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/johnayoung/go-health-series/internal/errors"
	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/query"
	"github.com/johnayoung/go-health-series/internal/storage"
)

type dataParams struct {
	StartDate       string `form:"start_date"`
	EndDate         string `form:"end_date"`
	UserID          string `form:"user_id"`
	Metric          string `form:"metric"`
	Page            int    `form:"page"`
	PerPage         int    `form:"per_page"`
	IncludeImputed  *bool  `form:"include_imputed"`
	ApplyImputation bool   `form:"apply_imputation"`
}

type gapParams struct {
	StartDate string `form:"start_date" binding:"required,isodate"`
	EndDate   string `form:"end_date" binding:"required,isodate"`
	UserID    string `form:"user_id" binding:"required,userid"`
	Metric    string `form:"metric" binding:"required,metric"`
}

type generateRequest struct {
	StartDate string `json:"start_date" binding:"required,isodate"`
	EndDate   string `json:"end_date" binding:"required,isodate"`
	UserID    string `json:"user_id" binding:"omitempty,userid"`
}

type enrollRequest struct {
	UserID         string `json:"user_id" binding:"required,userid"`
	EnrollmentDate string `json:"enrollment_date" binding:"required,isodate"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "detail": err.Error()})
		return
	}

	body := gin.H{
		"status":       "ok",
		"db":           "ok",
		"current_time": s.now().In(s.deps.Query.Rules().Location).Format(time.RFC3339),
	}
	if s.deps.Metrics != nil {
		body["components"] = s.deps.Metrics.CheckHealth(ctx)
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Query.Metrics(c.Request.Context()))
}

func (s *Server) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.deps.Query.Users(c.Request.Context())})
}

func (s *Server) handleData(c *gin.Context) {
	var params dataParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": bindingMessage(err)})
		return
	}

	includeImputed := true
	if params.IncludeImputed != nil {
		includeImputed = *params.IncludeImputed
	}

	resp, err := s.deps.Query.GetData(c.Request.Context(), query.DataRequest{
		StartDate:       params.StartDate,
		EndDate:         params.EndDate,
		UserID:          params.UserID,
		Metric:          params.Metric,
		Page:            params.Page,
		PerPage:         params.PerPage,
		IncludeImputed:  includeImputed,
		ApplyImputation: params.ApplyImputation,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGaps(c *gin.Context) {
	if s.deps.Detector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "gap detection is not configured"})
		return
	}

	var params gapParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": bindingMessage(err)})
		return
	}

	start, _ := query.ParseTimestamp(params.StartDate)
	end, _ := query.ParseTimestamp(params.EndDate)
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "end_date must be after start_date"})
		return
	}
	if err := s.deps.Query.Rules().Validate(start, end); err != nil {
		s.fail(c, err)
		return
	}

	metric := models.MetricType(params.Metric)
	result, err := s.deps.Detector.DetectInRange(c.Request.Context(), params.UserID, metric, start, end)
	if err != nil {
		s.fail(c, err)
		return
	}

	counts := make(map[string]int, 3)
	for category, n := range result.CountByCategory() {
		counts[string(category)] = n
	}
	body := gin.H{
		"user_id":       params.UserID,
		"metric":        metric,
		"status":        result.Status,
		"skipped_pairs": result.Skipped,
		"gap_counts":    counts,
		"gaps_detected": models.GapReports(result.Gaps),
	}
	if result.Err != nil {
		body["error"] = result.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGenerate(c *gin.Context) {
	if s.deps.Generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "data generation is not configured"})
		return
	}

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": bindingMessage(err)})
		return
	}
	if req.UserID == "" {
		req.UserID = models.DefaultUserID
	}

	start, _ := query.ParseTimestamp(req.StartDate)
	end, _ := query.ParseTimestamp(req.EndDate)

	result, err := s.deps.Generator.Generate(c.Request.Context(), req.UserID, start, end)
	if err != nil {
		body := gin.H{"detail": detail(err)}
		if result != nil {
			body["logs"] = result.Logs
		}
		c.JSON(apperrors.HTTPStatus(err), body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Data generated successfully",
		"job_id":       result.JobID,
		"total_points": result.TotalPoints,
		"saved_points": result.SavedPoints,
		"start_date":   req.StartDate,
		"end_date":     req.EndDate,
		"logs":         result.Logs,
	})
}

func (s *Server) handleEnroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": bindingMessage(err)})
		return
	}

	enrollment, _ := query.ParseTimestamp(req.EnrollmentDate)
	user, err := models.NewUser(req.UserID, enrollment)
	if err != nil {
		s.fail(c, err)
		return
	}

	if err := s.deps.Store.EnrollUser(c.Request.Context(), *user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("User %s is already enrolled", user.UserID)})
			return
		}
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         fmt.Sprintf("User %s enrolled successfully", user.UserID),
		"user_id":         user.UserID,
		"enrollment_date": user.EnrollmentDate.Format(time.RFC3339),
	})
}

func (s *Server) handleEnrolledUsers(c *gin.Context) {
	users, err := s.deps.Store.GetEnrolledUsers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if users == nil {
		users = []models.EnrolledUser{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	userID := c.Param("user_id")
	deleted, err := s.deps.Store.DeleteUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("User %s not found", userID)})
			return
		}
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         fmt.Sprintf("User %s deleted successfully", userID),
		"deleted_records": deleted,
	})
}

// fail writes err with the status its classification maps to and logs
// server-side failures.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed",
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	c.JSON(status, gin.H{"detail": detail(err)})
}

func detail(err error) string {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}
