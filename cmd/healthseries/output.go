package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/query"
	"github.com/johnayoung/go-health-series/internal/storage"
)

type gapReport struct {
	UserID    string              `json:"user_id"`
	Metric    models.MetricType   `json:"metric"`
	Status    models.ResultStatus `json:"status"`
	Gaps      []models.Gap        `json:"gaps"`
	Imputed   int                 `json:"imputed_points,omitempty"`
	Persisted int64               `json:"persisted_points,omitempty"`
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputCSV formats points as CSV
func outputCSV(points []models.DataPoint) error {
	fmt.Println("timestamp,user_id,metric_type,value,is_imputed,imputation_method,gap_duration_hours")
	for _, p := range points {
		method, gap := "", ""
		if p.IsImputed {
			method = string(p.ImputationMethod)
		}
		if p.GapDurationHours != nil {
			gap = fmt.Sprintf("%d", *p.GapDurationHours)
		}
		fmt.Printf("%s,%s,%s,%g,%t,%s,%s\n",
			p.Timestamp.UTC().Format(time.RFC3339),
			p.UserID,
			p.MetricType,
			p.Value,
			p.IsImputed,
			method,
			gap)
	}
	return nil
}

func printQueryResponse(resp *query.DataResponse, user, metric string) {
	fmt.Printf("Query Results for %s / %s\n", user, metric)
	fmt.Printf("Page %d (%d per page): %d of %d points\n", resp.Page, resp.PerPage, resp.Returned, resp.Total)
	fmt.Printf("Summary: %d real, %d imputed (%.1f%%)\n\n",
		resp.DataSummary.RealPoints, resp.DataSummary.ImputedPoints, resp.DataSummary.ImputationPercentage)

	if len(resp.Data) == 0 {
		fmt.Println("No data found for the specified criteria.")
		return
	}

	fmt.Printf("%-20s %-12s %-18s %-6s\n", "Timestamp", "Value", "Method", "Gap")
	fmt.Println(strings.Repeat("-", 60))
	for _, p := range resp.Data {
		method, gap := "real", ""
		if p.IsImputed {
			method = string(p.ImputationMethod)
		}
		if p.GapDurationHours != nil {
			gap = fmt.Sprintf("%dh", *p.GapDurationHours)
		}
		fmt.Printf("%-20s %-12.4f %-18s %-6s\n", p.Timestamp.UTC().Format("2006-01-02 15:04"), p.Value, method, gap)
	}

	if len(resp.GapsDetected) > 0 {
		fmt.Printf("\n%d gaps detected:\n", len(resp.GapsDetected))
		for _, g := range resp.GapsDetected {
			fmt.Printf("  %s -> %s (%dh, %s)\n",
				g.GapStart.UTC().Format("2006-01-02 15:04"),
				g.GapEnd.UTC().Format("2006-01-02 15:04"),
				g.GapDurationHours, g.GapType)
		}
	}
}

func printGapReports(reports []gapReport, start, end time.Time) {
	fmt.Printf("Gap report from %s to %s\n\n", start.UTC().Format("2006-01-02 15:04"), end.UTC().Format("2006-01-02 15:04"))
	for _, r := range reports {
		if len(r.Gaps) == 0 {
			fmt.Printf("%s: no gaps (%s)\n", r.Metric, r.Status)
			continue
		}
		fmt.Printf("%s: %d gaps (%s)\n", r.Metric, len(r.Gaps), r.Status)
		for i, g := range r.Gaps {
			fmt.Printf("  %d. %s -> %s (%.1fh, %s)\n", i+1,
				g.Start().UTC().Format("2006-01-02 15:04"),
				g.End().UTC().Format("2006-01-02 15:04"),
				g.DurationHours, g.Category)
		}
		if r.Imputed > 0 || r.Persisted > 0 {
			fmt.Printf("  imputed %d points, persisted %d\n", r.Imputed, r.Persisted)
		}
	}
}

func printEnrolledUsers(users []models.EnrolledUser) {
	if len(users) == 0 {
		fmt.Println("No enrolled users.")
		return
	}
	fmt.Printf("%-20s %-22s %-10s %-8s %-6s\n", "User", "Enrolled", "Records", "Metrics", "Days")
	fmt.Println(strings.Repeat("-", 70))
	for _, u := range users {
		fmt.Printf("%-20s %-22s %-10d %-8d %-6d\n",
			u.UserID, u.EnrollmentDate.UTC().Format(time.RFC3339), u.TotalRecords, u.MetricsCount, u.DaysWithData)
	}
}

func printMigrationStatus(st *storage.MigrationStatus) {
	fmt.Printf("Schema version %d of %d (%d pending)\n", st.CurrentVersion, st.LatestVersion, st.PendingMigrations)
	for _, m := range st.AppliedMigrations {
		fmt.Printf("  %3d  %-45s %s (%v)\n", m.Version, m.Description, m.AppliedAt.Format(time.RFC3339), m.ExecutionTime)
	}
}

func printLogs(lines []string) {
	for _, line := range lines {
		fmt.Println(line)
	}
}
