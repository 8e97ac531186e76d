package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-health-series/internal/api"
	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/generator"
	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/query"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// usageError marks bad command-line input.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func isUsageError(err error) bool {
	var ue usageError
	return errors.As(err, &ue)
}

// flagValue returns the argument following args[*i] and advances i.
func flagValue(args []string, i *int) (string, error) {
	name := args[*i]
	if *i+1 >= len(args) {
		return "", usagef("%s requires a value", name)
	}
	*i++
	return args[*i], nil
}

func flagInt(args []string, i *int) (int, error) {
	name := args[*i]
	raw, err := flagValue(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, usagef("invalid %s value: %v", name, err)
	}
	return n, nil
}

// WindowFlags are shared by every command that reads a time window.
type WindowFlags struct {
	Start string
	End   string
	Days  int
}

func (w *WindowFlags) parse(args []string, i *int) (bool, error) {
	var err error
	switch args[*i] {
	case "--start", "-s":
		w.Start, err = flagValue(args, i)
	case "--end", "-e":
		w.End, err = flagValue(args, i)
	case "--days", "-d":
		w.Days, err = flagInt(args, i)
	default:
		return false, nil
	}
	return true, err
}

// resolve returns the window: explicit dates win, otherwise the last Days
// up to the current hour.
func (w WindowFlags) resolve(now time.Time) (time.Time, time.Time, error) {
	if w.Start != "" || w.End != "" {
		if w.Start == "" || w.End == "" {
			return time.Time{}, time.Time{}, usagef("specify either --days or both --start and --end")
		}
		start, err := query.ParseTimestamp(w.Start)
		if err != nil {
			return time.Time{}, time.Time{}, usagef("invalid --start: %v", err)
		}
		end, err := query.ParseTimestamp(w.End)
		if err != nil {
			return time.Time{}, time.Time{}, usagef("invalid --end: %v", err)
		}
		return start, end, nil
	}
	if w.Days <= 0 {
		return time.Time{}, time.Time{}, usagef("--days must be positive")
	}
	end := now.UTC().Truncate(time.Hour)
	return end.AddDate(0, 0, -w.Days), end, nil
}

// ServeFlags represents flags for the serve command
type ServeFlags struct {
	Address    string
	NoSchedule bool
}

func runServe(ctx context.Context, app *App, args []string) error {
	flags := ServeFlags{}
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--address", "-a":
			flags.Address, err = flagValue(args, &i)
		case "--no-schedule":
			flags.NoSchedule = true
		default:
			err = usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return err
		}
	}

	serverCfg := app.config.Server
	if flags.Address != "" {
		serverCfg.Address = flags.Address
	}

	server, err := api.NewServer(serverCfg, app.config.Metrics, api.Dependencies{
		Store:     app.storage,
		Query:     app.query,
		Detector:  app.detector,
		Generator: app.generator,
		Metrics:   app.metrics,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var scheduler *generator.Scheduler
	if !flags.NoSchedule && app.config.Generator.Schedule != "" {
		ingester := generator.NewIngester(app.generator, app.config.Generator, app.config.Query.DefaultUserID)
		scheduler, err = generator.NewScheduler(ingester, app.config.Generator.Schedule, app.query.Rules().Location)
		if err != nil {
			return err
		}
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		timeout := config.ParseDurationOr(app.config.Server.ShutdownTimeout, 10*time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				app.logger.Warn("Scheduler did not stop cleanly", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	fmt.Printf("Serving on %s (press Ctrl+C to stop)\n", serverCfg.Address)
	return g.Wait()
}

// GenerateFlags represents flags for the generate command
type GenerateFlags struct {
	WindowFlags
	User string
}

func runGenerate(ctx context.Context, app *App, args []string) error {
	flags := GenerateFlags{WindowFlags: WindowFlags{Days: 7}, User: app.config.Query.DefaultUserID}
	for i := 0; i < len(args); i++ {
		handled, err := flags.WindowFlags.parse(args, &i)
		if !handled {
			switch args[i] {
			case "--user", "-u":
				flags.User, err = flagValue(args, &i)
			default:
				err = usagef("unknown flag: %s", args[i])
			}
		}
		if err != nil {
			return err
		}
	}

	start, end, err := flags.resolve(time.Now())
	if err != nil {
		return err
	}

	result, err := app.generator.Generate(ctx, flags.User, start, end)
	if result != nil {
		printLogs(result.Logs)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Generated %d points for %s (%d saved) from %s to %s\n",
		result.TotalPoints, flags.User, result.SavedPoints,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}

func runIngest(ctx context.Context, app *App, args []string) error {
	cfg := app.config.Generator
	user := app.config.Query.DefaultUserID
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--user", "-u":
			user, err = flagValue(args, &i)
		case "--last-run-file":
			cfg.LastRunFile, err = flagValue(args, &i)
		default:
			err = usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return err
		}
	}

	result, err := generator.NewIngester(app.generator, cfg, user).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d points (%d saved) from %s to %s\n",
		result.TotalPoints, result.SavedPoints,
		result.StartTime.Format(time.RFC3339), result.EndTime.Format(time.RFC3339))
	return nil
}

// GapsFlags represents flags for the gaps command
type GapsFlags struct {
	WindowFlags
	User   string
	Metric string
	Fill   bool
	Format string
}

func runGaps(ctx context.Context, app *App, args []string) error {
	flags := GapsFlags{WindowFlags: WindowFlags{Days: 7}, User: app.config.Query.DefaultUserID, Format: "table"}
	for i := 0; i < len(args); i++ {
		handled, err := flags.WindowFlags.parse(args, &i)
		if !handled {
			switch args[i] {
			case "--user", "-u":
				flags.User, err = flagValue(args, &i)
			case "--metric", "-m":
				flags.Metric, err = flagValue(args, &i)
			case "--fill":
				flags.Fill = true
			case "--format", "-f":
				flags.Format, err = flagValue(args, &i)
			default:
				err = usagef("unknown flag: %s", args[i])
			}
		}
		if err != nil {
			return err
		}
	}

	start, end, err := flags.resolve(time.Now())
	if err != nil {
		return err
	}
	metrics, err := selectMetrics(flags.Metric)
	if err != nil {
		return err
	}
	if flags.Fill && app.integrator == nil {
		return usagef("--fill requires imputation to be enabled")
	}

	var reports []gapReport
	for _, metric := range metrics {
		report := gapReport{UserID: flags.User, Metric: metric}
		if flags.Fill {
			measured, err := app.storage.QueryReal(ctx, flags.User, metric, start, end)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", metric, err)
			}
			result := app.integrator.Integrate(ctx, measured)
			report.Status = result.Status
			report.Gaps = result.Gaps
			report.Imputed = result.Summary.ImputedPoints
			report.Persisted = result.Persist.Written
		} else {
			result, err := app.detector.DetectInRange(ctx, flags.User, metric, start, end)
			if err != nil {
				return fmt.Errorf("gap detection failed for %s: %w", metric, err)
			}
			report.Status = result.Status
			report.Gaps = result.Gaps
		}
		reports = append(reports, report)
	}

	if flags.Format == "json" {
		return outputJSON(reports)
	}
	printGapReports(reports, start, end)
	return nil
}

// QueryFlags represents flags for the query command
type QueryFlags struct {
	WindowFlags
	User     string
	Metric   string
	Page     int
	PerPage  int
	Impute   bool
	RealOnly bool
	Format   string
}

func runQuery(ctx context.Context, app *App, args []string) error {
	flags := QueryFlags{WindowFlags: WindowFlags{Days: 1}, User: app.config.Query.DefaultUserID, Format: "table"}
	for i := 0; i < len(args); i++ {
		handled, err := flags.WindowFlags.parse(args, &i)
		if !handled {
			switch args[i] {
			case "--user", "-u":
				flags.User, err = flagValue(args, &i)
			case "--metric", "-m":
				flags.Metric, err = flagValue(args, &i)
			case "--page":
				flags.Page, err = flagInt(args, &i)
			case "--per-page", "-l":
				flags.PerPage, err = flagInt(args, &i)
			case "--impute":
				flags.Impute = true
			case "--real-only":
				flags.RealOnly = true
			case "--format", "-f":
				flags.Format, err = flagValue(args, &i)
			default:
				err = usagef("unknown flag: %s", args[i])
			}
		}
		if err != nil {
			return err
		}
	}
	if flags.Metric == "" {
		return usagef("--metric is required")
	}

	start, end, err := flags.resolve(time.Now())
	if err != nil {
		return err
	}

	resp, err := app.query.GetData(ctx, query.DataRequest{
		StartDate:       start.Format(time.RFC3339),
		EndDate:         end.Format(time.RFC3339),
		UserID:          flags.User,
		Metric:          flags.Metric,
		Page:            flags.Page,
		PerPage:         flags.PerPage,
		IncludeImputed:  !flags.RealOnly,
		ApplyImputation: flags.Impute,
	})
	if err != nil {
		return err
	}

	switch flags.Format {
	case "json":
		return outputJSON(resp)
	case "csv":
		return outputCSV(resp.Data)
	default:
		printQueryResponse(resp, flags.User, flags.Metric)
		return nil
	}
}

func runUsers(ctx context.Context, app *App, args []string) error {
	action := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		action, args = args[0], args[1:]
	}

	var user, date string
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--user", "-u":
			user, err = flagValue(args, &i)
		case "--date":
			date, err = flagValue(args, &i)
		default:
			err = usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return err
		}
	}

	switch action {
	case "list":
		return outputJSON(app.query.Users(ctx))
	case "enrolled":
		users, err := app.storage.GetEnrolledUsers(ctx)
		if err != nil {
			return err
		}
		printEnrolledUsers(users)
		return nil
	case "enroll":
		enrollment := time.Now().UTC()
		if date != "" {
			parsed, err := query.ParseTimestamp(date)
			if err != nil {
				return usagef("invalid --date: %v", err)
			}
			enrollment = parsed
		}
		u, err := models.NewUser(user, enrollment)
		if err != nil {
			return usagef("%v", err)
		}
		if err := app.storage.EnrollUser(ctx, *u); err != nil {
			return err
		}
		fmt.Printf("User %s enrolled successfully\n", u.UserID)
		return nil
	case "delete":
		if user == "" {
			return usagef("--user is required")
		}
		deleted, err := app.storage.DeleteUser(ctx, user)
		if err != nil {
			return err
		}
		fmt.Printf("User %s deleted successfully (%d records removed)\n", user, deleted)
		return nil
	default:
		return usagef("unknown users action %q", action)
	}
}

// migrationStatuser is implemented by the SQL backends.
type migrationStatuser interface {
	MigrationStatus(ctx context.Context) (*storage.MigrationStatus, error)
}

func runMigrate(ctx context.Context, app *App, args []string) error {
	version := 0
	status := false
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--version":
			version, err = flagInt(args, &i)
		case "--status":
			status = true
		default:
			err = usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return err
		}
	}

	sqlStore, ok := app.storage.(migrationStatuser)
	if !ok {
		fmt.Printf("Storage type %q has no schema to migrate\n", app.config.Storage.Type)
		return nil
	}

	if !status && version > 0 {
		if err := app.storage.Migrate(ctx, version); err != nil {
			return err
		}
	}

	st, err := sqlStore.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	printMigrationStatus(st)
	return nil
}

func selectMetrics(name string) ([]models.MetricType, error) {
	if name == "" || name == "all" {
		return models.AllMetrics, nil
	}
	metric, err := models.ParseMetricType(name)
	if err != nil {
		return nil, usagef("%v", err)
	}
	return []models.MetricType{metric}, nil
}
