// Health Series CLI
// This application serves hourly health-metric series over HTTP, generates
// synthetic data, runs incremental ingest and reports gaps from the command
// line.
//
// Usage:
//
//	healthseries serve
//	healthseries generate --start 2024-04-01 --end 2024-04-07 --user user_1
//	healthseries gaps --user user_1 --metric intraday_heart_rate --days 7
//	healthseries query --user user_1 --metric intraday_hrv --start 2024-04-01 --end 2024-04-02 --impute
//
// For detailed help on any command, use: healthseries <command> --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "healthseries"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

type commandFunc func(ctx context.Context, app *App, args []string) error

var commands = map[string]struct {
	run     commandFunc
	failure string
}{
	"serve":    {runServe, "Server failed"},
	"generate": {runGenerate, "Generation failed"},
	"ingest":   {runIngest, "Ingest failed"},
	"gaps":     {runGaps, "Gap analysis failed"},
	"query":    {runQuery, "Query failed"},
	"users":    {runUsers, "User command failed"},
	"migrate":  {runMigrate, "Migration failed"},
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	configPath, argv := extractConfigFlag(argv)
	if len(argv) == 0 {
		printUsage()
		return ExitUsageError
	}

	command, args := argv[0], argv[1:]
	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return ExitSuccess
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return ExitSuccess
	}

	cmd, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}
	if wantsHelp(args) {
		printCommandHelp(command)
		return ExitSuccess
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize: %v\n", err)
		return ExitConfigError
	}
	defer app.Close()

	if err := cmd.run(ctx, app, args); err != nil {
		app.logger.Error(cmd.failure, "error", err)
		if ctx.Err() != nil {
			return ExitInterrupt
		}
		if isUsageError(err) {
			return ExitUsageError
		}
		return ExitDataError
	}
	return ExitSuccess
}

// extractConfigFlag pulls --config/-c out of argv wherever it appears.
func extractConfigFlag(argv []string) (string, []string) {
	path := os.Getenv("HEALTH_CONFIG")
	rest := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		if (argv[i] == "--config" || argv[i] == "-c") && i+1 < len(argv) {
			path = argv[i+1]
			i++
			continue
		}
		rest = append(rest, argv[i])
	}
	return path, rest
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}
