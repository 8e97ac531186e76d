package main

import "fmt"

func printUsage() {
	fmt.Printf(`%s - Health Series Service v%s

USAGE:
    %s [--config <file>] <command> [options]

COMMANDS:
    serve       Run the HTTP API and the scheduled ingest
    generate    Write a synthetic series for a user
    ingest      Generate data from the last recorded run up to now
    gaps        Detect and optionally fill gaps in stored series
    query       Read one page of a series, optionally with imputation
    users       List, enroll and delete users
    migrate     Apply schema migrations and show their status

GLOBAL OPTIONS:
    --config, -c   Configuration file (JSON or YAML), or $HEALTH_CONFIG
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Serve on the configured address with hourly ingest
    %s serve

    # Generate a week of synthetic data for user_1
    %s generate --days 7 --user user_1

    # Report heart-rate gaps over the last 3 days and fill them
    %s gaps --metric intraday_heart_rate --days 3 --fill

    # Read HRV for one day with gap imputation as JSON
    %s query --metric intraday_hrv --start 2024-04-01 --end 2024-04-02 --impute --format json

CONFIGURATION:
    Defaults are overridden by the config file, then by a .env file, then
    by environment variables (STORAGE_TYPE, DATABASE_URL, CACHE_TYPE, ...).

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "serve":
		fmt.Printf(`%s serve - Run the HTTP API

OPTIONS:
    --address, -a <addr>   Listen address (default from config, :8000)
    --no-schedule          Do not start the cron-driven ingest
`, AppName)
	case "generate":
		fmt.Printf(`%s generate - Write a synthetic series

OPTIONS:
    --user, -u <id>        User to generate for (default user_1)
    --start, -s <date>     Window start (ISO 8601)
    --end, -e <date>       Window end (ISO 8601)
    --days, -d <days>      Window ending at the current hour (default 7)

NOTES:
    - Either use --days OR both --start and --end
    - Windows may not end in the future or exceed the configured range
`, AppName)
	case "ingest":
		fmt.Printf(`%s ingest - Generate from the last recorded run up to now

OPTIONS:
    --user, -u <id>          User to ingest for (default user_1)
    --last-run-file <path>   Cursor file (default from config)
`, AppName)
	case "gaps":
		fmt.Printf(`%s gaps - Detect gaps in stored series

OPTIONS:
    --user, -u <id>        User to scan (default user_1)
    --metric, -m <name>    Metric to scan, or "all" (default all)
    --start/--end/--days   Window, as for generate (default 7 days)
    --fill                 Impute the gaps and persist the synthesized points
    --format, -f <fmt>     table or json (default table)
`, AppName)
	case "query":
		fmt.Printf(`%s query - Read a series

OPTIONS:
    --user, -u <id>        User to read (default user_1)
    --metric, -m <name>    Metric to read (required)
    --start/--end/--days   Window, as for generate (default 1 day)
    --page <n>             Page number (default 1)
    --per-page, -l <n>     Page size (default from config)
    --impute               Detect and fill gaps in the returned page
    --real-only            Exclude previously imputed points
    --format, -f <fmt>     table, json or csv (default table)
`, AppName)
	case "users":
		fmt.Printf(`%s users - Manage users

USAGE:
    %s users list
    %s users enrolled
    %s users enroll --user <id> [--date <date>]
    %s users delete --user <id>
`, AppName, AppName, AppName, AppName, AppName)
	case "migrate":
		fmt.Printf(`%s migrate - Apply schema migrations

OPTIONS:
    --version <n>          Migrate up to version n
    --status               Only show the migration status
`, AppName)
	default:
		fmt.Printf("Unknown command '%s'\n\n", command)
		printUsage()
	}
}
