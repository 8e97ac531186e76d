package storage

import "fmt"

// Dialect captures the differences between the SQL backends. Both accept
// $n placeholders and INSERT ... ON CONFLICT.
type Dialect struct {
	Name          string
	Driver        string
	TimestampType string
	DoubleType    string
	MaxOpenConns  int
}

var (
	// DuckDBDialect stores timestamps as naive UTC TIMESTAMP values. DuckDB
	// allows a single writer, so the pool is capped at one connection.
	DuckDBDialect = Dialect{
		Name:          "duckdb",
		Driver:        "duckdb",
		TimestampType: "TIMESTAMP",
		DoubleType:    "DOUBLE",
		MaxOpenConns:  1,
	}

	// PostgresDialect stores timestamps as TIMESTAMPTZ.
	PostgresDialect = Dialect{
		Name:          "postgres",
		Driver:        "postgres",
		TimestampType: "TIMESTAMPTZ",
		DoubleType:    "DOUBLE PRECISION",
		MaxOpenConns:  25,
	}
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case DuckDBDialect.Name:
		return DuckDBDialect, nil
	case PostgresDialect.Name, "postgresql":
		return PostgresDialect, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL dialect: %s", name)
	}
}
