package store

import (
	"time"
)

// Dialect describes the SQL differences between the supported backends.
type Dialect interface {
	Name() string
	AutoIncrementPK() string
	JSONType() string
	TimestampType() string
	BoolType() string
	BoolTrue() string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string            { return "sqlite" }
func (sqliteDialect) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) JSONType() string        { return "TEXT" }
func (sqliteDialect) TimestampType() string   { return "TEXT" }
func (sqliteDialect) BoolType() string        { return "INTEGER" }
func (sqliteDialect) BoolTrue() string        { return "1" }

type postgresDialect struct{}

func (postgresDialect) Name() string            { return "postgres" }
func (postgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) JSONType() string        { return "JSONB" }
func (postgresDialect) TimestampType() string   { return "TIMESTAMPTZ" }
func (postgresDialect) BoolType() string        { return "BOOLEAN" }
func (postgresDialect) BoolTrue() string        { return "TRUE" }

// sqliteTimeLayout is fixed width so TEXT comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// parseTime converts a scanned timestamp value to time.Time.
// SQLite returns strings, Postgres returns time.Time.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			sqliteTimeLayout,
			"2006-01-02 15:04:05",
			time.RFC3339Nano,
			"2006-01-02 15:04:05.999999-07:00",
		} {
			if parsed, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}

// parseTimePtr is like parseTime but returns nil for missing timestamps.
func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}
