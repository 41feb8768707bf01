package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"simplemes/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every statement method. DB runs them on the pool, Tx inside
// a transaction.
type Queries struct {
	r      runner
	driver string
}

// DB wraps the SQL connection pool.
type DB struct {
	*sql.DB
	*Queries
	dialect Dialect
}

// Tx is a transaction-scoped Queries.
type Tx struct {
	*Queries
	tx *sql.Tx
}

// Open opens the configured database and runs migrations.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return OpenSQLite(cfg.SQLite.Path)
	case "postgres":
		return openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// OpenSQLite opens (or creates) a SQLite database and runs migrations.
func OpenSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := New(sqlDB, "sqlite")
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func openPostgres(cfg *config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db := New(sqlDB, "postgres")
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return db, nil
}

// New wraps an existing pool without running migrations.
func New(sqlDB *sql.DB, driver string) *DB {
	var d Dialect = sqliteDialect{}
	if driver == "postgres" {
		d = postgresDialect{}
	}
	return &DB{
		DB:      sqlDB,
		Queries: &Queries{r: sqlDB, driver: driver},
		dialect: d,
	}
}

func (db *DB) Dialect() Dialect { return db.dialect }
func (db *DB) Driver() string   { return db.Queries.driver }

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{Queries: &Queries{r: sqlTx, driver: db.Queries.driver}, tx: sqlTx}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			sqlTx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) migrate() error {
	var schema string
	switch db.Queries.driver {
	case "sqlite":
		schema = schemaSQLite
	case "postgres":
		schema = schemaPostgres
	default:
		return fmt.Errorf("no schema for driver: %s", db.Queries.driver)
	}
	_, err := db.Exec(schema)
	return err
}

// q rewrites ? placeholders for PostgreSQL and passes through for SQLite.
func (q *Queries) q(query string) string {
	if q.driver == "postgres" {
		return Rebind(query)
	}
	return query
}

// ts converts a time for binding. SQLite stores fixed-width UTC text so
// lexical comparison matches chronological order.
func (q *Queries) ts(t time.Time) any {
	if q.driver == "postgres" {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// tsPtr is ts for nullable columns.
func (q *Queries) tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return q.ts(*t)
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
