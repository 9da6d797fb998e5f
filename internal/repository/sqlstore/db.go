package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects placeholder style and schema for the connected engine.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DB wraps the database connection shared by the repositories.
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// New opens a connection with the given driver ("sqlite3" or "pgx") and
// migrates the schema.
func New(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite3":
		return NewSQLite(dsn)
	case "pgx":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLite creates and initializes a SQLite database at dbPath.
func NewSQLite(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", dbPath+sep+"_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	return open(conn, DialectSQLite)
}

// NewPostgres connects through the pgx database/sql driver.
func NewPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	return open(conn, DialectPostgres)
}

func open(conn *sql.DB, dialect Dialect) (*DB, error) {
	db := &DB{conn: conn, dialect: dialect}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	filepath TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	detection_status TEXT NOT NULL DEFAULT 'pending',
	detection_error TEXT
);

CREATE TABLE IF NOT EXISTS character_detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	image_id INTEGER NOT NULL,
	bbox_x INTEGER NOT NULL,
	bbox_y INTEGER NOT NULL,
	bbox_w INTEGER NOT NULL,
	bbox_h INTEGER NOT NULL,
	confidence REAL,
	FOREIGN KEY (image_id) REFERENCES images(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_images_filename ON images(filename);
CREATE INDEX IF NOT EXISTS idx_images_timestamp ON images(timestamp);
CREATE INDEX IF NOT EXISTS idx_detections_image_id ON character_detections(image_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS images (
	id BIGSERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	filepath TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	detection_status TEXT NOT NULL DEFAULT 'pending',
	detection_error TEXT
);

CREATE TABLE IF NOT EXISTS character_detections (
	id BIGSERIAL PRIMARY KEY,
	image_id BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
	bbox_x INTEGER NOT NULL,
	bbox_y INTEGER NOT NULL,
	bbox_w INTEGER NOT NULL,
	bbox_h INTEGER NOT NULL,
	confidence DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_images_filename ON images(filename);
CREATE INDEX IF NOT EXISTS idx_images_timestamp ON images(timestamp);
CREATE INDEX IF NOT EXISTS idx_detections_image_id ON character_detections(image_id);
`

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.dialect == DialectPostgres {
		schema = postgresSchema
	}
	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

// Rebind converts '?' placeholders to the dialect's style.
func (db *DB) Rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Dialect reports the engine in use.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}
