package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jgoulah/pseusage/pkg/models"
	_ "modernc.org/sqlite"
)

// FileName is the ledger database inside the data directory
const FileName = "published.db"

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// Publication is a daily reading that was sent to the publish targets
type Publication struct {
	Commodity   models.Commodity
	Date        models.Date
	Value       float64
	Unit        models.UnitOfMeasurement
	PublishedAt time.Time
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS published_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commodity TEXT NOT NULL,
		date TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		published_at TEXT NOT NULL,
		UNIQUE(commodity, date)
	);
	CREATE INDEX IF NOT EXISTS idx_published_commodity ON published_usage(commodity);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// IsPublished reports whether the day was already sent for a commodity
func (db *DB) IsPublished(commodity models.Commodity, date models.Date) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM published_usage WHERE commodity = ? AND date = ?`,
		string(commodity), date.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying published usage: %w", err)
	}
	return n > 0, nil
}

// MarkPublished records a published reading, ignoring duplicates
func (db *DB) MarkPublished(commodity models.Commodity, record models.UsageRecord, at time.Time) error {
	query := `
	INSERT OR IGNORE INTO published_usage (commodity, date, value, unit, published_at)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query,
		string(commodity),
		record.Date.String(),
		record.Value,
		string(record.Unit),
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("marking record as published: %w", err)
	}
	return nil
}

// ListPublished retrieves the publications for a commodity, newest first
func (db *DB) ListPublished(commodity models.Commodity) ([]Publication, error) {
	query := `
	SELECT date, value, unit, published_at
	FROM published_usage
	WHERE commodity = ?
	ORDER BY date DESC
	`

	rows, err := db.conn.Query(query, string(commodity))
	if err != nil {
		return nil, fmt.Errorf("querying published usage: %w", err)
	}
	defer rows.Close()

	var results []Publication
	for rows.Next() {
		var dateStr, unit, publishedAt string
		p := Publication{Commodity: commodity}

		if err := rows.Scan(&dateStr, &p.Value, &unit, &publishedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		p.Date, err = models.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing date: %w", err)
		}
		p.Unit = models.UnitOfMeasurement(unit)
		p.PublishedAt, err = time.Parse(time.RFC3339, publishedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing published_at: %w", err)
		}

		results = append(results, p)
	}

	return results, rows.Err()
}
