package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jgoulah/securepeak/pkg/models"
	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" databases shared
	conn.SetMaxOpenConns(1)

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
	CREATE TABLE IF NOT EXISTS kv_storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS decrypted_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id INTEGER NOT NULL,
		contract TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		consumption INTEGER NOT NULL,
		peak INTEGER NOT NULL,
		recorded_at TEXT,
		decrypted_at TEXT NOT NULL,
		published INTEGER DEFAULT 0,
		UNIQUE(chain_id, contract, record_id)
	);
	CREATE INDEX IF NOT EXISTS idx_decrypted_contract ON decrypted_records(chain_id, contract);
	CREATE INDEX IF NOT EXISTS idx_decrypted_published ON decrypted_records(published);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// GetItem returns the value stored under key
func (db *DB) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv_storage WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying item: %w", err)
	}
	return value, true, nil
}

// SetItem stores value under key, replacing any previous value
func (db *DB) SetItem(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv_storage (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storing item: %w", err)
	}
	return nil
}

// RemoveItem deletes key
func (db *DB) RemoveItem(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv_storage WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing item: %w", err)
	}
	return nil
}

// SaveDecrypted upserts a decrypted reading. A changed plaintext is marked unpublished again.
func (db *DB) SaveDecrypted(r *models.DecryptedReading) error {
	query := `
	INSERT INTO decrypted_records (chain_id, contract, record_id, consumption, peak, recorded_at, decrypted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chain_id, contract, record_id) DO UPDATE SET
		published = CASE
			WHEN decrypted_records.consumption = excluded.consumption AND decrypted_records.peak = excluded.peak
			THEN decrypted_records.published ELSE 0 END,
		consumption = excluded.consumption,
		peak = excluded.peak,
		recorded_at = excluded.recorded_at,
		decrypted_at = excluded.decrypted_at
	`

	var recordedAt string
	if !r.RecordedAt.IsZero() {
		recordedAt = r.RecordedAt.UTC().Format(time.RFC3339)
	}
	decryptedAt := r.DecryptedAt
	if decryptedAt.IsZero() {
		decryptedAt = time.Now()
	}

	_, err := db.conn.Exec(query,
		r.ChainID, strings.ToLower(r.Contract), r.RecordID, r.Consumption, boolToInt(r.Peak),
		recordedAt, decryptedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving decrypted record: %w", err)
	}
	return nil
}

// DeleteDecrypted forgets the plaintext of a record whose ciphertext changed
func (db *DB) DeleteDecrypted(chainID uint64, contract string, recordID uint64) error {
	query := `DELETE FROM decrypted_records WHERE chain_id = ? AND contract = ? AND record_id = ?`
	if _, err := db.conn.Exec(query, chainID, strings.ToLower(contract), recordID); err != nil {
		return fmt.Errorf("deleting decrypted record: %w", err)
	}
	return nil
}

// ListDecrypted retrieves all decrypted readings for a deployment, ordered by record id
func (db *DB) ListDecrypted(chainID uint64, contract string) ([]models.DecryptedReading, error) {
	return db.listDecrypted(`WHERE chain_id = ? AND contract = ?`, chainID, strings.ToLower(contract))
}

// ListUnpublished retrieves decrypted readings of a deployment not yet published
func (db *DB) ListUnpublished(chainID uint64, contract string) ([]models.DecryptedReading, error) {
	return db.listDecrypted(`WHERE chain_id = ? AND contract = ? AND published = 0`, chainID, strings.ToLower(contract))
}

func (db *DB) listDecrypted(where string, args ...interface{}) ([]models.DecryptedReading, error) {
	query := `
	SELECT chain_id, contract, record_id, consumption, peak, recorded_at, decrypted_at, published
	FROM decrypted_records
	` + where + `
	ORDER BY record_id ASC
	`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decrypted records: %w", err)
	}
	defer rows.Close()

	var results []models.DecryptedReading
	for rows.Next() {
		var r models.DecryptedReading
		var peak, published int
		var recordedAt sql.NullString
		var decryptedAt string

		if err := rows.Scan(&r.ChainID, &r.Contract, &r.RecordID, &r.Consumption, &peak, &recordedAt, &decryptedAt, &published); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Peak = peak != 0
		r.Published = published != 0

		if recordedAt.Valid && recordedAt.String != "" {
			r.RecordedAt, err = time.Parse(time.RFC3339, recordedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing recorded_at: %w", err)
			}
		}
		r.DecryptedAt, err = time.Parse(time.RFC3339, decryptedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing decrypted_at: %w", err)
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

// MarkPublished marks a decrypted reading as published
func (db *DB) MarkPublished(chainID uint64, contract string, recordID uint64) error {
	query := `UPDATE decrypted_records SET published = 1 WHERE chain_id = ? AND contract = ? AND record_id = ?`
	_, err := db.conn.Exec(query, chainID, strings.ToLower(contract), recordID)
	if err != nil {
		return fmt.Errorf("marking record as published: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
