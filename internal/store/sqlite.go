package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/quoteworks/internal/domain"
	"github.com/ashureev/quoteworks/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers off the writer's lock.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS response_drafts (
		draft_key TEXT PRIMARY KEY,
		seller_id INTEGER NOT NULL DEFAULT 0,
		quote_id INTEGER NOT NULL,
		items_json TEXT NOT NULL,
		validity_date TEXT NOT NULL DEFAULT '',
		ciapag_discount TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS manufacturer_names (
		supplier_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Databases created before drafts were scoped per seller lack the column.
	var hasSeller int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('response_drafts') WHERE name = 'seller_id'`).Scan(&hasSeller); err != nil {
		return fmt.Errorf("inspect draft columns: %w", err)
	}
	if hasSeller == 0 {
		if _, err := s.db.Exec(`ALTER TABLE response_drafts ADD COLUMN seller_id INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add seller column: %w", err)
		}
	}
	return nil
}

// DeleteUnownedDrafts removes drafts stored before drafts carried a seller.
// They cannot be attributed to anyone and are never loaded.
func (s *SQLiteStore) DeleteUnownedDrafts(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM response_drafts WHERE seller_id = 0`)
	if err != nil {
		return 0, fmt.Errorf("delete unowned drafts: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unowned drafts rows affected: %w", err)
	}
	return rows, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// LoadDraft retrieves a seller's draft for a quote.
func (s *SQLiteStore) LoadDraft(ctx context.Context, ref domain.DraftRef) (*domain.ResponseDraft, error) {
	query := `
		SELECT seller_id, quote_id, items_json, validity_date, ciapag_discount, updated_at
		FROM response_drafts WHERE draft_key = ?`

	var (
		draft     domain.ResponseDraft
		itemsJSON string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, DraftKey(ref)).Scan(
		&draft.SellerID, &draft.QuoteID, &itemsJSON, &draft.ValidityDate, &draft.CiapagDiscount, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft row: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &draft.Items); err != nil {
		return nil, fmt.Errorf("decode draft items: %w", err)
	}
	if draft.Items == nil {
		draft.Items = map[string]domain.ItemPriceEntry{}
	}
	draft.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &draft, nil
}

// SaveDraft upserts the draft in a single statement.
func (s *SQLiteStore) SaveDraft(ctx context.Context, ref domain.DraftRef, draft *domain.ResponseDraft) (*domain.ResponseDraft, error) {
	stored, err := stamp(ref, draft, s.now())
	if err != nil {
		return nil, err
	}
	itemsJSON, err := json.Marshal(stored.Items)
	if err != nil {
		return nil, fmt.Errorf("encode draft items: %w", err)
	}

	query := `
	INSERT INTO response_drafts (draft_key, seller_id, quote_id, items_json, validity_date, ciapag_discount, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(draft_key) DO UPDATE SET
		items_json = excluded.items_json,
		validity_date = excluded.validity_date,
		ciapag_discount = excluded.ciapag_discount,
		updated_at = excluded.updated_at`

	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "save draft", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			DraftKey(ref), ref.SellerID, int64(ref.QuoteID), string(itemsJSON),
			stored.ValidityDate, stored.CiapagDiscount, stored.UpdatedAt.UnixMilli(),
		)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("upsert draft: %w", err)
	}
	return stored, nil
}

// DiscardDraft deletes a seller's draft for a quote.
func (s *SQLiteStore) DiscardDraft(ctx context.Context, ref domain.DraftRef) error {
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "discard draft", func() error {
		result, execErr := s.db.ExecContext(ctx, `DELETE FROM response_drafts WHERE draft_key = ?`, DraftKey(ref))
		if execErr != nil {
			return execErr
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			slog.Debug("DiscardDraft found no draft", "seller_id", ref.SellerID, "quote_id", ref.QuoteID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// GetManufacturerName reads a cached manufacturer name.
func (s *SQLiteStore) GetManufacturerName(ctx context.Context, supplierID int64) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM manufacturer_names WHERE supplier_id = ?`, supplierID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scan manufacturer name: %w", err)
	}
	return name, true, nil
}

// PutManufacturerName caches a manufacturer name.
func (s *SQLiteStore) PutManufacturerName(ctx context.Context, supplierID int64, name string) error {
	query := `
	INSERT INTO manufacturer_names (supplier_id, name, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(supplier_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "put manufacturer name", func() error {
		_, execErr := s.db.ExecContext(ctx, query, supplierID, name, s.now().Unix())
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert manufacturer name: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
