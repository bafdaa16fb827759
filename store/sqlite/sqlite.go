/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements colony.TxStore (stock + ledger + catalog) using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The resource_logs table is append-only:
  - No UPDATE statements on resource_logs
  - No DELETE statements on resource_logs
  - Corrections are new ADJUSTMENT entries

KEY TABLES:
  domes:          Habitat unit catalog
  resources:      Commodity catalog
  inventory:      Materialized stock per (dome, resource)
  resource_logs:  Immutable ledger of all movements

DECIMALS:
  Quantities and amounts are stored as decimal strings and parsed back
  with shopspring/decimal. Arithmetic never happens in SQL, so no float
  drift enters the ledger.

CONCURRENCY:
  Uses sync.RWMutex for process-level thread safety; WithTx runs the
  whole unit of work on one *sql.Tx while holding the write lock, so a
  committed transaction is never interleaved with another writer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/colony.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  engine := colony.NewEngine(st, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - colony/store.go: Interface definitions
  - colony/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ares/colony-engine/colony"
)

// Store implements colony.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Domes (habitat catalog)
	CREATE TABLE IF NOT EXISTS domes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		dome_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'OPERATIONAL',
		alert_level INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_domes_code ON domes(code);

	-- Resources (commodity catalog)
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		unit TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'MISC',
		is_vital BOOLEAN NOT NULL DEFAULT FALSE,
		metadata_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resources_code ON resources(code);
	CREATE INDEX IF NOT EXISTS idx_resources_category ON resources(category);

	-- Inventory (materialized stock per dome+resource)
	CREATE TABLE IF NOT EXISTS inventory (
		dome_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		reserved TEXT NOT NULL DEFAULT '0',
		min_threshold TEXT,
		max_threshold TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (dome_id, resource_id)
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_dome ON inventory(dome_id);

	-- Resource logs (append-only ledger)
	CREATE TABLE IF NOT EXISTS resource_logs (
		id TEXT PRIMARY KEY,
		dome_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		transfer_id TEXT,
		mission_name TEXT,
		operator_id TEXT,
		notes TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_dome ON resource_logs(dome_id);
	CREATE INDEX IF NOT EXISTS idx_logs_resource ON resource_logs(resource_id);
	CREATE INDEX IF NOT EXISTS idx_logs_kind ON resource_logs(kind);
	CREATE INDEX IF NOT EXISTS idx_logs_created_at ON resource_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_logs_transfer
		ON resource_logs(transfer_id) WHERE transfer_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is RFC3339 with fixed-width, zero-padded nanoseconds.
// Timestamps are compared as strings in range filters and ORDER BY, so
// the layout must be constant length; RFC3339Nano trims trailing zeros,
// which makes a whole-second value sort after sub-second values in the
// same second ('.' < 'Z').
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DOME CATALOG
// =============================================================================

// SaveDome inserts or updates a dome.
func (s *Store) SaveDome(ctx context.Context, d colony.Dome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO domes (id, code, name, dome_type, status, alert_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			dome_type = excluded.dome_type,
			status = excluded.status,
			alert_level = excluded.alert_level,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Code, d.Name, d.Type, d.Status, d.AlertLevel, now, now,
	)
	return err
}

// GetDome retrieves a dome by ID. Returns nil if absent.
func (s *Store) GetDome(ctx context.Context, id colony.DomeID) (*colony.Dome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDome(ctx, s.db, id)
}

func getDome(ctx context.Context, q querier, id colony.DomeID) (*colony.Dome, error) {
	var (
		d                    colony.Dome
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, code, name, dome_type, status, alert_level, created_at, updated_at FROM domes WHERE id = ?",
		id,
	).Scan(&d.ID, &d.Code, &d.Name, &d.Type, &d.Status, &d.AlertLevel, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &d, nil
}

// ListDomes returns all domes ordered by code.
func (s *Store) ListDomes(ctx context.Context) ([]colony.Dome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, name, dome_type, status, alert_level, created_at, updated_at FROM domes ORDER BY code",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domes []colony.Dome
	for rows.Next() {
		var (
			d                    colony.Dome
			createdAt, updatedAt string
		)
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Type, &d.Status, &d.AlertLevel, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		domes = append(domes, d)
	}
	return domes, rows.Err()
}

// DeleteDome removes a dome from the catalog. Administrative operation;
// stock and ledger rows referencing it are kept for audit.
func (s *Store) DeleteDome(ctx context.Context, id colony.DomeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM domes WHERE id = ?", id)
	return err
}

// =============================================================================
// RESOURCE CATALOG
// =============================================================================

// SaveResource inserts or updates a resource.
func (s *Store) SaveResource(ctx context.Context, r colony.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, _ := json.Marshal(r.Metadata)

	query := `
		INSERT INTO resources (id, code, name, unit, category, is_vital, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			unit = excluded.unit,
			category = excluded.category,
			is_vital = excluded.is_vital,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Code, r.Name, r.Unit, r.Category, r.IsVital, string(metadataJSON), now, now,
	)
	return err
}

// GetResource retrieves a resource by ID. Returns nil if absent.
func (s *Store) GetResource(ctx context.Context, id colony.ResourceID) (*colony.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getResource(ctx, s.db, id)
}

func getResource(ctx context.Context, q querier, id colony.ResourceID) (*colony.Resource, error) {
	var (
		r                    colony.Resource
		metadataJSON         sql.NullString
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, code, name, unit, category, is_vital, metadata_json, created_at, updated_at FROM resources WHERE id = ?",
		id,
	).Scan(&r.ID, &r.Code, &r.Name, &r.Unit, &r.Category, &r.IsVital, &metadataJSON, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		json.Unmarshal([]byte(metadataJSON.String), &r.Metadata)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// ListResources returns all resources ordered by code.
func (s *Store) ListResources(ctx context.Context) ([]colony.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, name, unit, category, is_vital, metadata_json, created_at, updated_at FROM resources ORDER BY code",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []colony.Resource
	for rows.Next() {
		var (
			r                    colony.Resource
			metadataJSON         sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.Unit, &r.Category, &r.IsVital, &metadataJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			json.Unmarshal([]byte(metadataJSON.String), &r.Metadata)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// DeleteResource removes a resource from the catalog.
func (s *Store) DeleteResource(ctx context.Context, id colony.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE id = ?", id)
	return err
}

// =============================================================================
// STOCK STORE (colony.StockStore interface)
// =============================================================================

// GetStock returns the row for (dome, resource), or nil if absent.
func (s *Store) GetStock(ctx context.Context, domeID colony.DomeID, resourceID colony.ResourceID) (*colony.StockRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStock(ctx, s.db, domeID, resourceID)
}

func getStock(ctx context.Context, q querier, domeID colony.DomeID, resourceID colony.ResourceID) (*colony.StockRow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT dome_id, resource_id, quantity, reserved, min_threshold, max_threshold, updated_at
		FROM inventory
		WHERE dome_id = ? AND resource_id = ?
	`, domeID, resourceID)

	stock, err := scanStock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stock, nil
}

// ListStockByDome returns every row of a dome, ordered by resource id.
func (s *Store) ListStockByDome(ctx context.Context, domeID colony.DomeID) ([]colony.StockRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStockByDome(ctx, s.db, domeID)
}

func listStockByDome(ctx context.Context, q querier, domeID colony.DomeID) ([]colony.StockRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dome_id, resource_id, quantity, reserved, min_threshold, max_threshold, updated_at
		FROM inventory
		WHERE dome_id = ?
		ORDER BY resource_id ASC
	`, domeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var stock []colony.StockRow
	for rows.Next() {
		srow, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stock = append(stock, *srow)
	}
	return stock, rows.Err()
}

// UpsertStock sets a row to exactly the given values.
func (s *Store) UpsertStock(ctx context.Context, up colony.StockUpsert) (*colony.StockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertStock(ctx, s.db, up)
}

func upsertStock(ctx context.Context, q querier, up colony.StockUpsert) (*colony.StockRow, error) {
	query := `
		INSERT INTO inventory (dome_id, resource_id, quantity, reserved, min_threshold, max_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dome_id, resource_id) DO UPDATE SET
			quantity = excluded.quantity,
			reserved = excluded.reserved,
			min_threshold = excluded.min_threshold,
			max_threshold = excluded.max_threshold,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, query,
		up.DomeID, up.ResourceID,
		up.Quantity.String(), up.Reserved.String(),
		nullDecimal(up.MinThreshold), nullDecimal(up.MaxThreshold),
		now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert inventory: %w", err)
	}

	return getStock(ctx, q, up.DomeID, up.ResourceID)
}

// ApplyStockDelta atomically adds delta to the row's quantity, creating
// the row if absent. Fails if the resulting quantity would be negative.
func (s *Store) ApplyStockDelta(ctx context.Context, domeID colony.DomeID, resourceID colony.ResourceID, delta decimal.Decimal) (*colony.StockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyStockDelta(ctx, s.db, domeID, resourceID, delta)
}

func applyStockDelta(ctx context.Context, q querier, domeID colony.DomeID, resourceID colony.ResourceID, delta decimal.Decimal) (*colony.StockRow, error) {
	existing, err := getStock(ctx, q, domeID, resourceID)
	if err != nil {
		return nil, err
	}

	current := decimal.Zero
	if existing != nil {
		current = existing.Quantity
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return nil, &colony.InsufficientStockError{
			DomeID:     domeID,
			ResourceID: resourceID,
			Available:  current,
			Requested:  delta.Neg(),
		}
	}

	now := time.Now().UTC()
	if existing == nil {
		_, err = q.ExecContext(ctx, `
			INSERT INTO inventory (dome_id, resource_id, quantity, reserved, updated_at)
			VALUES (?, ?, ?, '0', ?)
		`, domeID, resourceID, next.String(), now.Format(timeLayout))
	} else {
		_, err = q.ExecContext(ctx, `
			UPDATE inventory SET quantity = ?, updated_at = ?
			WHERE dome_id = ? AND resource_id = ?
		`, next.String(), now.Format(timeLayout), domeID, resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply stock delta: %w", err)
	}

	return getStock(ctx, q, domeID, resourceID)
}

// =============================================================================
// LEDGER STORE (colony.LedgerStore interface)
// =============================================================================

// AppendEntry adds one entry to the ledger, assigning its id and
// creation timestamp if unset.
func (s *Store) AppendEntry(ctx context.Context, e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = colony.EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	// Stored as a string and compared lexicographically; a non-UTC offset
	// would break the ordering.
	e.CreatedAt = e.CreatedAt.UTC()

	metadataJSON, _ := json.Marshal(e.Metadata)

	query := `
		INSERT INTO resource_logs
		(id, dome_id, resource_id, kind, amount, transfer_id, mission_name, operator_id, notes, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.DomeID,
		e.ResourceID,
		e.Kind,
		e.Amount.String(),
		nullString(string(e.TransferID)),
		nullString(e.MissionName),
		nullString(e.OperatorID),
		nullString(e.Notes),
		string(metadataJSON),
		e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return &e, nil
}

// AppendEntries adds multiple entries atomically.
func (s *Store) AppendEntries(ctx context.Context, es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stored, err := appendEntries(ctx, sqlTx, es)
	if err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return stored, nil
}

func appendEntries(ctx context.Context, q querier, es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	stored := make([]colony.LedgerEntry, 0, len(es))
	for _, e := range es {
		se, err := appendEntry(ctx, q, e)
		if err != nil {
			return nil, err
		}
		stored = append(stored, *se)
	}
	return stored, nil
}

// QueryEntries returns a snapshot of entries matching the filter, newest
// first, bounded by the filter's effective limit.
func (s *Store) QueryEntries(ctx context.Context, f colony.EntryFilter) ([]colony.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, f)
}

func queryEntries(ctx context.Context, q querier, f colony.EntryFilter) ([]colony.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.DomeID != "" {
		where = append(where, "dome_id = ?")
		args = append(args, f.DomeID)
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if f.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}

	query := `
		SELECT id, dome_id, resource_id, kind, amount, transfer_id,
		       mission_name, operator_id, notes, metadata_json, created_at
		FROM resource_logs
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []colony.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (colony.LedgerEntry, error) {
	var (
		e            colony.LedgerEntry
		amount       string
		transferID   sql.NullString
		missionName  sql.NullString
		operatorID   sql.NullString
		notes        sql.NullString
		metadataJSON sql.NullString
		createdAt    string
	)

	err := rows.Scan(
		&e.ID, &e.DomeID, &e.ResourceID, &e.Kind, &amount,
		&transferID, &missionName, &operatorID, &notes, &metadataJSON, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	e.Amount = mustDecimal(amount)
	e.TransferID = colony.TransferID(transferID.String)
	e.MissionName = missionName.String
	e.OperatorID = operatorID.String
	e.Notes = notes.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)

	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (colony.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Every stock
// and ledger write inside fn commits together, or is rolled back if fn
// returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(store colony.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through one *sql.Tx. It never touches the
// parent mutex; WithTx already holds it.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetDome(ctx context.Context, id colony.DomeID) (*colony.Dome, error) {
	return getDome(ctx, ts.tx, id)
}

func (ts *txStore) GetResource(ctx context.Context, id colony.ResourceID) (*colony.Resource, error) {
	return getResource(ctx, ts.tx, id)
}

func (ts *txStore) GetStock(ctx context.Context, domeID colony.DomeID, resourceID colony.ResourceID) (*colony.StockRow, error) {
	return getStock(ctx, ts.tx, domeID, resourceID)
}

func (ts *txStore) ListStockByDome(ctx context.Context, domeID colony.DomeID) ([]colony.StockRow, error) {
	return listStockByDome(ctx, ts.tx, domeID)
}

func (ts *txStore) UpsertStock(ctx context.Context, up colony.StockUpsert) (*colony.StockRow, error) {
	return upsertStock(ctx, ts.tx, up)
}

func (ts *txStore) ApplyStockDelta(ctx context.Context, domeID colony.DomeID, resourceID colony.ResourceID, delta decimal.Decimal) (*colony.StockRow, error) {
	return applyStockDelta(ctx, ts.tx, domeID, resourceID, delta)
}

func (ts *txStore) AppendEntry(ctx context.Context, e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) AppendEntries(ctx context.Context, es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	return appendEntries(ctx, ts.tx, es)
}

func (ts *txStore) QueryEntries(ctx context.Context, f colony.EntryFilter) ([]colony.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx, f)
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary aggregates the colony state for the dashboard landing page.
type Summary struct {
	TotalDomes       int
	DomesByStatus    map[colony.DomeStatus]int
	TotalsByResource map[string]decimal.Decimal // resource code -> summed quantity
}

// GetSummary computes dome counts and per-resource quantity totals.
// Sums are computed in Go with decimals so no float drift enters the
// dashboard numbers.
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &Summary{
		DomesByStatus:    make(map[colony.DomeStatus]int),
		TotalsByResource: make(map[string]decimal.Decimal),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status FROM domes")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status colony.DomeStatus
		if err := rows.Scan(&status); err != nil {
			rows.Close()
			return nil, err
		}
		sum.TotalDomes++
		sum.DomesByStatus[status]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	invRows, err := s.db.QueryContext(ctx, `
		SELECT r.code, i.quantity
		FROM inventory i
		JOIN resources r ON r.id = i.resource_id
	`)
	if err != nil {
		return nil, err
	}
	defer invRows.Close()

	for invRows.Next() {
		var code, qty string
		if err := invRows.Scan(&code, &qty); err != nil {
			return nil, err
		}
		q := mustDecimal(qty)
		if q.IsPositive() {
			sum.TotalsByResource[code] = sum.TotalsByResource[code].Add(q)
		}
	}
	return sum, invRows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). The ledger is only ever
// cleared here, never in the serving path.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"resource_logs", "inventory", "resources", "domes"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStock(row scannable) (*colony.StockRow, error) {
	var (
		stock              colony.StockRow
		quantity, reserved string
		minT, maxT         sql.NullString
		updatedAt          string
	)

	err := row.Scan(&stock.DomeID, &stock.ResourceID, &quantity, &reserved, &minT, &maxT, &updatedAt)
	if err != nil {
		return nil, err
	}

	stock.Quantity = mustDecimal(quantity)
	stock.Reserved = mustDecimal(reserved)
	if minT.Valid {
		d := mustDecimal(minT.String)
		stock.MinThreshold = &d
	}
	if maxT.Valid {
		d := mustDecimal(maxT.String)
		stock.MaxThreshold = &d
	}
	stock.LastUpdated, _ = time.Parse(timeLayout, updatedAt)

	return &stock, nil
}
