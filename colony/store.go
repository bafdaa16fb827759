/*
store.go - Persistence interfaces for stock, ledger, and catalog

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  StockStore:   Current quantity per (dome, resource) key
  LedgerStore:  Append-only movement log
  CatalogStore: Dome and resource existence/lookup
  Store:        All three together (what the engine operates on)
  TxStore:      Store plus an atomic unit-of-work wrapper

APPEND-ONLY CONTRACT:
  The LedgerStore has no Update or Delete. Ever. Corrections are new
  ADJUSTMENT entries; the history stays intact.

ATOMIC UNITS OF WORK:
  TxStore.WithTx runs a function against a transactional view of the
  store. Either every write inside it becomes durable or none do. This
  is what makes a transfer's debit+credit+two ledger rows a single
  all-or-nothing step, and what makes a failed ledger append roll the
  stock delta back instead of stranding it.

LINEARIZABILITY:
  ApplyDelta must be linearizable per (dome, resource) key: concurrent
  calls on the same key must not interleave their read-modify-write
  steps. The engine additionally serializes whole operations per key
  (see locks.go), so the sufficiency check and the debit it guards are
  evaluated against the same state.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - colony/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: The only writer of stock and ledger state
*/
package colony

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK STORE
// =============================================================================

// StockStore holds the materialized quantity per (dome, resource) key.
type StockStore interface {
	// GetStock returns the row for the key, or nil if absent.
	GetStock(ctx context.Context, domeID DomeID, resourceID ResourceID) (*StockRow, error)

	// ListStockByDome returns every row of a dome, ordered by resource id.
	ListStockByDome(ctx context.Context, domeID DomeID) ([]StockRow, error)

	// UpsertStock sets a row to exactly the given values, creating it if
	// absent. Administrative path only; movement accounting goes through
	// ApplyStockDelta so the ledger stays reconcilable.
	UpsertStock(ctx context.Context, up StockUpsert) (*StockRow, error)

	// ApplyStockDelta atomically adds delta (positive or negative) to the
	// row's quantity, creating the row if absent. Returns an
	// InsufficientStockError if the result would be negative.
	ApplyStockDelta(ctx context.Context, domeID DomeID, resourceID ResourceID, delta decimal.Decimal) (*StockRow, error)
}

// =============================================================================
// LEDGER STORE - Append-only
// =============================================================================

// LedgerStore persists movement entries.
// IMPORTANT: Append-only. No Update, No Delete. Ever.
type LedgerStore interface {
	// AppendEntry persists one entry and returns the stored value.
	AppendEntry(ctx context.Context, e LedgerEntry) (*LedgerEntry, error)

	// AppendEntries persists a batch atomically: all or none. Used for
	// paired transfer entries and multi-item inbound shipments.
	AppendEntries(ctx context.Context, es []LedgerEntry) ([]LedgerEntry, error)

	// QueryEntries returns a snapshot of entries matching the filter,
	// newest first, bounded by the filter's effective limit.
	QueryEntries(ctx context.Context, f EntryFilter) ([]LedgerEntry, error)
}

// =============================================================================
// CATALOG STORE
// =============================================================================

// CatalogStore resolves dome and resource identities. The engine only
// needs existence checks; the API layer uses the full records.
type CatalogStore interface {
	// GetDome returns the dome, or nil if absent.
	GetDome(ctx context.Context, id DomeID) (*Dome, error)

	// GetResource returns the resource, or nil if absent.
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is everything the engine reads and writes.
type Store interface {
	StockStore
	LedgerStore
	CatalogStore
}

// TxStore wraps Store with an atomic unit of work.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error, every write inside it is rolled back.
	// If fn returns nil, all writes commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
