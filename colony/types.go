/*
Package colony provides the resource ledger and transfer engine for the
Mars colony dashboard.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  per-dome resource stock and recording every stock mutation in an
  immutable, auditable ledger. Whether the movement is a supply ship
  from Earth, a farm harvest, or an inter-dome transfer, the same
  engine handles the stock delta, the ledger entry, and the threshold
  alerting hook.

KEY CONCEPTS IN THIS FILE (types.go):
  - Dome/Resource: catalog records (habitat units and commodity types)
  - StockRow: current on-hand quantity of one resource in one dome
  - LedgerEntry: an immutable fact about a resource movement
  - MovementKind: category of a ledger entry (import, transfer, loss...)
  - EntryFilter: query shape for reading the ledger back

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never updated or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for dome/resource/entry IDs
  4. Auditability: Every quantity change is traceable to one entry

USAGE:
  entry := colony.LedgerEntry{
      DomeID:     "dome-a",
      ResourceID: "water",
      Kind:       colony.MovementEarthImport,
      Amount:     decimal.NewFromInt(500),
  }

SEE ALSO:
  - engine.go: The mutation operations and their invariants
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package colony

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DomeID string
type ResourceID string
type EntryID string

// TransferID correlates the two ledger entries (debit + credit) produced
// by one inter-dome transfer. It appears on exactly two entries, or none.
type TransferID string

// =============================================================================
// CATALOG - Domes and resources
// =============================================================================

type DomeType string

const (
	DomeHabitation  DomeType = "HABITATION"
	DomeAgriculture DomeType = "AGRICULTURE"
	DomeIndustrial  DomeType = "INDUSTRIAL"
	DomeCommand     DomeType = "COMMAND"
)

type DomeStatus string

const (
	DomeOperational DomeStatus = "OPERATIONAL"
	DomeMaintenance DomeStatus = "MAINTENANCE"
	DomeOffline     DomeStatus = "OFFLINE"
)

// Dome is a habitat unit in the colony; the partitioning key for stock.
type Dome struct {
	ID         DomeID
	Code       string
	Name       string
	Type       DomeType
	Status     DomeStatus
	AlertLevel int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CategoryCode string

const (
	CategorySupplies     CategoryCode = "SUPPLIES"
	CategoryConstruction CategoryCode = "CONSTRUCTION"
	CategoryEnergy       CategoryCode = "ENERGY"
	CategoryMedical      CategoryCode = "MEDICAL"
	CategoryLifeSupport  CategoryCode = "LIFE_SUPPORT"
	CategoryMisc         CategoryCode = "MISC"
)

// Resource is a fungible commodity type (water, oxygen, food, ...).
type Resource struct {
	ID       ResourceID
	Code     string
	Name     string
	Unit     string // "L", "kg", "kWh", ...
	Category CategoryCode
	IsVital  bool
	Metadata map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// STOCK ROW - Materialized current quantity per (dome, resource)
// =============================================================================

// StockRow is the current on-hand quantity of one resource inside one dome.
//
// INVARIANT: Quantity >= 0 for every committed state. The row is a
// materialized cache: it is always reconcilable as the running sum of
// ledger entry amounts for the same (dome, resource) pair.
//
// Reserved is tracked for the presentation layer but is not reconciled
// against debits; there is no rule tying it to Quantity beyond both
// being non-negative.
type StockRow struct {
	DomeID       DomeID
	ResourceID   ResourceID
	Quantity     decimal.Decimal
	Reserved     decimal.Decimal
	MinThreshold *decimal.Decimal
	MaxThreshold *decimal.Decimal
	LastUpdated  time.Time
}

// StockUpsert is the input shape for an absolute (administrative) write.
type StockUpsert struct {
	DomeID       DomeID
	ResourceID   ResourceID
	Quantity     decimal.Decimal
	Reserved     decimal.Decimal
	MinThreshold *decimal.Decimal
	MaxThreshold *decimal.Decimal
}

// =============================================================================
// LEDGER ENTRY - Atomic, immutable movement record
// =============================================================================

type MovementKind string

const (
	MovementEarthImport MovementKind = "EARTH_IMPORT" // supply ship from Earth
	MovementExtraction  MovementKind = "EXTRACTION"   // mining / local extraction
	MovementProduction  MovementKind = "PRODUCTION"   // produced internally (farm harvest)
	MovementConsumption MovementKind = "CONSUMPTION"  // daily usage
	MovementTransferIn  MovementKind = "TRANSFER_IN"  // received from another dome
	MovementTransferOut MovementKind = "TRANSFER_OUT" // sent to another dome
	MovementLoss        MovementKind = "LOSS"         // leak, spoilage, accident
	MovementAdjustment  MovementKind = "ADJUSTMENT"   // manual correction
)

// MovementKinds lists every valid kind, for validation and API enums.
var MovementKinds = []MovementKind{
	MovementEarthImport,
	MovementExtraction,
	MovementProduction,
	MovementConsumption,
	MovementTransferIn,
	MovementTransferOut,
	MovementLoss,
	MovementAdjustment,
}

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	for _, known := range MovementKinds {
		if k == known {
			return true
		}
	}
	return false
}

// LedgerEntry records one resource movement: "this amount of this resource
// moved, in this dome, for this reason, at this time."
//
// INVARIANTS:
//   - Written exactly once, never updated or deleted
//   - Amount is signed: negative outbound, positive inbound
//   - TransferID is set on TRANSFER_IN/TRANSFER_OUT pairs only, shared by
//     exactly two entries whose amounts sum to zero
type LedgerEntry struct {
	ID         EntryID
	DomeID     DomeID
	ResourceID ResourceID
	Kind       MovementKind
	Amount     decimal.Decimal
	TransferID TransferID // empty unless Kind is TRANSFER_IN/TRANSFER_OUT

	// Causal metadata
	MissionName string
	OperatorID  string
	Notes       string
	Metadata    map[string]string

	CreatedAt time.Time // set once at write time, immutable
}

// =============================================================================
// ENTRY FILTER - Ledger query shape
// =============================================================================

// Query result bounds. A zero filter limit gets DefaultQueryLimit; anything
// above MaxQueryLimit is clamped.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// EntryFilter selects ledger entries. Zero-valued fields match everything.
// The time range is half-open: [From, To).
type EntryFilter struct {
	DomeID     DomeID
	ResourceID ResourceID
	Kind       MovementKind
	From       *time.Time
	To         *time.Time
	Limit      int
}

// EffectiveLimit returns the bounded result count for this filter.
func (f EntryFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether an entry passes every set field of the filter.
// Used by in-memory stores; SQL stores translate the filter to WHERE clauses.
func (f EntryFilter) Matches(e LedgerEntry) bool {
	if f.DomeID != "" && e.DomeID != f.DomeID {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}
