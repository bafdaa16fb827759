/*
engine.go - The resource ledger engine

PURPOSE:
  The engine is the only writer of stock and ledger state. It exposes
  the mutation operations (inbound receipt, inter-dome transfer, local
  movement, administrative set) and the ledger query, and enforces the
  two invariants everything else leans on:

    1. Stock never goes negative, in any committed state.
    2. Every quantity change is paired with exactly one ledger entry,
       written in the same atomic unit of work.

ATOMICITY:
  Each operation runs inside TxStore.WithTx: stock deltas and ledger
  appends commit together or not at all. A store failure between the
  source debit and the destination credit of a transfer rolls the debit
  back; the caller sees ErrStoreUnavailable and the pre-operation state.

CONCURRENCY:
  Per-(dome, resource) mutexes are held from validation through commit,
  in canonical order when an operation touches two keys. The sufficiency
  check inside ApplyStockDelta is therefore never evaluated against a
  state another transfer is halfway through changing. Locks are released
  before the notifier runs, so a slow notifier never stalls other
  operations on the same keys.

STATE:
  The engine itself is stateless between calls; all durable state lives
  in the store. Construct one per process and share it.

SEE ALSO:
  - store.go: The persistence contract the engine relies on
  - locks.go: Per-key serialization
  - notifier.go: Post-commit threshold alerting hook
*/
package colony

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine mutates stock and appends ledger entries as single atomic units.
type Engine struct {
	store    TxStore
	locks    *keyLocks
	notifier AlertNotifier // optional, may be nil
}

// NewEngine creates an engine over the given store. The notifier is
// optional; pass nil to disable threshold alerting.
func NewEngine(store TxStore, notifier AlertNotifier) *Engine {
	return &Engine{
		store:    store,
		locks:    newKeyLocks(),
		notifier: notifier,
	}
}

// =============================================================================
// INBOUND - Supply shipments from Earth
// =============================================================================

// InboundItem is one (resource, amount) pair of a shipment.
type InboundItem struct {
	ResourceID ResourceID
	Amount     decimal.Decimal // strictly positive
}

// InboundRequest is a multi-item shipment destined for one dome.
type InboundRequest struct {
	DomeID      DomeID
	Items       []InboundItem
	MissionName string
	OperatorID  string
}

// InboundResult reports the committed effects of a shipment.
type InboundResult struct {
	DomeID      DomeID
	MissionName string
	Entries     []LedgerEntry
	Stock       []StockRow // full stock list of the destination dome
}

// RecordInbound receives a shipment: one positive stock delta and one
// EARTH_IMPORT ledger entry per item, all applied atomically. Either the
// whole shipment lands or none of it does.
func (e *Engine) RecordInbound(ctx context.Context, req InboundRequest) (*InboundResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: shipment has no items", ErrInvalidAmount)
	}
	for _, item := range req.Items {
		if !item.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: inbound amount %s for resource %s",
				ErrInvalidAmount, item.Amount, item.ResourceID)
		}
	}

	if err := e.checkDome(ctx, req.DomeID); err != nil {
		return nil, err
	}
	keys := make([]stockKey, len(req.Items))
	for i, item := range req.Items {
		if err := e.checkResource(ctx, item.ResourceID); err != nil {
			return nil, err
		}
		keys[i] = stockKey{Dome: req.DomeID, Resource: item.ResourceID}
	}

	unlock := e.locks.lockAll(keys...)

	var (
		entries []LedgerEntry
		touched []*StockRow
		stock   []StockRow
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		pending := make([]LedgerEntry, 0, len(req.Items))
		for _, item := range req.Items {
			row, err := s.ApplyStockDelta(ctx, req.DomeID, item.ResourceID, item.Amount)
			if err != nil {
				return err
			}
			touched = append(touched, row)
			pending = append(pending, LedgerEntry{
				DomeID:      req.DomeID,
				ResourceID:  item.ResourceID,
				Kind:        MovementEarthImport,
				Amount:      item.Amount,
				MissionName: req.MissionName,
				OperatorID:  req.OperatorID,
				Notes:       "Inbound supply",
			})
		}

		stored, err := s.AppendEntries(ctx, pending)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
		}
		entries = stored

		// Snapshot inside the transaction. Once WithTx commits, the
		// result must not depend on any further store call: a failed
		// post-commit read would surface a retryable error for an
		// operation that already happened.
		stock, err = s.ListStockByDome(ctx, req.DomeID)
		return err
	})
	unlock()
	if err != nil {
		return nil, e.wrapStoreErr(err)
	}

	e.notifyAll(touched)

	return &InboundResult{
		DomeID:      req.DomeID,
		MissionName: req.MissionName,
		Entries:     entries,
		Stock:       stock,
	}, nil
}

// =============================================================================
// TRANSFER - Atomic inter-dome movement
// =============================================================================

// TransferRequest moves one resource between two distinct domes.
type TransferRequest struct {
	FromDomeID DomeID
	ToDomeID   DomeID
	ResourceID ResourceID
	Amount     decimal.Decimal // strictly positive
	OperatorID string
}

// TransferResult reports a committed transfer. Entries holds the
// TRANSFER_OUT and TRANSFER_IN pair, in that order.
type TransferResult struct {
	TransferID  TransferID
	Entries     []LedgerEntry
	SourceStock []StockRow
	TargetStock []StockRow
}

// TransferResources debits the source, credits the destination, and
// appends the correlated TRANSFER_OUT/TRANSFER_IN pair, all as one atomic
// unit. A failure at any step leaves both domes exactly as they were.
func (e *Engine) TransferResources(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.FromDomeID == req.ToDomeID {
		return nil, &InvalidTransferError{
			FromDomeID: req.FromDomeID,
			ToDomeID:   req.ToDomeID,
			Reason:     "source and destination dome must be different",
		}
	}
	if !req.Amount.IsPositive() {
		return nil, &InvalidTransferError{
			FromDomeID: req.FromDomeID,
			ToDomeID:   req.ToDomeID,
			Reason:     fmt.Sprintf("amount must be positive, got %s", req.Amount),
		}
	}

	if err := e.checkDome(ctx, req.FromDomeID); err != nil {
		return nil, err
	}
	if err := e.checkDome(ctx, req.ToDomeID); err != nil {
		return nil, err
	}
	if err := e.checkResource(ctx, req.ResourceID); err != nil {
		return nil, err
	}

	unlock := e.locks.lockAll(
		stockKey{Dome: req.FromDomeID, Resource: req.ResourceID},
		stockKey{Dome: req.ToDomeID, Resource: req.ResourceID},
	)

	transferID := TransferID(uuid.NewString())

	var (
		entries     []LedgerEntry
		touched     []*StockRow
		sourceStock []StockRow
		targetStock []StockRow
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		src, err := s.ApplyStockDelta(ctx, req.FromDomeID, req.ResourceID, req.Amount.Neg())
		if err != nil {
			return err
		}
		dst, err := s.ApplyStockDelta(ctx, req.ToDomeID, req.ResourceID, req.Amount)
		if err != nil {
			return err
		}
		touched = append(touched, src, dst)

		stored, err := s.AppendEntries(ctx, []LedgerEntry{
			{
				DomeID:     req.FromDomeID,
				ResourceID: req.ResourceID,
				Kind:       MovementTransferOut,
				Amount:     req.Amount.Neg(),
				TransferID: transferID,
				OperatorID: req.OperatorID,
				Notes:      "Transfer between domes",
			},
			{
				DomeID:     req.ToDomeID,
				ResourceID: req.ResourceID,
				Kind:       MovementTransferIn,
				Amount:     req.Amount,
				TransferID: transferID,
				OperatorID: req.OperatorID,
				Notes:      "Transfer between domes",
			},
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
		}
		entries = stored

		// Snapshot inside the transaction; see RecordInbound.
		if sourceStock, err = s.ListStockByDome(ctx, req.FromDomeID); err != nil {
			return err
		}
		targetStock, err = s.ListStockByDome(ctx, req.ToDomeID)
		return err
	})
	unlock()
	if err != nil {
		return nil, e.wrapStoreErr(err)
	}

	e.notifyAll(touched)

	return &TransferResult{
		TransferID:  transferID,
		Entries:     entries,
		SourceStock: sourceStock,
		TargetStock: targetStock,
	}, nil
}

// =============================================================================
// LOCAL MOVEMENTS - Extraction, production, consumption, loss, adjustment
// =============================================================================

// MovementRequest records a single-dome movement: local extraction, farm
// production, daily consumption, a loss event, or a manual adjustment.
// Amount is signed as it will appear in the ledger; consumption and loss
// are negative, extraction and production positive, adjustments either.
type MovementRequest struct {
	DomeID     DomeID
	ResourceID ResourceID
	Kind       MovementKind
	Amount     decimal.Decimal
	OperatorID string
	Notes      string
	Metadata   map[string]string
}

// localKind reports whether RecordMovement accepts the kind. Imports go
// through RecordInbound, transfers through TransferResources, so their
// pairing invariants cannot be bypassed.
func localKind(k MovementKind) bool {
	switch k {
	case MovementExtraction, MovementProduction, MovementConsumption,
		MovementLoss, MovementAdjustment:
		return true
	}
	return false
}

func expectedSign(k MovementKind, amount decimal.Decimal) error {
	switch k {
	case MovementExtraction, MovementProduction:
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s amount must be positive, got %s", ErrInvalidAmount, k, amount)
		}
	case MovementConsumption, MovementLoss:
		if !amount.IsNegative() {
			return fmt.Errorf("%w: %s amount must be negative, got %s", ErrInvalidAmount, k, amount)
		}
	case MovementAdjustment:
		if amount.IsZero() {
			return fmt.Errorf("%w: adjustment amount must be non-zero", ErrInvalidAmount)
		}
	}
	return nil
}

// RecordMovement applies one signed stock delta and its ledger entry
// atomically. Debits that would drive stock negative are rejected with
// ErrInsufficientStock before anything is written.
func (e *Engine) RecordMovement(ctx context.Context, req MovementRequest) (*LedgerEntry, *StockRow, error) {
	if !localKind(req.Kind) {
		return nil, nil, fmt.Errorf("%w: kind %q is not a local movement", ErrInvalidAmount, req.Kind)
	}
	if err := expectedSign(req.Kind, req.Amount); err != nil {
		return nil, nil, err
	}
	if err := e.checkDome(ctx, req.DomeID); err != nil {
		return nil, nil, err
	}
	if err := e.checkResource(ctx, req.ResourceID); err != nil {
		return nil, nil, err
	}

	unlock := e.locks.lockAll(stockKey{Dome: req.DomeID, Resource: req.ResourceID})

	var (
		entry *LedgerEntry
		row   *StockRow
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		updated, err := s.ApplyStockDelta(ctx, req.DomeID, req.ResourceID, req.Amount)
		if err != nil {
			return err
		}
		row = updated

		stored, err := s.AppendEntry(ctx, LedgerEntry{
			DomeID:     req.DomeID,
			ResourceID: req.ResourceID,
			Kind:       req.Kind,
			Amount:     req.Amount,
			OperatorID: req.OperatorID,
			Notes:      req.Notes,
			Metadata:   req.Metadata,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
		}
		entry = stored
		return nil
	})
	unlock()
	if err != nil {
		return nil, nil, e.wrapStoreErr(err)
	}

	e.notifyAll([]*StockRow{row})
	return entry, row, nil
}

// =============================================================================
// DIRECT SET - Administrative override
// =============================================================================

// DirectSet writes a stock row to exactly the given values, bypassing the
// ledger. No causal record is created: this path is non-auditable and
// intended only for initial seeding and corrections. After a DirectSet,
// the ledger no longer reconciles to the row.
func (e *Engine) DirectSet(ctx context.Context, up StockUpsert) (*StockRow, error) {
	if up.Quantity.IsNegative() {
		return nil, fmt.Errorf("%w: quantity %s", ErrInvalidAmount, up.Quantity)
	}
	if up.Reserved.IsNegative() {
		return nil, fmt.Errorf("%w: reserved %s", ErrInvalidAmount, up.Reserved)
	}
	if err := e.checkDome(ctx, up.DomeID); err != nil {
		return nil, err
	}
	if err := e.checkResource(ctx, up.ResourceID); err != nil {
		return nil, err
	}

	unlock := e.locks.lockAll(stockKey{Dome: up.DomeID, Resource: up.ResourceID})

	row, err := e.store.UpsertStock(ctx, up)
	unlock()
	if err != nil {
		return nil, e.wrapStoreErr(err)
	}

	e.notifyAll([]*StockRow{row})
	return row, nil
}

// =============================================================================
// READS
// =============================================================================

// QueryLedger returns a snapshot of ledger entries matching the filter,
// newest first. Pure read, no side effects.
func (e *Engine) QueryLedger(ctx context.Context, f EntryFilter) ([]LedgerEntry, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown movement kind %q", ErrInvalidAmount, f.Kind)
	}
	entries, err := e.store.QueryEntries(ctx, f)
	if err != nil {
		return nil, e.wrapStoreErr(err)
	}
	return entries, nil
}

// GetStock returns one stock row, or nil if the dome has never held the
// resource.
func (e *Engine) GetStock(ctx context.Context, domeID DomeID, resourceID ResourceID) (*StockRow, error) {
	row, err := e.store.GetStock(ctx, domeID, resourceID)
	if err != nil {
		return nil, e.wrapStoreErr(err)
	}
	return row, nil
}

// ListStock returns every stock row of a dome, ordered by resource id.
func (e *Engine) ListStock(ctx context.Context, domeID DomeID) ([]StockRow, error) {
	if err := e.checkDome(ctx, domeID); err != nil {
		return nil, err
	}
	rows, err := e.store.ListStockByDome(ctx, domeID)
	if err != nil {
		return nil, e.wrapStoreErr(err)
	}
	return rows, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (e *Engine) checkDome(ctx context.Context, id DomeID) error {
	dome, err := e.store.GetDome(ctx, id)
	if err != nil {
		return e.wrapStoreErr(err)
	}
	if dome == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDome, id)
	}
	return nil
}

func (e *Engine) checkResource(ctx context.Context, id ResourceID) error {
	res, err := e.store.GetResource(ctx, id)
	if err != nil {
		return e.wrapStoreErr(err)
	}
	if res == nil {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	return nil
}

// wrapStoreErr classifies an error coming back from the store. Domain
// errors pass through untouched; anything else is a persistence failure
// that the unit of work has already rolled back, so it is retryable.
func (e *Engine) wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrLedgerWriteFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) notifyAll(rows []*StockRow) {
	if e.notifier == nil {
		return
	}
	for _, row := range rows {
		for _, b := range breachesOf(row) {
			e.notifier.NotifyBreach(b)
		}
	}
}
