// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ares/colony-engine/colony"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	domes     map[colony.DomeID]colony.Dome
	resources map[colony.ResourceID]colony.Resource
	stock     map[stockKey]colony.StockRow
	entries   []colony.LedgerEntry
}

type stockKey struct {
	Dome     colony.DomeID
	Resource colony.ResourceID
}

func NewMemory() *Memory {
	return &Memory{
		domes:     make(map[colony.DomeID]colony.Dome),
		resources: make(map[colony.ResourceID]colony.Resource),
		stock:     make(map[stockKey]colony.StockRow),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// SaveDome registers or replaces a dome. Not part of the engine contract;
// used by tests and the dev seed path.
func (m *Memory) SaveDome(d colony.Dome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domes[d.ID] = d
}

// SaveResource registers or replaces a resource.
func (m *Memory) SaveResource(r colony.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

func (m *Memory) GetDome(_ context.Context, id colony.DomeID) (*colony.Dome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.domes[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *Memory) GetResource(_ context.Context, id colony.ResourceID) (*colony.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.resources[id]; ok {
		return &r, nil
	}
	return nil, nil
}

// =============================================================================
// STOCK
// =============================================================================

func (m *Memory) GetStock(_ context.Context, domeID colony.DomeID, resourceID colony.ResourceID) (*colony.StockRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.stock[stockKey{domeID, resourceID}]; ok {
		return &row, nil
	}
	return nil, nil
}

func (m *Memory) ListStockByDome(_ context.Context, domeID colony.DomeID) ([]colony.StockRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStockLocked(domeID), nil
}

func (m *Memory) listStockLocked(domeID colony.DomeID) []colony.StockRow {
	var rows []colony.StockRow
	for k, row := range m.stock {
		if k.Dome == domeID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ResourceID < rows[j].ResourceID })
	return rows
}

func (m *Memory) UpsertStock(_ context.Context, up colony.StockUpsert) (*colony.StockRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertStockLocked(up)
}

func (m *Memory) upsertStockLocked(up colony.StockUpsert) (*colony.StockRow, error) {
	row := colony.StockRow{
		DomeID:       up.DomeID,
		ResourceID:   up.ResourceID,
		Quantity:     up.Quantity,
		Reserved:     up.Reserved,
		MinThreshold: up.MinThreshold,
		MaxThreshold: up.MaxThreshold,
		LastUpdated:  time.Now().UTC(),
	}
	m.stock[stockKey{up.DomeID, up.ResourceID}] = row
	return &row, nil
}

func (m *Memory) ApplyStockDelta(_ context.Context, domeID colony.DomeID, resourceID colony.ResourceID, delta decimal.Decimal) (*colony.StockRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(domeID, resourceID, delta)
}

func (m *Memory) applyDeltaLocked(domeID colony.DomeID, resourceID colony.ResourceID, delta decimal.Decimal) (*colony.StockRow, error) {
	k := stockKey{domeID, resourceID}
	row, ok := m.stock[k]
	if !ok {
		row = colony.StockRow{
			DomeID:     domeID,
			ResourceID: resourceID,
			Quantity:   decimal.Zero,
			Reserved:   decimal.Zero,
		}
	}

	next := row.Quantity.Add(delta)
	if next.IsNegative() {
		return nil, &colony.InsufficientStockError{
			DomeID:     domeID,
			ResourceID: resourceID,
			Available:  row.Quantity,
			Requested:  delta.Neg(),
		}
	}

	row.Quantity = next
	row.LastUpdated = time.Now().UTC()
	m.stock[k] = row
	return &row, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) AppendEntries(_ context.Context, es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendManyLocked(es)
}

func (m *Memory) appendLocked(e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = colony.EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return &e, nil
}

func (m *Memory) appendManyLocked(es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	stored := make([]colony.LedgerEntry, 0, len(es))
	for _, e := range es {
		s, err := m.appendLocked(e)
		if err != nil {
			return nil, err
		}
		stored = append(stored, *s)
	}
	return stored, nil
}

func (m *Memory) QueryEntries(_ context.Context, f colony.EntryFilter) ([]colony.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []colony.LedgerEntry
	for _, e := range m.entries {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}

	// Newest first; ties keep append order stable enough for tests.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := f.EffectiveLimit()
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(colony.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	view := &txMemoryView{parent: tm}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	stockCopy := make(map[stockKey]colony.StockRow, len(tm.stock))
	for k, v := range tm.stock {
		stockCopy[k] = v
	}
	return memorySnapshot{
		stock:   stockCopy,
		entries: append([]colony.LedgerEntry{}, tm.entries...),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.stock = s.stock
	tm.entries = s.entries
}

type memorySnapshot struct {
	stock   map[stockKey]colony.StockRow
	entries []colony.LedgerEntry
}

// txMemoryView calls the parent's *Locked methods directly; the parent
// mutex is already held for the span of the transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetDome(_ context.Context, id colony.DomeID) (*colony.Dome, error) {
	if d, ok := tv.parent.domes[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (tv *txMemoryView) GetResource(_ context.Context, id colony.ResourceID) (*colony.Resource, error) {
	if r, ok := tv.parent.resources[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (tv *txMemoryView) GetStock(_ context.Context, domeID colony.DomeID, resourceID colony.ResourceID) (*colony.StockRow, error) {
	if row, ok := tv.parent.stock[stockKey{domeID, resourceID}]; ok {
		return &row, nil
	}
	return nil, nil
}

func (tv *txMemoryView) ListStockByDome(_ context.Context, domeID colony.DomeID) ([]colony.StockRow, error) {
	return tv.parent.listStockLocked(domeID), nil
}

func (tv *txMemoryView) UpsertStock(_ context.Context, up colony.StockUpsert) (*colony.StockRow, error) {
	return tv.parent.upsertStockLocked(up)
}

func (tv *txMemoryView) ApplyStockDelta(_ context.Context, domeID colony.DomeID, resourceID colony.ResourceID, delta decimal.Decimal) (*colony.StockRow, error) {
	return tv.parent.applyDeltaLocked(domeID, resourceID, delta)
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) AppendEntries(_ context.Context, es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	return tv.parent.appendManyLocked(es)
}

func (tv *txMemoryView) QueryEntries(ctx context.Context, f colony.EntryFilter) ([]colony.LedgerEntry, error) {
	var matched []colony.LedgerEntry
	for _, e := range tv.parent.entries {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	limit := f.EffectiveLimit()
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
