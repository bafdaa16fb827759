package colony_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ares/colony-engine/colony"
	"github.com/ares/colony-engine/colony/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	domeAlpha = colony.DomeID("dome-alpha")
	domeBeta  = colony.DomeID("dome-beta")
	domeGamma = colony.DomeID("dome-gamma")

	resWater  = colony.ResourceID("res-water")
	resOxygen = colony.ResourceID("res-oxygen")
	resFood   = colony.ResourceID("res-food")
)

func newTestStore() *store.TxMemory {
	m := store.NewTxMemory()
	m.SaveDome(colony.Dome{ID: domeAlpha, Code: "ALPHA", Name: "Alpha Habitat", Status: colony.DomeOperational})
	m.SaveDome(colony.Dome{ID: domeBeta, Code: "BETA", Name: "Beta Agricultural", Status: colony.DomeOperational})
	m.SaveDome(colony.Dome{ID: domeGamma, Code: "GAMMA", Name: "Gamma Research", Status: colony.DomeOperational})
	m.SaveResource(colony.Resource{ID: resWater, Code: "WATER", Name: "Water", Unit: "liters"})
	m.SaveResource(colony.Resource{ID: resOxygen, Code: "OXYGEN", Name: "Oxygen", Unit: "kg"})
	m.SaveResource(colony.Resource{ID: resFood, Code: "FOOD", Name: "Food Rations", Unit: "kg"})
	return m
}

func newTestEngine(t *testing.T) (*colony.Engine, *store.TxMemory) {
	t.Helper()
	m := newTestStore()
	return colony.NewEngine(m, nil), m
}

func seedStock(t *testing.T, e *colony.Engine, dome colony.DomeID, res colony.ResourceID, qty float64) {
	t.Helper()
	_, err := e.DirectSet(context.Background(), colony.StockUpsert{
		DomeID:     dome,
		ResourceID: res,
		Quantity:   decimal.NewFromFloat(qty),
	})
	require.NoError(t, err)
}

func qty(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func stockQty(t *testing.T, e *colony.Engine, dome colony.DomeID, res colony.ResourceID) decimal.Decimal {
	t.Helper()
	row, err := e.GetStock(context.Background(), dome, res)
	require.NoError(t, err)
	if row == nil {
		return decimal.Zero
	}
	return row.Quantity
}

// =============================================================================
// TRANSFER TESTS
// =============================================================================

func TestTransfer_Success_MovesStockAndPairsEntries(t *testing.T) {
	// GIVEN: Alpha holds 1000 liters of water, Beta holds none
	// WHEN: 250 liters are transferred Alpha -> Beta
	// THEN: Alpha has 750, Beta has 250, and the ledger holds a
	//       TRANSFER_OUT/TRANSFER_IN pair sharing one transfer id

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	seedStock(t, engine, domeAlpha, resWater, 1000)

	result, err := engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: domeAlpha,
		ToDomeID:   domeBeta,
		ResourceID: resWater,
		Amount:     qty(250),
		OperatorID: "op-7",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, stockQty(t, engine, domeAlpha, resWater).Equal(qty(750)),
		"source should be debited")
	assert.True(t, stockQty(t, engine, domeBeta, resWater).Equal(qty(250)),
		"destination should be credited")

	require.Len(t, result.Entries, 2)
	out, in := result.Entries[0], result.Entries[1]
	assert.Equal(t, colony.MovementTransferOut, out.Kind)
	assert.Equal(t, colony.MovementTransferIn, in.Kind)
	assert.True(t, out.Amount.Equal(qty(-250)))
	assert.True(t, in.Amount.Equal(qty(250)))
	assert.NotEmpty(t, result.TransferID)
	assert.Equal(t, result.TransferID, out.TransferID, "pair shares the transfer id")
	assert.Equal(t, result.TransferID, in.TransferID)
	assert.True(t, out.Amount.Add(in.Amount).IsZero(), "pair sums to zero")
}

func TestTransfer_Insufficient_NothingChanges(t *testing.T) {
	// GIVEN: Alpha holds 100 kg of oxygen
	// WHEN: Transferring 150 kg Alpha -> Beta
	// THEN: Rejected with the available/requested amounts, both domes
	//       untouched, no ledger entries written

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	seedStock(t, engine, domeAlpha, resOxygen, 100)

	_, err := engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: domeAlpha,
		ToDomeID:   domeBeta,
		ResourceID: resOxygen,
		Amount:     qty(150),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, colony.ErrInsufficientStock)
	var insErr *colony.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.True(t, insErr.Available.Equal(qty(100)))
	assert.True(t, insErr.Requested.Equal(qty(150)))

	assert.True(t, stockQty(t, engine, domeAlpha, resOxygen).Equal(qty(100)))
	assert.True(t, stockQty(t, engine, domeBeta, resOxygen).IsZero())

	entries, err := engine.QueryLedger(ctx, colony.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "failed transfer must leave no ledger trace")
}

func TestTransfer_SameDome_Rejected(t *testing.T) {
	// GIVEN: Any stock state
	// WHEN: Transferring with source == destination
	// THEN: Rejected as an invalid transfer before touching the store

	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resWater, 10)

	_, err := engine.TransferResources(context.Background(), colony.TransferRequest{
		FromDomeID: domeAlpha,
		ToDomeID:   domeAlpha,
		ResourceID: resWater,
		Amount:     qty(5),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, colony.ErrInvalidTransfer)
	var invErr *colony.InvalidTransferError
	assert.ErrorAs(t, err, &invErr)
}

func TestTransfer_NonPositiveAmount_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resWater, 10)

	for _, amount := range []decimal.Decimal{qty(0), qty(-5)} {
		_, err := engine.TransferResources(context.Background(), colony.TransferRequest{
			FromDomeID: domeAlpha,
			ToDomeID:   domeBeta,
			ResourceID: resWater,
			Amount:     amount,
		})
		assert.ErrorIs(t, err, colony.ErrInvalidTransfer, "amount %s", amount)
	}
}

func TestTransfer_UnknownDomeOrResource_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	seedStock(t, engine, domeAlpha, resWater, 10)

	_, err := engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: "dome-nope",
		ToDomeID:   domeBeta,
		ResourceID: resWater,
		Amount:     qty(1),
	})
	assert.ErrorIs(t, err, colony.ErrUnknownDome)
	assert.True(t, colony.IsNotFound(err))

	_, err = engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: domeAlpha,
		ToDomeID:   domeBeta,
		ResourceID: "res-nope",
		Amount:     qty(1),
	})
	assert.ErrorIs(t, err, colony.ErrUnknownResource)
}

func TestTransfer_EntireStock_DrainsToZero(t *testing.T) {
	// Boundary: transferring exactly the available amount succeeds.
	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resWater, 42.5)

	_, err := engine.TransferResources(context.Background(), colony.TransferRequest{
		FromDomeID: domeAlpha,
		ToDomeID:   domeBeta,
		ResourceID: resWater,
		Amount:     qty(42.5),
	})
	require.NoError(t, err)
	assert.True(t, stockQty(t, engine, domeAlpha, resWater).IsZero())
	assert.True(t, stockQty(t, engine, domeBeta, resWater).Equal(qty(42.5)))
}

// =============================================================================
// INBOUND TESTS
// =============================================================================

func TestInbound_MultiItem_CreatesStockAndEntries(t *testing.T) {
	// GIVEN: Gamma dome has never held any stock
	// WHEN: A shipment of 500 water and 200 food arrives
	// THEN: Both rows exist with the shipped quantities and each item has
	//       an EARTH_IMPORT ledger entry carrying the mission name

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.RecordInbound(ctx, colony.InboundRequest{
		DomeID: domeGamma,
		Items: []colony.InboundItem{
			{ResourceID: resWater, Amount: qty(500)},
			{ResourceID: resFood, Amount: qty(200)},
		},
		MissionName: "Ares Resupply 12",
		OperatorID:  "op-3",
	})
	require.NoError(t, err)

	assert.True(t, stockQty(t, engine, domeGamma, resWater).Equal(qty(500)))
	assert.True(t, stockQty(t, engine, domeGamma, resFood).Equal(qty(200)))

	require.Len(t, result.Entries, 2)
	for _, e := range result.Entries {
		assert.Equal(t, colony.MovementEarthImport, e.Kind)
		assert.Equal(t, "Ares Resupply 12", e.MissionName)
		assert.True(t, e.Amount.IsPositive())
		assert.NotEmpty(t, e.ID, "store assigns entry ids")
		assert.False(t, e.CreatedAt.IsZero())
	}
	assert.Len(t, result.Stock, 2)
}

func TestInbound_NonPositiveItem_RejectsWholeShipment(t *testing.T) {
	// One bad item fails the whole shipment; the good item must not land.
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordInbound(ctx, colony.InboundRequest{
		DomeID: domeGamma,
		Items: []colony.InboundItem{
			{ResourceID: resWater, Amount: qty(500)},
			{ResourceID: resFood, Amount: qty(-1)},
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, colony.ErrInvalidAmount)
	assert.True(t, stockQty(t, engine, domeGamma, resWater).IsZero())
}

func TestInbound_EmptyShipment_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.RecordInbound(context.Background(), colony.InboundRequest{
		DomeID: domeGamma,
	})
	assert.ErrorIs(t, err, colony.ErrInvalidAmount)
}

// =============================================================================
// LOCAL MOVEMENT TESTS
// =============================================================================

func TestRecordMovement_Consumption_DebitsStock(t *testing.T) {
	// GIVEN: Alpha holds 50 kg of food
	// WHEN: A daily consumption of 12 kg is recorded
	// THEN: Stock drops to 38 and the entry carries the negative amount

	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resFood, 50)

	entry, row, err := engine.RecordMovement(context.Background(), colony.MovementRequest{
		DomeID:     domeAlpha,
		ResourceID: resFood,
		Kind:       colony.MovementConsumption,
		Amount:     qty(-12),
		Notes:      "Daily rations",
	})
	require.NoError(t, err)

	assert.True(t, row.Quantity.Equal(qty(38)))
	assert.Equal(t, colony.MovementConsumption, entry.Kind)
	assert.True(t, entry.Amount.Equal(qty(-12)))
}

func TestRecordMovement_SignEnforcement(t *testing.T) {
	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resWater, 100)
	ctx := context.Background()

	cases := []struct {
		name   string
		kind   colony.MovementKind
		amount decimal.Decimal
	}{
		{"extraction must be positive", colony.MovementExtraction, qty(-5)},
		{"production must be positive", colony.MovementProduction, qty(0)},
		{"consumption must be negative", colony.MovementConsumption, qty(5)},
		{"loss must be negative", colony.MovementLoss, qty(5)},
		{"adjustment must be non-zero", colony.MovementAdjustment, qty(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := engine.RecordMovement(ctx, colony.MovementRequest{
				DomeID:     domeAlpha,
				ResourceID: resWater,
				Kind:       tc.kind,
				Amount:     tc.amount,
			})
			assert.ErrorIs(t, err, colony.ErrInvalidAmount)
		})
	}
}

func TestRecordMovement_TransferKinds_Rejected(t *testing.T) {
	// Imports and transfers have their own entry points; recording them
	// as bare movements would break the pairing invariant.
	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resWater, 100)

	for _, kind := range []colony.MovementKind{
		colony.MovementEarthImport,
		colony.MovementTransferIn,
		colony.MovementTransferOut,
	} {
		_, _, err := engine.RecordMovement(context.Background(), colony.MovementRequest{
			DomeID:     domeAlpha,
			ResourceID: resWater,
			Kind:       kind,
			Amount:     qty(1),
		})
		assert.Error(t, err, "kind %s should not be recordable directly", kind)
	}
}

func TestRecordMovement_OverConsumption_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	seedStock(t, engine, domeAlpha, resFood, 10)

	_, _, err := engine.RecordMovement(context.Background(), colony.MovementRequest{
		DomeID:     domeAlpha,
		ResourceID: resFood,
		Kind:       colony.MovementConsumption,
		Amount:     qty(-11),
	})
	assert.ErrorIs(t, err, colony.ErrInsufficientStock)
	assert.True(t, stockQty(t, engine, domeAlpha, resFood).Equal(qty(10)))
}

// =============================================================================
// DIRECT SET TESTS
// =============================================================================

func TestDirectSet_BypassesLedger(t *testing.T) {
	// Administrative set writes the row but never the ledger.
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	row, err := engine.DirectSet(ctx, colony.StockUpsert{
		DomeID:     domeAlpha,
		ResourceID: resWater,
		Quantity:   qty(777),
	})
	require.NoError(t, err)
	assert.True(t, row.Quantity.Equal(qty(777)))

	entries, err := engine.QueryLedger(ctx, colony.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirectSet_NegativeQuantity_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.DirectSet(context.Background(), colony.StockUpsert{
		DomeID:     domeAlpha,
		ResourceID: resWater,
		Quantity:   qty(-1),
	})
	assert.ErrorIs(t, err, colony.ErrInvalidAmount)
}

// =============================================================================
// LEDGER RECONCILIATION
// =============================================================================

func TestLedger_ReconcilesToStock(t *testing.T) {
	// GIVEN: A mix of inbound, production, consumption and transfers
	// WHEN: Summing every ledger entry per (dome, resource)
	// THEN: The sums equal the stored stock quantities exactly

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordInbound(ctx, colony.InboundRequest{
		DomeID: domeAlpha,
		Items:  []colony.InboundItem{{ResourceID: resWater, Amount: qty(300)}},
	})
	require.NoError(t, err)

	_, _, err = engine.RecordMovement(ctx, colony.MovementRequest{
		DomeID: domeAlpha, ResourceID: resWater,
		Kind: colony.MovementExtraction, Amount: qty(40.25),
	})
	require.NoError(t, err)

	_, _, err = engine.RecordMovement(ctx, colony.MovementRequest{
		DomeID: domeAlpha, ResourceID: resWater,
		Kind: colony.MovementConsumption, Amount: qty(-15.75),
	})
	require.NoError(t, err)

	_, err = engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: domeAlpha, ToDomeID: domeBeta,
		ResourceID: resWater, Amount: qty(100),
	})
	require.NoError(t, err)

	entries, err := engine.QueryLedger(ctx, colony.EntryFilter{Limit: colony.MaxQueryLimit})
	require.NoError(t, err)

	sums := map[colony.DomeID]decimal.Decimal{}
	for _, e := range entries {
		sums[e.DomeID] = sums[e.DomeID].Add(e.Amount)
	}

	assert.True(t, sums[domeAlpha].Equal(stockQty(t, engine, domeAlpha, resWater)),
		"alpha ledger sum %s vs stock", sums[domeAlpha])
	assert.True(t, sums[domeBeta].Equal(stockQty(t, engine, domeBeta, resWater)),
		"beta ledger sum %s vs stock", sums[domeBeta])
}

func TestQueryLedger_KindFilter(t *testing.T) {
	// GIVEN: Two transfers and one inbound
	// WHEN: Querying with kind=TRANSFER_OUT
	// THEN: Exactly the two debit halves come back

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	seedStock(t, engine, domeAlpha, resWater, 1000)

	_, err := engine.RecordInbound(ctx, colony.InboundRequest{
		DomeID: domeBeta,
		Items:  []colony.InboundItem{{ResourceID: resFood, Amount: qty(10)}},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := engine.TransferResources(ctx, colony.TransferRequest{
			FromDomeID: domeAlpha, ToDomeID: domeBeta,
			ResourceID: resWater, Amount: qty(50),
		})
		require.NoError(t, err)
	}

	entries, err := engine.QueryLedger(ctx, colony.EntryFilter{Kind: colony.MovementTransferOut})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, colony.MovementTransferOut, e.Kind)
		assert.True(t, e.Amount.IsNegative())
	}
}

func TestQueryLedger_Limit(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := engine.RecordInbound(ctx, colony.InboundRequest{
			DomeID: domeAlpha,
			Items:  []colony.InboundItem{{ResourceID: resWater, Amount: qty(1)}},
		})
		require.NoError(t, err)
	}

	entries, err := engine.QueryLedger(ctx, colony.EntryFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestQueryLedger_UnknownKind_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.QueryLedger(context.Background(), colony.EntryFilter{Kind: "TELEPORT"})
	assert.Error(t, err)
}

// =============================================================================
// ATOMICITY UNDER STORE FAILURE
// =============================================================================

// flakyStore wraps a TxMemory and fails ledger appends on demand, to
// verify that a failure between the stock delta and the ledger write
// rolls the whole unit of work back.
type flakyStore struct {
	*store.TxMemory
	failAppends bool
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(colony.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s colony.Store) error {
		return fn(&flakyView{Store: s, fail: f.failAppends})
	})
}

type flakyView struct {
	colony.Store
	fail bool
}

func (v *flakyView) AppendEntry(ctx context.Context, e colony.LedgerEntry) (*colony.LedgerEntry, error) {
	if v.fail {
		return nil, errors.New("simulated ledger failure")
	}
	return v.Store.AppendEntry(ctx, e)
}

func (v *flakyView) AppendEntries(ctx context.Context, es []colony.LedgerEntry) ([]colony.LedgerEntry, error) {
	if v.fail {
		return nil, errors.New("simulated ledger failure")
	}
	return v.Store.AppendEntries(ctx, es)
}

func TestTransfer_LedgerWriteFails_StockRolledBack(t *testing.T) {
	// GIVEN: The ledger append fails after both stock deltas applied
	// WHEN: A transfer is attempted
	// THEN: Both domes keep their pre-transfer stock and the error is
	//       retryable

	flaky := &flakyStore{TxMemory: newTestStore()}
	engine := colony.NewEngine(flaky, nil)
	ctx := context.Background()

	_, err := engine.DirectSet(ctx, colony.StockUpsert{
		DomeID: domeAlpha, ResourceID: resWater, Quantity: qty(100),
	})
	require.NoError(t, err)

	flaky.failAppends = true
	_, err = engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: domeAlpha, ToDomeID: domeBeta,
		ResourceID: resWater, Amount: qty(30),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, colony.ErrLedgerWriteFailed)
	assert.True(t, colony.IsRetryable(err))

	assert.True(t, stockQty(t, engine, domeAlpha, resWater).Equal(qty(100)),
		"debit must be rolled back")
	assert.True(t, stockQty(t, engine, domeBeta, resWater).IsZero(),
		"credit must be rolled back")
}

func TestInbound_LedgerWriteFails_StockRolledBack(t *testing.T) {
	flaky := &flakyStore{TxMemory: newTestStore(), failAppends: true}
	engine := colony.NewEngine(flaky, nil)

	_, err := engine.RecordInbound(context.Background(), colony.InboundRequest{
		DomeID: domeAlpha,
		Items:  []colony.InboundItem{{ResourceID: resWater, Amount: qty(500)}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, colony.ErrLedgerWriteFailed)
	assert.True(t, stockQty(t, engine, domeAlpha, resWater).IsZero())
}

// readBrokenStore fails every ListStockByDome issued outside WithTx. The
// transactional view still works, so mutations keep functioning; only a
// post-commit re-read would trip it.
type readBrokenStore struct {
	*store.TxMemory
}

func (r *readBrokenStore) ListStockByDome(context.Context, colony.DomeID) ([]colony.StockRow, error) {
	return nil, errors.New("read replica down")
}

func TestTransfer_NoStoreReadsAfterCommit(t *testing.T) {
	// GIVEN: Direct stock reads fail but transactions work
	// WHEN: A transfer commits
	// THEN: It succeeds with stock snapshots taken inside the
	//       transaction. A committed mutation must never come back as a
	//       retryable error just because a follow-up read failed; a
	//       retry would double-apply it.

	broken := &readBrokenStore{TxMemory: newTestStore()}
	engine := colony.NewEngine(broken, nil)
	ctx := context.Background()

	_, err := engine.DirectSet(ctx, colony.StockUpsert{
		DomeID: domeAlpha, ResourceID: resWater, Quantity: qty(100),
	})
	require.NoError(t, err)

	result, err := engine.TransferResources(ctx, colony.TransferRequest{
		FromDomeID: domeAlpha, ToDomeID: domeBeta,
		ResourceID: resWater, Amount: qty(30),
	})
	require.NoError(t, err)

	require.Len(t, result.SourceStock, 1)
	assert.True(t, result.SourceStock[0].Quantity.Equal(qty(70)))
	require.Len(t, result.TargetStock, 1)
	assert.True(t, result.TargetStock[0].Quantity.Equal(qty(30)))
}

func TestInbound_NoStoreReadsAfterCommit(t *testing.T) {
	broken := &readBrokenStore{TxMemory: newTestStore()}
	engine := colony.NewEngine(broken, nil)

	result, err := engine.RecordInbound(context.Background(), colony.InboundRequest{
		DomeID: domeGamma,
		Items:  []colony.InboundItem{{ResourceID: resFood, Amount: qty(200)}},
	})
	require.NoError(t, err)

	require.Len(t, result.Stock, 1)
	assert.True(t, result.Stock[0].Quantity.Equal(qty(200)))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestTransfer_Concurrent_NeverOversells(t *testing.T) {
	// GIVEN: Alpha holds exactly 100 units of water
	// WHEN: 150 goroutines each try to transfer 1 unit to Beta
	// THEN: Exactly 100 succeed, the rest fail with insufficient stock,
	//       and no stock is created or destroyed

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	seedStock(t, engine, domeAlpha, resWater, 100)

	const attempts = 150
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.TransferResources(ctx, colony.TransferRequest{
				FromDomeID: domeAlpha, ToDomeID: domeBeta,
				ResourceID: resWater, Amount: qty(1),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, colony.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, succeeded)
	assert.Equal(t, 50, insufficient)
	assert.True(t, stockQty(t, engine, domeAlpha, resWater).IsZero())
	assert.True(t, stockQty(t, engine, domeBeta, resWater).Equal(qty(100)))
}

func TestTransfer_Concurrent_OpposingDirections_NoDeadlock(t *testing.T) {
	// Transfers in both directions between the same two domes exercise
	// the canonical lock ordering; without it this test deadlocks.
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	seedStock(t, engine, domeAlpha, resWater, 500)
	seedStock(t, engine, domeBeta, resWater, 500)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.TransferResources(ctx, colony.TransferRequest{
				FromDomeID: domeAlpha, ToDomeID: domeBeta,
				ResourceID: resWater, Amount: qty(1),
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := engine.TransferResources(ctx, colony.TransferRequest{
				FromDomeID: domeBeta, ToDomeID: domeAlpha,
				ResourceID: resWater, Amount: qty(1),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Equal traffic both ways, totals conserved.
	assert.True(t, stockQty(t, engine, domeAlpha, resWater).Equal(qty(500)))
	assert.True(t, stockQty(t, engine, domeBeta, resWater).Equal(qty(500)))
}

// =============================================================================
// THRESHOLD ALERTING
// =============================================================================

func TestThresholdBreach_FiresAfterCommit(t *testing.T) {
	// GIVEN: Water at Alpha has a min threshold of 50
	// WHEN: Consumption drops the quantity to the threshold
	// THEN: The notifier is invoked once with the breach details

	var (
		mu       sync.Mutex
		breaches []colony.ThresholdBreach
	)
	notifier := colony.NotifierFunc(func(b colony.ThresholdBreach) {
		mu.Lock()
		defer mu.Unlock()
		breaches = append(breaches, b)
	})

	m := newTestStore()
	engine := colony.NewEngine(m, notifier)
	ctx := context.Background()

	min := qty(50)
	_, err := engine.DirectSet(ctx, colony.StockUpsert{
		DomeID:       domeAlpha,
		ResourceID:   resWater,
		Quantity:     qty(80),
		MinThreshold: &min,
	})
	require.NoError(t, err)
	require.Empty(t, breaches, "80 is above the threshold")

	_, _, err = engine.RecordMovement(ctx, colony.MovementRequest{
		DomeID: domeAlpha, ResourceID: resWater,
		Kind: colony.MovementConsumption, Amount: qty(-30),
	})
	require.NoError(t, err)

	require.Len(t, breaches, 1)
	b := breaches[0]
	assert.Equal(t, domeAlpha, b.DomeID)
	assert.Equal(t, resWater, b.ResourceID)
	assert.Equal(t, colony.BreachBelowMin, b.Kind)
	assert.True(t, b.Quantity.Equal(qty(50)))
	assert.True(t, b.Threshold.Equal(qty(50)))
}

func TestThresholdBreach_NotFiredOnFailedOperation(t *testing.T) {
	var fired bool
	notifier := colony.NotifierFunc(func(colony.ThresholdBreach) { fired = true })

	flaky := &flakyStore{TxMemory: newTestStore(), failAppends: true}
	engine := colony.NewEngine(flaky, notifier)
	ctx := context.Background()

	min := qty(50)
	_, err := engine.DirectSet(ctx, colony.StockUpsert{
		DomeID: domeAlpha, ResourceID: resWater,
		Quantity: qty(60), MinThreshold: &min,
	})
	require.NoError(t, err)

	_, _, err = engine.RecordMovement(ctx, colony.MovementRequest{
		DomeID: domeAlpha, ResourceID: resWater,
		Kind: colony.MovementConsumption, Amount: qty(-20),
	})
	require.Error(t, err)
	assert.False(t, fired, "rolled-back operations must not alert")
}

func TestThresholdBreach_NotifierMayMutateSameKey(t *testing.T) {
	// GIVEN: A notifier that reacts to a breach by ordering a resupply
	//        of the breached (dome, resource)
	// WHEN: Consumption breaches the threshold
	// THEN: The resupply goes through. The engine releases its keyed
	//       locks before notifying, so a notifier touching the same key
	//       must not deadlock.

	m := newTestStore()
	var engine *colony.Engine
	notifier := colony.NotifierFunc(func(b colony.ThresholdBreach) {
		_, err := engine.RecordInbound(context.Background(), colony.InboundRequest{
			DomeID: b.DomeID,
			Items:  []colony.InboundItem{{ResourceID: b.ResourceID, Amount: qty(100)}},
		})
		require.NoError(t, err)
	})
	engine = colony.NewEngine(m, notifier)
	ctx := context.Background()

	min := qty(50)
	_, err := engine.DirectSet(ctx, colony.StockUpsert{
		DomeID: domeAlpha, ResourceID: resWater,
		Quantity: qty(80), MinThreshold: &min,
	})
	require.NoError(t, err)

	_, _, err = engine.RecordMovement(ctx, colony.MovementRequest{
		DomeID: domeAlpha, ResourceID: resWater,
		Kind: colony.MovementConsumption, Amount: qty(-40),
	})
	require.NoError(t, err)

	// 80 - 40 + 100 resupplied by the notifier.
	assert.True(t, stockQty(t, engine, domeAlpha, resWater).Equal(qty(140)))
}
