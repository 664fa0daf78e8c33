package consolidation

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
)

var (
	parentID = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	addOnID  = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	draftID  = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
	btlID    = uuid.MustParse("00000000-0000-0000-0000-000000000100")
	capID    = uuid.MustParse("00000000-0000-0000-0000-000000000200")
)

func line(id string, orderID uuid.UUID, pos int, product uuid.UUID, code string, mode pricing.SellMode, qty, bottles int, unit pricing.Money) orders.Line {
	return orders.Line{
		ID:          uuid.MustParse(id),
		OrderID:     orderID,
		Position:    pos,
		ProductID:   product,
		ProductCode: code,
		SellMode:    mode,
		Quantity:    qty,
		BottleQty:   bottles,
		UnitPrice:   unit,
		Subtotal:    unit.Times(qty),
	}
}

// parent $500 with one approved add-on of $150 and one draft add-on.
func scenario() (orders.Order, []orders.Order) {
	parent := orders.Order{
		ID:     parentID,
		Number: "SO-2026-000001",
		Status: orders.StatusInQueue,
		Lines: []orders.Line{
			line("00000000-0000-0000-0000-00000000a002", parentID, 2, capID, "CAP-20", pricing.SellModePiece, 50, 50, 100),
			line("00000000-0000-0000-0000-00000000a001", parentID, 1, btlID, "BTL-100", pricing.SellModeKit, 5, 60, 9000),
		},
	}
	pid := parentID
	addOn := orders.Order{
		ID:       addOnID,
		Number:   "SO-2026-000002",
		Status:   orders.StatusInQueue,
		ParentID: &pid,
		Lines: []orders.Line{
			line("00000000-0000-0000-0000-00000000b001", addOnID, 1, btlID, "BTL-100", pricing.SellModeKit, 1, 12, 15000),
		},
	}
	draft := orders.Order{
		ID:       draftID,
		Number:   "SO-2026-000003",
		Status:   orders.StatusDraft,
		ParentID: &pid,
		Lines: []orders.Line{
			line("00000000-0000-0000-0000-00000000c001", draftID, 1, capID, "CAP-20", pricing.SellModePiece, 10, 10, 100),
		},
	}
	return parent, []orders.Order{draft, addOn}
}

func TestConsolidateParentWithApprovedAddOn(t *testing.T) {
	parent, addOns := scenario()

	view, err := Consolidate(parent, addOns, nil)
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(65000), view.TotalValue)
	assert.Equal(t, 122, view.TotalBottles)
	assert.Equal(t, []uuid.UUID{parentID, addOnID}, view.OrderIDs)
	require.Len(t, view.Lines, 3)
	assert.Equal(t, parentID, view.Lines[0].SourceOrderID)
	assert.Equal(t, addOnID, view.Lines[2].SourceOrderID)
	assert.True(t, view.Lines[2].AddOn)
	for _, l := range view.Lines {
		assert.NotEqual(t, draftID, l.SourceOrderID)
	}

	require.Len(t, view.Groups, 2)
	assert.Equal(t, "BTL-100", view.Groups[0].ProductCode)
	assert.Equal(t, pricing.Money(60000), view.Groups[0].Subtotal)
	assert.Equal(t, []uuid.UUID{parentID, addOnID}, view.Groups[0].OrderIDs)

	raw, err := json.MarshalIndent(view, "", "  ")
	require.NoError(t, err)
	g := goldie.New(t)
	g.Assert(t, "consolidated_view", append(raw, '\n'))
}

func TestConsolidateRequiresFulfillmentPhase(t *testing.T) {
	parent, addOns := scenario()
	for _, status := range []orders.Status{orders.StatusDraft, orders.StatusQuoted, orders.StatusDepositDue, orders.StatusCancelled} {
		parent.Status = status
		_, err := Consolidate(parent, addOns, nil)
		require.ErrorIs(t, err, ErrNotFulfillmentPhase, status)
	}

	held := orders.StatusInProduction
	parent.Status = orders.StatusOnHoldInternal
	parent.PreHoldStatus = &held
	_, err := Consolidate(parent, addOns, nil)
	require.NoError(t, err)

	quoted := orders.StatusQuoted
	parent.PreHoldStatus = &quoted
	_, err = Consolidate(parent, addOns, nil)
	require.ErrorIs(t, err, ErrNotFulfillmentPhase)
}

func TestConsolidateIgnoresForeignAndUnapprovedAddOns(t *testing.T) {
	parent, addOns := scenario()
	other := uuid.New()
	addOns[1].ParentID = &other
	cancelled := addOns[0]
	cancelled.Status = orders.StatusCancelled

	view, err := Consolidate(parent, []orders.Order{addOns[1], cancelled}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{parentID}, view.OrderIDs)
	assert.Equal(t, pricing.Money(50000), view.TotalValue)
}

func TestConsolidateLooksThroughAddOnHold(t *testing.T) {
	parent, addOns := scenario()
	addOn := addOns[1]

	pending := orders.StatusAwaitingApproval
	addOn.Status = orders.StatusOnHoldCustomer
	addOn.PreHoldStatus = &pending
	view, err := Consolidate(parent, []orders.Order{addOn}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{parentID}, view.OrderIDs)
	assert.Equal(t, pricing.Money(50000), view.TotalValue)
	require.Len(t, view.Lines, 2)

	queued := orders.StatusInQueue
	addOn.PreHoldStatus = &queued
	view, err = Consolidate(parent, []orders.Order{addOn}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{parentID, addOnID}, view.OrderIDs)
	assert.Equal(t, pricing.Money(65000), view.TotalValue)
}
