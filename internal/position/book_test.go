package position

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// TestApplyFill_WeightedAverage tests average cost across two buys
func TestApplyFill_WeightedAverage(t *testing.T) {
	b := NewBook(100000)

	_, err := b.ApplyFill("NIFTY", types.SideBuy, 50, 100)
	require.NoError(t, err)
	_, err = b.ApplyFill("NIFTY", types.SideBuy, 50, 110)
	require.NoError(t, err)

	p, ok := b.Get("NIFTY")
	require.True(t, ok)
	assert.Equal(t, 100.0, p.Quantity)
	assert.InDelta(t, 105.0, p.AvgPrice, 1e-9)
	assert.Zero(t, p.RealizedPnL)
}

// TestApplyFill_CloseLongRealizes tests that closing resets the average
func TestApplyFill_CloseLongRealizes(t *testing.T) {
	b := NewBook(100000)

	_, err := b.ApplyFill("NIFTY", types.SideBuy, 50, 100)
	require.NoError(t, err)
	res, err := b.ApplyFill("NIFTY", types.SideSell, 50, 110)
	require.NoError(t, err)

	assert.InDelta(t, 500.0, res.Realized, 1e-9)
	assert.Equal(t, 50.0, res.ClosedQuantity)
	assert.Zero(t, res.Position.Quantity)
	assert.Zero(t, res.Position.AvgPrice)
	assert.InDelta(t, 500.0, b.RealizedPnL(), 1e-9)
}

func TestApplyFill_PartialCloseKeepsAverage(t *testing.T) {
	b := NewBook(0)

	_, _ = b.ApplyFill("BANKNIFTY", types.SideBuy, 100, 200)
	res, err := b.ApplyFill("BANKNIFTY", types.SideSell, 40, 190)
	require.NoError(t, err)

	assert.InDelta(t, -400.0, res.Realized, 1e-9)
	assert.Equal(t, 60.0, res.Position.Quantity)
	assert.Equal(t, 200.0, res.Position.AvgPrice)
}

// TestApplyFill_FlipLongToShort tests crossing zero on a sell
func TestApplyFill_FlipLongToShort(t *testing.T) {
	b := NewBook(0)

	_, _ = b.ApplyFill("NIFTY", types.SideBuy, 50, 100)
	res, err := b.ApplyFill("NIFTY", types.SideSell, 80, 120)
	require.NoError(t, err)

	assert.InDelta(t, 1000.0, res.Realized, 1e-9)
	assert.Equal(t, -30.0, res.Position.Quantity)
	assert.Equal(t, 120.0, res.Position.AvgPrice)
}

// TestApplyFill_ShortSide tests the mirrored short accounting
func TestApplyFill_ShortSide(t *testing.T) {
	b := NewBook(0)

	_, _ = b.ApplyFill("NIFTY", types.SideSell, 10, 100)
	_, _ = b.ApplyFill("NIFTY", types.SideSell, 10, 90)
	p, _ := b.Get("NIFTY")
	assert.Equal(t, -20.0, p.Quantity)
	assert.InDelta(t, 95.0, p.AvgPrice, 1e-9)

	res, err := b.ApplyFill("NIFTY", types.SideBuy, 20, 85)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, res.Realized, 1e-9)
	assert.Zero(t, res.Position.Quantity)
	assert.Zero(t, res.Position.AvgPrice)

	// buy through a short flips to long at the fill price
	_, _ = b.ApplyFill("NIFTY", types.SideSell, 5, 100)
	res, err = b.ApplyFill("NIFTY", types.SideBuy, 8, 110)
	require.NoError(t, err)
	assert.InDelta(t, -50.0, res.Realized, 1e-9)
	assert.Equal(t, 3.0, res.Position.Quantity)
	assert.Equal(t, 110.0, res.Position.AvgPrice)
}

// TestApplyFill_InvalidInputIsFatal tests that bad fills leave state unchanged
func TestApplyFill_InvalidInputIsFatal(t *testing.T) {
	b := NewBook(1000)
	_, _ = b.ApplyFill("NIFTY", types.SideBuy, 1, 100)

	cases := []struct {
		name       string
		instrument string
		qty, price float64
	}{
		{"zero qty", "NIFTY", 0, 100},
		{"negative qty", "NIFTY", -1, 100},
		{"zero price", "NIFTY", 1, 0},
		{"no instrument", "", 1, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.ApplyFill(tc.instrument, types.SideBuy, tc.qty, tc.price)
			require.Error(t, err)
			assert.True(t, errors.Is(err, engerrors.ErrFatal))

			p, _ := b.Get("NIFTY")
			assert.Equal(t, 1.0, p.Quantity)
			assert.Equal(t, 100.0, p.AvgPrice)
		})
	}
}

// TestEquity_IncludesUnrealized tests equity after marking
func TestEquity_IncludesUnrealized(t *testing.T) {
	b := NewBook(100000)

	_, _ = b.ApplyFill("NIFTY", types.SideBuy, 10, 100)
	_, _ = b.ApplyFill("BANKNIFTY", types.SideSell, 5, 200)
	b.Mark("NIFTY", 105)
	b.Mark("BANKNIFTY", 210)

	assert.InDelta(t, 50.0, b.Unrealized("NIFTY"), 1e-9)
	assert.InDelta(t, -50.0, b.Unrealized("BANKNIFTY"), 1e-9)
	assert.InDelta(t, 100000.0, b.Equity(), 1e-9)
	assert.InDelta(t, 10*105.0+5*210.0, b.NotionalExposure(), 1e-9)
}

func TestPositions_SnapshotIsCopy(t *testing.T) {
	b := NewBook(0)
	_, _ = b.ApplyFill("B", types.SideBuy, 1, 10)
	_, _ = b.ApplyFill("A", types.SideBuy, 1, 10)
	b.Mark("C", 5)

	snap := b.Positions()
	require.Len(t, snap, 3)
	assert.Equal(t, "A", snap[0].Instrument)
	snap[0].Quantity = 99

	assert.Equal(t, 1.0, b.Quantity("A"))
	assert.Len(t, b.OpenPositions(), 2)
}

func TestSync_PreservesRealized(t *testing.T) {
	b := NewBook(0)
	_, _ = b.ApplyFill("NIFTY", types.SideBuy, 10, 100)
	_, _ = b.ApplyFill("NIFTY", types.SideSell, 10, 110)

	b.Sync([]Position{{Instrument: "NIFTY", Quantity: 5, AvgPrice: 120}})

	p, _ := b.Get("NIFTY")
	assert.Equal(t, 5.0, p.Quantity)
	assert.Equal(t, 120.0, p.AvgPrice)
	assert.InDelta(t, 100.0, p.RealizedPnL, 1e-9)
}
