package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wilsonhou/matchcore/internal/common"
)

// stubListener records every callback it receives, in order, for assertion.
type stubListener struct {
	placed    []string
	amended   []string
	cancelled []string
	filled    []string
}

func (s *stubListener) OnOrderPlaced(now float64, order *Order) {
	s.placed = append(s.placed, order.Side.String())
}
func (s *stubListener) OnOrderAmended(now float64, order *Order, volumeRemoved uint32) {
	s.amended = append(s.amended, order.Side.String())
}
func (s *stubListener) OnOrderCancelled(now float64, order *Order, volumeRemoved uint32) {
	s.cancelled = append(s.cancelled, order.Side.String())
}
func (s *stubListener) OnOrderFilled(now float64, order *Order, price uint32, volume uint32, fee int32) {
	s.filled = append(s.filled, order.Side.String())
}

type stubTrades struct {
	prices  []uint32
	volumes []uint32
}

func (s *stubTrades) OnTrade(instrument common.Instrument, price uint32, volume uint32) {
	s.prices = append(s.prices, price)
	s.volumes = append(s.volumes, volume)
}

const tickSize = 100

func TestSimpleMatch(t *testing.T) {
	trades := &stubTrades{}
	ob := New(common.ETF, trades, -0.0001, 0.0002)

	sellListener := &stubListener{}
	buyListener := &stubListener{}

	sell := NewOrder(1, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 10, sellListener)
	ob.Insert(1.0, sell)
	assert.Equal(t, []string{"SELL"}, sellListener.placed)

	buy := NewOrder(2, common.ETF, common.GoodForDay, common.Buy, 100*tickSize, 10, buyListener)
	ob.Insert(2.0, buy)

	assert.Equal(t, []string{"SELL"}, sellListener.filled)
	assert.Equal(t, []string{"BUY"}, buyListener.filled)
	assert.Equal(t, uint32(0), sell.RemainingVolume)
	assert.Equal(t, uint32(0), buy.RemainingVolume)
	assert.Equal(t, []uint32{100 * tickSize}, trades.prices)
	assert.Equal(t, []uint32{10}, trades.volumes)

	// Maker (resting sell) earns a negative fee (rebate); taker (aggressing
	// buy) pays a positive fee.
	assert.True(t, sell.TotalFees < 0)
	assert.True(t, buy.TotalFees > 0)
}

func TestPartialFillThenRest(t *testing.T) {
	ob := New(common.ETF, &stubTrades{}, 0, 0)

	buyListener := &stubListener{}
	buy := NewOrder(2, common.ETF, common.GoodForDay, common.Buy, 100*tickSize, 4, buyListener)
	ob.Insert(1.0, buy)

	// The sell aggresses, fills 4 against the resting buy and rests its
	// residual of 6.
	sellListener := &stubListener{}
	sell := NewOrder(1, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 10, sellListener)
	ob.Insert(2.0, sell)

	assert.Equal(t, uint32(6), sell.RemainingVolume)
	assert.Equal(t, uint32(0), buy.RemainingVolume)
	assert.Empty(t, sellListener.placed, "a partially filled resting order is not re-announced as placed")

	ask, ok := ob.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, uint32(100*tickSize), ask)

	top := ob.TopLevels()
	assert.Equal(t, uint32(100*tickSize), top.AskPrices[0])
	assert.Equal(t, uint32(6), top.AskVolumes[0])
}

func TestFillAndKillCancelsResidual(t *testing.T) {
	ob := New(common.ETF, &stubTrades{}, 0, 0)

	listener := &stubListener{}
	order := NewOrder(1, common.ETF, common.FillAndKill, common.Buy, 100*tickSize, 10, listener)
	ob.Insert(1.0, order)

	assert.Equal(t, []string{"BUY"}, listener.cancelled)
	_, ok := ob.BestBid()
	assert.False(t, ok, "a fill-and-kill residual must never rest in the book")
}

func TestAmendBelowFilledVolumeClampsToFilled(t *testing.T) {
	ob := New(common.ETF, &stubTrades{}, 0, 0)

	restingListener := &stubListener{}
	resting := NewOrder(1, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 10, restingListener)
	ob.Insert(1.0, resting)

	aggressor := NewOrder(2, common.ETF, common.GoodForDay, common.Buy, 100*tickSize, 4, &stubListener{})
	ob.Insert(2.0, aggressor)
	assert.Equal(t, uint32(6), resting.RemainingVolume)

	// Amending to a volume at or below what has already filled should drive
	// the remaining volume to zero, not go negative.
	ob.Amend(3.0, resting, 2)
	assert.Equal(t, uint32(0), resting.RemainingVolume)
	assert.Equal(t, uint32(4), resting.Volume)
}

func TestAmendReducesRestingVolume(t *testing.T) {
	ob := New(common.ETF, &stubTrades{}, 0, 0)

	listener := &stubListener{}
	order := NewOrder(1, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 10, listener)
	ob.Insert(1.0, order)

	ob.Amend(2.0, order, 6)
	assert.Equal(t, uint32(6), order.RemainingVolume)
	assert.Equal(t, []string{"SELL"}, listener.amended)

	top := ob.TopLevels()
	assert.Equal(t, uint32(6), top.AskVolumes[0])
}

func TestCancelRemovesLevelWhenEmpty(t *testing.T) {
	ob := New(common.ETF, &stubTrades{}, 0, 0)

	order := NewOrder(1, common.ETF, common.GoodForDay, common.Buy, 100*tickSize, 10, &stubListener{})
	ob.Insert(1.0, order)
	ob.Cancel(2.0, order)

	_, ok := ob.BestBid()
	assert.False(t, ok)
}

func TestMidpointPrice(t *testing.T) {
	ob := New(common.Future, &stubTrades{}, 0, 0)
	ob.Insert(1.0, NewOrder(1, common.Future, common.GoodForDay, common.Buy, 99*tickSize, 5, &stubListener{}))
	ob.Insert(2.0, NewOrder(2, common.Future, common.GoodForDay, common.Sell, 101*tickSize, 5, &stubListener{}))

	assert.Equal(t, uint32(100*tickSize), ob.MidpointPrice())
}

func TestPriceTimePriority(t *testing.T) {
	ob := New(common.ETF, &stubTrades{}, 0, 0)

	first := NewOrder(1, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 5, &stubListener{})
	second := NewOrder(2, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 5, &stubListener{})
	ob.Insert(1.0, first)
	ob.Insert(2.0, second)

	buy := NewOrder(3, common.ETF, common.GoodForDay, common.Buy, 100*tickSize, 5, &stubListener{})
	ob.Insert(3.0, buy)

	assert.Equal(t, uint32(0), first.RemainingVolume, "the earlier-resting order at the same price fills first")
	assert.Equal(t, uint32(5), second.RemainingVolume)
}
