package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wilsonhou/matchcore/internal/common"
)

func TestTransactUpdatesBalanceAndPosition(t *testing.T) {
	a := New(100, 0.1)

	a.Transact(common.ETF, common.Buy, 10000, 5, 2)
	assert.Equal(t, int64(-50002), a.Balance) // pay 5*10000 plus the 2-cent fee
	assert.Equal(t, int64(5), a.EtfPosition)
	assert.Equal(t, uint64(5), a.BuyVolume)

	a.Transact(common.ETF, common.Sell, 10100, 5, -1) // maker rebate, fee is negative
	assert.Equal(t, int64(0), a.EtfPosition)
	assert.Equal(t, uint64(5), a.SellVolume)
}

func TestTransactFuturePositionIndependentOfEtf(t *testing.T) {
	a := New(100, 0.1)
	a.Transact(common.Future, common.Buy, 10000, 3, 0)
	assert.Equal(t, int64(3), a.FuturePosition)
	assert.Equal(t, int64(0), a.EtfPosition)
}

func TestMarkToMarketClampsEtfValuationAroundFuturePrice(t *testing.T) {
	a := New(100, 0.1)
	a.EtfPosition = 10

	// future_price=10000, clamp=0.1 -> raw delta=1000, floored to a 100-cent
	// tick it is already a multiple of, so delta stays 1000.
	a.MarkToMarket(10000, 20000)
	expectedClampedValue := int64(10) * int64(10000+1000)
	assert.Equal(t, expectedClampedValue, a.ProfitOrLoss)
}

func TestMarkToMarketWithinClampUsesActualPrice(t *testing.T) {
	a := New(100, 0.5)
	a.EtfPosition = 4

	a.MarkToMarket(10000, 10100)
	assert.Equal(t, int64(4*10100), a.ProfitOrLoss)
}

func TestMaxDrawdownTracksPeakToTroughDecline(t *testing.T) {
	a := New(100, 1.0)
	a.EtfPosition = 1

	a.MarkToMarket(10000, 10000)
	peak := a.ProfitOrLoss

	a.Balance -= 500
	a.MarkToMarket(10000, 10000)

	assert.Equal(t, peak, a.MaxProfit)
	assert.Equal(t, int64(500), a.MaxDrawdown)
}
