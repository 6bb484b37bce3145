// Package account tracks a single competitor's cash, positions, fees and
// mark-to-market P&L.
package account

import (
	"math"

	"github.com/wilsonhou/matchcore/internal/common"
)

// Account holds a competitor's balance, positions and running statistics.
// All monetary fields are integer cents.
type Account struct {
	Balance       int64
	BuyVolume     uint64
	SellVolume    uint64
	EtfClamp      float64
	EtfPosition   int64
	FuturePosition int64
	MaxDrawdown   int64
	MaxProfit     int64
	ProfitOrLoss  int64
	TickSize      uint32
	TotalFees     int64
}

// New constructs an account for the given tick size (cents) and ETF
// valuation clamp fraction.
func New(tickSize uint32, etfClamp float64) *Account {
	return &Account{TickSize: tickSize, EtfClamp: etfClamp}
}

// Transact updates the account for a single fill of volume at price in the
// given instrument/side, charging fee (which may be negative, i.e. a maker
// rebate).
func (a *Account) Transact(instrument common.Instrument, side common.Side, price uint32, volume uint32, fee int32) {
	value := int64(price) * int64(volume)
	if side == common.Sell {
		a.Balance += value
	} else {
		a.Balance -= value
	}

	a.Balance -= int64(fee)
	a.TotalFees += int64(fee)

	if instrument == common.Future {
		if side == common.Sell {
			a.FuturePosition -= int64(volume)
		} else {
			a.FuturePosition += int64(volume)
		}
		return
	}

	if side == common.Sell {
		a.SellVolume += uint64(volume)
		a.EtfPosition -= int64(volume)
	} else {
		a.BuyVolume += uint64(volume)
		a.EtfPosition += int64(volume)
	}
}

// MarkToMarket values the account's positions at futurePrice/etfPrice,
// clamping the ETF valuation to within +/-delta of the FUTURE price where
// delta = round(EtfClamp * futurePrice) rounded down to the nearest tick.
// This is idempotent when called again with the same prices.
func (a *Account) MarkToMarket(futurePrice, etfPrice uint32) {
	delta := int64(math.RoundToEven(a.EtfClamp * float64(futurePrice)))
	if a.TickSize > 0 {
		delta -= delta % int64(a.TickSize)
	}

	minPrice := int64(futurePrice) - delta
	maxPrice := int64(futurePrice) + delta

	clamped := int64(etfPrice)
	if clamped < minPrice {
		clamped = minPrice
	} else if clamped > maxPrice {
		clamped = maxPrice
	}

	a.ProfitOrLoss = a.Balance + a.FuturePosition*int64(futurePrice) + a.EtfPosition*clamped

	if a.ProfitOrLoss > a.MaxProfit {
		a.MaxProfit = a.ProfitOrLoss
	}
	if drawdown := a.MaxProfit - a.ProfitOrLoss; drawdown > a.MaxDrawdown {
		a.MaxDrawdown = drawdown
	}
}
