// Package book implements the price-time-priority limit order book: the
// core, correctness-critical matching engine for a single instrument.
package book

import (
	"math"

	"github.com/tidwall/btree"
	"github.com/wilsonhou/matchcore/internal/common"
)

// TopLevels is the up-to-five-deep snapshot of resting volume per side sent
// on the information channel.
type TopLevels struct {
	AskPrices  [common.TopLevelCount]uint32
	AskVolumes [common.TopLevelCount]uint32
	BidPrices  [common.TopLevelCount]uint32
	BidVolumes [common.TopLevelCount]uint32
}

// OrderBook is a price-time-priority matching engine for one instrument.
// Bids are kept ordered highest-price-first and asks lowest-price-first so
// that the best price on either side is always the tree's Min element
// (mirroring the teacher's bids/asks btree.BTreeG[*Level] convention).
type OrderBook struct {
	instrument common.Instrument
	bids       *btree.BTreeG[*Level]
	asks       *btree.BTreeG[*Level]
	listener   TradeListener
	makerFee   float64
	takerFee   float64

	lastTradedPrice uint32
	hasTraded       bool
}

// New constructs an empty order book for instrument, notifying listener of
// every trade and charging makerFee/takerFee (fractions, may be negative).
func New(instrument common.Instrument, listener TradeListener, makerFee, takerFee float64) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		bids:       btree.NewBTreeG(func(a, b *Level) bool { return a.Price > b.Price }),
		asks:       btree.NewBTreeG(func(a, b *Level) bool { return a.Price < b.Price }),
		listener:   listener,
		makerFee:   makerFee,
		takerFee:   takerFee,
	}
}

// BestBid returns the current best bid price, or false if the bid side is
// empty.
func (b *OrderBook) BestBid() (uint32, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// BestAsk returns the current best ask price, or false if the ask side is
// empty.
func (b *OrderBook) BestAsk() (uint32, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// MidpointPrice returns round((bid+ask)/2). When one side is empty it
// falls back to the other side's best price, and when both are empty it
// falls back to the last traded price, so a hedge against a thin book
// always has a price to transact at.
func (b *OrderBook) MidpointPrice() uint32 {
	bid, bidOK := b.BestBid()
	ask, askOK := b.BestAsk()

	switch {
	case bidOK && askOK:
		return uint32(math.Round((float64(bid) + float64(ask)) / 2.0))
	case bidOK:
		return bid
	case askOK:
		return ask
	default:
		return b.lastTradedPrice
	}
}

// LastTradedPrice returns the most recent trade price on this book.
func (b *OrderBook) LastTradedPrice() (uint32, bool) {
	return b.lastTradedPrice, b.hasTraded
}

// Insert adds a new order to the book, matching it against the opposite
// side first if it crosses.
func (b *OrderBook) Insert(now float64, order *Order) {
	if order.Side == common.Sell {
		if bid, ok := b.BestBid(); ok && order.Price <= bid {
			b.tradeAsk(now, order)
		}
	} else {
		if ask, ok := b.BestAsk(); ok && order.Price >= ask {
			b.tradeBid(now, order)
		}
	}

	if order.RemainingVolume > 0 {
		if order.Lifespan == common.FillAndKill {
			remaining := order.RemainingVolume
			order.RemainingVolume = 0
			if order.Listener != nil {
				order.Listener.OnOrderCancelled(now, order, remaining)
			}
		} else {
			b.place(now, order)
		}
	}
}

// place rests an order that did not fully match.
func (b *OrderBook) place(now float64, order *Order) {
	levels := b.bids
	if order.Side == common.Sell {
		levels = b.asks
	}

	lvl, ok := levels.Get(&Level{Price: order.Price})
	if !ok {
		lvl = newLevel(order.Price)
		levels.Set(lvl)
	}
	lvl.Orders = append(lvl.Orders, order)
	lvl.TotalVolume += order.RemainingVolume

	// A partial-fill residual that rests is not re-announced as placed;
	// the preceding fill callback already told the listener.
	if order.Volume == order.RemainingVolume && order.Listener != nil {
		order.Listener.OnOrderPlaced(now, order)
	}
}

// Amend decreases an order's volume. Amending to a size at or below the
// already-filled volume drives remaining to zero without synthesizing a
// cancel.
func (b *OrderBook) Amend(now float64, order *Order, newVolume uint32) {
	if order.RemainingVolume == 0 {
		return
	}

	fillVolume := order.Volume - order.RemainingVolume
	floor := newVolume
	if fillVolume > floor {
		floor = fillVolume
	}
	diff := order.Volume - floor

	b.removeVolumeFromLevel(order.Price, diff, order.Side)
	order.Volume -= diff
	order.RemainingVolume -= diff
	if order.Listener != nil {
		order.Listener.OnOrderAmended(now, order, diff)
	}
}

// Cancel removes an order's remaining volume from the book.
func (b *OrderBook) Cancel(now float64, order *Order) {
	if order.RemainingVolume == 0 {
		return
	}

	b.removeVolumeFromLevel(order.Price, order.RemainingVolume, order.Side)
	remaining := order.RemainingVolume
	order.RemainingVolume = 0
	if order.Listener != nil {
		order.Listener.OnOrderCancelled(now, order, remaining)
	}
}

// removeVolumeFromLevel decrements a level's total volume by volume,
// deleting the level (and its price from the tree) if it reaches zero.
func (b *OrderBook) removeVolumeFromLevel(price uint32, volume uint32, side common.Side) {
	levels := b.bids
	if side == common.Sell {
		levels = b.asks
	}

	lvl, ok := levels.Get(&Level{Price: price})
	if !ok {
		return
	}
	if lvl.TotalVolume == volume {
		levels.Delete(lvl)
	} else {
		lvl.TotalVolume -= volume
	}
}

// tradeAsk matches an incoming SELL order against resting bids.
func (b *OrderBook) tradeAsk(now float64, order *Order) {
	for order.RemainingVolume > 0 {
		lvl, ok := b.bids.Min()
		if !ok || lvl.Price < order.Price || lvl.TotalVolume == 0 {
			return
		}
		b.tradeLevel(now, order, lvl, lvl.Price)
		if lvl.TotalVolume == 0 {
			b.bids.Delete(lvl)
		}
	}
}

// tradeBid matches an incoming BUY order against resting asks.
func (b *OrderBook) tradeBid(now float64, order *Order) {
	for order.RemainingVolume > 0 {
		lvl, ok := b.asks.Min()
		if !ok || lvl.Price > order.Price || lvl.TotalVolume == 0 {
			return
		}
		b.tradeLevel(now, order, lvl, lvl.Price)
		if lvl.TotalVolume == 0 {
			b.asks.Delete(lvl)
		}
	}
}

// tradeLevel consumes passive orders at a single price level in FIFO order
// until either the aggressor or the level is exhausted, then fires the
// per-level aggressor fill and trade-listener callbacks once.
func (b *OrderBook) tradeLevel(now float64, order *Order, lvl *Level, bestPrice uint32) {
	remaining := order.RemainingVolume
	totalVolume := lvl.TotalVolume

	for remaining > 0 && totalVolume > 0 {
		passive := lvl.front()
		volume := remaining
		if passive.RemainingVolume < volume {
			volume = passive.RemainingVolume
		}

		fee := roundFee(bestPrice, volume, b.makerFee)
		totalVolume -= volume
		remaining -= volume
		passive.RemainingVolume -= volume
		passive.TotalFees += fee
		if passive.Listener != nil {
			passive.Listener.OnOrderFilled(now, passive, bestPrice, volume, fee)
		}
	}

	lvl.TotalVolume = totalVolume
	tradedAtThisLevel := order.RemainingVolume - remaining

	fee := roundFee(bestPrice, tradedAtThisLevel, b.takerFee)
	order.RemainingVolume = remaining
	order.TotalFees += fee
	if order.Listener != nil {
		order.Listener.OnOrderFilled(now, order, bestPrice, tradedAtThisLevel, fee)
	}

	b.lastTradedPrice = bestPrice
	b.hasTraded = true
	if b.listener != nil {
		b.listener.OnTrade(b.instrument, bestPrice, tradedAtThisLevel)
	}
}

// roundFee applies the fee rate to price*volume with standard
// round-half-to-even rounding, preserving (intentionally) the possibility
// of tiny negative maker rebates.
func roundFee(price uint32, volume uint32, rate float64) int32 {
	return int32(math.RoundToEven(float64(price) * float64(volume) * rate))
}

// TopLevels returns up to five best price/volume pairs per side, padded
// with zeros.
func (b *OrderBook) TopLevels() TopLevels {
	var result TopLevels

	i := 0
	b.asks.Scan(func(lvl *Level) bool {
		if i >= common.TopLevelCount {
			return false
		}
		result.AskPrices[i] = lvl.Price
		result.AskVolumes[i] = lvl.TotalVolume
		i++
		return true
	})

	i = 0
	b.bids.Scan(func(lvl *Level) bool {
		if i >= common.TopLevelCount {
			return false
		}
		result.BidPrices[i] = lvl.Price
		result.BidVolumes[i] = lvl.TotalVolume
		i++
		return true
	})

	return result
}
