// Package competitor implements the per-connection state machine that turns
// inbound order instructions into order-book operations, enforces the
// per-competitor risk limits, and drives the ETF-fill auto-hedge.
package competitor

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/account"
	"github.com/wilsonhou/matchcore/internal/book"
	"github.com/wilsonhou/matchcore/internal/common"
)

// ExecutionChannel is the outbound half of a competitor's TCP session.
type ExecutionChannel interface {
	SendOrderStatus(clientOrderID uint32, fillVolume, remainingVolume uint32, fees int32)
	SendPositionChange(futurePosition, etfPosition int64)
	SendError(clientOrderID uint32, message string)
	Close()
}

// MatchEventRecorder is the subset of *matchevents.Recorder a competitor
// drives; declared as an interface here so this package does not import the
// concrete writer.
type MatchEventRecorder interface {
	Insert(now float64, name string, acct *account.Account, order *book.Order, futurePrice, etfPrice uint32)
	Amend(now float64, name string, acct *account.Account, order *book.Order, volumeDelta int32, futurePrice, etfPrice uint32)
	Cancel(now float64, name string, acct *account.Account, order *book.Order, volumeDelta int32, futurePrice, etfPrice uint32)
	Fill(now float64, name string, acct *account.Account, order *book.Order, price uint32, volumeDelta int32, fee int32, futurePrice uint32)
	Hedge(now float64, name string, acct *account.Account, side common.Side, price uint32, volume int32, futurePrice, etfPrice uint32)
	Tick(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32)
	Breach(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32)
	Disconnect(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32)
}

// Competitor is one connected auto-trader: its account, its resting ETF
// orders, and the risk limits it must respect.
type Competitor struct {
	Name string

	Account     *account.Account
	FutureBook  *book.OrderBook
	EtfBook     *book.OrderBook
	ExecChannel ExecutionChannel
	MatchEvents MatchEventRecorder

	ActiveVolume      uint32
	ActiveVolumeLimit uint32
	OrderCountLimit   int
	PositionLimit     int64
	TickSize          uint32

	lastClientOrderID int64
	orders            map[uint32]*book.Order
	buyPrices         []uint32 // ascending
	sellPrices        []uint32 // ascending
}

// New constructs a competitor bound to the two shared order books and its
// own account.
func New(name string, futureBook, etfBook *book.OrderBook, acct *account.Account, exec ExecutionChannel,
	events MatchEventRecorder, positionLimit int64, orderCountLimit int, activeVolumeLimit uint32, tickSize uint32) *Competitor {
	return &Competitor{
		Name:              name,
		Account:           acct,
		FutureBook:        futureBook,
		EtfBook:           etfBook,
		ExecChannel:       exec,
		MatchEvents:       events,
		ActiveVolumeLimit: activeVolumeLimit,
		OrderCountLimit:   orderCountLimit,
		PositionLimit:     positionLimit,
		TickSize:          tickSize,
		lastClientOrderID: -1,
		orders:            make(map[uint32]*book.Order),
	}
}

func lastTraded(b *book.OrderBook) uint32 {
	p, _ := b.LastTradedPrice()
	return p
}

// HardBreach sends an error to the competitor, records a breach event, and
// closes its execution channel.
func (c *Competitor) HardBreach(now float64, clientOrderID uint32, message string) {
	c.sendErrorAndClose(now, clientOrderID, message)
	c.MatchEvents.Breach(now, c.Name, c.Account, lastTraded(c.FutureBook), lastTraded(c.EtfBook))
}

// OnConnectionLost cancels every resting order and records a disconnect
// event.
func (c *Competitor) OnConnectionLost(now float64) {
	c.ExecChannel = nil
	c.MatchEvents.Disconnect(now, c.Name, c.Account, lastTraded(c.FutureBook), lastTraded(c.EtfBook))

	orders := make([]*book.Order, 0, len(c.orders))
	for _, o := range c.orders {
		orders = append(orders, o)
	}
	for _, o := range orders {
		c.EtfBook.Cancel(now, o)
	}
}

// OnOrderAmended implements book.OrderListener.
func (c *Competitor) OnOrderAmended(now float64, order *book.Order, volumeRemoved uint32) {
	if c.ExecChannel != nil {
		c.ExecChannel.SendOrderStatus(order.ClientOrderID, order.Volume-order.RemainingVolume, order.RemainingVolume, order.TotalFees)
	}
	c.MatchEvents.Amend(now, c.Name, c.Account, order, -int32(volumeRemoved), lastTraded(c.FutureBook), lastTraded(c.EtfBook))

	c.ActiveVolume -= volumeRemoved

	if order.RemainingVolume == 0 {
		c.forgetOrder(order)
	}
}

// OnOrderCancelled implements book.OrderListener.
func (c *Competitor) OnOrderCancelled(now float64, order *book.Order, volumeRemoved uint32) {
	if c.ExecChannel != nil {
		c.ExecChannel.SendOrderStatus(order.ClientOrderID, order.Volume-volumeRemoved, order.RemainingVolume, order.TotalFees)
	}
	c.MatchEvents.Cancel(now, c.Name, c.Account, order, -int32(volumeRemoved), lastTraded(c.FutureBook), lastTraded(c.EtfBook))

	c.ActiveVolume -= volumeRemoved
	c.forgetOrder(order)
}

// OnOrderPlaced implements book.OrderListener.
func (c *Competitor) OnOrderPlaced(now float64, order *book.Order) {
	if order.Volume == order.RemainingVolume && c.ExecChannel != nil {
		c.ExecChannel.SendOrderStatus(order.ClientOrderID, 0, order.RemainingVolume, order.TotalFees)
	}
}

// OnOrderFilled implements book.OrderListener: records the ETF trade, then
// performs the automatic FUTURE hedge at the FUTURE book's midpoint.
func (c *Competitor) OnOrderFilled(now float64, order *book.Order, price uint32, volume uint32, fee int32) {
	c.ActiveVolume -= volume

	if order.RemainingVolume == 0 {
		c.forgetOrder(order)
	}

	last := lastTraded(c.FutureBook)
	c.Account.Transact(common.ETF, order.Side, price, volume, fee)
	c.Account.MarkToMarket(last, price)
	c.MatchEvents.Fill(now, c.Name, c.Account, order, price, -int32(volume), fee, last)

	midpoint := c.FutureBook.MidpointPrice()
	hedgeSide := order.Side.Opposite()
	c.Account.Transact(common.Future, hedgeSide, midpoint, volume, 0)
	c.Account.MarkToMarket(last, price)
	c.MatchEvents.Hedge(now, c.Name, c.Account, hedgeSide, midpoint, int32(volume), last, price)

	if c.ExecChannel != nil {
		c.ExecChannel.SendOrderStatus(order.ClientOrderID, order.Volume-order.RemainingVolume, order.RemainingVolume, order.TotalFees)
		c.ExecChannel.SendPositionChange(c.Account.FuturePosition, c.Account.EtfPosition)
		if abs64(c.Account.EtfPosition) > c.PositionLimit {
			c.HardBreach(now, order.ClientOrderID, "position limit breached")
		}
	}
}

func (c *Competitor) forgetOrder(order *book.Order) {
	delete(c.orders, order.ClientOrderID)
	if order.Side == common.Buy {
		c.buyPrices = removeOne(c.buyPrices, order.Price)
	} else {
		c.sellPrices = removeOne(c.sellPrices, order.Price)
	}
}

func removeOne(sorted []uint32, value uint32) []uint32 {
	i := indexOf(sorted, value)
	if i < 0 {
		return sorted
	}
	return append(sorted[:i], sorted[i+1:]...)
}

func indexOf(sorted []uint32, value uint32) int {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= value })
	if i < len(sorted) && sorted[i] == value {
		return i
	}
	return -1
}

func insertSorted(sorted []uint32, value uint32) []uint32 {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= value })
	sorted = append(sorted, 0)
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = value
	return sorted
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// OnAmendMessage handles an inbound amend instruction.
func (c *Competitor) OnAmendMessage(now float64, clientOrderID uint32, volume uint32) {
	if int64(clientOrderID) > c.lastClientOrderID {
		c.sendError(now, clientOrderID, "out-of-order client_order_id in amend message")
		return
	}

	order, ok := c.orders[clientOrderID]
	if !ok {
		return
	}
	if volume > order.Volume {
		c.sendError(now, clientOrderID, "amend operation would increase order volume")
		return
	}
	c.EtfBook.Amend(now, order, volume)
}

// OnCancelMessage handles an inbound cancel instruction.
func (c *Competitor) OnCancelMessage(now float64, clientOrderID uint32) {
	if int64(clientOrderID) > c.lastClientOrderID {
		c.sendError(now, clientOrderID, "out-of-order client_order_id in cancel message")
		return
	}

	order, ok := c.orders[clientOrderID]
	if !ok {
		return
	}
	c.EtfBook.Cancel(now, order)
}

// OnInsertMessage handles an inbound insert instruction, validating it
// against every risk limit in the fixed order the reference exchange uses
// before it ever touches the order book.
func (c *Competitor) OnInsertMessage(now float64, clientOrderID uint32, side common.Side, price uint32, volume uint32, lifespan common.Lifespan) {
	if int64(clientOrderID) <= c.lastClientOrderID {
		c.sendError(now, clientOrderID, "duplicate or out-of-order client_order_id")
		return
	}
	c.lastClientOrderID = int64(clientOrderID)

	if !side.Valid() {
		c.sendError(now, clientOrderID, fmt.Sprintf("%d is not a valid side", side))
		return
	}
	if !lifespan.Valid() {
		c.sendError(now, clientOrderID, fmt.Sprintf("%d is not a valid lifespan", lifespan))
		return
	}
	if c.TickSize > 0 && price%c.TickSize != 0 {
		c.sendError(now, clientOrderID, "price is not a multiple of tick size")
		return
	}
	if len(c.orders) == c.OrderCountLimit {
		c.sendError(now, clientOrderID, "order rejected: active order count limit breached")
		return
	}
	if volume < 1 {
		c.sendError(now, clientOrderID, "order rejected: invalid volume")
		return
	}
	if c.ActiveVolume+volume > c.ActiveVolumeLimit {
		c.sendError(now, clientOrderID, "order rejected: active order volume limit breached")
		return
	}
	if now == 0.0 {
		c.sendError(now, clientOrderID, "order rejected: market not yet open")
		return
	}

	crossesSell := side == common.Buy && len(c.sellPrices) > 0 && price >= c.sellPrices[0]
	crossesBuy := side == common.Sell && len(c.buyPrices) > 0 && price <= c.buyPrices[len(c.buyPrices)-1]
	if crossesSell || crossesBuy {
		c.sendError(now, clientOrderID, "order rejected: in cross with an existing order")
		return
	}

	order := book.NewOrder(clientOrderID, common.ETF, lifespan, side, price, volume, c)
	c.orders[clientOrderID] = order
	if side == common.Buy {
		c.buyPrices = insertSorted(c.buyPrices, price)
	} else {
		c.sellPrices = insertSorted(c.sellPrices, price)
	}

	c.MatchEvents.Insert(now, c.Name, c.Account, order, lastTraded(c.FutureBook), lastTraded(c.EtfBook))
	c.ActiveVolume += volume
	c.EtfBook.Insert(now, order)
}

// OnTimerTick re-marks the account to market and records a tick event.
func (c *Competitor) OnTimerTick(now float64, futurePrice, etfPrice uint32) {
	c.Account.MarkToMarket(futurePrice, etfPrice)
	c.MatchEvents.Tick(now, c.Name, c.Account, futurePrice, etfPrice)
}

func (c *Competitor) sendError(now float64, clientOrderID uint32, message string) {
	c.ExecChannel.SendError(clientOrderID, message)
	log.Info().Str("competitor", c.Name).Float64("time", now).Uint32("client_order_id", clientOrderID).
		Str("message", message).Msg("sent error message")
}

func (c *Competitor) sendErrorAndClose(now float64, clientOrderID uint32, message string) {
	c.sendError(now, clientOrderID, message)
	log.Info().Str("competitor", c.Name).Float64("time", now).Msg("closing execution channel")
	c.ExecChannel.Close()
}
