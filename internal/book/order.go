package book

import "github.com/wilsonhou/matchcore/internal/common"

// OrderListener receives callbacks as an order's state changes. A listener
// is a borrowed reference: it must outlive every order it is attached to.
type OrderListener interface {
	OnOrderPlaced(now float64, order *Order)
	OnOrderAmended(now float64, order *Order, volumeRemoved uint32)
	OnOrderCancelled(now float64, order *Order, volumeRemoved uint32)
	OnOrderFilled(now float64, order *Order, price uint32, volume uint32, fee int32)
}

// TradeListener is notified once per price level whenever a trade occurs.
type TradeListener interface {
	OnTrade(instrument common.Instrument, price uint32, volume uint32)
}

// Order is a resting or in-flight request to buy or sell at a given price.
type Order struct {
	ClientOrderID   uint32
	Instrument      common.Instrument
	Lifespan        common.Lifespan
	Side            common.Side
	Price           uint32
	Volume          uint32
	RemainingVolume uint32
	TotalFees       int32
	Listener        OrderListener
}

// NewOrder constructs an order with remaining volume equal to volume.
func NewOrder(clientOrderID uint32, instrument common.Instrument, lifespan common.Lifespan, side common.Side,
	price uint32, volume uint32, listener OrderListener) *Order {
	return &Order{
		ClientOrderID:   clientOrderID,
		Instrument:      instrument,
		Lifespan:        lifespan,
		Side:            side,
		Price:           price,
		Volume:          volume,
		RemainingVolume: volume,
		Listener:        listener,
	}
}

// FilledVolume is the portion of the order that has traded so far.
func (o *Order) FilledVolume() uint32 {
	return o.Volume - o.RemainingVolume
}

// Level is a FIFO queue of orders resting at a single price.
type Level struct {
	Price       uint32
	Orders      []*Order
	TotalVolume uint32
}

func newLevel(price uint32) *Level {
	return &Level{Price: price}
}

// front skips (and discards) any zero-remaining orders left over from
// cancels/amends that could not be removed eagerly, then returns the head
// of the queue. Callers must only invoke this while len(Orders) > 0.
func (l *Level) front() *Order {
	for len(l.Orders) > 0 && l.Orders[0].RemainingVolume == 0 {
		l.Orders = l.Orders[1:]
	}
	return l.Orders[0]
}
