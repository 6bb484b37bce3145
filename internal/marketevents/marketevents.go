// Package marketevents replays a recorded market-data file into the FUTURE
// and ETF order books, driving the simulated market side of a match.
package marketevents

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/book"
	"github.com/wilsonhou/matchcore/internal/common"
)

// queueCapacity bounds how far the reader goroutine may run ahead of the
// main loop; once full it blocks, applying natural backpressure.
const queueCapacity = 1024

// Operation identifies what a market event does to the book.
type Operation uint8

const (
	Amend Operation = iota
	Cancel
	Insert
)

// Event is one row of replayed market data. Volume is negative for Amend
// rows, where it is the signed delta to apply to Order.Volume.
type Event struct {
	Time       float64
	Instrument common.Instrument
	Operation  Operation
	OrderID    uint32
	Side       common.Side
	Volume     int32
	Price      uint32
	Lifespan   common.Lifespan
}

// Controller is notified once every event has been consumed.
type Controller interface {
	MarketEventsComplete()
}

// Pump reads market events from a channel fed by a background reader
// goroutine and applies them to the two order books in time order.
type Pump struct {
	controller Controller
	futureBook *book.OrderBook
	etfBook    *book.OrderBook

	futureOrders map[uint32]*book.Order
	etfOrders    map[uint32]*book.Order

	queue     chan *Event
	nextEvent *Event
}

// NewPump starts a reader goroutine over r and returns a Pump primed to
// begin processing.
func NewPump(r io.Reader, controller Controller, futureBook, etfBook *book.OrderBook) (*Pump, error) {
	p := &Pump{
		controller:   controller,
		futureBook:   futureBook,
		etfBook:      etfBook,
		futureOrders: make(map[uint32]*book.Order),
		etfOrders:    make(map[uint32]*book.Order),
		queue:        make(chan *Event, queueCapacity),
		// Prime the pump with a no-op event so ProcessUntil always has
		// something to compare against before the reader delivers its first
		// real row.
		nextEvent: &Event{Instrument: common.Future, Operation: Cancel, Side: common.Buy, Lifespan: common.FillAndKill},
	}

	go p.read(r)
	return p, nil
}

func (p *Pump) read(r io.Reader) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		log.Error().Err(err).Msg("failed to read market data header")
		close(p.queue)
		return
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to read market data row")
			break
		}

		evt, err := parseRow(row)
		if err != nil {
			log.Error().Err(err).Strs("row", row).Msg("skipping malformed market data row")
			continue
		}
		p.queue <- evt
		count++
	}

	close(p.queue)
	log.Info().Int("events", count).Msg("market data reader finished")
}

func parseRow(row []string) (*Event, error) {
	if len(row) < 8 {
		return nil, fmt.Errorf("marketevents: expected 8 columns, got %d", len(row))
	}

	t, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return nil, err
	}
	instrument, err := strconv.Atoi(row[1])
	if err != nil {
		return nil, err
	}
	var op Operation
	switch row[2] {
	case "Amend":
		op = Amend
	case "Cancel":
		op = Cancel
	case "Insert":
		op = Insert
	default:
		return nil, fmt.Errorf("marketevents: unknown operation %q", row[2])
	}
	orderID, err := strconv.Atoi(row[3])
	if err != nil {
		return nil, err
	}

	var side common.Side
	switch row[4] {
	case "A":
		side = common.Sell
	case "B":
		side = common.Buy
	}

	volume := 0
	if row[5] != "" {
		v, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return nil, err
		}
		volume = int(v)
	}

	price := 0
	if row[6] != "" {
		v, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return nil, err
		}
		price = int(v * 100)
	}

	var lifespan common.Lifespan
	switch row[7] {
	case "FAK":
		lifespan = common.FillAndKill
	case "GFD":
		lifespan = common.GoodForDay
	}

	return &Event{
		Time:       t,
		Instrument: common.Instrument(instrument),
		Operation:  op,
		OrderID:    uint32(orderID),
		Side:       side,
		Volume:     int32(volume),
		Price:      uint32(price),
		Lifespan:   lifespan,
	}, nil
}

// ProcessUntil applies every queued event with Time < elapsedTime, in
// order, to the relevant book. It returns once the queue runs dry for this
// tick or the reader has finished and every event has been applied, in
// which case it notifies the controller exactly once.
func (p *Pump) ProcessUntil(elapsedTime float64) {
	evt := p.nextEvent

	for evt != nil && evt.Time < elapsedTime {
		orders := p.etfOrders
		ob := p.etfBook
		if evt.Instrument == common.Future {
			orders = p.futureOrders
			ob = p.futureBook
		}

		switch {
		case evt.Operation == Insert:
			order := book.NewOrder(evt.OrderID, evt.Instrument, evt.Lifespan, evt.Side, evt.Price, uint32(evt.Volume), p)
			orders[evt.OrderID] = order
			ob.Insert(evt.Time, order)
		default:
			order, ok := orders[evt.OrderID]
			if !ok {
				break
			}
			if evt.Operation == Cancel {
				ob.Cancel(evt.Time, order)
			} else if evt.Volume < 0 {
				ob.Amend(evt.Time, order, uint32(int32(order.Volume)+evt.Volume))
			}
		}

		next, ok := <-p.queue
		if !ok {
			evt = nil
		} else {
			evt = next
		}
	}

	p.nextEvent = evt
	if evt == nil && p.controller != nil {
		p.controller.MarketEventsComplete()
		p.controller = nil
	}
}

// OnOrderPlaced implements book.OrderListener.
func (p *Pump) OnOrderPlaced(now float64, order *book.Order) {
	p.ordersFor(order.Instrument)[order.ClientOrderID] = order
}

// OnOrderAmended implements book.OrderListener.
func (p *Pump) OnOrderAmended(now float64, order *book.Order, volumeRemoved uint32) {
	if order.RemainingVolume == 0 {
		delete(p.ordersFor(order.Instrument), order.ClientOrderID)
	}
}

// OnOrderCancelled implements book.OrderListener.
func (p *Pump) OnOrderCancelled(now float64, order *book.Order, volumeRemoved uint32) {
	delete(p.ordersFor(order.Instrument), order.ClientOrderID)
}

// OnOrderFilled implements book.OrderListener.
func (p *Pump) OnOrderFilled(now float64, order *book.Order, price uint32, volume uint32, fee int32) {
	if order.RemainingVolume == 0 {
		delete(p.ordersFor(order.Instrument), order.ClientOrderID)
	}
}

func (p *Pump) ordersFor(instrument common.Instrument) map[uint32]*book.Order {
	if instrument == common.Future {
		return p.futureOrders
	}
	return p.etfOrders
}
