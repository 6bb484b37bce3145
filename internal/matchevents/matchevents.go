// Package matchevents records every state-changing action taken during a
// match to a CSV file, off the hot path of the matching loop.
package matchevents

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/account"
	"github.com/wilsonhou/matchcore/internal/book"
	"github.com/wilsonhou/matchcore/internal/common"
)

// Event is one row of the match events log. Optional fields use pointers so
// that an absent value serializes as an empty CSV cell, matching the
// reference exchange's None-becomes-blank convention.
type Event struct {
	Time            float64
	Competitor      string
	Operation       string
	OrderID         *uint32
	Side            *common.Side
	Volume          *int32
	Price           *uint32
	Lifespan        *common.Lifespan
	Fee             int32
	FuturePrice     uint32
	EtfPrice        uint32
	AccountBalance  int64
	FuturePosition  int64
	EtfPosition     int64
	ProfitOrLoss    int64
	TotalFees       int64
	MaxDrawdown     int64
	BuyVolume       uint64
	SellVolume      uint64
}

func snapshot(now float64, name string, acct *account.Account, op string, futurePrice, etfPrice uint32) Event {
	return Event{
		Time:           now,
		Competitor:     name,
		Operation:      op,
		FuturePrice:    futurePrice,
		EtfPrice:       etfPrice,
		AccountBalance: acct.Balance,
		FuturePosition: acct.FuturePosition,
		EtfPosition:    acct.EtfPosition,
		ProfitOrLoss:   acct.ProfitOrLoss,
		TotalFees:      acct.TotalFees,
		MaxDrawdown:    acct.MaxDrawdown,
		BuyVolume:      acct.BuyVolume,
		SellVolume:     acct.SellVolume,
	}
}

// Recorder accepts match events on a buffered channel (capacity 4096) and
// writes them to a CSV file on a dedicated goroutine, so that recording an
// event does not wait on disk I/O. The channel is not unbounded: once 4096
// events are queued, recording blocks until the writer catches up.
type Recorder struct {
	events chan Event
	done   chan int
}

// NewRecorder starts the writer goroutine, appending CSV rows to w.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{
		events: make(chan Event, 4096),
		done:   make(chan int),
	}
	go r.run(w)
	return r
}

func (r *Recorder) run(w io.Writer) {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"Time", "Competitor", "Operation", "OrderId", "Side", "Volume", "Price", "Lifespan", "Fee",
		"FuturePrice", "EtfPrice", "AccountBalance", "FuturePosition", "EtfPosition", "ProfitLoss", "TotalFees",
		"MaxDrawdown", "BuyVolume", "SellVolume"}
	if err := writer.Write(header); err != nil {
		log.Error().Err(err).Msg("failed to write match events header")
	}

	count := 0
	for evt := range r.events {
		count++
		if err := writer.Write(evt.row()); err != nil {
			log.Error().Err(err).Msg("failed to write match event")
		}
	}
	writer.Flush()
	r.done <- count
}

func (e Event) row() []string {
	orderID := ""
	if e.OrderID != nil {
		orderID = fmt.Sprintf("%d", *e.OrderID)
	}
	side := ""
	if e.Side != nil {
		side = e.Side.String()[:1]
	}
	volume := ""
	if e.Volume != nil {
		volume = fmt.Sprintf("%d", *e.Volume)
	}
	price := ""
	if e.Price != nil {
		price = cents(*e.Price)
	}
	lifespan := ""
	if e.Lifespan != nil {
		lifespan = e.Lifespan.String()
	}

	return []string{
		fmt.Sprintf("%.6f", e.Time),
		e.Competitor,
		e.Operation,
		orderID,
		side,
		volume,
		price,
		lifespan,
		cents(uint32(e.Fee)),
		cents(e.FuturePrice),
		cents(e.EtfPrice),
		cents(uint32(e.AccountBalance)),
		fmt.Sprintf("%d", e.FuturePosition),
		fmt.Sprintf("%d", e.EtfPosition),
		cents(uint32(e.ProfitOrLoss)),
		cents(uint32(e.TotalFees)),
		cents(uint32(e.MaxDrawdown)),
		fmt.Sprintf("%d", e.BuyVolume),
		fmt.Sprintf("%d", e.SellVolume),
	}
}

func cents(v uint32) string {
	return fmt.Sprintf("%.2f", float64(int32(v))/100.0)
}

// Finish signals the writer goroutine to drain and exit, and blocks until it
// has done so.
func (r *Recorder) Finish() int {
	close(r.events)
	return <-r.done
}

func ptrSide(s common.Side) *common.Side { return &s }
func ptrU32(v uint32) *uint32            { return &v }
func ptrI32(v int32) *int32              { return &v }
func ptrLifespan(l common.Lifespan) *common.Lifespan { return &l }

// Insert records a newly accepted order.
func (r *Recorder) Insert(now float64, name string, acct *account.Account, order *book.Order, futurePrice, etfPrice uint32) {
	evt := snapshot(now, name, acct, "Insert", futurePrice, etfPrice)
	evt.OrderID = ptrU32(order.ClientOrderID)
	evt.Side = ptrSide(order.Side)
	evt.Volume = ptrI32(int32(order.RemainingVolume))
	evt.Price = ptrU32(order.Price)
	evt.Lifespan = ptrLifespan(order.Lifespan)
	r.events <- evt
}

// Amend records a volume reduction on a resting order. volumeDelta is
// negative (the amount removed, as a signed decrease).
func (r *Recorder) Amend(now float64, name string, acct *account.Account, order *book.Order, volumeDelta int32, futurePrice, etfPrice uint32) {
	evt := snapshot(now, name, acct, "Amend", futurePrice, etfPrice)
	evt.OrderID = ptrU32(order.ClientOrderID)
	evt.Side = ptrSide(order.Side)
	evt.Volume = ptrI32(volumeDelta)
	evt.Price = ptrU32(order.Price)
	evt.Lifespan = ptrLifespan(order.Lifespan)
	r.events <- evt
}

// Cancel records a resting order's removal.
func (r *Recorder) Cancel(now float64, name string, acct *account.Account, order *book.Order, volumeDelta int32, futurePrice, etfPrice uint32) {
	evt := snapshot(now, name, acct, "Cancel", futurePrice, etfPrice)
	evt.OrderID = ptrU32(order.ClientOrderID)
	evt.Side = ptrSide(order.Side)
	evt.Volume = ptrI32(volumeDelta)
	evt.Price = ptrU32(order.Price)
	evt.Lifespan = ptrLifespan(order.Lifespan)
	r.events <- evt
}

// Fill records an ETF trade. volumeDelta is negative (the traded volume,
// recorded as a decrease to remaining volume).
func (r *Recorder) Fill(now float64, name string, acct *account.Account, order *book.Order, price uint32, volumeDelta int32, fee int32, futurePrice uint32) {
	evt := snapshot(now, name, acct, "Fill", futurePrice, price)
	evt.OrderID = ptrU32(order.ClientOrderID)
	evt.Side = ptrSide(order.Side)
	evt.Volume = ptrI32(volumeDelta)
	evt.Price = ptrU32(price)
	evt.Lifespan = ptrLifespan(order.Lifespan)
	evt.Fee = fee
	r.events <- evt
}

// Hedge records the automatic FUTURE transaction taken to offset an ETF
// fill.
func (r *Recorder) Hedge(now float64, name string, acct *account.Account, side common.Side, price uint32, volume int32, futurePrice, etfPrice uint32) {
	evt := snapshot(now, name, acct, "Hedge", futurePrice, etfPrice)
	evt.Side = ptrSide(side)
	evt.Volume = ptrI32(volume)
	evt.Price = ptrU32(price)
	r.events <- evt
}

// Tick records a periodic mark-to-market snapshot.
func (r *Recorder) Tick(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32) {
	r.events <- snapshot(now, name, acct, "Tick", futurePrice, etfPrice)
}

// Breach records a competitor being disconnected for a hard breach.
func (r *Recorder) Breach(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32) {
	r.events <- snapshot(now, name, acct, "Breach", futurePrice, etfPrice)
}

// Disconnect records a competitor losing its connection.
func (r *Recorder) Disconnect(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32) {
	r.events <- snapshot(now, name, acct, "Disconnect", futurePrice, etfPrice)
}
