// Package controller owns both order books and the timer loop that ticks
// the match forward: replaying market data, marking every competitor to
// market, and disseminating order-book snapshots and trade ticks.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/account"
	"github.com/wilsonhou/matchcore/internal/book"
	"github.com/wilsonhou/matchcore/internal/common"
	"github.com/wilsonhou/matchcore/internal/competitor"
	"github.com/wilsonhou/matchcore/internal/execchannel"
	"github.com/wilsonhou/matchcore/internal/infochannel"
	"github.com/wilsonhou/matchcore/internal/limiter"
	"github.com/wilsonhou/matchcore/internal/marketevents"
	"github.com/wilsonhou/matchcore/internal/matchevents"
)

// marketOpenDelay is the grace period given to auto-traders to connect
// before the match clock starts.
const marketOpenDelay = 20 * time.Second

// InstrumentConfig carries the tick size and ETF valuation clamp shared by
// every competitor's account.
type InstrumentConfig struct {
	TickSize uint32
	EtfClamp float64
}

// LimitsConfig carries the per-competitor risk limits.
type LimitsConfig struct {
	PositionLimit             int64
	ActiveOrderCountLimit     int
	ActiveVolumeLimit         uint32
	MessageFrequencyInterval  float64
	MessageFrequencyLimit     int
}

// EngineConfig carries the match-wide timing parameters.
type EngineConfig struct {
	Speed        float64
	TickInterval time.Duration
}

// Controller drives one match from market open to completion.
type Controller struct {
	instrument InstrumentConfig
	limits     LimitsConfig
	engine     EngineConfig
	traders    map[string]string // name -> shared secret

	futureBook *book.OrderBook
	etfBook    *book.OrderBook

	marketEvents *marketevents.Pump
	matchEvents  *matchevents.Recorder
	infoChannel  *infochannel.Channel

	mu               sync.Mutex
	competitors      map[string]*competitor.Competitor
	competitorCount  int
	done             bool
	startTime        time.Time
	futureTradeTicks map[uint32]uint32
	etfTradeTicks    map[uint32]uint32
}

// New constructs a controller. marketEvents is the market-data replay pump
// (it may be nil and set later with SetMarketEvents) and matchEvents is the
// match events CSV recorder; the caller owns the underlying files'
// lifetimes.
func New(instrument InstrumentConfig, limits LimitsConfig, engine EngineConfig, traders map[string]string,
	marketEvents *marketevents.Pump, matchEvents *matchevents.Recorder, infoChannel *infochannel.Channel,
	makerFee, takerFee float64) *Controller {
	c := &Controller{
		instrument:       instrument,
		limits:           limits,
		engine:           engine,
		traders:          traders,
		marketEvents:     marketEvents,
		matchEvents:      matchEvents,
		infoChannel:      infoChannel,
		competitors:      make(map[string]*competitor.Competitor),
		futureTradeTicks: make(map[uint32]uint32),
		etfTradeTicks:    make(map[uint32]uint32),
	}
	c.futureBook = book.New(common.Future, c, 0, 0)
	c.etfBook = book.New(common.ETF, c, makerFee, takerFee)
	return c
}

// FutureBook returns the shared FUTURE order book, exposed so the caller
// can construct the market-events pump before market open.
func (c *Controller) FutureBook() *book.OrderBook { return c.futureBook }

// EtfBook returns the shared ETF order book.
func (c *Controller) EtfBook() *book.OrderBook { return c.etfBook }

// SetMarketEvents wires the market-events pump once it has been
// constructed; required because the pump itself needs the two order books
// New creates.
func (c *Controller) SetMarketEvents(pump *marketevents.Pump) {
	c.marketEvents = pump
}

// GetCompetitor authenticates a login and, on success, creates (once per
// name) the competitor's account and state machine.
func (c *Controller) GetCompetitor(name, secret string, session *execchannel.Session) (execchannel.Competitor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.competitors[name]; exists {
		return nil, errAuth
	}
	if want, ok := c.traders[name]; !ok || want != secret {
		return nil, errAuth
	}

	acct := account.New(c.instrument.TickSize, c.instrument.EtfClamp)
	comp := competitor.New(name, c.futureBook, c.etfBook, acct, session, c.matchEvents,
		c.limits.PositionLimit, c.limits.ActiveOrderCountLimit, c.limits.ActiveVolumeLimit, c.instrument.TickSize)
	c.competitors[name] = comp
	c.competitorCount++

	log.Info().Str("name", name).Msg("competitor ready")

	if !c.startTime.IsZero() {
		log.Warn().Str("name", name).Msg("competitor logged in after market open")
	}

	return comp, nil
}

var errAuth = authError{}

type authError struct{}

func (authError) Error() string { return "unknown competitor or bad secret" }

// OnConnectionLost implements execchannel.Controller. A session that never
// completed a login (or whose login was rejected) never registered a
// competitor and must not affect competitorCount, which only tracks
// logged-in competitors.
func (c *Controller) OnConnectionLost(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.competitors[name]; !exists {
		return
	}
	c.competitorCount--
}

// Clock implements execchannel.Controller: returns the elapsed simulated
// time since market open, or ok=false before the market has opened.
func (c *Controller) Clock() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startTime.IsZero() {
		return 0, false
	}
	return time.Since(c.startTime).Seconds() * c.engine.Speed, true
}

// MarketEventsComplete implements marketevents.Controller.
func (c *Controller) MarketEventsComplete() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
}

// OnTrade implements book.TradeListener: accumulates trade ticks to be
// flushed on the next timer tick.
func (c *Controller) OnTrade(instrument common.Instrument, price uint32, volume uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if instrument == common.Future {
		c.futureTradeTicks[price] += volume
	} else {
		c.etfTradeTicks[price] += volume
	}
}

// Run starts the execution-channel listener, waits out the market-open
// delay, then runs the timer loop until the match completes or every
// competitor disconnects.
func (c *Controller) Run(ctx context.Context, server *execchannel.Server) error {
	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()

	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Run(serverCtx) }()

	select {
	case <-time.After(marketOpenDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	cancelServer()

	log.Info().Msg("market open")
	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	sequenceNumber := uint32(1)
	tickTime := time.Now()
	// engine.TickInterval is expressed in simulated seconds; Speed maps
	// simulated seconds to wall-clock seconds, so the real-time interval
	// between dissemination ticks must be divided by it.
	realTickInterval := time.Duration(float64(c.engine.TickInterval) / c.engine.Speed)

	for {
		select {
		case <-ctx.Done():
			c.shutdown("context cancelled")
			return nil
		default:
		}

		c.mu.Lock()
		count := c.competitorCount
		c.mu.Unlock()
		if count == 0 {
			c.shutdown("no remaining competitors")
			return nil
		}

		elapsed := time.Since(c.startTime).Seconds() * c.engine.Speed
		c.marketEvents.ProcessUntil(elapsed)

		c.mu.Lock()
		comps := make([]*competitor.Competitor, 0, len(c.competitors))
		for _, comp := range c.competitors {
			comps = append(comps, comp)
		}
		c.mu.Unlock()

		futurePrice, _ := c.futureBook.LastTradedPrice()
		etfPrice, _ := c.etfBook.LastTradedPrice()
		for _, comp := range comps {
			comp.OnTimerTick(elapsed, futurePrice, etfPrice)
		}

		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done {
			c.shutdown("match complete")
			return nil
		}

		now := time.Now()
		skippedTicks := int64(now.Sub(tickTime) / realTickInterval)
		sequenceNumber += uint32(skippedTicks)

		c.disseminate(common.Future, c.futureBook, sequenceNumber)
		c.disseminate(common.ETF, c.etfBook, sequenceNumber)

		tickTime = tickTime.Add(realTickInterval * time.Duration(1+skippedTicks))
		sequenceNumber++

		sleep := time.Until(tickTime)
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				c.shutdown("context cancelled")
				return nil
			}
		}
	}
}

func (c *Controller) disseminate(instrument common.Instrument, ob *book.OrderBook, sequenceNumber uint32) {
	top := ob.TopLevels()
	c.infoChannel.SendOrderBookUpdate(instrument, sequenceNumber, top.AskPrices, top.AskVolumes, top.BidPrices, top.BidVolumes)

	c.mu.Lock()
	ticks := c.futureTradeTicks
	if instrument == common.ETF {
		ticks = c.etfTradeTicks
	}
	if len(ticks) > 0 {
		prices := make([]uint32, 0, len(ticks))
		volumes := make([]uint32, 0, len(ticks))
		for price, volume := range ticks {
			prices = append(prices, price)
			volumes = append(volumes, volume)
		}
		for k := range ticks {
			delete(ticks, k)
		}
		c.mu.Unlock()
		c.infoChannel.SendTradeTicks(instrument, prices, volumes)
	} else {
		c.mu.Unlock()
	}
}

func (c *Controller) shutdown(reason string) {
	log.Info().Str("reason", reason).Msg("shutting down the match")

	c.mu.Lock()
	comps := make([]*competitor.Competitor, 0, len(c.competitors))
	for _, comp := range c.competitors {
		comps = append(comps, comp)
	}
	c.mu.Unlock()

	for _, comp := range comps {
		log.Info().Str("competitor", comp.Name).
			Str("balance", humanize.Comma(comp.Account.Balance)).
			Str("profit_or_loss", humanize.Comma(comp.Account.ProfitOrLoss)).
			Msg("final account position")
		if comp.ExecChannel != nil {
			comp.ExecChannel.Close()
		}
	}
	c.matchEvents.Finish()
}
