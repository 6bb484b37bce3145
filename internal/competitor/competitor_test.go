package competitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wilsonhou/matchcore/internal/account"
	"github.com/wilsonhou/matchcore/internal/book"
	"github.com/wilsonhou/matchcore/internal/common"
)

type stubExecChannel struct {
	errors   []string
	statuses int
	closed   bool
}

func (s *stubExecChannel) SendOrderStatus(clientOrderID uint32, fillVolume, remainingVolume uint32, fees int32) {
	s.statuses++
}
func (s *stubExecChannel) SendPositionChange(futurePosition, etfPosition int64) {}
func (s *stubExecChannel) SendError(clientOrderID uint32, message string)      { s.errors = append(s.errors, message) }
func (s *stubExecChannel) Close()                                              { s.closed = true }

type stubRecorder struct{}

func (stubRecorder) Insert(now float64, name string, acct *account.Account, order *book.Order, futurePrice, etfPrice uint32) {
}
func (stubRecorder) Amend(now float64, name string, acct *account.Account, order *book.Order, volumeDelta int32, futurePrice, etfPrice uint32) {
}
func (stubRecorder) Cancel(now float64, name string, acct *account.Account, order *book.Order, volumeDelta int32, futurePrice, etfPrice uint32) {
}
func (stubRecorder) Fill(now float64, name string, acct *account.Account, order *book.Order, price uint32, volumeDelta int32, fee int32, futurePrice uint32) {
}
func (stubRecorder) Hedge(now float64, name string, acct *account.Account, side common.Side, price uint32, volume int32, futurePrice, etfPrice uint32) {
}
func (stubRecorder) Tick(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32) {
}
func (stubRecorder) Breach(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32) {
}
func (stubRecorder) Disconnect(now float64, name string, acct *account.Account, futurePrice, etfPrice uint32) {
}

const tickSize = 100

func newTestCompetitor() (*Competitor, *stubExecChannel) {
	futureBook := book.New(common.Future, nil, 0, 0)
	etfBook := book.New(common.ETF, nil, -0.0001, 0.0002)
	acct := account.New(tickSize, 0.1)
	exec := &stubExecChannel{}

	c := New("alpha", futureBook, etfBook, acct, exec, stubRecorder{}, 100, 10, 200, tickSize)
	return c, exec
}

func TestInsertRejectsOutOfOrderClientOrderID(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OnInsertMessage(1.0, 5, common.Buy, 100*tickSize, 1, common.GoodForDay)
	c.OnInsertMessage(1.0, 5, common.Buy, 100*tickSize, 1, common.GoodForDay)

	assert.Len(t, exec.errors, 1)
	assert.Contains(t, exec.errors[0], "duplicate or out-of-order")
}

func TestInsertRejectsPriceNotMultipleOfTickSize(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OnInsertMessage(1.0, 1, common.Buy, 101*tickSize+1, 1, common.GoodForDay)
	assert.Contains(t, exec.errors[0], "tick size")
}

func TestInsertRejectsZeroVolume(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OnInsertMessage(1.0, 1, common.Buy, 100*tickSize, 0, common.GoodForDay)
	assert.Contains(t, exec.errors[0], "invalid volume")
}

func TestInsertRejectsWhenMarketNotYetOpen(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OnInsertMessage(0.0, 1, common.Buy, 100*tickSize, 1, common.GoodForDay)
	assert.Contains(t, exec.errors[0], "market not yet open")
}

func TestInsertRejectsSelfCross(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OnInsertMessage(1.0, 1, common.Buy, 100*tickSize, 1, common.GoodForDay)
	c.OnInsertMessage(2.0, 2, common.Sell, 100*tickSize, 1, common.GoodForDay)

	assert.Contains(t, exec.errors[0], "in cross")
}

func TestInsertRejectsActiveOrderCountLimit(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OrderCountLimit = 1
	c.OnInsertMessage(1.0, 1, common.Buy, 100*tickSize, 1, common.GoodForDay)
	c.OnInsertMessage(2.0, 2, common.Buy, 99*tickSize, 1, common.GoodForDay)

	assert.Contains(t, exec.errors[0], "active order count limit")
}

func TestInsertRejectsActiveVolumeLimit(t *testing.T) {
	c, exec := newTestCompetitor()
	c.ActiveVolumeLimit = 5
	c.OnInsertMessage(1.0, 1, common.Buy, 100*tickSize, 10, common.GoodForDay)

	assert.Contains(t, exec.errors[0], "active order volume limit")
}

func TestAmendRejectsVolumeIncrease(t *testing.T) {
	c, exec := newTestCompetitor()
	c.OnInsertMessage(1.0, 1, common.Buy, 100*tickSize, 5, common.GoodForDay)
	c.OnAmendMessage(2.0, 1, 10)

	assert.Contains(t, exec.errors[0], "increase order volume")
}

func TestFillTriggersAutomaticFutureHedge(t *testing.T) {
	futureBook := book.New(common.Future, nil, 0, 0)
	etfBook := book.New(common.ETF, nil, 0, 0)
	acct := account.New(tickSize, 0.1)
	exec := &stubExecChannel{}
	c := New("alpha", futureBook, etfBook, acct, exec, stubRecorder{}, 1000, 10, 200, tickSize)

	// Seed a FUTURE midpoint of 100.00 (prices in cents).
	futureBook.Insert(1.0, book.NewOrder(900, common.Future, common.GoodForDay, common.Buy, 99*tickSize, 5, &noopListener{}))
	futureBook.Insert(1.0, book.NewOrder(901, common.Future, common.GoodForDay, common.Sell, 101*tickSize, 5, &noopListener{}))

	// A resting sell on the ETF book that the competitor's own buy crosses.
	restingSell := book.NewOrder(800, common.ETF, common.GoodForDay, common.Sell, 100*tickSize, 10, &noopListener{})
	etfBook.Insert(1.0, restingSell)

	c.OnInsertMessage(2.0, 1, common.Buy, 100*tickSize, 10, common.GoodForDay)

	// Every ETF fill hedges on the FUTURE book, opposite side, at the
	// FUTURE midpoint (100.00 here), so the FUTURE position must move
	// opposite to the ETF fill.
	assert.Equal(t, int64(10), acct.EtfPosition)
	assert.Equal(t, int64(-10), acct.FuturePosition)
}

type noopListener struct{}

func (noopListener) OnOrderPlaced(now float64, order *book.Order)                              {}
func (noopListener) OnOrderAmended(now float64, order *book.Order, volumeRemoved uint32)        {}
func (noopListener) OnOrderCancelled(now float64, order *book.Order, volumeRemoved uint32)      {}
func (noopListener) OnOrderFilled(now float64, order *book.Order, price, volume uint32, fee int32) {}
