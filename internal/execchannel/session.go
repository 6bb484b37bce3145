// Package execchannel implements the reliable, message-framed TCP channel
// each auto-trader uses to submit order instructions and receive
// execution reports.
package execchannel

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/common"
	"github.com/wilsonhou/matchcore/internal/limiter"
	"github.com/wilsonhou/matchcore/internal/wire"
)

const loginTimeout = time.Second

// Competitor is the subset of *competitor.Competitor a session drives.
type Competitor interface {
	OnAmendMessage(now float64, clientOrderID uint32, volume uint32)
	OnCancelMessage(now float64, clientOrderID uint32)
	OnInsertMessage(now float64, clientOrderID uint32, side common.Side, price uint32, volume uint32, lifespan common.Lifespan)
	HardBreach(now float64, clientOrderID uint32, message string)
	OnConnectionLost(now float64)
}

// MarketEventsPump advances market-data replay up to the given elapsed
// time; the session calls this before processing each inbound message, the
// same way the reference exchange folds market-data processing into the
// execution channel's read loop.
type MarketEventsPump interface {
	ProcessUntil(elapsedTime float64)
}

// Controller authenticates a login and is notified when a session ends.
type Controller interface {
	GetCompetitor(name, secret string, session *Session) (Competitor, error)
	OnConnectionLost(name string)
	Clock() (elapsed float64, ok bool)
}

// Session is one connected auto-trader's TCP execution channel.
type Session struct {
	conn         net.Conn
	controller   Controller
	marketEvents MarketEventsPump
	limiter      *limiter.FrequencyLimiter

	// id correlates this session's log lines across connect, login and
	// disconnect even before a competitor name is known.
	id uuid.UUID

	competitor Competitor
	name       string
	closing    bool
}

// NewSession wraps conn. The login timeout starts when Serve begins reading.
func NewSession(conn net.Conn, controller Controller, marketEvents MarketEventsPump, freqLimit *limiter.FrequencyLimiter) *Session {
	return &Session{
		conn:         conn,
		controller:   controller,
		marketEvents: marketEvents,
		limiter:      freqLimit,
		id:           uuid.New(),
	}
}

// Serve blocks reading and dispatching messages until the connection
// closes. It is meant to run on its own goroutine per connection.
func (s *Session) Serve() {
	defer s.onConnectionLost()

	log.Info().Str("session", s.id.String()).Str("peer", s.conn.RemoteAddr().String()).Msg("session accepted")

	loginDeadline := time.Now().Add(loginTimeout)
	if err := s.conn.SetReadDeadline(loginDeadline); err != nil {
		log.Error().Err(err).Msg("failed to set login deadline")
		return
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for !s.closing {
		n, err := s.conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)

		upto := 0
		for !s.closing && upto < len(buf)-wire.HeaderSize {
			length, msgType, err := wire.ReadHeader(buf[upto:])
			if err != nil {
				break
			}
			if upto+int(length) > len(buf) {
				break
			}
			body := buf[upto+wire.HeaderSize : upto+int(length)]

			elapsed := s.elapsed()
			if elapsed > 0 {
				s.marketEvents.ProcessUntil(elapsed)
			}

			if s.limiter.CheckEvent(elapsed) {
				log.Info().Str("peer", s.conn.RemoteAddr().String()).Msg("message frequency limit breached")
				if s.competitor != nil {
					s.competitor.HardBreach(elapsed, 0, "message frequency limit breached")
				} else {
					s.Close()
				}
				return
			}

			if s.competitor == nil && msgType != wire.Login {
				log.Info().Str("peer", s.conn.RemoteAddr().String()).Msg("first message received was not a login")
				s.Close()
				return
			}

			if !s.dispatch(elapsed, msgType, length, body) {
				return
			}

			upto += int(length)
		}
		buf = buf[upto:]
	}
}

func (s *Session) dispatch(elapsed float64, msgType wire.MessageType, length uint16, body []byte) bool {
	switch {
	case msgType == wire.AmendOrder:
		msg, err := wire.DecodeAmendOrder(body)
		if err != nil {
			s.Close()
			return false
		}
		s.competitor.OnAmendMessage(elapsed, msg.ClientOrderID, msg.Volume)
	case msgType == wire.CancelOrder:
		msg, err := wire.DecodeCancelOrder(body)
		if err != nil {
			s.Close()
			return false
		}
		s.competitor.OnCancelMessage(elapsed, msg.ClientOrderID)
	case msgType == wire.InsertOrder:
		msg, err := wire.DecodeInsertOrder(body)
		if err != nil {
			s.Close()
			return false
		}
		s.competitor.OnInsertMessage(elapsed, msg.ClientOrderID, msg.Side, msg.Price, msg.Volume, msg.Lifespan)
	case msgType == wire.Login:
		msg, err := wire.DecodeLogin(body)
		if err != nil {
			s.Close()
			return false
		}
		s.onLogin(msg.Name, msg.Secret)
	default:
		log.Info().Str("peer", s.conn.RemoteAddr().String()).Uint8("type", uint8(msgType)).
			Msg("received invalid message")
		s.Close()
		return false
	}
	return true
}

func (s *Session) onLogin(name, secret string) {
	if s.competitor != nil {
		log.Info().Str("peer", s.conn.RemoteAddr().String()).Msg("received second login message")
		s.Close()
		return
	}

	competitor, err := s.controller.GetCompetitor(name, secret, s)
	if err != nil {
		log.Info().Str("name", name).Err(err).Msg("login failed")
		s.Close()
		return
	}

	s.competitor = competitor
	s.name = name
	// The login deadline only applies until a successful login.
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		log.Error().Err(err).Msg("failed to clear login deadline")
	}
	log.Info().Str("session", s.id.String()).Str("name", name).Msg("login successful")
}

func (s *Session) elapsed() float64 {
	if e, ok := s.controller.Clock(); ok {
		return e
	}
	return 0
}

func (s *Session) onConnectionLost() {
	if s.competitor != nil {
		s.competitor.OnConnectionLost(s.elapsed())
	}
	s.controller.OnConnectionLost(s.name)
	s.conn.Close()
}

// Close tears down the connection from the exchange side.
func (s *Session) Close() {
	s.closing = true
	s.conn.Close()
}

// SendOrderStatus implements competitor.ExecutionChannel.
func (s *Session) SendOrderStatus(clientOrderID uint32, fillVolume, remainingVolume uint32, fees int32) {
	msg := wire.OrderStatusMessage{ClientOrderID: clientOrderID, FillVolume: fillVolume, RemainingVolume: remainingVolume, Fees: fees}
	s.conn.Write(msg.Encode())
}

// SendPositionChange implements competitor.ExecutionChannel.
func (s *Session) SendPositionChange(futurePosition, etfPosition int64) {
	msg := wire.PositionChangeMessage{FuturePosition: int32(futurePosition), EtfPosition: int32(etfPosition)}
	s.conn.Write(msg.Encode())
}

// SendError implements competitor.ExecutionChannel.
func (s *Session) SendError(clientOrderID uint32, message string) {
	msg := wire.ErrorMessage{ClientOrderID: clientOrderID, Text: message}
	s.conn.Write(msg.Encode())
}
