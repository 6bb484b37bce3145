// Package autotrader is a reference client library for connecting to the
// exchange as a competitor: it logs in over the execution channel, listens
// for order book and trade tick datagrams on the information channel, and
// exposes a Handler interface for a strategy to implement.
package autotrader

import (
	"net"

	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/common"
	"github.com/wilsonhou/matchcore/internal/wire"
)

// Handler reacts to messages from the exchange. Implementations should not
// block. Execution-channel callbacks (OnError, OnOrderStatus,
// OnPositionChange) run on one reader goroutine and information-channel
// callbacks (OnOrderBookUpdate, OnTradeTicks) on another, so the two groups
// may run concurrently.
type Handler interface {
	OnError(clientOrderID uint32, message string)
	OnOrderStatus(clientOrderID, fillVolume, remainingVolume uint32, fees int32)
	OnPositionChange(futurePosition, etfPosition int32)
	OnOrderBookUpdate(instrument common.Instrument, sequenceNumber uint32, askPrices, askVolumes, bidPrices, bidVolumes [common.TopLevelCount]uint32)
	OnTradeTicks(instrument common.Instrument, prices, volumes []uint32)
}

// Client is a connected auto-trader session.
type Client struct {
	execConn net.Conn
	infoConn *net.UDPConn
	handler  Handler
	done     chan struct{}
}

// Dial connects to the exchange's execution channel at execAddr and begins
// listening for information-channel datagrams on infoAddr, logging in with
// name/secret.
func Dial(execAddr, infoAddr, name, secret string, handler Handler) (*Client, error) {
	execConn, err := net.Dial("tcp", execAddr)
	if err != nil {
		return nil, err
	}

	infoConn, err := net.ListenPacket("udp", infoAddr)
	if err != nil {
		execConn.Close()
		return nil, err
	}
	udpConn := infoConn.(*net.UDPConn)

	c := &Client{execConn: execConn, infoConn: udpConn, handler: handler, done: make(chan struct{})}

	login := wire.LoginMessage{Name: name, Secret: secret}
	if _, err := execConn.Write(login.Encode()); err != nil {
		c.Close()
		return nil, err
	}

	go c.readExecutionLoop()
	go c.readInformationLoop()

	return c, nil
}

// Close disconnects both channels.
func (c *Client) Close() {
	close(c.done)
	c.execConn.Close()
	c.infoConn.Close()
}

// SendInsertOrder submits a new order.
func (c *Client) SendInsertOrder(clientOrderID uint32, side common.Side, price, volume uint32, lifespan common.Lifespan) {
	msg := wire.InsertOrderMessage{ClientOrderID: clientOrderID, Side: side, Price: price, Volume: volume, Lifespan: lifespan}
	c.execConn.Write(msg.Encode())
}

// SendAmendOrder reduces the volume of a resting order. The new volume must
// not exceed the order's current volume.
func (c *Client) SendAmendOrder(clientOrderID, volume uint32) {
	msg := wire.AmendOrderMessage{ClientOrderID: clientOrderID, Volume: volume}
	c.execConn.Write(msg.Encode())
}

// SendCancelOrder cancels a resting order.
func (c *Client) SendCancelOrder(clientOrderID uint32) {
	msg := wire.CancelOrderMessage{ClientOrderID: clientOrderID}
	c.execConn.Write(msg.Encode())
}

func (c *Client) readExecutionLoop() {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		n, err := c.execConn.Read(chunk)
		if err != nil {
			log.Info().Err(err).Msg("execution channel connection lost")
			return
		}
		buf = append(buf, chunk[:n]...)

		upto := 0
		for upto < len(buf)-wire.HeaderSize {
			length, msgType, err := wire.ReadHeader(buf[upto:])
			if err != nil {
				break
			}
			if upto+int(length) > len(buf) {
				break
			}
			body := buf[upto+wire.HeaderSize : upto+int(length)]
			c.handleExecutionMessage(msgType, body)
			upto += int(length)
		}
		buf = buf[upto:]
	}
}

func (c *Client) handleExecutionMessage(msgType wire.MessageType, body []byte) {
	switch msgType {
	case wire.Error:
		if len(body) < 4 {
			return
		}
		clientOrderID := be32(body[0:4])
		text := trimNUL(body[4:])
		c.handler.OnError(clientOrderID, text)
	case wire.OrderStatus:
		if len(body) < 16 {
			return
		}
		c.handler.OnOrderStatus(be32(body[0:4]), be32(body[4:8]), be32(body[8:12]), int32(be32(body[12:16])))
	case wire.PositionChange:
		if len(body) < 8 {
			return
		}
		c.handler.OnPositionChange(int32(be32(body[0:4])), int32(be32(body[4:8])))
	default:
		log.Error().Uint8("type", uint8(msgType)).Msg("received invalid execution message")
	}
}

func (c *Client) readInformationLoop() {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, _, err := c.infoConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				log.Error().Err(err).Msg("information channel read error")
				return
			}
		}

		length, msgType, err := wire.ReadHeader(buf[:n])
		if err != nil || int(length) != n {
			log.Error().Msg("received malformed datagram")
			continue
		}

		switch msgType {
		case wire.OrderBookUpdate:
			c.handleOrderBookUpdate(buf[wire.HeaderSize:n])
		case wire.TradeTicks:
			c.handleTradeTicks(buf[wire.HeaderSize:n])
		default:
			log.Error().Uint8("type", uint8(msgType)).Msg("received invalid information message")
		}
	}
}

func (c *Client) handleOrderBookUpdate(body []byte) {
	if len(body) < 5+4*4*common.TopLevelCount {
		return
	}
	instrument := common.Instrument(body[0])
	sequenceNumber := be32(body[1:5])

	off := 5
	var askPrices, askVolumes, bidPrices, bidVolumes [common.TopLevelCount]uint32
	for i := 0; i < common.TopLevelCount; i++ {
		askPrices[i] = be32(body[off : off+4])
		off += 4
	}
	for i := 0; i < common.TopLevelCount; i++ {
		askVolumes[i] = be32(body[off : off+4])
		off += 4
	}
	for i := 0; i < common.TopLevelCount; i++ {
		bidPrices[i] = be32(body[off : off+4])
		off += 4
	}
	for i := 0; i < common.TopLevelCount; i++ {
		bidVolumes[i] = be32(body[off : off+4])
		off += 4
	}

	c.handler.OnOrderBookUpdate(instrument, sequenceNumber, askPrices, askVolumes, bidPrices, bidVolumes)
}

func (c *Client) handleTradeTicks(body []byte) {
	if len(body) < 1 {
		return
	}
	instrument := common.Instrument(body[0])
	rest := body[1:]

	n := len(rest) / 8
	prices := make([]uint32, n)
	volumes := make([]uint32, n)
	for i := 0; i < n; i++ {
		prices[i] = be32(rest[i*8 : i*8+4])
		volumes[i] = be32(rest[i*8+4 : i*8+8])
	}

	c.handler.OnTradeTicks(instrument, prices, volumes)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func trimNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
