// Package infochannel broadcasts order-book snapshots and trade ticks to
// every auto-trader over an unreliable UDP socket. Delivery is best-effort
// by design: a dropped datagram is superseded by the next snapshot.
package infochannel

import (
	"net"

	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/common"
	"github.com/wilsonhou/matchcore/internal/wire"
)

// Channel sends order-book and trade-tick datagrams to a fixed multicast or
// broadcast address shared by every competitor.
type Channel struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
}

// New opens a UDP socket bound to localAddr and targeting remoteAddr.
func New(localAddr, remoteAddr string) (*Channel, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}

	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	return &Channel{conn: conn, remoteAddr: raddr}, nil
}

// Close releases the underlying socket.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// SendOrderBookUpdate broadcasts a full top-of-book snapshot for an
// instrument.
func (c *Channel) SendOrderBookUpdate(instrument common.Instrument, sequenceNumber uint32,
	askPrices, askVolumes, bidPrices, bidVolumes [common.TopLevelCount]uint32) {
	buf := wire.EncodeOrderBook(instrument, sequenceNumber, askPrices, askVolumes, bidPrices, bidVolumes)
	if _, err := c.conn.WriteToUDP(buf, c.remoteAddr); err != nil {
		log.Warn().Err(err).Msg("failed to send order book update")
	}
}

// SendTradeTicks broadcasts up to as many (price, volume) ticks as fit in a
// single datagram, dropping the rest silently.
func (c *Channel) SendTradeTicks(instrument common.Instrument, prices, volumes []uint32) {
	buf := wire.EncodeTradeTicks(instrument, prices, volumes)
	if _, err := c.conn.WriteToUDP(buf, c.remoteAddr); err != nil {
		log.Warn().Err(err).Msg("failed to send trade ticks")
	}
}
