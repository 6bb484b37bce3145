// Package wire implements the big-endian binary framing used on both the
// execution (TCP) and information (UDP) channels: a fixed two-byte length
// and one-byte type header followed by a fixed-layout body per message
// type.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/wilsonhou/matchcore/internal/common"
)

// MessageType identifies the body layout that follows the header.
type MessageType uint8

const (
	AmendOrder      MessageType = 1
	CancelOrder     MessageType = 2
	Error           MessageType = 3
	InsertOrder     MessageType = 4
	Login           MessageType = 5
	OrderBookUpdate MessageType = 6
	OrderStatus     MessageType = 7
	PositionChange  MessageType = 8
	TradeTicks      MessageType = 10
)

const (
	// HeaderSize is the length of the common uint16-length/uint8-type
	// prefix on every message.
	HeaderSize = 3

	loginNameSize  = 20
	errorTextSize  = 50
	loginSecretSize = 50

	// MaxDatagramSize is the largest UDP payload the information channel
	// will ever emit; trade-tick messages are truncated to fit within it.
	MaxDatagramSize = 508
)

// ErrTruncated is returned by decoders when a buffer is shorter than the
// message's declared fixed layout requires.
var ErrTruncated = errors.New("wire: message truncated")

// PutHeader writes the 3-byte length/type header into buf[0:3]. length is
// the total message size, header included.
func PutHeader(buf []byte, length uint16, msgType MessageType) {
	binary.BigEndian.PutUint16(buf[0:2], length)
	buf[2] = byte(msgType)
}

// ReadHeader parses the 3-byte header from the start of buf.
func ReadHeader(buf []byte) (length uint16, msgType MessageType, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, ErrTruncated
	}
	return binary.BigEndian.Uint16(buf[0:2]), MessageType(buf[2]), nil
}

// --- Auto-trader -> exchange messages (execution channel) ---

// AmendOrderMessage is "client order id, new volume".
type AmendOrderMessage struct {
	ClientOrderID uint32
	Volume        uint32
}

const amendBodySize = 8

func (m AmendOrderMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+amendBodySize)
	PutHeader(buf, uint16(len(buf)), AmendOrder)
	binary.BigEndian.PutUint32(buf[3:7], m.ClientOrderID)
	binary.BigEndian.PutUint32(buf[7:11], m.Volume)
	return buf
}

func DecodeAmendOrder(body []byte) (AmendOrderMessage, error) {
	if len(body) < amendBodySize {
		return AmendOrderMessage{}, ErrTruncated
	}
	return AmendOrderMessage{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		Volume:        binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// CancelOrderMessage is "client order id".
type CancelOrderMessage struct {
	ClientOrderID uint32
}

const cancelBodySize = 4

func (m CancelOrderMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+cancelBodySize)
	PutHeader(buf, uint16(len(buf)), CancelOrder)
	binary.BigEndian.PutUint32(buf[3:7], m.ClientOrderID)
	return buf
}

func DecodeCancelOrder(body []byte) (CancelOrderMessage, error) {
	if len(body) < cancelBodySize {
		return CancelOrderMessage{}, ErrTruncated
	}
	return CancelOrderMessage{ClientOrderID: binary.BigEndian.Uint32(body[0:4])}, nil
}

// InsertOrderMessage is "client order id, side, price, volume, lifespan".
type InsertOrderMessage struct {
	ClientOrderID uint32
	Side          common.Side
	Price         uint32
	Volume        uint32
	Lifespan      common.Lifespan
}

const insertBodySize = 14

func (m InsertOrderMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+insertBodySize)
	PutHeader(buf, uint16(len(buf)), InsertOrder)
	binary.BigEndian.PutUint32(buf[3:7], m.ClientOrderID)
	buf[7] = byte(m.Side)
	binary.BigEndian.PutUint32(buf[8:12], m.Price)
	binary.BigEndian.PutUint32(buf[12:16], m.Volume)
	buf[16] = byte(m.Lifespan)
	return buf
}

func DecodeInsertOrder(body []byte) (InsertOrderMessage, error) {
	if len(body) < insertBodySize {
		return InsertOrderMessage{}, ErrTruncated
	}
	return InsertOrderMessage{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		Side:          common.Side(body[4]),
		Price:         binary.BigEndian.Uint32(body[5:9]),
		Volume:        binary.BigEndian.Uint32(body[9:13]),
		Lifespan:      common.Lifespan(body[13]),
	}, nil
}

// LoginMessage is "name, secret" as fixed-width NUL-padded strings.
type LoginMessage struct {
	Name   string
	Secret string
}

const loginBodySize = loginNameSize + loginSecretSize

func (m LoginMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+loginBodySize)
	PutHeader(buf, uint16(len(buf)), Login)
	putFixedString(buf[3:3+loginNameSize], m.Name)
	putFixedString(buf[3+loginNameSize:], m.Secret)
	return buf
}

func DecodeLogin(body []byte) (LoginMessage, error) {
	if len(body) < loginBodySize {
		return LoginMessage{}, ErrTruncated
	}
	return LoginMessage{
		Name:   readFixedString(body[0:loginNameSize]),
		Secret: readFixedString(body[loginNameSize : loginNameSize+loginSecretSize]),
	}, nil
}

// --- Exchange -> auto-trader messages (execution channel) ---

// ErrorMessage is "client order id, message text".
type ErrorMessage struct {
	ClientOrderID uint32
	Text          string
}

const errorBodySize = 4 + errorTextSize

func (m ErrorMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+errorBodySize)
	PutHeader(buf, uint16(len(buf)), Error)
	binary.BigEndian.PutUint32(buf[3:7], m.ClientOrderID)
	putFixedString(buf[7:], m.Text)
	return buf
}

// OrderStatusMessage is "client order id, fill volume, remaining volume,
// fees".
type OrderStatusMessage struct {
	ClientOrderID   uint32
	FillVolume      uint32
	RemainingVolume uint32
	Fees            int32
}

const orderStatusBodySize = 16

func (m OrderStatusMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+orderStatusBodySize)
	PutHeader(buf, uint16(len(buf)), OrderStatus)
	binary.BigEndian.PutUint32(buf[3:7], m.ClientOrderID)
	binary.BigEndian.PutUint32(buf[7:11], m.FillVolume)
	binary.BigEndian.PutUint32(buf[11:15], m.RemainingVolume)
	binary.BigEndian.PutUint32(buf[15:19], uint32(m.Fees))
	return buf
}

// PositionChangeMessage is "future position, etf position".
type PositionChangeMessage struct {
	FuturePosition int32
	EtfPosition    int32
}

const positionChangeBodySize = 8

func (m PositionChangeMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+positionChangeBodySize)
	PutHeader(buf, uint16(len(buf)), PositionChange)
	binary.BigEndian.PutUint32(buf[3:7], uint32(m.FuturePosition))
	binary.BigEndian.PutUint32(buf[7:11], uint32(m.EtfPosition))
	return buf
}

// --- Information channel (UDP) messages ---

const orderBookHeaderBodySize = 5
const orderBookLevelsBodySize = 4 * 4 * common.TopLevelCount

func EncodeOrderBook(instrument common.Instrument, sequenceNumber uint32, askPrices, askVolumes, bidPrices, bidVolumes [common.TopLevelCount]uint32) []byte {
	size := HeaderSize + orderBookHeaderBodySize + orderBookLevelsBodySize
	buf := make([]byte, size)
	PutHeader(buf, uint16(size), OrderBookUpdate)
	buf[3] = byte(instrument)
	binary.BigEndian.PutUint32(buf[4:8], sequenceNumber)

	off := 8
	for i := 0; i < common.TopLevelCount; i++ {
		binary.BigEndian.PutUint32(buf[off:off+4], askPrices[i])
		off += 4
	}
	for i := 0; i < common.TopLevelCount; i++ {
		binary.BigEndian.PutUint32(buf[off:off+4], askVolumes[i])
		off += 4
	}
	for i := 0; i < common.TopLevelCount; i++ {
		binary.BigEndian.PutUint32(buf[off:off+4], bidPrices[i])
		off += 4
	}
	for i := 0; i < common.TopLevelCount; i++ {
		binary.BigEndian.PutUint32(buf[off:off+4], bidVolumes[i])
		off += 4
	}
	return buf
}

// EncodeTradeTicks builds a trade-tick datagram, truncating the number of
// ticks included so the datagram never exceeds MaxDatagramSize.
func EncodeTradeTicks(instrument common.Instrument, prices, volumes []uint32) []byte {
	maxTicks := (MaxDatagramSize - HeaderSize - 1) / 8
	n := len(prices)
	if n > maxTicks {
		n = maxTicks
	}

	size := HeaderSize + 1 + n*8
	buf := make([]byte, size)
	PutHeader(buf, uint16(size), TradeTicks)
	buf[3] = byte(instrument)

	off := 4
	for i := 0; i < n; i++ {
		binary.BigEndian.PutUint32(buf[off:off+4], prices[i])
		binary.BigEndian.PutUint32(buf[off+4:off+8], volumes[i])
		off += 8
	}
	return buf
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func readFixedString(src []byte) string {
	i := 0
	for i < len(src) && src[i] != 0 {
		i++
	}
	return string(src[:i])
}
