package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wilsonhou/matchcore/internal/common"
)

func TestInsertOrderRoundTrip(t *testing.T) {
	msg := InsertOrderMessage{ClientOrderID: 42, Side: common.Buy, Price: 10050, Volume: 7, Lifespan: common.GoodForDay}
	encoded := msg.Encode()

	length, msgType, err := ReadHeader(encoded)
	assert.NoError(t, err)
	assert.Equal(t, InsertOrder, msgType)
	assert.Equal(t, int(length), len(encoded))

	decoded, err := DecodeInsertOrder(encoded[HeaderSize:])
	assert.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestAmendOrderRoundTrip(t *testing.T) {
	msg := AmendOrderMessage{ClientOrderID: 7, Volume: 3}
	encoded := msg.Encode()

	decoded, err := DecodeAmendOrder(encoded[HeaderSize:])
	assert.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestLoginRoundTripTrimsNUL(t *testing.T) {
	msg := LoginMessage{Name: "team-alpha", Secret: "s3cret"}
	encoded := msg.Encode()

	decoded, err := DecodeLogin(encoded[HeaderSize:])
	assert.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestEncodeTradeTicksTruncatesToFitDatagram(t *testing.T) {
	n := 100
	prices := make([]uint32, n)
	volumes := make([]uint32, n)
	for i := range prices {
		prices[i] = uint32(10000 + i)
		volumes[i] = uint32(i + 1)
	}

	buf := EncodeTradeTicks(common.ETF, prices, volumes)
	assert.LessOrEqual(t, len(buf), MaxDatagramSize)
}

func TestDecodeTruncatedBufferReturnsError(t *testing.T) {
	_, err := DecodeCancelOrder([]byte{0, 1})
	assert.ErrorIs(t, err, ErrTruncated)
}
