package kite

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
)

func streamFixture(onUpdateFn func(core.OrderUpdate)) (*Stream, *mock.Bus) {
	bus := mock.NewBus()
	s := &Stream{
		bus:        bus,
		updates:    &onUpdate{fn: onUpdateFn},
		logger:     mock.NewLogger(),
		subscribed: make(map[uint64]struct{}),
	}
	return s, bus
}

// ltpPacket builds the 8-byte last-price packet; prices go on the wire in
// paise.
func ltpPacket(token uint32, ltpPaise int32) []byte {
	p := make([]byte, packetLTP)
	binary.BigEndian.PutUint32(p[0:4], token)
	binary.BigEndian.PutUint32(p[4:8], uint32(ltpPaise))
	return p
}

func quotePacket(token uint32, ltp, volume, open, high, low, closing uint32) []byte {
	p := make([]byte, packetQuote)
	binary.BigEndian.PutUint32(p[0:4], token)
	binary.BigEndian.PutUint32(p[4:8], ltp)
	binary.BigEndian.PutUint32(p[16:20], volume)
	binary.BigEndian.PutUint32(p[28:32], open)
	binary.BigEndian.PutUint32(p[32:36], high)
	binary.BigEndian.PutUint32(p[36:40], low)
	binary.BigEndian.PutUint32(p[40:44], closing)
	return p
}

func frame(packets ...[]byte) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(len(packets)))
	for _, p := range packets {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(p)))
		out = append(out, l[:]...)
		out = append(out, p...)
	}
	return out
}

func TestHandleBinaryLTPPacket(t *testing.T) {
	s, bus := streamFixture(nil)

	s.handleBinary(frame(ltpPacket(256265, 10235)))

	events := bus.TickEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "live", events[0].Source)
	assert.Equal(t, uint64(256265), events[0].Tick.InstrumentToken)
	assert.Equal(t, 102.35, events[0].Tick.LastPrice)
}

func TestHandleBinaryQuotePacket(t *testing.T) {
	s, bus := streamFixture(nil)

	s.handleBinary(frame(quotePacket(12345, 10235, 184220, 10100, 10300, 10050, 10200)))

	events := bus.TickEvents()
	require.Len(t, events, 1)
	tick := events[0].Tick
	assert.Equal(t, uint64(184220), tick.Volume)
	assert.Equal(t, 101.00, tick.Open)
	assert.Equal(t, 103.00, tick.High)
	assert.Equal(t, 100.50, tick.Low)
	assert.Equal(t, 102.00, tick.Close)
}

func TestHandleBinaryFullPacket(t *testing.T) {
	s, bus := streamFixture(nil)

	p := make([]byte, packetFull)
	copy(p, ltpPacket(12345, 10235))
	binary.BigEndian.PutUint32(p[48:52], 1250000) // oi
	binary.BigEndian.PutUint32(p[52:56], 1260000) // day high oi
	binary.BigEndian.PutUint32(p[56:60], 1240000) // day low oi
	ts := time.Date(2026, 2, 2, 10, 15, 30, 0, time.UTC)
	binary.BigEndian.PutUint32(p[60:64], uint32(ts.Unix()))

	s.handleBinary(frame(p))

	events := bus.TickEvents()
	require.Len(t, events, 1)
	tick := events[0].Tick
	assert.Equal(t, float64(1250000), tick.OI)
	assert.Equal(t, float64(20000), tick.OIChange)
	assert.Equal(t, ts.Unix(), tick.Timestamp.Unix())
}

func TestHandleBinaryMultiplePackets(t *testing.T) {
	s, bus := streamFixture(nil)

	s.handleBinary(frame(ltpPacket(1, 100), ltpPacket(2, 200), ltpPacket(3, 300)))
	assert.Len(t, bus.TickEvents(), 3)
}

func TestHandleBinaryHeartbeatIgnored(t *testing.T) {
	s, bus := streamFixture(nil)

	s.handleBinary([]byte{0})
	assert.Empty(t, bus.TickEvents())
}

func TestHandleBinaryTruncatedFrame(t *testing.T) {
	s, bus := streamFixture(nil)

	// Count says two packets but the frame ends after the first.
	f := frame(ltpPacket(1, 100))
	binary.BigEndian.PutUint16(f[0:2], 2)
	s.handleBinary(f)
	assert.Len(t, bus.TickEvents(), 1, "the complete packet still goes through")
}

func TestHandleTextOrderPostback(t *testing.T) {
	var got core.OrderUpdate
	s, _ := streamFixture(func(u core.OrderUpdate) { got = u })

	s.handleText([]byte(`{
		"type": "order",
		"data": {
			"order_id": "151220000000000",
			"status": "COMPLETE",
			"status_message": "",
			"filled_quantity": "50",
			"average_price": "102.35",
			"order_timestamp": "2026-02-02 10:15:30"
		}
	}`))

	assert.Equal(t, "151220000000000", got.BrokerOrderID)
	assert.Equal(t, "COMPLETE", got.Status)
	assert.Equal(t, int64(50), got.FilledQuantity)
	assert.True(t, got.AveragePrice.Equal(decimal.NewFromFloat(102.35)))
	assert.Equal(t, 2026, got.Timestamp.Year())
}

func TestHandleTextNonOrderFrameIgnored(t *testing.T) {
	called := false
	s, _ := streamFixture(func(u core.OrderUpdate) { called = true })

	s.handleText([]byte(`{"type":"message","data":{}}`))
	s.handleText([]byte(`not json`))
	assert.False(t, called)
}
