package tickdata

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
)

func sampleTick() core.Tick {
	return core.Tick{
		Timestamp:       time.Date(2026, 2, 2, 10, 15, 30, 250_000_000, time.UTC),
		InstrumentToken: 256265,
		LastPrice:       23415.35,
		Open:            23390.10,
		High:            23460.00,
		Low:             23312.45,
		Close:           23401.95,
		Volume:          184_220,
		OI:              1_250_000,
		OIChange:        -3_400,
		ReceivedAt:      time.Date(2026, 2, 2, 10, 15, 30, 251_700_000, time.UTC),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	in := sampleTick()
	buf := EncodeRecord(&in)

	out, err := DecodeRecord(buf[:])
	require.NoError(t, err)

	assert.Equal(t, in.Timestamp.UnixMilli(), out.Timestamp.UnixMilli())
	assert.Equal(t, in.InstrumentToken, out.InstrumentToken)
	assert.Equal(t, in.LastPrice, out.LastPrice)
	assert.Equal(t, in.Open, out.Open)
	assert.Equal(t, in.High, out.High)
	assert.Equal(t, in.Low, out.Low)
	assert.Equal(t, in.Close, out.Close)
	assert.Equal(t, in.Volume, out.Volume)
	assert.Equal(t, in.OI, out.OI)
	assert.Equal(t, in.OIChange, out.OIChange)
	assert.Equal(t, in.ReceivedAt.UnixNano(), out.ReceivedAt.UnixNano())

	// Re-encoding the decoded tick must reproduce the exact bytes.
	again := EncodeRecord(&out)
	assert.Equal(t, buf, again)
}

func TestRecordShortBuffer(t *testing.T) {
	_, err := DecodeRecord(make([]byte, RecordSize-1))
	assert.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Header{
		Magic:     FileMagic,
		Version:   FileVersion,
		TickCount: 4821,
		CreatedAt: time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC),
		CRC32:     0xDEADBEEF,
	}
	require.NoError(t, EncodeHeader(&buf, &in))
	assert.Equal(t, HeaderSize, buf.Len())

	out, err := DecodeHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.TickCount, out.TickCount)
	assert.Equal(t, in.CRC32, out.CRC32)
	assert.Equal(t, in.CreatedAt.UnixMilli(), out.CreatedAt.UnixMilli())
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeHeader(&buf, &Header{Magic: 0x1111, Version: FileVersion}))
	_, err := DecodeHeader(&buf)
	assert.Error(t, err)
}

func TestHeaderRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeHeader(&buf, &Header{Magic: FileMagic, Version: 99}))
	_, err := DecodeHeader(&buf)
	assert.Error(t, err)
}

func TestCRCAccumulator(t *testing.T) {
	tick := sampleTick()
	rec := EncodeRecord(&tick)

	c1 := NewCRC()
	c1.Update(rec[:])
	c1.Update(rec[:])

	// Feeding the same bytes in one call yields the same running sum.
	c2 := NewCRC()
	both := append(append([]byte{}, rec[:]...), rec[:]...)
	c2.Update(both)
	assert.Equal(t, c2.Sum(), c1.Sum())
	assert.NotZero(t, c1.Sum())
}

func TestFileName(t *testing.T) {
	day := time.Date(2026, 2, 2, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, "ticks-2026-02-02.bin", FileName(day))
}
