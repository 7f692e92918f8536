// Package tickdata implements binary tick capture and replay.
//
// File layout: a 32-byte header followed by fixed-size 88-byte records, all
// big-endian. The header CRC32 covers the raw record bytes.
package tickdata

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"options_engine/internal/core"
)

const (
	// FileMagic spells "TICKFILE".
	FileMagic    uint64 = 0x5449434B46494C45
	FileVersion  uint32 = 1
	HeaderSize          = 32
	RecordSize          = 88
)

// Header is the tick file preamble.
type Header struct {
	Magic     uint64
	Version   uint32
	TickCount uint32
	CreatedAt time.Time
	CRC32     uint32
}

// EncodeHeader writes the 32-byte header.
func EncodeHeader(w io.Writer, h *Header) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], h.Magic)
	binary.BigEndian.PutUint32(buf[8:12], h.Version)
	binary.BigEndian.PutUint32(buf[12:16], h.TickCount)
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.CreatedAt.UnixMilli()))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.CRC32))
	_, err := w.Write(buf[:])
	return err
}

// DecodeHeader reads and validates the 32-byte header.
func DecodeHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint64(buf[0:8]),
		Version:   binary.BigEndian.Uint32(buf[8:12]),
		TickCount: binary.BigEndian.Uint32(buf[12:16]),
		CreatedAt: time.UnixMilli(int64(binary.BigEndian.Uint64(buf[16:24]))),
		CRC32:     uint32(binary.BigEndian.Uint64(buf[24:32])),
	}
	if h.Magic != FileMagic {
		return nil, fmt.Errorf("bad magic: 0x%016X", h.Magic)
	}
	if h.Version != FileVersion {
		return nil, fmt.Errorf("unsupported version: %d", h.Version)
	}
	return h, nil
}

// EncodeRecord serializes one tick into its 88-byte record.
func EncodeRecord(tick *core.Tick) [RecordSize]byte {
	var buf [RecordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(tick.Timestamp.UnixMilli()))
	binary.BigEndian.PutUint64(buf[8:16], tick.InstrumentToken)
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(tick.LastPrice))
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(tick.Open))
	binary.BigEndian.PutUint64(buf[32:40], math.Float64bits(tick.High))
	binary.BigEndian.PutUint64(buf[40:48], math.Float64bits(tick.Low))
	binary.BigEndian.PutUint64(buf[48:56], math.Float64bits(tick.Close))
	binary.BigEndian.PutUint64(buf[56:64], tick.Volume)
	binary.BigEndian.PutUint64(buf[64:72], math.Float64bits(tick.OI))
	binary.BigEndian.PutUint64(buf[72:80], math.Float64bits(tick.OIChange))
	binary.BigEndian.PutUint64(buf[80:88], uint64(tick.ReceivedAt.UnixNano()))
	return buf
}

// DecodeRecord deserializes one 88-byte record.
func DecodeRecord(buf []byte) (core.Tick, error) {
	if len(buf) < RecordSize {
		return core.Tick{}, fmt.Errorf("short record: %d bytes", len(buf))
	}
	return core.Tick{
		Timestamp:       time.UnixMilli(int64(binary.BigEndian.Uint64(buf[0:8]))),
		InstrumentToken: binary.BigEndian.Uint64(buf[8:16]),
		LastPrice:       math.Float64frombits(binary.BigEndian.Uint64(buf[16:24])),
		Open:            math.Float64frombits(binary.BigEndian.Uint64(buf[24:32])),
		High:            math.Float64frombits(binary.BigEndian.Uint64(buf[32:40])),
		Low:             math.Float64frombits(binary.BigEndian.Uint64(buf[40:48])),
		Close:           math.Float64frombits(binary.BigEndian.Uint64(buf[48:56])),
		Volume:          binary.BigEndian.Uint64(buf[56:64]),
		OI:              math.Float64frombits(binary.BigEndian.Uint64(buf[64:72])),
		OIChange:        math.Float64frombits(binary.BigEndian.Uint64(buf[72:80])),
		ReceivedAt:      time.Unix(0, int64(binary.BigEndian.Uint64(buf[80:88]))),
	}, nil
}

// NewCRC returns the checksum accumulator used for record bytes.
func NewCRC() *CRCAccumulator {
	return &CRCAccumulator{table: crc32.IEEETable}
}

// CRCAccumulator folds record bytes into a running IEEE CRC32.
type CRCAccumulator struct {
	table *crc32.Table
	sum   uint32
}

// Update folds more bytes into the checksum.
func (c *CRCAccumulator) Update(p []byte) {
	c.sum = crc32.Update(c.sum, c.table, p)
}

// Sum returns the current checksum.
func (c *CRCAccumulator) Sum() uint32 { return c.sum }

// FileName returns the canonical file name for a capture day.
func FileName(day time.Time) string {
	return "ticks-" + day.Format("2006-01-02") + ".bin"
}
