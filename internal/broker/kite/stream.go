package kite

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"options_engine/internal/core"
	"options_engine/pkg/websocket"

	gorilla "github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	packetLTP   = 8
	packetQuote = 44
	packetFull  = 184
)

// Stream consumes the Kite streaming feed: binary frames carry tick packets,
// text frames carry JSON order postbacks. It doubles as the upstream half of
// the subscription manager; add/remove lists from Subscribe translate into
// feed messages here.
type Stream struct {
	ws      *websocket.Client
	bus     core.IEventBus
	updates *onUpdate
	logger  core.ILogger

	mu         sync.Mutex
	subscribed map[uint64]struct{}
}

type onUpdate struct {
	fn func(core.OrderUpdate)
}

// NewStream builds the streaming client. streamURL is the base wss endpoint;
// credentials ride in the query string per the feed contract.
func NewStream(streamURL, apiKey, accessToken string, bus core.IEventBus, onOrderUpdate func(core.OrderUpdate), logger core.ILogger) *Stream {
	s := &Stream{
		bus:        bus,
		updates:    &onUpdate{fn: onOrderUpdate},
		logger:     logger.WithField("component", "kite_stream"),
		subscribed: make(map[uint64]struct{}),
	}

	url := fmt.Sprintf("%s?api_key=%s&access_token=%s", streamURL, apiKey, accessToken)
	s.ws = websocket.NewClient(url, nil, s.onMessage, s.logger)
	s.ws.SetOnConnected(s.onConnected)
	return s
}

// Start opens the feed connection.
func (s *Stream) Start() { s.ws.Start() }

// Stop closes the feed connection.
func (s *Stream) Stop() { s.ws.Stop() }

// AddTokens subscribes instrument tokens on the feed in full mode.
func (s *Stream) AddTokens(tokens []uint64) error {
	if len(tokens) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, t := range tokens {
		s.subscribed[t] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.ws.Send(map[string]interface{}{"a": "subscribe", "v": tokens}); err != nil {
		return err
	}
	return s.ws.Send(map[string]interface{}{"a": "mode", "v": []interface{}{"full", tokens}})
}

// RemoveTokens unsubscribes instrument tokens from the feed.
func (s *Stream) RemoveTokens(tokens []uint64) error {
	if len(tokens) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, t := range tokens {
		delete(s.subscribed, t)
	}
	s.mu.Unlock()
	return s.ws.Send(map[string]interface{}{"a": "unsubscribe", "v": tokens})
}

// onConnected re-subscribes the active set after a reconnect.
func (s *Stream) onConnected() {
	s.mu.Lock()
	tokens := make([]uint64, 0, len(s.subscribed))
	for t := range s.subscribed {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()

	if len(tokens) == 0 {
		return
	}
	s.logger.Info("Feed connected, restoring subscriptions", "tokens", len(tokens))
	if err := s.ws.Send(map[string]interface{}{"a": "subscribe", "v": tokens}); err != nil {
		s.logger.Error("Subscription restore failed", "error", err.Error())
	}
	_ = s.ws.Send(map[string]interface{}{"a": "mode", "v": []interface{}{"full", tokens}})
}

func (s *Stream) onMessage(messageType int, message []byte) {
	switch messageType {
	case gorilla.BinaryMessage:
		s.handleBinary(message)
	case gorilla.TextMessage:
		s.handleText(message)
	}
}

// handleBinary splits a frame into tick packets: u16 packet count, then per
// packet a u16 length prefix. All integers are big-endian; prices arrive in
// paise.
func (s *Stream) handleBinary(frame []byte) {
	if len(frame) < 2 {
		// Single-byte heartbeat frame.
		return
	}
	count := int(binary.BigEndian.Uint16(frame[0:2]))
	offset := 2

	for i := 0; i < count; i++ {
		if offset+2 > len(frame) {
			return
		}
		length := int(binary.BigEndian.Uint16(frame[offset : offset+2]))
		offset += 2
		if offset+length > len(frame) {
			return
		}
		if tick, ok := parsePacket(frame[offset : offset+length]); ok {
			s.bus.PublishTick(core.TickEvent{Tick: tick, Source: "live"})
		}
		offset += length
	}
}

func parsePacket(p []byte) (core.Tick, bool) {
	if len(p) < packetLTP {
		return core.Tick{}, false
	}

	u32 := func(off int) uint32 { return binary.BigEndian.Uint32(p[off : off+4]) }
	price := func(off int) float64 { return float64(int32(u32(off))) / 100 }

	tick := core.Tick{
		InstrumentToken: uint64(u32(0)),
		LastPrice:       price(4),
		ReceivedAt:      time.Now(),
		Timestamp:       time.Now(),
	}

	if len(p) >= packetQuote {
		tick.Volume = uint64(u32(16))
		tick.Open = price(28)
		tick.High = price(32)
		tick.Low = price(36)
		tick.Close = price(40)
	}
	if len(p) >= packetFull {
		oi := float64(int32(u32(48)))
		oiHigh := float64(int32(u32(52)))
		oiLow := float64(int32(u32(56)))
		tick.OI = oi
		tick.OIChange = oiHigh - oiLow
		tick.Timestamp = time.Unix(int64(u32(60)), 0)
	}
	return tick, true
}

// postback is the JSON order update frame.
type postback struct {
	Type string `json:"type"`
	Data struct {
		OrderID        string `json:"order_id"`
		Status         string `json:"status"`
		StatusMessage  string `json:"status_message"`
		FilledQuantity string `json:"filled_quantity"`
		AveragePrice   string `json:"average_price"`
		OrderTimestamp string `json:"order_timestamp"`
	} `json:"data"`
}

func (s *Stream) handleText(message []byte) {
	var pb postback
	if err := json.Unmarshal(message, &pb); err != nil {
		s.logger.Warn("Unparseable feed text frame", "error", err.Error())
		return
	}
	if pb.Type != "order" || s.updates.fn == nil {
		return
	}

	update := core.OrderUpdate{
		BrokerOrderID: pb.Data.OrderID,
		Status:        pb.Data.Status,
		StatusMessage: pb.Data.StatusMessage,
		Timestamp:     time.Now(),
	}
	// Quantities and prices arrive as strings on the push channel.
	if v, err := strconv.ParseInt(pb.Data.FilledQuantity, 10, 64); err == nil {
		update.FilledQuantity = v
	}
	if d, err := decimal.NewFromString(pb.Data.AveragePrice); err == nil {
		update.AveragePrice = d
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", pb.Data.OrderTimestamp); err == nil {
		update.Timestamp = ts
	}

	s.updates.fn(update)
}
