// Package alert fans critical engine events out to operator channels.
package alert

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

// Payload is one operator notification.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one destination.
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager dispatches alerts to all registered channels. Delivery is
// asynchronous; alerting must never sit on the trading path.
type Manager struct {
	channels []Channel
	logger   core.ILogger
	mu       sync.RWMutex
}

// NewManager creates an empty alert manager.
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert dispatches one notification to every channel.
func (m *Manager) Alert(ctx context.Context, title, message string, level Level, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.logger.Info("Triggering alert", "title", title, "level", level)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		go func(c Channel) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
