package tickdata

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/telemetry"
)

const (
	minSpeed     = 0.5
	maxSpeed     = 10.0
	maxTickDelay = 60 * time.Second
	pauseSpin    = 100 * time.Millisecond
)

// PlayerOptions filter and pace a replay run.
type PlayerOptions struct {
	// Speed multiplies playback pace; clamped to [0.5, 10].
	Speed float64
	// Tokens restricts replay to these instruments; empty means all.
	Tokens []uint64
	// From/To restrict replay to a time window; zero values disable the
	// bound.
	From time.Time
	To   time.Time
}

// Player streams a recorded tick file back onto the event bus. Published
// ticks carry the player's id as their source so consumers can tell replay
// from live data.
type Player struct {
	id     string
	path   string
	mode   core.TradingMode
	bus    core.IEventBus
	logger core.ILogger
	opts   PlayerOptions

	tokenSet map[uint64]struct{}

	speedMilli atomic.Int64
	paused     atomic.Bool
	stopped    atomic.Bool

	wg sync.WaitGroup
}

// NewPlayer creates a replay run over one tick file.
func NewPlayer(id, path string, mode core.TradingMode, opts PlayerOptions, bus core.IEventBus, logger core.ILogger) *Player {
	p := &Player{
		id:     id,
		path:   path,
		mode:   mode,
		bus:    bus,
		logger: logger.WithField("component", "tick_player").WithField("player_id", id),
		opts:   opts,
	}
	if len(opts.Tokens) > 0 {
		p.tokenSet = make(map[uint64]struct{}, len(opts.Tokens))
		for _, t := range opts.Tokens {
			p.tokenSet[t] = struct{}{}
		}
	}
	p.SetSpeed(opts.Speed)
	return p
}

// Start validates the file and begins replay on a worker goroutine. Replay
// into a live trading process is refused.
func (p *Player) Start() error {
	if p.mode == core.ModeLive {
		return apperrors.Validation("mode", "replay is disabled in LIVE mode")
	}

	f, rc, err := openTickFile(p.path)
	if err != nil {
		return err
	}
	header, err := DecodeHeader(rc)
	if err != nil {
		f.Close()
		return err
	}

	p.logger.Info("Replay starting",
		"path", p.path,
		"ticks", header.TickCount,
		"recorded_at", header.CreatedAt.Format(time.RFC3339),
		"speed", p.Speed())

	p.wg.Add(1)
	go p.run(f, rc, header)
	return nil
}

// Stop requests a cooperative stop and waits for the run loop.
func (p *Player) Stop() {
	p.stopped.Store(true)
	p.wg.Wait()
}

// Pause suspends replay; Resume continues it.
func (p *Player) Pause()  { p.paused.Store(true) }
func (p *Player) Resume() { p.paused.Store(false) }

// SetSpeed adjusts the playback multiplier mid-run, clamped to [0.5, 10].
func (p *Player) SetSpeed(speed float64) {
	if speed < minSpeed {
		speed = minSpeed
	}
	if speed > maxSpeed {
		speed = maxSpeed
	}
	p.speedMilli.Store(int64(speed * 1000))
}

// Speed returns the current playback multiplier.
func (p *Player) Speed() float64 {
	return float64(p.speedMilli.Load()) / 1000
}

func (p *Player) run(closer io.Closer, r io.Reader, header *Header) {
	defer p.wg.Done()
	defer closer.Close()
	defer telemetry.GetGlobalMetrics().ClearReplayProgress(p.id)

	var processed uint32
	var prevTimestamp time.Time
	buf := make([]byte, RecordSize)

	for i := uint32(0); i < header.TickCount; i++ {
		if p.stopped.Load() {
			p.logger.Info("Replay stopped", "processed", processed)
			return
		}
		for p.paused.Load() {
			if p.stopped.Load() {
				return
			}
			time.Sleep(pauseSpin)
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			p.logger.Error("Replay read failed", "tick", i, "error", err.Error())
			return
		}
		tick, err := DecodeRecord(buf)
		if err != nil {
			p.logger.Error("Replay decode failed", "tick", i, "error", err.Error())
			return
		}

		// Reproduce the original pacing, scaled by speed and capped so a
		// recording gap never stalls the run for more than a minute.
		if !prevTimestamp.IsZero() {
			delay := tick.Timestamp.Sub(prevTimestamp)
			if delay > 0 {
				scaled := time.Duration(float64(delay) / p.Speed())
				if scaled > maxTickDelay {
					scaled = maxTickDelay
				}
				time.Sleep(scaled)
			}
		}
		prevTimestamp = tick.Timestamp

		if !p.passes(&tick) {
			continue
		}

		p.bus.PublishTick(core.TickEvent{Tick: tick, Source: p.id})
		processed++
		telemetry.GetGlobalMetrics().SetReplayProgress(p.id, float64(processed)/float64(header.TickCount))
		if processed%1000 == 0 {
			p.bus.PublishReplayProgress(core.ReplayProgress{
				PlayerID:  p.id,
				Processed: processed,
				Total:     header.TickCount,
				At:        time.Now(),
			})
		}
	}

	p.bus.PublishReplayComplete(core.ReplayComplete{
		PlayerID:  p.id,
		Processed: processed,
		At:        time.Now(),
	})
	p.logger.Info("Replay complete", "processed", processed, "total", header.TickCount)
}

func (p *Player) passes(tick *core.Tick) bool {
	if p.tokenSet != nil {
		if _, ok := p.tokenSet[tick.InstrumentToken]; !ok {
			return false
		}
	}
	if !p.opts.From.IsZero() && tick.Timestamp.Before(p.opts.From) {
		return false
	}
	if !p.opts.To.IsZero() && tick.Timestamp.After(p.opts.To) {
		return false
	}
	return true
}

// openTickFile opens plain or gzipped tick files.
func openTickFile(path string) (io.Closer, io.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tick file: %w", err)
	}
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return f, zr, nil
	}
	return f, f, nil
}
