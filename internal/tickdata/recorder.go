package tickdata

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"options_engine/internal/core"
)

// RecorderConfig tunes the capture behavior.
type RecorderConfig struct {
	Directory          string
	FlushThreshold     int
	FlushInterval      time.Duration
	CompressAfterClose bool
}

// Recorder captures live ticks into the day's binary file. Only ticks seen
// during the NORMAL market phase are recorded; on phase CLOSED the file is
// finalized and optionally gzipped.
type Recorder struct {
	cfg      RecorderConfig
	calendar core.ICalendar
	logger   core.ILogger

	mu        sync.Mutex
	buffer    []core.Tick
	file      *os.File
	filePath  string
	crc       *CRCAccumulator
	count     uint32
	createdAt time.Time
	finalized bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder and subscribes it to the tick stream.
func NewRecorder(cfg RecorderConfig, calendar core.ICalendar, bus core.IEventBus, logger core.ILogger) *Recorder {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		cfg:      cfg,
		calendar: calendar,
		logger:   logger.WithField("component", "tick_recorder"),
		ctx:      ctx,
		cancel:   cancel,
	}
	bus.SubscribeTicks(r.onTick)
	return r
}

// Start launches the periodic flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.logger.Info("Starting tick recorder",
		"directory", r.cfg.Directory,
		"flush_threshold", r.cfg.FlushThreshold,
		"flush_interval", r.cfg.FlushInterval.String())
	r.wg.Add(1)
	go r.flushLoop()
	return nil
}

// Stop flushes what is buffered and finalizes the file.
func (r *Recorder) Stop() error {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		r.logger.Error("Final flush failed", "error", err.Error())
	}
	return r.finalizeLocked()
}

func (r *Recorder) onTick(e core.TickEvent) {
	// Replayed ticks must never be re-recorded.
	if e.Source != "live" {
		return
	}

	now := r.calendar.Now()
	phase := r.calendar.Phase(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	if phase == core.PhaseClosed {
		// Session over: flush the tail and close out the file.
		if err := r.flushLocked(); err != nil {
			r.logger.Error("Closing flush failed", "error", err.Error())
		}
		if err := r.finalizeLocked(); err != nil {
			r.logger.Error("File finalize failed", "error", err.Error())
		}
		return
	}
	if phase != core.PhaseNormal {
		return
	}

	r.buffer = append(r.buffer, e.Tick)
	if len(r.buffer) >= r.cfg.FlushThreshold {
		if err := r.flushLocked(); err != nil {
			r.logger.Error("Threshold flush failed", "error", err.Error())
		}
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if err := r.flushLocked(); err != nil {
				r.logger.Error("Timed flush failed", "error", err.Error())
			}
			r.mu.Unlock()
		}
	}
}

// flushLocked appends the buffer to the day file and rewrites the header
// with the updated count and checksum.
func (r *Recorder) flushLocked() error {
	if len(r.buffer) == 0 {
		return nil
	}
	if r.file == nil {
		if err := r.openLocked(); err != nil {
			return err
		}
	}

	for i := range r.buffer {
		rec := EncodeRecord(&r.buffer[i])
		if _, err := r.file.Write(rec[:]); err != nil {
			return err
		}
		r.crc.Update(rec[:])
		r.count++
	}
	flushed := len(r.buffer)
	r.buffer = r.buffer[:0]

	if err := r.rewriteHeaderLocked(); err != nil {
		return err
	}
	r.logger.Debug("Flushed ticks", "count", flushed, "total", r.count)
	return nil
}

func (r *Recorder) openLocked() error {
	if err := os.MkdirAll(r.cfg.Directory, 0o755); err != nil {
		return err
	}

	r.createdAt = r.calendar.Now()
	r.filePath = filepath.Join(r.cfg.Directory, FileName(r.createdAt))
	f, err := os.OpenFile(r.filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.crc = NewCRC()
	r.count = 0

	// Pre-allocate the header; each flush rewrites it in place.
	if err := r.rewriteHeaderLocked(); err != nil {
		return err
	}
	if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
		return err
	}
	r.logger.Info("Tick file opened", "path", r.filePath)
	return nil
}

func (r *Recorder) rewriteHeaderLocked() error {
	pos, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := Header{
		Magic:     FileMagic,
		Version:   FileVersion,
		TickCount: r.count,
		CreatedAt: r.createdAt,
		CRC32:     r.crc.Sum(),
	}
	if err := EncodeHeader(r.file, &h); err != nil {
		return err
	}
	if pos < HeaderSize {
		pos = HeaderSize
	}
	_, err = r.file.Seek(pos, io.SeekStart)
	return err
}

// finalizeLocked closes the file and optionally gzips it.
func (r *Recorder) finalizeLocked() error {
	if r.file == nil || r.finalized {
		r.finalized = true
		return nil
	}
	r.finalized = true

	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil
	r.logger.Info("Tick file finalized", "path", r.filePath, "ticks", r.count)

	if !r.cfg.CompressAfterClose {
		return nil
	}
	if err := gzipFile(r.filePath); err != nil {
		r.logger.Error("Tick file compression failed", "path", r.filePath, "error", err.Error())
		return err
	}
	r.logger.Info("Tick file compressed", "path", r.filePath+".gz")
	return nil
}

// gzipFile writes path.gz and removes the original on success.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)

	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
