package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// errFlushManagerClosed is returned by FlushNow after Shutdown.
var errFlushManagerClosed = errors.New("flush manager shut down")

// shutdownTimeout bounds how long Shutdown waits for the final flush.
const shutdownTimeout = 30 * time.Second

// FlushManager debounces persistence of the graph.
// All flush state is owned by a single background goroutine:
//   - mutations send markDirty events
//   - a debounce timer coalesces bursts into one write
//   - FlushNow forces a synchronous write and waits for it
//   - Shutdown performs the final write and stops the goroutine
//
// Thread-safety: All methods are safe to call from multiple goroutines.
type FlushManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	markDirtyCh  chan struct{}
	timerFiredCh chan struct{}
	flushNowCh   chan chan error
	shutdownCh   chan chan error

	wg sync.WaitGroup

	debounce time.Duration
	flush    func() error
	logger   zerolog.Logger

	shutdownOnce sync.Once
}

// NewFlushManager starts the background goroutine. flush is called only from
// that goroutine. The manager must be stopped via Shutdown.
func NewFlushManager(debounce time.Duration, flush func() error, logger zerolog.Logger) *FlushManager {
	ctx, cancel := context.WithCancel(context.Background())
	fm := &FlushManager{
		ctx:          ctx,
		cancel:       cancel,
		markDirtyCh:  make(chan struct{}, 16),
		timerFiredCh: make(chan struct{}, 1),
		flushNowCh:   make(chan chan error, 1),
		shutdownCh:   make(chan chan error, 1),
		debounce:     debounce,
		flush:        flush,
		logger:       logger,
	}
	fm.wg.Add(1)
	go fm.run()
	return fm
}

// MarkDirty schedules a debounced flush. Calls within the debounce window
// coalesce into one write after the last call.
func (fm *FlushManager) MarkDirty() {
	select {
	case fm.markDirtyCh <- struct{}{}:
	case <-fm.ctx.Done():
	}
}

// FlushNow bypasses the debounce and blocks until the pending write, if any,
// has completed.
func (fm *FlushManager) FlushNow() error {
	if fm.ctx.Err() != nil {
		return errFlushManagerClosed
	}
	responseCh := make(chan error, 1)
	select {
	case fm.flushNowCh <- responseCh:
	case <-fm.ctx.Done():
		return errFlushManagerClosed
	}
	select {
	case err := <-responseCh:
		return err
	case <-fm.ctx.Done():
		return errFlushManagerClosed
	}
}

// Shutdown performs a final flush if dirty and stops the background goroutine.
// Only the first call does work; later calls return nil.
func (fm *FlushManager) Shutdown() error {
	var shutdownErr error
	fm.shutdownOnce.Do(func() {
		responseCh := make(chan error, 1)
		select {
		case fm.shutdownCh <- responseCh:
			shutdownErr = <-responseCh
			fm.wg.Wait()
			fm.cancel()
		case <-time.After(shutdownTimeout):
			fm.cancel()
			shutdownErr = fmt.Errorf("shutdown timeout after %s - final flush may not have completed", shutdownTimeout)
		}
	})
	return shutdownErr
}

func (fm *FlushManager) run() {
	defer fm.wg.Done()

	var (
		isDirty       bool
		debounceTimer *time.Timer
	)
	stopTimer := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
			debounceTimer = nil
		}
	}
	defer stopTimer()

	// drain folds marks that are queued behind a FlushNow or Shutdown
	// request, since select does not order ready channels.
	drain := func() {
		for {
			select {
			case <-fm.markDirtyCh:
				isDirty = true
			default:
				return
			}
		}
	}

	// flushIfDirty keeps the dirty flag on failure so the next trigger retries.
	flushIfDirty := func() error {
		if !isDirty {
			return nil
		}
		if err := fm.flush(); err != nil {
			return err
		}
		isDirty = false
		return nil
	}

	for {
		select {
		case <-fm.markDirtyCh:
			isDirty = true
			stopTimer()
			debounceTimer = time.AfterFunc(fm.debounce, func() {
				select {
				case fm.timerFiredCh <- struct{}{}:
				default:
				}
			})

		case <-fm.timerFiredCh:
			if err := flushIfDirty(); err != nil {
				fm.logger.Error().Err(err).Msg("debounced flush failed")
			}

		case responseCh := <-fm.flushNowCh:
			stopTimer()
			drain()
			responseCh <- flushIfDirty()

		case responseCh := <-fm.shutdownCh:
			stopTimer()
			drain()
			responseCh <- flushIfDirty()
			return

		case <-fm.ctx.Done():
			return
		}
	}
}
