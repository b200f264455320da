package sim

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/sensor"
)

// Feed emits Ownship fixes and a synthetic sky once per Interval while
// anything is subscribed.
type Feed struct {
	ownship  Ownship
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu     sync.Mutex
	locFn  func(sensor.Location)
	satFn  func([]sensor.Satellite)
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ sensor.LocationFeed  = (*Feed)(nil)
	_ sensor.SatelliteFeed = (*Feed)(nil)
)

func NewFeed(o Ownship, interval time.Duration, logger zerolog.Logger) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		ownship:  o,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With().Str("module", "sim").Logger(),
	}
}

func (f *Feed) SubscribeLocation(fn func(sensor.Location)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locFn = fn
	f.ensureRunningLocked()
}

func (f *Feed) UnsubscribeLocation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locFn = nil
	f.stopIfIdleLocked()
}

func (f *Feed) SubscribeSatellites(fn func([]sensor.Satellite)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.satFn = fn
	f.ensureRunningLocked()
}

func (f *Feed) UnsubscribeSatellites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.satFn = nil
	f.stopIfIdleLocked()
}

func (f *Feed) ReferenceTimestampMs() int64 {
	return f.now().UnixMilli()
}

// Close drops both subscriptions and waits for the ticker goroutine.
func (f *Feed) Close() {
	f.mu.Lock()
	f.locFn = nil
	f.satFn = nil
	f.stopIfIdleLocked()
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feed) ensureRunningLocked() {
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
	f.log.Info().Dur("interval", f.interval).Msg("simulation started")
}

// stopIfIdleLocked does not wait for run; its callbacks may need locks the
// caller holds.
func (f *Feed) stopIfIdleLocked() {
	if f.locFn != nil || f.satFn != nil || f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
	f.log.Info().Msg("simulation stopped")
}

func (f *Feed) run(ctx context.Context) {
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		f.mu.Lock()
		locFn, satFn := f.locFn, f.satFn
		f.mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		now := f.now()
		if locFn != nil {
			locFn(f.ownship.Location(now))
		}
		if satFn != nil {
			satFn(Satellites(now))
		}
	}
}
