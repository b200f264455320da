package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/sensor"
)

const (
	SourceNMEA = "nmea"
	SourceGPSD = "gpsd"

	defaultBaud = 9600

	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second

	// unknownAccuracyM is the horizontal accuracy reported when the receiver
	// gives no error estimate. It encodes as HFOM class 0.
	unknownAccuracyM = 32768.0

	// unknownVerticalAccuracyM encodes as VFOM 0x7FFF (not available) and
	// leaves the vertical warning bit clear.
	unknownVerticalAccuracyM = 32767.0
)

// Config controls the GPS reader.
//
// A u-blox receiver typically appears as /dev/ttyACM* and outputs NMEA
// (often GNxxx talker IDs) at 9600 baud by default. Device may be empty to
// auto-detect.
type Config struct {
	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	// When empty, defaults to "nmea".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Device is the serial device path for Source=="nmea".
	Device string
	Baud   int
}

type Snapshot struct {
	Running             bool `json:"running"`
	LocationSubscribed  bool `json:"location_subscribed"`
	SatelliteSubscribed bool `json:"satellite_subscribed"`
	Valid               bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`

	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	Location         *sensor.Location `json:"location,omitempty"`
	FixQuality       *int             `json:"fix_quality,omitempty"`
	FixMode          *int             `json:"fix_mode,omitempty"`
	Satellites       *int             `json:"satellites,omitempty"`
	SatellitesInView *int             `json:"satellites_in_view,omitempty"`
	HDOP             *float64         `json:"hdop,omitempty"`

	ReferenceTimestampMs int64  `json:"reference_timestamp_ms,omitempty"`
	LastFixUTC           string `json:"last_fix_utc,omitempty"`
	LastError            string `json:"last_error,omitempty"`
}

// update is what one input line produced.
type update struct {
	loc    *sensor.Location
	sats   []sensor.Satellite
	satsOK bool
	refMs  int64
}

type decoder interface {
	decode(nowUTC time.Time, line string) (update, error)
	flushPending(nowUTC time.Time) update
	snapshot() Snapshot
}

type connectFunc func(ctx context.Context) (io.ReadCloser, decoder, error)

// Service implements sensor.LocationFeed and sensor.SatelliteFeed over one
// receiver. Callbacks run on the reader goroutine.
type Service struct {
	cfg     Config
	log     zerolog.Logger
	connect connectFunc
	now     func() time.Time

	refMs atomic.Int64
	last  atomic.Value // Snapshot

	mu     sync.Mutex
	locFn  func(sensor.Location)
	satFn  func([]sensor.Satellite)
	cancel context.CancelFunc
	closer io.Closer
	wg     sync.WaitGroup
}

var (
	_ sensor.LocationFeed  = (*Service)(nil)
	_ sensor.SatelliteFeed = (*Service)(nil)
)

func New(cfg Config, logger zerolog.Logger) *Service {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceNMEA
	}
	cfg.GPSDAddr = strings.TrimSpace(cfg.GPSDAddr)
	if cfg.GPSDAddr == "" {
		cfg.GPSDAddr = gpsdDefaultAddr
	}
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	s := &Service{
		cfg: cfg,
		log: logger.With().Str("module", "gps").Str("source", cfg.Source).Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Source == SourceGPSD {
		s.connect = s.connectGPSD
	} else {
		s.connect = s.connectNMEA
	}
	s.last.Store(Snapshot{Source: cfg.Source, GPSDAddr: cfg.GPSDAddr, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func (s *Service) SubscribeLocation(fn func(sensor.Location)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locFn = fn
	s.ensureRunningLocked()
}

func (s *Service) UnsubscribeLocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locFn = nil
	s.stopIfIdleLocked()
}

func (s *Service) SubscribeSatellites(fn func([]sensor.Satellite)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.satFn = fn
	s.ensureRunningLocked()
}

func (s *Service) UnsubscribeSatellites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.satFn = nil
	s.stopIfIdleLocked()
}

// ReferenceTimestampMs is the receiver's last reported UTC time, or the host
// clock before the receiver has reported one.
func (s *Service) ReferenceTimestampMs() int64 {
	if v := s.refMs.Load(); v != 0 {
		return v
	}
	return s.now().UnixMilli()
}

// Close drops both subscriptions and waits for the reader to exit.
func (s *Service) Close() {
	s.mu.Lock()
	s.locFn = nil
	s.satFn = nil
	s.stopIfIdleLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	out := v.(Snapshot)
	s.mu.Lock()
	out.Running = s.cancel != nil
	out.LocationSubscribed = s.locFn != nil
	out.SatelliteSubscribed = s.satFn != nil
	s.mu.Unlock()
	out.ReferenceTimestampMs = s.refMs.Load()
	return out
}

// ensureRunningLocked starts the reader goroutine. It never touches the
// device itself, so subscribing does not block.
func (s *Service) ensureRunningLocked() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	s.log.Info().Msg("reader started")
}

// stopIfIdleLocked cancels the reader once nothing is subscribed. It does not
// wait, since callers may hold locks the reader's callbacks also need.
func (s *Service) stopIfIdleLocked() {
	if s.locFn != nil || s.satFn != nil || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	if s.closer != nil {
		_ = s.closer.Close()
		s.closer = nil
	}
	s.log.Info().Msg("reader stopped")
}

func (s *Service) run(ctx context.Context) {
	backoff := minBackoff
	for ctx.Err() == nil {
		rc, dec, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setError(err.Error())
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("connect failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		if !s.setCloser(ctx, rc) {
			_ = rc.Close()
			return
		}
		err = s.readLoop(ctx, rc, dec)
		_ = rc.Close()
		s.clearCloser(rc)
		if ctx.Err() != nil {
			return
		}
		s.setError(fmt.Sprintf("gps read stopped: %v", err))
		s.log.Warn().Err(err).Msg("read stopped; reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

func (s *Service) readLoop(ctx context.Context, r io.Reader, dec decoder) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		up, err := dec.decode(s.now(), line)
		if err != nil {
			// Keep the last error; noisy receivers are common.
			s.setError(err.Error())
			continue
		}
		s.publish(ctx, dec, up)
	}
	s.publish(ctx, dec, dec.flushPending(s.now()))
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (s *Service) publish(ctx context.Context, dec decoder, up update) {
	if up.refMs != 0 {
		s.refMs.Store(up.refMs)
	}
	if up.loc == nil && !up.satsOK {
		return
	}
	snap := dec.snapshot()
	if cur, ok := s.last.Load().(Snapshot); ok {
		snap.LastError = cur.LastError
	}
	s.last.Store(snap)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	locFn, satFn := s.locFn, s.satFn
	s.mu.Unlock()

	if up.loc != nil && locFn != nil {
		locFn(*up.loc)
	}
	if up.satsOK && satFn != nil {
		satFn(up.sats)
	}
}

func (s *Service) connectNMEA(ctx context.Context) (io.ReadCloser, decoder, error) {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, nil, errors.New("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	f, err := openSerial(device, s.cfg.Baud)
	if err != nil {
		return nil, nil, fmt.Errorf("gps open failed device=%s baud=%d: %w", device, s.cfg.Baud, err)
	}
	s.log.Info().Str("device", device).Int("baud", s.cfg.Baud).Msg("serial opened")
	return f, newNMEAState(device, s.cfg.Baud), nil
}

func (s *Service) connectGPSD(ctx context.Context) (io.ReadCloser, decoder, error) {
	conn, err := dialGPSD(ctx, s.cfg.GPSDAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("gpsd dial failed addr=%s: %w", s.cfg.GPSDAddr, err)
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("gpsd watch failed: %w", err)
	}
	s.log.Info().Str("addr", s.cfg.GPSDAddr).Msg("gpsd connected")
	return conn, newGPSDState(s.cfg.GPSDAddr), nil
}

// setCloser records the live connection so unsubscribing can interrupt a
// blocked read. It reports false if the reader was cancelled meanwhile.
func (s *Service) setCloser(ctx context.Context, c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.closer = c
	return true
}

func (s *Service) clearCloser(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == c {
		s.closer = nil
	}
}

func (s *Service) setError(msg string) {
	cur, _ := s.last.Load().(Snapshot)
	cur.LastError = msg
	// Transient parse issues do not flip validity.
	s.last.Store(cur)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
