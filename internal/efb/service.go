// Package efb ties discovery, the client registry, sensor activation and
// GDL90 delivery together into the GPS server exposed to EFB applications.
package efb

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/activation"
	"efbgps/internal/clients"
	"efbgps/internal/delivery"
	"efbgps/internal/discovery"
	"efbgps/internal/sensor"
)

// ErrInvalidKey is returned when a client key cannot be parsed.
var ErrInvalidKey = errors.New("invalid client key")

type Config struct {
	DeviceName    string
	DiscoveryAddr string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of the service.
type Status struct {
	Running            bool           `json:"running"`
	Serving            bool           `json:"serving"`
	NeedLocation       bool           `json:"need_location"`
	NeedSatellites     bool           `json:"need_satellites"`
	Clients            int            `json:"clients"`
	EnabledClients     int            `json:"enabled_clients"`
	LocationObservers  int            `json:"location_observers"`
	SatelliteObservers int            `json:"satellite_observers"`
	DiscoveryAddr      string         `json:"discovery_addr,omitempty"`
	DiscoveryError     string         `json:"discovery_error,omitempty"`
	Delivery           delivery.Stats `json:"delivery"`
}

type observer[T any] struct {
	id int
	fn func(T)
}

// Service is the GDL90 server core. The zero value is not usable; use New.
type Service struct {
	cfg      Config
	locFeed  sensor.LocationFeed
	satFeed  sensor.SatelliteFeed
	root     zerolog.Logger
	log      zerolog.Logger
	registry *clients.Registry
	policy   *activation.Policy
	sched    *delivery.Scheduler

	// control orders "enable then identify" against "snapshot then enqueue"
	// so a newly enabled client gets its identification first. It never
	// covers socket I/O.
	control sync.Mutex

	mu       sync.Mutex
	listener *discovery.Listener
	running  bool
	stopped  bool
	nextID   int
	locObs   []observer[sensor.Location]
	satObs   []observer[[]sensor.Satellite]
	cliObs   []observer[[]clients.Client]
}

func New(cfg Config, loc sensor.LocationFeed, sats sensor.SatelliteFeed, sender delivery.Sender, logger zerolog.Logger) *Service {
	if cfg.DiscoveryAddr == "" {
		cfg.DiscoveryAddr = discovery.DefaultListenAddr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		cfg:      cfg,
		locFeed:  loc,
		satFeed:  sats,
		root:     logger,
		log:      logger.With().Str("module", "efb").Logger(),
		registry: clients.NewRegistry(),
		sched:    delivery.New(sender, cfg.DeviceName, logger),
	}
	s.policy = activation.New(activation.Hooks{
		StartLocation: func() {
			s.log.Debug().Msg("location feed subscribe")
			s.locFeed.SubscribeLocation(s.onLocation)
		},
		StopLocation: func() {
			s.log.Debug().Msg("location feed unsubscribe")
			s.locFeed.UnsubscribeLocation()
		},
		StartSatellites: func() {
			s.log.Debug().Msg("satellite feed subscribe")
			s.satFeed.SubscribeSatellites(s.onSatellites)
		},
		StopSatellites: func() {
			s.log.Debug().Msg("satellite feed unsubscribe")
			s.satFeed.UnsubscribeSatellites()
		},
		ServingChanged: func(serving bool) {
			s.log.Info().Bool("serving", serving).Msg("serving changed")
		},
	})
	return s
}

// Start binds the discovery port and starts the delivery worker. A stopped
// service cannot be restarted.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("efb: service stopped")
	}
	if s.running {
		return nil
	}
	l := discovery.NewListener(s.cfg.DiscoveryAddr, s.onDiscover, s.root)
	if err := l.Start(ctx); err != nil {
		return fmt.Errorf("efb: start discovery: %w", err)
	}
	s.listener = l
	s.sched.Start()
	s.running = true
	s.log.Info().Str("device", s.cfg.DeviceName).Msg("started")
	return nil
}

// Stop closes the discovery socket, drains queued deliveries and releases
// the sensor feeds.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.running = false
	l := s.listener
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	s.sched.Close()

	st := s.policy.State()
	if st.NeedSatellites {
		s.satFeed.UnsubscribeSatellites()
	}
	if st.NeedLocation {
		s.locFeed.UnsubscribeLocation()
	}
	s.log.Info().Msg("stopped")
	return err
}

// DisableAllAndStop disables every client. Serving ends and the feeds are
// released unless UI observers still hold them.
func (s *Service) DisableAllAndStop() {
	s.control.Lock()
	n := s.registry.DisableAll()
	s.policy.SetEnabledClients(0)
	s.control.Unlock()

	s.log.Info().Int("disabled", n).Msg("all clients disabled")
	s.notifyClients()
}

// SetClientEnabled toggles delivery to the client with key "ip:port". A client
// going from disabled to enabled is sent a device identification before any
// further position data.
func (s *Service) SetClientEnabled(key string, enabled bool) error {
	k, err := clients.ParseKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	s.control.Lock()
	activated, err := s.registry.SetEnabled(k, enabled)
	if err != nil {
		s.control.Unlock()
		return err
	}
	s.policy.SetEnabledClients(s.registry.EnabledCount())
	if activated {
		s.sched.Identify(k)
	}
	s.control.Unlock()

	s.log.Info().Str("client", k.String()).Bool("enabled", enabled).Msg("client updated")
	s.notifyClients()
	return nil
}

// ClearAllClients forgets every discovered client.
func (s *Service) ClearAllClients() {
	s.control.Lock()
	s.registry.Clear()
	s.policy.SetEnabledClients(0)
	s.control.Unlock()

	s.log.Info().Msg("clients cleared")
	s.notifyClients()
}

func (s *Service) Clients() []clients.Client {
	return s.registry.Snapshot()
}

// ObserveLocation registers a UI observer. While registered it keeps the
// location feed subscribed. The returned func removes it.
func (s *Service) ObserveLocation(fn func(sensor.Location)) (cancel func()) {
	s.mu.Lock()
	id := s.nextIDLocked()
	s.locObs = append(s.locObs, observer[sensor.Location]{id: id, fn: fn})
	s.mu.Unlock()
	s.policy.Acquire(activation.InterestLocation)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.locObs = removeObserver(s.locObs, id)
			s.mu.Unlock()
			s.policy.Release(activation.InterestLocation)
		})
	}
}

// ObserveSatellites registers a UI observer of satellite batches. While
// registered it keeps the satellite feed subscribed.
func (s *Service) ObserveSatellites(fn func([]sensor.Satellite)) (cancel func()) {
	s.mu.Lock()
	id := s.nextIDLocked()
	s.satObs = append(s.satObs, observer[[]sensor.Satellite]{id: id, fn: fn})
	s.mu.Unlock()
	s.policy.Acquire(activation.InterestSatellites)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.satObs = removeObserver(s.satObs, id)
			s.mu.Unlock()
			s.policy.Release(activation.InterestSatellites)
		})
	}
}

// ObserveClients registers a callback receiving the client list whenever it
// changes. It does not affect sensor activation.
func (s *Service) ObserveClients(fn func([]clients.Client)) (cancel func()) {
	s.mu.Lock()
	id := s.nextIDLocked()
	s.cliObs = append(s.cliObs, observer[[]clients.Client]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.cliObs = removeObserver(s.cliObs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) Status() Status {
	st := s.policy.State()
	counts := s.policy.Counts()
	out := Status{
		Serving:            st.Serving,
		NeedLocation:       st.NeedLocation,
		NeedSatellites:     st.NeedSatellites,
		Clients:            s.registry.Len(),
		EnabledClients:     s.registry.EnabledCount(),
		LocationObservers:  counts.LocationObservers,
		SatelliteObservers: counts.SatelliteObservers,
		Delivery:           s.sched.Stats(),
	}
	s.mu.Lock()
	out.Running = s.running
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		if a := l.LocalAddr(); a != nil {
			out.DiscoveryAddr = a.String()
		}
		if err := l.Err(); err != nil {
			out.DiscoveryError = err.Error()
		}
	}
	return out
}

func (s *Service) onDiscover(from netip.Addr, msg discovery.Message) {
	key := clients.NewKey(from, uint16(msg.GDL90.Port))
	_, created := s.registry.Upsert(key, msg.App, s.cfg.Now())
	if created {
		s.log.Info().Str("client", key.String()).Str("app", msg.App).Msg("client discovered")
	}
	s.notifyClients()
}

func (s *Service) onLocation(loc sensor.Location) {
	s.mu.Lock()
	obs := append([]observer[sensor.Location](nil), s.locObs...)
	s.mu.Unlock()
	for _, o := range obs {
		o.fn(loc)
	}

	s.control.Lock()
	defer s.control.Unlock()
	if !s.policy.State().Serving {
		return
	}
	s.sched.DeliverLocation(loc, s.registry.EnabledAddrs())
}

func (s *Service) onSatellites(batch []sensor.Satellite) {
	s.mu.Lock()
	obs := append([]observer[[]sensor.Satellite](nil), s.satObs...)
	s.mu.Unlock()
	for _, o := range obs {
		o.fn(batch)
	}

	s.control.Lock()
	defer s.control.Unlock()
	if !s.policy.State().Serving {
		return
	}
	s.sched.DeliverHeartbeat(sensor.AnyUsed(batch), s.satFeed.ReferenceTimestampMs(), s.registry.EnabledAddrs())
}

func (s *Service) notifyClients() {
	s.mu.Lock()
	obs := append([]observer[[]clients.Client](nil), s.cliObs...)
	s.mu.Unlock()
	if len(obs) == 0 {
		return
	}
	snap := s.registry.Snapshot()
	for _, o := range obs {
		o.fn(snap)
	}
}

func (s *Service) nextIDLocked() int {
	s.nextID++
	return s.nextID
}

func removeObserver[T any](list []observer[T], id int) []observer[T] {
	for i, o := range list {
		if o.id == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
