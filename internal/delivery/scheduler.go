// Package delivery serialises GDL90 encoding and unicast sends on a single
// worker goroutine so the sensor callbacks never wait on socket I/O.
package delivery

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"efbgps/internal/gdl90"
	"efbgps/internal/sensor"
)

// Sender writes datagrams to one destination. Each payload is a separate
// datagram.
type Sender interface {
	Send(dst netip.AddrPort, payloads ...[]byte) error
}

type jobKind int

const (
	jobLocation jobKind = iota
	jobHeartbeat
	jobIdentify
)

func (k jobKind) String() string {
	switch k {
	case jobLocation:
		return "ownship"
	case jobHeartbeat:
		return "heartbeat"
	case jobIdentify:
		return "identification"
	default:
		return "unknown"
	}
}

type job struct {
	kind     jobKind
	loc      sensor.Location
	gpsValid bool
	refMs    int64
	targets  []netip.AddrPort
}

// Stats are cumulative worker counters.
type Stats struct {
	Jobs       uint64 `json:"jobs"`
	Datagrams  uint64 `json:"datagrams"`
	SendErrors uint64 `json:"send_errors"`
	Queued     int    `json:"queued"`
}

// Scheduler owns an unbounded FIFO of delivery jobs and the worker that
// drains it. Enqueue methods never block.
type Scheduler struct {
	sender     Sender
	deviceName string
	log        zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	closed  bool
	started bool
	done    chan struct{}

	// failing is only touched by the worker.
	failing map[netip.AddrPort]bool

	jobs       atomic.Uint64
	datagrams  atomic.Uint64
	sendErrors atomic.Uint64
}

func New(sender Sender, deviceName string, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		sender:     sender,
		deviceName: deviceName,
		log:        logger.With().Str("module", "delivery").Logger(),
		done:       make(chan struct{}),
		failing:    make(map[netip.AddrPort]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker. Jobs enqueued earlier are kept.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

// Close stops accepting jobs, lets the worker drain what is queued and waits
// for it to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	started := s.started
	s.cond.Broadcast()
	s.mu.Unlock()

	if !started {
		close(s.done)
		return
	}
	<-s.done
}

// DeliverLocation queues one Ownship Report and one Ownship Geometric Altitude
// for every target. It reports false once the scheduler is closed.
func (s *Scheduler) DeliverLocation(loc sensor.Location, targets []netip.AddrPort) bool {
	return s.enqueue(job{kind: jobLocation, loc: loc, targets: targets})
}

// DeliverHeartbeat queues one Heartbeat for every target.
func (s *Scheduler) DeliverHeartbeat(gpsValid bool, referenceTimestampMs int64, targets []netip.AddrPort) bool {
	return s.enqueue(job{kind: jobHeartbeat, gpsValid: gpsValid, refMs: referenceTimestampMs, targets: targets})
}

// Identify queues the device identification for a newly enabled client.
func (s *Scheduler) Identify(target netip.AddrPort) bool {
	return s.enqueue(job{kind: jobIdentify, targets: []netip.AddrPort{target}})
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()
	return Stats{
		Jobs:       s.jobs.Load(),
		Datagrams:  s.datagrams.Load(),
		SendErrors: s.sendErrors.Load(),
		Queued:     queued,
	}
}

func (s *Scheduler) enqueue(j job) bool {
	if len(j.targets) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, j)
	s.cond.Signal()
	return true
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue[0] = job{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.process(j)
	}
}

func (s *Scheduler) process(j job) {
	s.jobs.Add(1)

	// Encode once per job, not per client.
	var payloads [][]byte
	switch j.kind {
	case jobLocation:
		payloads = [][]byte{
			gdl90.OwnshipReportFrame(j.loc),
			gdl90.OwnshipGeometricAltitudeFrame(j.loc),
		}
	case jobHeartbeat:
		payloads = [][]byte{gdl90.HeartbeatFrame(j.gpsValid, j.refMs)}
	case jobIdentify:
		payloads = [][]byte{gdl90.DeviceIdentificationFrame(s.deviceName)}
	default:
		return
	}

	for _, dst := range j.targets {
		err := s.sender.Send(dst, payloads...)
		if err != nil {
			s.sendErrors.Add(1)
			if !s.failing[dst] {
				s.failing[dst] = true
				s.log.Warn().Err(err).Str("client", dst.String()).Stringer("msg", j.kind).Msg("send failed")
			} else {
				s.log.Debug().Err(err).Str("client", dst.String()).Stringer("msg", j.kind).Msg("send failed")
			}
			continue
		}
		s.datagrams.Add(uint64(len(payloads)))
		if s.failing[dst] {
			delete(s.failing, dst)
			s.log.Info().Str("client", dst.String()).Msg("send recovered")
		}
	}
}
