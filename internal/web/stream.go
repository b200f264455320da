package web

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"efbgps/internal/clients"
	"efbgps/internal/sensor"
)

const (
	TopicLocation   = "location"
	TopicSatellites = "satellites"
	TopicClients    = "clients"

	streamBuffer = 16
	writeWait    = 5 * time.Second
	pingPeriod   = 20 * time.Second
)

// Event is one message on the UI stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type topicSet struct {
	location, satellites, clients bool
}

func parseTopics(raw string) (topicSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return topicSet{location: true, satellites: true, clients: true}, nil
	}
	var ts topicSet
	for _, t := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case TopicLocation:
			ts.location = true
		case TopicSatellites:
			ts.satellites = true
		case TopicClients:
			ts.clients = true
		case "":
		default:
			return topicSet{}, fmt.Errorf("unknown topic %q", t)
		}
	}
	return ts, nil
}

// stream pushes sensor and client events over a websocket. Location and
// satellite topics register core observers, so an open stream keeps the
// corresponding feed running. Events are dropped when the peer is slow.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := h.log.With().Str("stream", id).Logger()

	out := make(chan Event, streamBuffer)
	var dropped atomic.Uint64
	push := func(ev Event) {
		select {
		case out <- ev:
		default:
			dropped.Add(1)
		}
	}

	var cancels []func()
	defer func() {
		for _, c := range cancels {
			c()
		}
		log.Info().Uint64("dropped", dropped.Load()).Msg("stream closed")
	}()
	if topics.clients {
		push(Event{Type: TopicClients, Data: h.core.Clients()})
		cancels = append(cancels, h.core.ObserveClients(func(c []clients.Client) {
			push(Event{Type: TopicClients, Data: c})
		}))
	}
	if topics.location {
		cancels = append(cancels, h.core.ObserveLocation(func(l sensor.Location) {
			push(Event{Type: TopicLocation, Data: l})
		}))
	}
	if topics.satellites {
		cancels = append(cancels, h.core.ObserveSatellites(func(b []sensor.Satellite) {
			push(Event{Type: TopicSatellites, Data: b})
		}))
	}
	log.Info().Bool("location", topics.location).Bool("satellites", topics.satellites).Bool("clients", topics.clients).Msg("stream opened")

	// Incoming frames are ignored; reading is needed to see the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
