// Package clients tracks the EFB applications discovered on the network and
// whether the operator has enabled delivery to each of them.
package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// ErrUnknownClient is returned for keys that were never discovered (or were
// removed by Clear).
var ErrUnknownClient = errors.New("unknown client")

// Key identifies a client by its source IP and announced GDL90 port.
type Key = netip.AddrPort

// ParseKey parses "ip:port" (IPv6 as "[ip]:port").
func ParseKey(s string) (Key, error) {
	k, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return Key{}, fmt.Errorf("parse client key %q: %w", s, err)
	}
	return NewKey(k.Addr(), k.Port()), nil
}

// NewKey builds a Key, unmapping IPv4-in-IPv6 addresses so the same peer
// always yields the same key regardless of socket family.
func NewKey(addr netip.Addr, port uint16) Key {
	return netip.AddrPortFrom(addr.Unmap(), port)
}

// Client is a point-in-time copy of one registry entry.
type Client struct {
	Key          Key
	App          string
	LastDiscover time.Time
	Enabled      bool
}

type clientSource struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

type clientJSON struct {
	Source       clientSource `json:"source"`
	EFB          string       `json:"efb"`
	LastDiscover int64        `json:"lastDiscover"`
	IsEnabled    bool         `json:"isEnabled"`
}

// MarshalJSON encodes the client with its last discovery time in ms since the
// epoch.
func (c Client) MarshalJSON() ([]byte, error) {
	return json.Marshal(clientJSON{
		Source:       clientSource{Address: c.Key.Addr().String(), Port: c.Key.Port()},
		EFB:          c.App,
		LastDiscover: c.LastDiscover.UnixMilli(),
		IsEnabled:    c.Enabled,
	})
}

// Registry is the authoritative client set. Entries keep insertion order and
// are never evicted; only Clear removes them. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	order   []Key
	entries map[Key]*Client
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*Client)}
}

// Upsert records a discovery announcement. A new key is added disabled; a
// known key only has its LastDiscover refreshed.
func (r *Registry) Upsert(key Key, app string, now time.Time) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.entries[key]; ok {
		c.LastDiscover = now
		return *c, false
	}
	c := &Client{Key: key, App: app, LastDiscover: now}
	r.entries[key] = c
	r.order = append(r.order, key)
	return *c, true
}

// SetEnabled changes a client's enabled flag. activated is true only for a
// disabled to enabled transition, which is when the client must be sent
// the device identification.
func (r *Registry) SetEnabled(key Key, enabled bool) (activated bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.entries[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownClient, key)
	}
	activated = !c.Enabled && enabled
	c.Enabled = enabled
	return activated, nil
}

// DisableAll disables every client and returns how many were enabled.
func (r *Registry) DisableAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.entries {
		if c.Enabled {
			c.Enabled = false
			n++
		}
	}
	return n
}

// Clear removes every client.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.entries = make(map[Key]*Client)
}

// Snapshot returns copies of all clients in insertion order.
func (r *Registry) Snapshot() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Client, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, *r.entries[k])
	}
	return out
}

// EnabledAddrs returns the destinations of enabled clients in insertion
// order. The slice is owned by the caller.
func (r *Registry) EnabledAddrs() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Key
	for _, k := range r.order {
		if r.entries[k].Enabled {
			out = append(out, k)
		}
	}
	return out
}

func (r *Registry) EnabledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.entries {
		if c.Enabled {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
