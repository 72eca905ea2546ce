// Package testutils provides test doubles and builders for gateway and
// decoder tests.
package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/Paippi/ruuviscanner/internal/gateway"
)

// FakeGateway is a scripted gateway.BluetoothGateway for bridge tests.
// Events queued with QueueEvent are delivered by Process in FIFO order,
// one callback per watched address per event.
type FakeGateway struct {
	mu       sync.Mutex
	watches  map[string]gateway.WatchHandler
	events   []gateway.Event
	powered  bool
	closed   bool
	PowerErr error // returned by PowerOn when set
	WatchErr error // returned by Watch when set
	ProcErr  error // returned by Process once all queued events are drained

	// PowerHook, when set, runs inside PowerOn before the adapter powers
	// on. Tests use it to hold a subscribe in flight.
	PowerHook func()
}

// NewFakeGateway creates an empty fake gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{watches: make(map[string]gateway.WatchHandler)}
}

// QueueEvent appends an advertisement event for later delivery.
func (g *FakeGateway) QueueEvent(address string, manufacturerData []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, gateway.Event{
		Address:          gateway.NormalizeAddress(address),
		ManufacturerData: manufacturerData,
	})
}

// PowerOn implements gateway.BluetoothGateway.
func (g *FakeGateway) PowerOn(_ context.Context) error {
	g.mu.Lock()
	hook := g.PowerHook
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PowerErr != nil {
		return g.PowerErr
	}
	g.powered = true
	return nil
}

// Watch implements gateway.BluetoothGateway.
func (g *FakeGateway) Watch(address string, h gateway.WatchHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WatchErr != nil {
		return g.WatchErr
	}
	addr := gateway.NormalizeAddress(address)
	if _, exists := g.watches[addr]; exists {
		return gateway.ErrWatchExists
	}
	g.watches[addr] = h
	return nil
}

// Process delivers all queued events to their handlers, then returns
// ProcErr if one is scripted. When nothing is queued it sleeps for the
// timeout like a real blocking poll.
func (g *FakeGateway) Process(timeout time.Duration) error {
	g.mu.Lock()
	events := g.events
	g.events = nil
	g.mu.Unlock()

	if len(events) == 0 {
		g.mu.Lock()
		err := g.ProcErr
		g.mu.Unlock()
		if err != nil {
			return err
		}
		time.Sleep(timeout)
		return nil
	}

	for _, ev := range events {
		g.mu.Lock()
		h, ok := g.watches[ev.Address]
		g.mu.Unlock()
		if !ok {
			continue
		}
		if !h(ev) {
			g.mu.Lock()
			delete(g.watches, ev.Address)
			g.mu.Unlock()
		}
	}
	return nil
}

// Close implements gateway.BluetoothGateway. Idempotent.
func (g *FakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Closed reports whether Close was called.
func (g *FakeGateway) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// WatchedAddresses returns the currently registered watch addresses.
func (g *FakeGateway) WatchedAddresses() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	addrs := make([]string, 0, len(g.watches))
	for a := range g.watches {
		addrs = append(addrs, a)
	}
	return addrs
}
