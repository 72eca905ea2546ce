// Package goble implements gateway.BluetoothGateway on top of go-ble.
//
// Scanning runs on a background goroutine owned by the gateway; discovered
// advertisements for watched devices are queued and handed out from Process,
// so watch handlers always run on the caller's goroutine.
package goble

import (
	"context"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/Paippi/ruuviscanner/internal/gateway"
	"github.com/Paippi/ruuviscanner/internal/ringchan"
)

// DefaultPendingCapacity bounds the queue of not-yet-processed advertisement
// events. Oldest events are dropped when the caller falls behind.
const DefaultPendingCapacity = 128

// Gateway is a go-ble backed Bluetooth gateway.
type Gateway struct {
	watches *hashmap.Map[string, gateway.WatchHandler]
	pending *ringchan.RingChannel[gateway.Event]
	logger  *logrus.Logger

	mu       sync.Mutex
	dev      ble.Device
	cancel   context.CancelFunc
	scanDone chan struct{}
	scanErr  error
	powered  bool
	closed   bool
}

// NewGateway creates a gateway. The adapter is not touched until PowerOn.
func NewGateway(logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		watches: hashmap.New[string, gateway.WatchHandler](),
		pending: ringchan.New[gateway.Event](DefaultPendingCapacity),
		logger:  logger,
	}
}

// PowerOn initializes the HCI device and starts a background advertisement
// scan with duplicate reports enabled, so every broadcast from a watched
// tag produces an event.
func (g *Gateway) PowerOn(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return gateway.ErrConnectionLost
	}
	if g.powered {
		return nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return gateway.NormalizeError(err)
	}
	g.dev = dev

	scanCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.scanDone = make(chan struct{})
	g.powered = true

	g.logger.Debug("Adapter powered, starting advertisement scan")

	go func() {
		defer close(g.scanDone)
		err := dev.Scan(scanCtx, true, g.handleAdvertisement)
		if err != nil && scanCtx.Err() == nil {
			g.mu.Lock()
			g.scanErr = gateway.NormalizeError(err)
			g.mu.Unlock()
			g.logger.WithError(err).Warn("Advertisement scan terminated")
		}
	}()

	return nil
}

// Watch registers an advertisement-change subscription for one device.
func (g *Gateway) Watch(address string, h gateway.WatchHandler) error {
	addr := gateway.NormalizeAddress(address)
	if _, exists := g.watches.Get(addr); exists {
		return gateway.ErrWatchExists
	}
	g.watches.Set(addr, h)
	g.logger.WithField("address", addr).Debug("Registered device watch")
	return nil
}

// Process delivers queued events to their watch handlers, blocking at most
// timeout while waiting for the first event. Handlers returning false are
// deregistered. Returns a ConnectionError if the background scan has died.
func (g *Gateway) Process(timeout time.Duration) error {
	g.mu.Lock()
	if !g.powered {
		g.mu.Unlock()
		return gateway.ErrNotPowered
	}
	if err := g.scanErr; err != nil {
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-g.pending.C():
		if !ok {
			return gateway.ErrConnectionLost
		}
		g.dispatch(ev)
	case <-timer.C:
		return nil
	}

	// Drain whatever else is already queued without blocking again.
	for {
		ev, ok := g.pending.TryReceive()
		if !ok {
			return nil
		}
		g.dispatch(ev)
	}
}

// Close stops the scan and releases all watches. Idempotent.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	cancel := g.cancel
	scanDone := g.scanDone
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if scanDone != nil {
		<-scanDone
	}
	if g.dev != nil {
		_ = g.dev.Stop()
	}

	g.watches.Range(func(addr string, _ gateway.WatchHandler) bool {
		g.watches.Del(addr)
		return true
	})
	g.logger.Debug("Gateway closed")
	return nil
}

// handleAdvertisement runs on the scan goroutine; it queues manufacturer
// data for watched devices and never blocks.
func (g *Gateway) handleAdvertisement(adv ble.Advertisement) {
	addr := gateway.NormalizeAddress(adv.Addr().String())
	if _, watched := g.watches.Get(addr); !watched {
		return
	}

	data := adv.ManufacturerData()
	if len(data) == 0 {
		return
	}

	// Copy: go-ble may reuse the advertisement buffer after the handler
	// returns.
	payload := make([]byte, len(data))
	copy(payload, data)

	if dropped := g.pending.ForceSend(gateway.Event{Address: addr, ManufacturerData: payload}); dropped {
		g.logger.WithField("address", addr).Debug("Dropped oldest pending advertisement")
	}
}

// dispatch invokes the watch handler for one event, honoring the
// continue/stop return.
func (g *Gateway) dispatch(ev gateway.Event) {
	h, ok := g.watches.Get(ev.Address)
	if !ok {
		return
	}
	if !h(ev) {
		g.watches.Del(ev.Address)
		g.logger.WithField("address", ev.Address).Debug("Watch handler requested stop, deregistered")
	}
}
