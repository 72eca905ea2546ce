// Package bridge turns per-device advertisement notifications from a
// Bluetooth gateway into an ordered stream of decoded sensor readings.
//
// One background goroutine owns the gateway handle and its poll loop;
// consumers only ever touch the readings channel.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Paippi/ruuviscanner/internal/gateway"
	"github.com/Paippi/ruuviscanner/internal/ringchan"
	"github.com/Paippi/ruuviscanner/ruuvitag"
)

const (
	// DefaultPollInterval bounds each blocking call into the gateway's
	// event-processing primitive. A tuning parameter, not a correctness
	// requirement: shorter means faster shutdown response.
	DefaultPollInterval = 20 * time.Millisecond

	// DefaultCapacity is the readings channel capacity. When the consumer
	// stalls, the oldest readings are dropped.
	DefaultCapacity = 64
)

// State is the bridge lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateSubscribing
	StateStreaming
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Options configures a Bridge.
type Options struct {
	// Addresses are the tag MACs to watch, colon-separated hex form.
	Addresses []string

	// PollInterval is the gateway servicing cadence (0 = default).
	PollInterval time.Duration

	// Capacity is the readings channel capacity (0 = default).
	Capacity int

	// StrictFormat rejects frames whose format version byte is not 5
	// instead of ignoring the byte.
	StrictFormat bool

	// Logger for decode failures and lifecycle events (nil = new logger).
	Logger *logrus.Logger
}

// Bridge owns a gateway subscription and the poll loop feeding the readings
// channel. Create with New, start with Subscribe, stop with Close.
type Bridge struct {
	gw       gateway.BluetoothGateway
	readings *ringchan.RingChannel[*ruuvitag.SensorReading]
	logger   *logrus.Logger

	addresses    []string
	pollInterval time.Duration
	strict       bool

	state     atomic.Int32
	mu        sync.Mutex // guards cancel
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a bridge over gw. The gateway handle is owned by the bridge
// from here on; callers must not issue calls on it concurrently.
func New(gw gateway.BluetoothGateway, opts *Options) (*Bridge, error) {
	if gw == nil {
		return nil, fmt.Errorf("bridge: gateway is required")
	}
	if opts == nil || len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("bridge: at least one device address is required")
	}

	addresses := make([]string, 0, len(opts.Addresses))
	for _, a := range opts.Addresses {
		addr := gateway.NormalizeAddress(a)
		if !gateway.ValidAddress(addr) {
			return nil, fmt.Errorf("bridge: invalid device address %q", a)
		}
		addresses = append(addresses, addr)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	b := &Bridge{
		gw:           gw,
		readings:     ringchan.New[*ruuvitag.SensorReading](capacity),
		logger:       logger,
		addresses:    addresses,
		pollInterval: pollInterval,
		strict:       opts.StrictFormat,
		done:         make(chan struct{}),
	}
	b.state.Store(int32(StateCreated))
	return b, nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Readings returns the ordered stream of decoded readings. The channel is
// closed by Close. Valid after a successful Subscribe.
func (b *Bridge) Readings() <-chan *ruuvitag.SensorReading {
	return b.readings.C()
}

// Metrics returns a snapshot of the readings channel counters.
func (b *Bridge) Metrics() ringchan.Metrics {
	return b.readings.GetMetrics()
}

// Subscribe powers on the gateway, registers one watch per configured
// address, and starts the background poll loop. Setup failures are returned
// synchronously; after that, decode failures are contained within the loop
// and never reach the consumer.
func (b *Bridge) Subscribe(ctx context.Context) (<-chan *ruuvitag.SensorReading, error) {
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateSubscribing)) {
		return nil, fmt.Errorf("bridge: subscribe called in state %s", b.State())
	}

	if err := b.gw.PowerOn(ctx); err != nil {
		b.abortSubscribe()
		return nil, fmt.Errorf("bridge: failed to power on gateway: %w", err)
	}
	if State(b.state.Load()) != StateSubscribing {
		b.abortSubscribe()
		return nil, fmt.Errorf("bridge: closed during subscribe")
	}

	for _, addr := range b.addresses {
		if err := b.gw.Watch(addr, b.makeWatchHandler(addr)); err != nil {
			b.abortSubscribe()
			return nil, fmt.Errorf("bridge: failed to watch %s: %w", addr, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	// A concurrent Close during setup already moved the state to Closed;
	// that is final, so the loop must not start and the state must not
	// revert to Streaming.
	if !b.state.CompareAndSwap(int32(StateSubscribing), int32(StateStreaming)) {
		cancel()
		b.abortSubscribe()
		return nil, fmt.Errorf("bridge: closed during subscribe")
	}

	b.logger.WithFields(logrus.Fields{
		"devices":       len(b.addresses),
		"poll_interval": b.pollInterval,
	}).Info("Subscribed, streaming sensor readings")

	go b.pollLoop(loopCtx)

	return b.readings.C(), nil
}

// abortSubscribe finalizes a subscribe attempt that will never stream: it
// marks the bridge closed, releases the done latch the poll loop would have
// owned, and tears down. Only the single in-flight Subscribe call reaches
// it, so the latch closes exactly once.
func (b *Bridge) abortSubscribe() {
	b.state.Store(int32(StateClosed))
	close(b.done)
	b.teardown()
}

// Close stops the poll loop, releases the gateway subscription, and closes
// the readings channel. The consumer does not need to keep draining.
// Idempotent; no state reverts from Closed.
func (b *Bridge) Close() error {
	prev := State(b.state.Swap(int32(StateClosed)))

	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if prev == StateStreaming {
		<-b.done
	}

	b.teardown()
	return b.closeErr
}

// teardown releases the gateway and closes the readings channel exactly
// once, whether shutdown came from Close or from a gateway-level disconnect
// inside the loop.
func (b *Bridge) teardown() {
	b.closeOnce.Do(func() {
		b.closeErr = b.gw.Close()
		b.readings.Close()
		b.logger.Debug("Bridge closed")
	})
}

// pollLoop owns the gateway handle. Each iteration services pending gateway
// events, bounded by the poll interval so the loop stays responsive to
// shutdown.
func (b *Bridge) pollLoop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.state.Store(int32(StateClosed))
			b.teardown()
			return
		default:
		}

		if err := b.gw.Process(b.pollInterval); err != nil {
			if ctx.Err() != nil {
				b.state.Store(int32(StateClosed))
				b.teardown()
				return
			}
			b.logger.WithError(err).Error("Gateway connection lost, stopping stream")
			b.state.Store(int32(StateClosed))
			b.teardown()
			return
		}
	}
}

// makeWatchHandler builds the per-device notification callback. It decodes
// inline on the poll goroutine and always returns true so the gateway keeps
// delivering future events.
func (b *Bridge) makeWatchHandler(addr string) gateway.WatchHandler {
	decode := ruuvitag.Decode
	if b.strict {
		decode = ruuvitag.DecodeStrict
	}

	return func(ev gateway.Event) bool {
		env, err := ruuvitag.EnvelopeFromManufacturerData(ev.ManufacturerData)
		if err == nil {
			var reading *ruuvitag.SensorReading
			reading, err = decode(env)
			if err == nil {
				if dropped := b.readings.ForceSend(reading); dropped {
					b.logger.WithField("address", addr).Debug("Consumer behind, dropped oldest reading")
				}
				return true
			}
		}

		// Malformed advertisements reduce the reading rate, nothing more.
		b.logger.WithError(err).WithFields(logrus.Fields{
			"address": addr,
			"bytes":   len(ev.ManufacturerData),
		}).Debug("Dropped undecodable advertisement")
		return true
	}
}
