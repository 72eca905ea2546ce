package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paippi/ruuviscanner/internal/gateway"
	"github.com/Paippi/ruuviscanner/internal/testutils"
	"github.com/Paippi/ruuviscanner/ruuvitag"
)

const testTagAddress = "CC:6F:70:EE:4C:AD"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestBridge(t *testing.T, gw gateway.BluetoothGateway, opts *Options) *Bridge {
	t.Helper()
	if opts == nil {
		opts = &Options{Addresses: []string{testTagAddress}}
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	b, err := New(gw, opts)
	require.NoError(t, err)
	return b
}

// collectReadings drains up to n readings with a deadline, returning early
// if the channel closes.
func collectReadings(t *testing.T, ch <-chan *ruuvitag.SensorReading, n int) []*ruuvitag.SensorReading {
	t.Helper()
	var got []*ruuvitag.SensorReading
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case r, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, r)
		case <-deadline:
			t.Fatalf("timed out waiting for readings: got %d, want %d", len(got), n)
		}
	}
	return got
}

func TestNewValidation(t *testing.T) {
	gw := testutils.NewFakeGateway()

	t.Run("nil gateway", func(t *testing.T) {
		_, err := New(nil, &Options{Addresses: []string{testTagAddress}})
		assert.Error(t, err)
	})

	t.Run("no addresses", func(t *testing.T) {
		_, err := New(gw, &Options{})
		assert.Error(t, err)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := New(gw, &Options{Addresses: []string{"not-a-mac"}})
		assert.Error(t, err)
	})

	t.Run("lowercase address accepted and normalized", func(t *testing.T) {
		b, err := New(gw, &Options{Addresses: []string{"cc:6f:70:ee:4c:ad"}, Logger: quietLogger()})
		require.NoError(t, err)
		assert.Equal(t, StateCreated, b.State())
	})
}

// TestStreamResilience verifies that one malformed envelope between two
// valid ones yields exactly two readings in original order, no crash
func TestStreamResilience(t *testing.T) {
	gw := testutils.NewFakeGateway()

	first := testutils.NewPayloadBuilder().WithSequence(1).BuildManufacturerData()
	malformed := []byte{0x99, 0x04, 0x05, 0x01} // company ID + truncated frame
	second := testutils.NewPayloadBuilder().WithSequence(2).BuildManufacturerData()

	gw.QueueEvent(testTagAddress, first)
	gw.QueueEvent(testTagAddress, malformed)
	gw.QueueEvent(testTagAddress, second)

	b := newTestBridge(t, gw, nil)
	readings, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	got := collectReadings(t, readings, 2)
	require.Len(t, got, 2)
	assert.Equal(t, uint16(1), got[0].MeasurementSequence())
	assert.Equal(t, uint16(2), got[1].MeasurementSequence())

	// The malformed event is absorbed, not surfaced: nothing further arrives.
	select {
	case r, ok := <-readings:
		if ok {
			t.Fatalf("unexpected extra reading: seq=%d", r.MeasurementSequence())
		}
	case <-time.After(20 * time.Millisecond):
	}
}

// TestPerDeviceOrdering verifies readings from one device arrive in event
// order even when interleaved with another device
func TestPerDeviceOrdering(t *testing.T) {
	other := "CB:B8:33:4C:88:4F"
	gw := testutils.NewFakeGateway()
	for seq := uint16(1); seq <= 3; seq++ {
		gw.QueueEvent(testTagAddress, testutils.NewPayloadBuilder().
			WithSequence(seq).
			WithMAC([6]byte{0xCC, 0x6F, 0x70, 0xEE, 0x4C, 0xAD}).
			BuildManufacturerData())
		gw.QueueEvent(other, testutils.NewPayloadBuilder().
			WithSequence(seq+100).
			WithMAC([6]byte{0xCB, 0xB8, 0x33, 0x4C, 0x88, 0x4F}).
			BuildManufacturerData())
	}

	b := newTestBridge(t, gw, &Options{
		Addresses: []string{testTagAddress, other},
		Logger:    quietLogger(),
	})
	readings, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	got := collectReadings(t, readings, 6)

	var seqA, seqB []uint16
	for _, r := range got {
		if r.MACString() == testTagAddress {
			seqA = append(seqA, r.MeasurementSequence())
		} else {
			seqB = append(seqB, r.MeasurementSequence())
		}
	}
	assert.Equal(t, []uint16{1, 2, 3}, seqA)
	assert.Equal(t, []uint16{101, 102, 103}, seqB)
}

// TestWatchKeepsDelivering verifies the notification callback signals
// "continue": repeated events for one watch all arrive
func TestWatchKeepsDelivering(t *testing.T) {
	gw := testutils.NewFakeGateway()
	b := newTestBridge(t, gw, nil)

	readings, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	for seq := uint16(1); seq <= 5; seq++ {
		gw.QueueEvent(testTagAddress, testutils.NewPayloadBuilder().WithSequence(seq).BuildManufacturerData())
	}

	got := collectReadings(t, readings, 5)
	require.Len(t, got, 5)
	assert.Equal(t, []string{gateway.NormalizeAddress(testTagAddress)}, gw.WatchedAddresses())
}

func TestStateTransitions(t *testing.T) {
	gw := testutils.NewFakeGateway()
	b := newTestBridge(t, gw, nil)
	assert.Equal(t, StateCreated, b.State())

	_, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, b.State())

	// Subscribe is single-shot
	_, err = b.Subscribe(context.Background())
	assert.Error(t, err)

	require.NoError(t, b.Close())
	assert.Equal(t, StateClosed, b.State())

	// No state reverts from Closed
	_, err = b.Subscribe(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateClosed, b.State())
}

// TestPowerOnFailureSurfacesSynchronously verifies setup failures reach the
// Subscribe caller as gateway connection errors
func TestPowerOnFailureSurfacesSynchronously(t *testing.T) {
	gw := testutils.NewFakeGateway()
	gw.PowerErr = gateway.ErrConnectionFailed

	b := newTestBridge(t, gw, nil)
	_, err := b.Subscribe(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrConnectionFailed)
	assert.Equal(t, StateClosed, b.State())
}

func TestWatchFailureReleasesGateway(t *testing.T) {
	gw := testutils.NewFakeGateway()
	gw.WatchErr = gateway.ErrWatchExists

	b := newTestBridge(t, gw, nil)
	_, err := b.Subscribe(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrWatchExists)
	assert.True(t, gw.Closed())
}

// TestCloseWithStalledConsumer verifies graceful shutdown without the
// consumer draining the channel
func TestCloseWithStalledConsumer(t *testing.T) {
	gw := testutils.NewFakeGateway()
	for seq := uint16(0); seq < 100; seq++ {
		gw.QueueEvent(testTagAddress, testutils.NewPayloadBuilder().WithSequence(seq).BuildManufacturerData())
	}

	b := newTestBridge(t, gw, &Options{
		Addresses: []string{testTagAddress},
		Capacity:  4,
		Logger:    quietLogger(),
	})
	readings, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	// Give the loop time to process events nobody is consuming.
	time.Sleep(50 * time.Millisecond)

	// Never read from the channel before closing.
	require.NoError(t, b.Close())
	assert.Equal(t, StateClosed, b.State())

	// Channel drains the bounded backlog and then closes.
	count := 0
	for range readings {
		count++
	}
	assert.LessOrEqual(t, count, 4)

	metrics := b.Metrics()
	assert.Equal(t, int64(100), metrics.Written)
	assert.Equal(t, int64(96), metrics.Overwritten)
}

func TestCloseIsIdempotent(t *testing.T) {
	gw := testutils.NewFakeGateway()
	b := newTestBridge(t, gw, nil)

	_, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, gw.Closed())
}

// TestGatewayLossClosesStream verifies a gateway-level disconnect terminates
// the loop and closes the readings channel
func TestGatewayLossClosesStream(t *testing.T) {
	gw := testutils.NewFakeGateway()
	gw.ProcErr = gateway.ErrConnectionLost

	b := newTestBridge(t, gw, nil)
	readings, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case _, ok := <-readings:
		assert.False(t, ok, "channel should close, not deliver")
	case <-time.After(2 * time.Second):
		t.Fatal("readings channel did not close after gateway loss")
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Close())
}

// TestContextCancelStopsLoop verifies cancellation of the subscribe context
// stops the background loop and closes the stream
func TestContextCancelStopsLoop(t *testing.T) {
	gw := testutils.NewFakeGateway()
	b := newTestBridge(t, gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	readings, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-readings:
		assert.False(t, ok, "readings channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("readings channel not closed after context cancel")
	}

	assert.True(t, gw.Closed())
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Close())
}

// TestCloseDuringSubscribeStaysClosed verifies that a Close racing an
// in-flight Subscribe is final: the state never reverts from Closed, no
// poll loop starts, and the readings channel stays closed.
func TestCloseDuringSubscribeStaysClosed(t *testing.T) {
	gw := testutils.NewFakeGateway()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw.PowerHook = func() {
		close(entered)
		<-release
	}

	b := newTestBridge(t, gw, nil)

	subErr := make(chan error, 1)
	go func() {
		_, err := b.Subscribe(context.Background())
		subErr <- err
	}()

	<-entered
	require.NoError(t, b.Close())
	require.Equal(t, StateClosed, b.State())

	close(release)
	select {
	case err := <-subErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not return after gateway released")
	}

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, gw.Closed())

	select {
	case _, ok := <-b.Readings():
		assert.False(t, ok, "readings channel should stay closed")
	case <-time.After(time.Second):
		t.Fatal("readings channel not closed")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "subscribing", StateSubscribing.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown(42)", State(42).String())
}
