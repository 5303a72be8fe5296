package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tannerhall/briefd/internal/config"
	"github.com/tannerhall/briefd/internal/ops"
)

type fakeTransport struct {
	frames  chan []byte
	failed  chan struct{}
	closeCh chan struct{}

	failOnce  sync.Once
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames:  make(chan []byte, 16),
		failed:  make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case <-f.failed:
		return nil, errors.New("connection reset")
	case <-f.closeCh:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

// fail simulates the server dropping the connection
func (f *fakeTransport) fail() {
	f.failOnce.Do(func() { close(f.failed) })
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closeCh:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failNext   int
	dials      int
}

func (d *fakeDialer) dial(ctx context.Context, endpoint, credential string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("dial refused")
	}

	transport := newFakeTransport()
	d.transports = append(d.transports, transport)
	return transport, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type change struct {
	connected bool
	attempt   int
}

func testManager(t *testing.T, dialer *fakeDialer) *Manager {
	t.Helper()

	cfg := &config.Stream{
		Backoff: config.Backoff{BaseMs: 1, CapMs: 4},
	}
	logger := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
	return NewManager(cfg, logger, dialer.dial)
}

func recvChange(t *testing.T, changes <-chan change) change {
	t.Helper()

	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection change")
		return change{}
	}
}

func TestConnect_FirstHandshake(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	changes := make(chan change, 16)
	m.OnConnectionChange(func(connected bool, attempt int) {
		changes <- change{connected, attempt}
	})

	require.Equal(t, StateDisconnected, m.State())

	err := m.Connect(context.Background(), "wss://chat.example.com/ws", "token")
	require.NoError(t, err)
	require.Equal(t, StateConnected, m.State())

	c := recvChange(t, changes)
	assert.True(t, c.connected)
	assert.Equal(t, 0, c.attempt)
}

func TestConnect_DialFailure(t *testing.T) {
	dialer := &fakeDialer{failNext: 1}
	m := testManager(t, dialer)
	defer m.Dispose()

	err := m.Connect(context.Background(), "wss://chat.example.com/ws", "token")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestReconnect_AttemptCountSurfacedAndReset(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	changes := make(chan change, 16)
	m.OnConnectionChange(func(connected bool, attempt int) {
		changes <- change{connected, attempt}
	})

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))
	require.Equal(t, change{true, 0}, recvChange(t, changes))

	// Induced transport close drives CONNECTED → RECONNECTING → CONNECTED
	dialer.last().fail()

	c := recvChange(t, changes)
	assert.False(t, c.connected)
	assert.Equal(t, 1, c.attempt)

	c = recvChange(t, changes)
	assert.True(t, c.connected)
	assert.Equal(t, 0, c.attempt, "attempt counter must reset on reconnect")

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 0, m.ReconnectAttempt())
	assert.Equal(t, 2, dialer.dialCount())
}

func TestReconnect_RetriesFailedDials(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	changes := make(chan change, 16)
	m.OnConnectionChange(func(connected bool, attempt int) {
		changes <- change{connected, attempt}
	})

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))
	require.Equal(t, change{true, 0}, recvChange(t, changes))

	dialer.mu.Lock()
	dialer.failNext = 2
	dialer.mu.Unlock()
	dialer.last().fail()

	require.Equal(t, change{false, 1}, recvChange(t, changes))
	require.Equal(t, change{false, 2}, recvChange(t, changes))
	require.Equal(t, change{false, 3}, recvChange(t, changes))
	require.Equal(t, change{true, 0}, recvChange(t, changes))
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := &config.Stream{
		Backoff: config.Backoff{BaseMs: 1, CapMs: 2, MaxAttempts: 2},
	}
	logger := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
	m := NewManager(cfg, logger, dialer.dial)
	defer m.Dispose()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))

	dialer.mu.Lock()
	dialer.failNext = 100
	dialer.mu.Unlock()
	dialer.last().fail()

	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnect_TearsDownPreviousConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token-a"))
	first := dialer.last()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token-b"))
	second := dialer.last()

	assert.True(t, first.isClosed(), "old transport must be released before the new dial")
	assert.False(t, second.isClosed())

	// Frames from the new transport still flow
	seen := make(chan string, 1)
	m.Subscribe("post_created", func(frame Frame) {
		seen <- frame.Kind
	})
	second.frames <- []byte(`{"event":"post_created","data":{}}`)

	select {
	case kind := <-seen:
		assert.Equal(t, "post_created", kind)
	case <-time.After(2 * time.Second):
		t.Fatal("frame from new transport not delivered")
	}
}

func TestDispatch_PreservesReceiptOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))

	seen := make(chan string, 16)
	m.Subscribe(KindAny, func(frame Frame) {
		seen <- frame.Kind
	})

	transport := dialer.last()
	kinds := []string{"e1", "e2", "e3", "e4", "e5"}
	for _, kind := range kinds {
		transport.frames <- []byte(`{"event":"` + kind + `"}`)
	}

	for _, want := range kinds {
		select {
		case got := <-seen:
			require.Equal(t, want, got, "dispatch order must match receipt order")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestDispatch_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))

	seen := make(chan string, 16)
	m.Subscribe("typing", func(frame Frame) {
		panic("bad subscriber")
	})
	m.Subscribe("typing", func(frame Frame) {
		seen <- frame.Kind
	})

	transport := dialer.last()
	transport.frames <- []byte(`{"event":"typing"}`)
	transport.frames <- []byte(`{"event":"typing"}`)

	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatal("surviving handler missed a frame")
		}
	}
}

func TestDispatch_DropsMalformedFrames(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))

	seen := make(chan Frame, 4)
	m.Subscribe(KindAny, func(frame Frame) {
		seen <- frame
	})

	transport := dialer.last()
	transport.frames <- []byte(`not json`)
	transport.frames <- []byte(`{"data":{}}`)
	transport.frames <- []byte(`{"event":"typing","broadcast":{"channel_id":"c1"}}`)

	select {
	case frame := <-seen:
		assert.Equal(t, "typing", frame.Kind)
		assert.Equal(t, "c1", frame.ChannelID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed ones not delivered")
	}

	select {
	case frame := <-seen:
		t.Fatalf("malformed frame delivered: %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)
	defer m.Dispose()

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))

	seen := make(chan string, 4)
	_, unsubscribe := m.Subscribe("typing", func(frame Frame) {
		seen <- frame.Kind
	})
	unsubscribe()

	dialer.last().frames <- []byte(`{"event":"typing"}`)

	select {
	case <-seen:
		t.Fatal("unsubscribed handler still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispose_IdempotentAndFinal(t *testing.T) {
	dialer := &fakeDialer{}
	m := testManager(t, dialer)

	require.NoError(t, m.Connect(context.Background(), "wss://chat.example.com/ws", "token"))
	transport := dialer.last()

	m.Dispose()
	m.Dispose() // must be safe to call twice

	assert.True(t, transport.isClosed())
	assert.Equal(t, StateDisconnected, m.State())

	dialsBefore := dialer.dialCount()
	transport.fail()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, dialsBefore, dialer.dialCount(), "no reconnect may fire after dispose")

	err := m.Connect(context.Background(), "wss://chat.example.com/ws", "token")
	assert.ErrorIs(t, err, ErrDisposed)
}
