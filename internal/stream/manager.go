package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tannerhall/briefd/internal/config"
	"github.com/tannerhall/briefd/internal/ops"
)

// State is the connection lifecycle state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// KindAny subscribes to every event kind
const KindAny = "*"

// Frame is one raw envelope received from the push connection. Only the
// kind tag and the broadcast channel are peeked here; full decoding is
// the reconciler's job.
type Frame struct {
	Kind      string
	ChannelID string
	Raw       []byte
}

// Handler receives dispatched frames. Dispatch order matches receipt
// order; a handler must not block, and any async work it starts runs
// independently of the dispatch loop.
type Handler func(frame Frame)

// ChangeFunc is notified on connection state changes
type ChangeFunc func(connected bool, reconnectAttempt int)

// ErrDisposed is returned by Connect after Dispose
var ErrDisposed = errors.New("connection manager disposed")

const dialTimeout = 30 * time.Second

// session is one Connect lifetime: a transport plus the reader and
// reconnect loop serving it. Creating a new session always follows a
// completed teardown of the previous one.
type session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	endpoint   string
	credential string
	transport  Transport
	readerDone chan struct{}
}

// Manager owns one persistent push connection at a time and drives the
// connect/reconnect/backoff lifecycle. Frames are handed to subscribers
// strictly in receipt order through a single dispatch goroutine.
type Manager struct {
	backoff config.Backoff
	logger  *ops.Logger
	dial    DialFunc

	frames       chan []byte
	done         chan struct{}
	dispatchDone chan struct{}

	mu       sync.Mutex
	state    State
	attempt  int
	sess     *session
	disposed bool

	subsMu     sync.RWMutex
	subs       map[string]map[string]Handler
	changeSubs map[string]ChangeFunc
}

// NewManager creates a manager using the given dialer. A nil dial falls
// back to the production websocket transport.
func NewManager(cfg *config.Stream, logger *ops.Logger, dial DialFunc) *Manager {
	if dial == nil {
		dial = DialWebsocket
	}

	m := &Manager{
		backoff:      cfg.Backoff,
		logger:       logger.WithComponent("stream"),
		dial:         dial,
		frames:       make(chan []byte, 256),
		done:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
		subs:         make(map[string]map[string]Handler),
		changeSubs:   make(map[string]ChangeFunc),
	}

	go m.dispatchLoop()

	return m
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempt returns the current reconnect attempt counter
func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Subscribe registers a handler for one event kind (or KindAny for all).
// Multiple handlers per kind are allowed. The returned function removes
// the subscription.
func (m *Manager) Subscribe(kind string, handler Handler) (string, func()) {
	id := uuid.NewString()

	m.subsMu.Lock()
	if m.subs[kind] == nil {
		m.subs[kind] = make(map[string]Handler)
	}
	m.subs[kind][id] = handler
	m.subsMu.Unlock()

	unsubscribe := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs[kind], id)
		if len(m.subs[kind]) == 0 {
			delete(m.subs, kind)
		}
	}

	return id, unsubscribe
}

// OnConnectionChange registers a connection state observer. The attempt
// counter it receives resets to 0 the moment the connection is back.
func (m *Manager) OnConnectionChange(fn ChangeFunc) func() {
	id := uuid.NewString()

	m.subsMu.Lock()
	m.changeSubs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.changeSubs, id)
	}
}

// Connect establishes the push connection, first tearing down any
// existing one completely: pending reconnects are cancelled and the old
// transport is released before the new dial starts. The passed context
// bounds the dial only, not the connection's lifetime.
func (m *Manager) Connect(ctx context.Context, endpoint, credential string) error {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}

	m.teardownLocked()

	m.state = StateConnecting
	m.attempt = 0
	m.logger.LogConnectionState(endpoint, m.state.String(), 0, nil)

	transport, err := m.dial(ctx, endpoint, credential)
	if err != nil {
		m.state = StateDisconnected
		m.logger.LogConnectionState(endpoint, m.state.String(), 0, err)
		m.mu.Unlock()
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		ctx:        sessCtx,
		cancel:     cancel,
		endpoint:   endpoint,
		credential: credential,
		transport:  transport,
		readerDone: make(chan struct{}),
	}
	m.sess = sess
	m.state = StateConnected
	m.logger.LogConnectionState(endpoint, m.state.String(), 0, nil)
	m.mu.Unlock()

	m.notifyChange(true, 0)
	go m.readLoop(sess, sess.readerDone)

	return nil
}

// Dispose permanently shuts the manager down. It is idempotent, and no
// reconnect attempt fires after it returns.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	sess := m.sess
	m.sess = nil
	m.state = StateDisconnected
	var transport Transport
	var readerDone chan struct{}
	if sess != nil {
		transport = sess.transport
		readerDone = sess.readerDone
	}
	m.mu.Unlock()

	close(m.done)

	if sess != nil {
		sess.cancel()
		if transport != nil {
			transport.Close()
		}
		<-readerDone
	}

	<-m.dispatchDone
	m.logger.LogShutdown("dispose")
}

// teardownLocked releases the current session and waits for its reader
// to exit. Callers hold m.mu.
func (m *Manager) teardownLocked() {
	sess := m.sess
	m.sess = nil
	if sess == nil {
		return
	}

	sess.cancel()
	if sess.transport != nil {
		sess.transport.Close()
	}
	<-sess.readerDone
}

// readLoop pumps frames from one transport into the dispatch queue in
// arrival order. A read failure on a live session hands off to the
// reconnect loop.
func (m *Manager) readLoop(sess *session, done chan struct{}) {
	defer close(done)

	for {
		data, err := sess.transport.ReadFrame(sess.ctx)
		if err != nil {
			if sess.ctx.Err() != nil {
				// Deliberate teardown
				return
			}
			go m.reconnect(sess)
			return
		}

		select {
		case m.frames <- data:
		case <-sess.ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// reconnect drives bounded exponential backoff until the session is
// re-established, superseded by a newer Connect, or disposed.
func (m *Manager) reconnect(sess *session) {
	attempt := 0

	for {
		m.mu.Lock()
		if m.disposed || m.sess != sess {
			m.mu.Unlock()
			return
		}

		attempt++
		if m.backoff.MaxAttempts > 0 && attempt > m.backoff.MaxAttempts {
			m.state = StateDisconnected
			m.attempt = 0
			m.mu.Unlock()
			m.logger.LogConnectionState(sess.endpoint, StateDisconnected.String(), attempt-1,
				errors.New("reconnect attempts exhausted"))
			m.notifyChange(false, attempt-1)
			return
		}

		m.state = StateReconnecting
		m.attempt = attempt
		m.mu.Unlock()

		m.logger.LogConnectionState(sess.endpoint, StateReconnecting.String(), attempt, nil)
		m.notifyChange(false, attempt)

		select {
		case <-time.After(m.backoffDelay(attempt)):
		case <-sess.ctx.Done():
			return
		case <-m.done:
			return
		}

		m.mu.Lock()
		if m.disposed || m.sess != sess {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.logger.LogConnectionState(sess.endpoint, StateConnecting.String(), attempt, nil)

		dialCtx, cancel := context.WithTimeout(sess.ctx, dialTimeout)
		transport, err := m.dial(dialCtx, sess.endpoint, sess.credential)
		cancel()
		if err != nil {
			m.logger.LogConnectionState(sess.endpoint, StateConnecting.String(), attempt, err)
			continue
		}

		m.mu.Lock()
		if m.disposed || m.sess != sess {
			m.mu.Unlock()
			transport.Close()
			return
		}
		sess.transport = transport
		sess.readerDone = make(chan struct{})
		m.state = StateConnected
		m.attempt = 0
		readerDone := sess.readerDone
		m.mu.Unlock()

		m.logger.LogConnectionState(sess.endpoint, StateConnected.String(), 0, nil)
		m.notifyChange(true, 0)

		go m.readLoop(sess, readerDone)
		return
	}
}

// backoffDelay computes the delay before the given attempt, exponential
// from the configured base up to the cap, with jitter.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	base := time.Duration(m.backoff.BaseMs) * time.Millisecond
	ceiling := time.Duration(m.backoff.CapMs) * time.Millisecond

	delay := base
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}

	if delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	}
	return delay
}

// dispatchLoop delivers frames to subscribers one at a time, preserving
// receipt order. It never waits on work a handler spawns.
func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)

	for {
		select {
		case data := <-m.frames:
			m.dispatch(data)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) dispatch(data []byte) {
	var head struct {
		Event     string `json:"event"`
		Broadcast struct {
			ChannelID string `json:"channel_id"`
		} `json:"broadcast"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		m.logger.LogFrameDropped("", err)
		return
	}
	if head.Event == "" {
		m.logger.LogFrameDropped("", errors.New("envelope missing event kind"))
		return
	}

	frame := Frame{
		Kind:      head.Event,
		ChannelID: head.Broadcast.ChannelID,
		Raw:       data,
	}

	m.subsMu.RLock()
	handlers := make([]Handler, 0, len(m.subs[frame.Kind])+len(m.subs[KindAny]))
	for _, handler := range m.subs[frame.Kind] {
		handlers = append(handlers, handler)
	}
	for _, handler := range m.subs[KindAny] {
		handlers = append(handlers, handler)
	}
	m.subsMu.RUnlock()

	for _, handler := range handlers {
		m.safeInvoke(handler, frame)
	}
}

// safeInvoke shields the dispatch loop from a panicking handler so one
// bad subscriber cannot stop delivery to the rest.
func (m *Manager) safeInvoke(handler Handler, frame Frame) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.LogPanic(recovered, string(debug.Stack()))
		}
	}()
	handler(frame)
}

func (m *Manager) notifyChange(connected bool, attempt int) {
	m.subsMu.RLock()
	observers := make([]ChangeFunc, 0, len(m.changeSubs))
	for _, fn := range m.changeSubs {
		observers = append(observers, fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range observers {
		fn(connected, attempt)
	}
}
