package roomly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// ============================================================================
// Transport
// ============================================================================

// Transport opens authenticated connections to the push channel.
type Transport interface {
	Open(ctx context.Context, creds Credentials) (Conn, error)
}

// Conn is one open push connection. Read is only called from a single
// goroutine; the other methods may be called concurrently with it.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Read(ctx context.Context) (Envelope, error)
	Close() error
}

// ConnectionState is the state of the push channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// ============================================================================
// Reconnect Policy
// ============================================================================

// ReconnectPolicy is applied to every Activate call: failed opens are retried
// with capped exponential backoff and jitter. Whether to Activate again after
// it gives up, or after the transport drops, is left to the caller.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (p *ReconnectPolicy) defaults() {
	if p.BaseDelay == 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
}

// Delay returns the wait before retry number attempt (zero based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	jitter := time.Duration(rand.Float64() * float64(p.BaseDelay) * 0.5)
	return time.Duration(math.Min(
		float64(p.BaseDelay)*math.Pow(2, float64(attempt))+float64(jitter),
		float64(p.MaxDelay),
	))
}

// ============================================================================
// Subscription
// ============================================================================

// Handler receives the events of one topic, sequentially and in push order.
type Handler func(env Envelope)

// Subscription is the handle returned by Subscribe. It is pending until the
// channel connects, then live until unsubscribed or the channel deactivates.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	mgr     *ChannelManager
	closed  atomic.Bool

	// guarded by mgr.mu
	pending bool
	ticket  Ticket
}

func (s *Subscription) Topic() string { return s.topic }

// Pending reports whether the subscription waits for the channel to connect.
func (s *Subscription) Pending() bool {
	s.mgr.mu.RLock()
	defer s.mgr.mu.RUnlock()
	return s.pending && !s.closed.Load()
}

// Active reports whether events may still be delivered to the handler.
func (s *Subscription) Active() bool { return !s.closed.Load() }

// Unsubscribe releases the subscription. A pending subscription is removed
// from the queue and never registered. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.mgr.release(s)
}

func (s *Subscription) deliver(log *slog.Logger, env Envelope) {
	if s.closed.Load() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Subscription handler panicked", "topic", s.topic, "type", env.Type, "panic", rec)
		}
	}()
	s.handler(env)
}

// ============================================================================
// Channel Manager
// ============================================================================

type ChannelConfig struct {
	Reconnect ReconnectPolicy
	// OpTimeout bounds subscribe and unsubscribe frames sent to the server.
	OpTimeout time.Duration
}

func (c *ChannelConfig) defaults() {
	c.Reconnect.defaults()
	if c.OpTimeout == 0 {
		c.OpTimeout = 5 * time.Second
	}
}

// StateFunc observes connection state changes. err is set when the change
// was caused by a failure.
type StateFunc func(state ConnectionState, err error)

// ChannelManager owns the push connection of a session and routes its events
// to topic subscriptions. Activate and Deactivate are serialized.
type ChannelManager struct {
	log       *slog.Logger
	transport Transport
	cfg       ChannelConfig
	registry  *SubscriptionRegistry
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	lifecycle sync.Mutex

	mu        sync.RWMutex
	state     ConnectionState
	conn      Conn
	cancel    context.CancelFunc
	live      map[string][]*Subscription
	subs      map[uint64]*Subscription
	nextID    uint64
	observers map[uint64]StateFunc
	nextObs   uint64
}

func NewChannelManager(log *slog.Logger, transport Transport, cfg ChannelConfig) *ChannelManager {
	if log == nil {
		log = slog.Default()
	}
	cfg.defaults()
	return &ChannelManager{
		log:       log,
		transport: transport,
		cfg:       cfg,
		registry:  NewSubscriptionRegistry(log),
		sleep:     sleepContext,
		now:       time.Now,
		state:     StateDisconnected,
		live:      make(map[string][]*Subscription),
		subs:      make(map[uint64]*Subscription),
		observers: make(map[uint64]StateFunc),
	}
}

// State returns the current connection state.
func (m *ChannelManager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ChannelManager) IsConnected() bool {
	return m.State() == StateConnected
}

// OnStateChange registers an observer and returns a function removing it.
func (m *ChannelManager) OnStateChange(fn StateFunc) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// PendingTopics returns the topics waiting for the channel to connect.
func (m *ChannelManager) PendingTopics() []string {
	return m.registry.Topics()
}

// LiveTopics returns the topics registered on the open connection.
func (m *ChannelManager) LiveTopics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.live)
}

// Activate connects the channel. It is a no-op when already connected. On
// success every queued subscription is registered exactly once.
func (m *ChannelManager) Activate(ctx context.Context, creds Credentials) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.IsConnected() {
		return nil
	}
	if err := creds.Validate(m.now()); err != nil {
		return err
	}

	m.setState(StateConnecting, nil)
	conn, err := m.open(ctx, creds)
	if err != nil {
		m.setState(StateDisconnected, err)
		return fmt.Errorf("activate channel: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.mu.Unlock()

	m.setState(StateConnected, nil)
	go m.readLoop(readCtx, conn)

	flushed := m.registry.FlushAll()
	m.log.Info("Channel connected", "subject", creds.Subject, "flushed", flushed)
	return nil
}

func (m *ChannelManager) open(ctx context.Context, creds Credentials) (Conn, error) {
	policy := m.cfg.Reconnect
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			m.log.Warn("Retrying channel open", "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := m.sleep(ctx, delay); err != nil {
				return nil, errors.Join(lastErr, err)
			}
		}
		conn, err := m.transport.Open(ctx, creds)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if errors.Is(err, ErrCredentialsExpired) || errors.Is(err, ErrCredentialsMissing) {
			break
		}
	}
	return nil, lastErr
}

// Deactivate unregisters every subscription, closes the transport and drops
// the pending queue. Safe to call repeatedly and before any Activate.
func (m *ChannelManager) Deactivate() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	conn := m.conn
	cancel := m.cancel
	topics := lo.Keys(m.live)
	for _, sub := range m.subs {
		sub.closed.Store(true)
	}
	m.subs = make(map[uint64]*Subscription)
	m.live = make(map[string][]*Subscription)
	m.conn = nil
	m.cancel = nil
	m.mu.Unlock()

	m.registry.Clear()

	if conn != nil {
		for _, topic := range topics {
			opCtx, opCancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
			if err := conn.Unsubscribe(opCtx, topic); err != nil {
				m.log.Debug("Unsubscribe on deactivate failed", "topic", topic, "error", err)
			}
			opCancel()
		}
		if err := conn.Close(); err != nil {
			m.log.Debug("Closing transport failed", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	m.setState(StateDisconnected, nil)
}

// Subscribe registers handler for topic. While the channel is not connected
// the request is queued and the returned handle is pending.
func (m *ChannelManager) Subscribe(topic string, handler Handler) *Subscription {
	m.mu.Lock()
	m.nextID++
	sub := &Subscription{id: m.nextID, topic: topic, handler: handler, mgr: m}
	m.subs[sub.id] = sub

	if m.state == StateConnected && m.conn != nil {
		first := m.addLiveLocked(sub)
		conn := m.conn
		m.mu.Unlock()
		if first {
			m.sendSubscribe(conn, topic)
		}
		return sub
	}

	sub.pending = true
	sub.ticket = m.registry.Enqueue(topic, func() { m.register(sub) })
	m.mu.Unlock()
	m.log.Debug("Subscription queued", "topic", topic)
	return sub
}

// register moves a flushed pending subscription onto the live connection.
func (m *ChannelManager) register(sub *Subscription) {
	m.mu.Lock()
	if sub.closed.Load() || !sub.pending {
		m.mu.Unlock()
		return
	}
	sub.pending = false
	if m.conn == nil {
		// Dropped between flush and registration: back to the queue.
		sub.pending = true
		sub.ticket = m.registry.Enqueue(sub.topic, func() { m.register(sub) })
		m.mu.Unlock()
		return
	}
	first := m.addLiveLocked(sub)
	conn := m.conn
	m.mu.Unlock()
	if first {
		m.sendSubscribe(conn, sub.topic)
	}
}

func (m *ChannelManager) addLiveLocked(sub *Subscription) bool {
	first := len(m.live[sub.topic]) == 0
	m.live[sub.topic] = append(m.live[sub.topic], sub)
	return first
}

func (m *ChannelManager) sendSubscribe(conn Conn, topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	defer cancel()
	if err := conn.Subscribe(ctx, topic); err != nil {
		m.log.Warn("Subscribe frame failed", "topic", topic, "error", err)
	}
}

func (m *ChannelManager) release(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub.id)
	if sub.pending {
		sub.pending = false
		ticket := sub.ticket
		m.mu.Unlock()
		m.registry.Remove(ticket)
		return
	}

	subs := lo.Reject(m.live[sub.topic], func(s *Subscription, _ int) bool { return s == sub })
	last := len(subs) == 0 && len(m.live[sub.topic]) > 0
	if len(subs) == 0 {
		delete(m.live, sub.topic)
	} else {
		m.live[sub.topic] = subs
	}
	conn := m.conn
	m.mu.Unlock()

	if last && conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
		defer cancel()
		if err := conn.Unsubscribe(ctx, sub.topic); err != nil {
			m.log.Debug("Unsubscribe frame failed", "topic", sub.topic, "error", err)
		}
	}
}

func (m *ChannelManager) readLoop(ctx context.Context, conn Conn) {
	for {
		env, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.transportFailed(conn, err)
			return
		}
		m.dispatch(env)
	}
}

// dispatch runs the topic's handlers in subscription order on the read loop.
func (m *ChannelManager) dispatch(env Envelope) {
	m.mu.RLock()
	subs := append([]*Subscription(nil), m.live[env.Topic]...)
	m.mu.RUnlock()

	if len(subs) == 0 {
		m.log.Debug("Event without subscriber", "topic", env.Topic, "type", env.Type)
		return
	}
	for _, sub := range subs {
		sub.deliver(m.log, env)
	}
}

// transportFailed marks the channel disconnected and queues the live
// subscriptions again so the next Activate registers them.
func (m *ChannelManager) transportFailed(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	for topic, subs := range m.live {
		for _, sub := range subs {
			sub.pending = true
			sub.ticket = m.registry.Enqueue(topic, func() { m.register(sub) })
		}
	}
	m.live = make(map[string][]*Subscription)
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	_ = conn.Close()
	m.log.Warn("Channel transport failed", "error", cause)
	m.setState(StateDisconnected, cause)
}

func (m *ChannelManager) setState(state ConnectionState, cause error) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	observers := lo.Values(m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.log.Error("State observer panicked", "panic", rec)
				}
			}()
			fn(state, cause)
		}()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
