package roomly

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Scope
// ============================================================================

// Scope owns the subscriptions of one feature, such as an open conversation
// or a booking detail. Release drops them all synchronously; after that no
// handler of the scope runs again.
type Scope struct {
	session  *Session
	mu       sync.Mutex
	subs     []*Subscription
	released atomic.Bool
}

// Subscribe subscribes topic for the lifetime of the scope.
func (s *Scope) Subscribe(topic string, handler Handler) (*Subscription, error) {
	if !s.Alive() {
		return nil, ErrSessionClosed
	}
	sub := s.session.channel.Subscribe(topic, func(env Envelope) {
		if s.Alive() {
			handler(env)
		}
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released.Load() {
		sub.Unsubscribe()
		return nil, ErrSessionClosed
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

// Alive reports whether the scope and its session are still open.
func (s *Scope) Alive() bool {
	return !s.released.Load() && s.session.Alive()
}

// Release unsubscribes every handle of the scope. Safe to call repeatedly.
func (s *Scope) Release() {
	if s.released.Swap(true) {
		return
	}
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// ============================================================================
// Session
// ============================================================================

type SessionConfig struct {
	Channel ChannelConfig
	Poll    PollConfig
	// Storage is optional; without it state lives only in memory.
	Storage      Storage
	RefundQuoter RefundQuoter
	Logger       *slog.Logger

	Now   func() time.Time
	NewID func() string
}

func (c *SessionConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.RefundQuoter == nil {
		c.RefundQuoter = FullRefund
	}
}

// Session is the authenticated state context of one user: the push channel,
// the chat store, the bookings coordinator and the polling fallback.
type Session struct {
	log     *slog.Logger
	cfg     SessionConfig
	remote  RemoteAPI
	channel *ChannelManager
	chat    *ChatStore
	booking *Coordinator
	poller  *Poller
	router  *EventRouter
	storage Storage

	closed    atomic.Bool
	mu        sync.Mutex
	creds     Credentials
	userScope *Scope
	stopState func()
	bg        sync.WaitGroup
}

func NewSession(remote RemoteAPI, transport Transport, cfg SessionConfig) *Session {
	cfg.defaults()
	s := &Session{
		log:     cfg.Logger,
		cfg:     cfg,
		remote:  remote,
		storage: cfg.Storage,
	}
	s.channel = NewChannelManager(cfg.Logger.With("component", "channel"), transport, cfg.Channel)
	s.chat = newChatStore(s, cfg)
	s.booking = newCoordinator(s, cfg)
	s.router = NewEventRouter(cfg.Logger, s.chat.HandlePush, s.booking.HandleEvent)
	s.poller = NewPoller(cfg.Logger.With("component", "poller"), remote, cfg.Storage, s.router.Route, cfg.Poll)
	s.stopState = s.channel.OnStateChange(s.onChannelState)
	return s
}

func (s *Session) Channel() *ChannelManager { return s.channel }
func (s *Session) Chat() *ChatStore         { return s.chat }
func (s *Session) Bookings() *Coordinator   { return s.booking }
func (s *Session) Poller() *Poller          { return s.poller }
func (s *Session) Router() *EventRouter     { return s.router }

// Alive reports whether the session is open.
func (s *Session) Alive() bool { return !s.closed.Load() }

// Credentials returns the credentials of the last Activate.
func (s *Session) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// NewScope opens a scope bound to this session.
func (s *Session) NewScope() *Scope {
	return &Scope{session: s}
}

// Restore loads persisted state into the in-memory collections.
func (s *Session) Restore() error {
	if s.storage == nil {
		return nil
	}
	return errors.Join(s.booking.restore(s.storage), s.poller.Restore())
}

// Activate connects the push channel and subscribes the user topic. When the
// channel cannot be opened the poller keeps state fresh until Reconnect
// succeeds.
func (s *Session) Activate(ctx context.Context, creds Credentials) error {
	if !s.Alive() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	s.creds = creds
	if s.userScope == nil && creds.Subject != "" {
		s.userScope = s.NewScope()
		if _, err := s.userScope.Subscribe(UserTopic(creds.Subject), s.router.Route); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.Identify(creds)

	if err := s.channel.Activate(ctx, creds); err != nil {
		if !errors.Is(err, ErrCredentialsMissing) && !errors.Is(err, ErrCredentialsExpired) {
			s.poller.Start()
		}
		return err
	}
	return nil
}

// Identify binds the session to creds without opening the push channel.
// One-shot command callers use it instead of Activate.
func (s *Session) Identify(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	s.chat.setSender(creds.Subject)
	s.booking.setTenant(creds.Subject)
}

// Reconnect retries the channel with the credentials of the last Activate.
// Reconnecting is always the caller's decision.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.Activate(ctx, s.Credentials())
}

func (s *Session) onChannelState(state ConnectionState, cause error) {
	if !s.Alive() {
		return
	}
	switch state {
	case StateConnected:
		s.poller.Stop()
		// Catch up with what was missed while the channel was down.
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.poller.cfg.Timeout)
			defer cancel()
			if _, err := s.poller.SyncOnce(ctx); err != nil {
				s.log.Warn("Catch-up sync failed", "error", err)
			}
		}()
	case StateDisconnected:
		if cause != nil {
			s.log.Warn("Push channel lost, polling", "error", cause)
			s.poller.Start()
		}
	}
}

// Close tears the session down: scopes stop receiving, the channel is
// deactivated and responses still in flight are ignored.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	userScope := s.userScope
	s.userScope = nil
	s.mu.Unlock()
	if userScope != nil {
		userScope.Release()
	}
	s.stopState()
	s.poller.Stop()
	s.channel.Deactivate()
	s.bg.Wait()
	s.booking.wait()
	err := s.chat.Close()
	s.log.Info("Session closed")
	return err
}
