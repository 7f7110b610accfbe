package roomly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Event Router
// ============================================================================

// EventRouter dispatches an event to the component owning its type. Pushed
// and polled events go through the same router.
type EventRouter struct {
	log      *slog.Logger
	messages Handler
	bookings Handler
}

func NewEventRouter(log *slog.Logger, messages, bookings Handler) *EventRouter {
	if log == nil {
		log = slog.Default()
	}
	return &EventRouter{log: log, messages: messages, bookings: bookings}
}

func (r *EventRouter) Route(env Envelope) {
	switch env.Type {
	case EventMessageCreated, EventMessageUpdated:
		r.messages(env)
	case EventPaymentStatusChanged, EventInvoiceUpdated, EventRefundConfirmed,
		EventBookingUpdated, EventNotification:
		r.bookings(env)
	default:
		r.log.Debug("Unrouted event", "type", env.Type, "topic", env.Topic)
	}
}

// ============================================================================
// Poller
// ============================================================================

type PollConfig struct {
	Interval time.Duration
	PageSize int
	Timeout  time.Duration
	// Disabled turns the fallback off; events are then only received by push.
	Disabled bool
}

func (c *PollConfig) defaults() {
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
	if c.PageSize == 0 {
		c.PageSize = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Poller pulls the cursor-based event feed while the push channel is down.
type Poller struct {
	log     *slog.Logger
	remote  RemoteAPI
	storage Storage
	route   Handler
	cfg     PollConfig

	syncMu sync.Mutex // one sync at a time

	mu      sync.Mutex
	cursor  string
	lastSeq int64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(log *slog.Logger, remote RemoteAPI, storage Storage, route Handler, cfg PollConfig) *Poller {
	if log == nil {
		log = slog.Default()
	}
	cfg.defaults()
	return &Poller{log: log, remote: remote, storage: storage, route: route, cfg: cfg}
}

// Restore loads the persisted sync cursor.
func (p *Poller) Restore() error {
	if p.storage == nil {
		return nil
	}
	cursor, err := p.storage.GetCursor(SyncCursorKey)
	if err != nil {
		return fmt.Errorf("restore sync cursor: %w", err)
	}
	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()
	return nil
}

// Cursor returns the position of the last applied event page.
func (p *Poller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start begins polling every Interval. It is a no-op when already running
// or disabled.
func (p *Poller) Start() {
	if p.cfg.Disabled {
		return
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.log.Info("Polling started", "interval", p.cfg.Interval)
	go p.loop(ctx, done)
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Info("Polling stopped")
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		syncCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		if _, err := p.SyncOnce(syncCtx); err != nil && ctx.Err() == nil {
			p.log.Warn("Event sync failed", "error", err)
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce drains the event feed from the stored cursor and returns how many
// events were routed. Events already applied by sequence are skipped.
func (p *Poller) SyncOnce(ctx context.Context) (int, error) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	routed := 0
	for {
		cursor := p.Cursor()
		page, err := p.remote.FetchEvents(ctx, cursor, p.cfg.PageSize)
		if err != nil {
			return routed, fmt.Errorf("fetch events after %q: %w", cursor, err)
		}
		for _, env := range page.Events {
			if !p.markSeen(env.Seq) {
				continue
			}
			p.route(env)
			routed++
		}
		if page.Cursor != "" && page.Cursor != cursor {
			p.setCursor(page.Cursor)
		}
		if !page.HasMore || page.Cursor == "" || page.Cursor == cursor {
			return routed, nil
		}
	}
}

func (p *Poller) markSeen(seq int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq == 0 {
		return true
	}
	if seq <= p.lastSeq {
		return false
	}
	p.lastSeq = seq
	return true
}

func (p *Poller) setCursor(cursor string) {
	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()
	if p.storage == nil {
		return
	}
	if err := p.storage.SetCursor(SyncCursorKey, strings.TrimSpace(cursor)); err != nil {
		p.log.Warn("Persisting sync cursor failed", "error", err)
	}
}
