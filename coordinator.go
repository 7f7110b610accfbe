package roomly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Notifier receives one-shot user notifications.
type Notifier func(Notification)

// BookingView is what a booking screen renders. Payment state and every
// eligibility flag are derived from the invoice, never stored.
type BookingView struct {
	Booking              Booking
	Invoice              *Invoice
	StatusLabel          string
	PaymentState         PaymentState
	CanCheckIn           bool
	CanCheckOut          bool
	CanCancel            bool
	CancelRequiresReason bool
	ReviewEligible       bool
	CommandInFlight      bool
}

// Coordinator keeps bookings and invoices consistent across optimistic
// commands and pushed events.
type Coordinator struct {
	log      *slog.Logger
	remote   RemoteAPI
	bookings *Reconciler[Booking]
	invoices *Reconciler[Invoice]
	quote    RefundQuoter
	alive    func() bool
	now      func() time.Time
	newID    func() string
	storage  Storage
	timeout  time.Duration

	mu        sync.Mutex
	tenant    string
	inFlight  map[string]string
	seen      map[string]struct{}
	notifiers []Notifier
	refreshes sync.WaitGroup
}

func newCoordinator(s *Session, cfg SessionConfig) *Coordinator {
	c := NewCoordinator(cfg.Logger.With("component", "bookings"), s.remote, cfg.RefundQuoter, cfg.Storage)
	c.alive = s.Alive
	c.now = cfg.Now
	c.newID = cfg.NewID
	return c
}

// NewCoordinator builds a standalone coordinator; storage may be nil.
func NewCoordinator(log *slog.Logger, remote RemoteAPI, quote RefundQuoter, storage Storage) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if quote == nil {
		quote = FullRefund
	}
	c := &Coordinator{
		log:      log,
		remote:   remote,
		bookings: NewReconciler(log, "bookings", WithMergeFunc(mergeBooking)),
		invoices: NewReconciler(log, "invoices", WithMergeFunc(mergeInvoice)),
		quote:    quote,
		alive:    func() bool { return true },
		now:      time.Now,
		newID:    uuid.NewString,
		storage:  storage,
		timeout:  30 * time.Second,
		inFlight: make(map[string]string),
		seen:     make(map[string]struct{}),
	}
	if storage != nil {
		c.bookings.OnChange(func(_ *Booking, next Booking, _ MergeResult) {
			if next.IsConfirmed() {
				if err := storage.PutBookings([]Booking{next}); err != nil {
					c.log.Warn("Persisting booking failed", "bookingId", next.BookingID, "error", err)
				}
			}
		})
		c.invoices.OnChange(func(_ *Invoice, next Invoice, _ MergeResult) {
			if next.IsConfirmed() {
				if err := storage.PutInvoices([]Invoice{next}); err != nil {
					c.log.Warn("Persisting invoice failed", "invoiceId", next.InvoiceID, "error", err)
				}
			}
		})
	}
	return c
}

func (c *Coordinator) setTenant(tenant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenant = tenant
}

// OnNotification registers a notification observer.
func (c *Coordinator) OnNotification(fn Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, fn)
}

// Bookings exposes the booking collection.
func (c *Coordinator) Bookings() *Reconciler[Booking] { return c.bookings }

// Invoices exposes the invoice collection.
func (c *Coordinator) Invoices() *Reconciler[Invoice] { return c.invoices }

func (c *Coordinator) restore(storage Storage) error {
	bookings, err := storage.GetBookings()
	if err != nil {
		return fmt.Errorf("restore bookings: %w", err)
	}
	invoices, err := storage.GetInvoices()
	if err != nil {
		return fmt.Errorf("restore invoices: %w", err)
	}
	for _, b := range bookings {
		c.bookings.MergeByIdentity(b)
	}
	for _, inv := range invoices {
		c.invoices.MergeByIdentity(inv)
	}
	return nil
}

// Track merges a confirmed snapshot, e.g. a booking opened from a deep link.
func (c *Coordinator) Track(snap BookingSnapshot) {
	c.bookings.MergeByIdentity(snap.Booking)
	if snap.Invoice != nil {
		c.invoices.MergeByIdentity(*snap.Invoice)
	}
}

// ============================================================================
// Views
// ============================================================================

func (c *Coordinator) booking(bookingID string) (Booking, error) {
	b, ok := c.bookings.Get(Keys{ServerID: bookingID})
	if !ok {
		return Booking{}, fmt.Errorf("%w: %s", ErrUnknownBooking, bookingID)
	}
	return b, nil
}

func (c *Coordinator) invoiceFor(bookingID string) *Invoice {
	matches := c.invoices.Filter(func(inv Invoice) bool { return inv.BookingID == bookingID })
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// Invoice returns the invoice with the given id.
func (c *Coordinator) Invoice(invoiceID string) (Invoice, error) {
	inv, ok := c.invoices.Get(Keys{ServerID: invoiceID})
	if !ok {
		return Invoice{}, fmt.Errorf("%w: %s", ErrUnknownInvoice, invoiceID)
	}
	return inv, nil
}

// View derives the display state of a booking from its current invoice.
func (c *Coordinator) View(bookingID string) (BookingView, error) {
	b, err := c.booking(bookingID)
	if err != nil {
		return BookingView{}, err
	}
	return c.view(b), nil
}

// Views returns the view of every known booking, oldest first.
func (c *Coordinator) Views() []BookingView {
	return lo.Map(c.bookings.Items(), func(b Booking, _ int) BookingView { return c.view(b) })
}

func (c *Coordinator) view(b Booking) BookingView {
	inv := c.invoiceFor(b.BookingID)
	v := BookingView{
		Booking:              b,
		Invoice:              inv,
		StatusLabel:          b.Status.Label(),
		PaymentState:         PaymentStateOf(inv),
		CanCheckIn:           CheckInAllowed(b, inv),
		CanCheckOut:          b.Status == BookingCheckedIn,
		CanCancel:            b.Status.CanTransitionTo(BookingCancelled),
		CancelRequiresReason: CancelRequiresReason(inv),
		ReviewEligible:       b.ReviewEligible || b.Status == BookingCompleted,
	}
	if inv != nil {
		c.mu.Lock()
		_, v.CommandInFlight = c.inFlight[inv.InvoiceID]
		c.mu.Unlock()
	}
	return v
}

// ============================================================================
// Commands
// ============================================================================

func (c *Coordinator) acquire(invoiceID, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running, ok := c.inFlight[invoiceID]; ok {
		return fmt.Errorf("%w: %s running on invoice %s", ErrCommandInFlight, running, invoiceID)
	}
	c.inFlight[invoiceID] = command
	return nil
}

func (c *Coordinator) release(invoiceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, invoiceID)
}

// CreateBooking stages a PENDING_PAYMENT booking and creates it remotely.
func (c *Coordinator) CreateBooking(ctx context.Context, propertyID string, start, end time.Time) (BookingView, error) {
	c.mu.Lock()
	tenant := c.tenant
	c.mu.Unlock()

	cmd := CreateBookingCommand{
		CorrelationID: c.newID(),
		PropertyID:    propertyID,
		TenantRef:     tenant,
		StartDate:     start,
		EndDate:       end,
	}
	if err := ValidateCommand(cmd); err != nil {
		return BookingView{}, err
	}
	optimistic := Booking{
		PropertyID:    propertyID,
		TenantRef:     tenant,
		Status:        BookingPendingPayment,
		StartDate:     start,
		EndDate:       end,
		CreatedAt:     c.now(),
		CorrelationID: cmd.CorrelationID,
	}
	if _, err := c.bookings.StageOptimistic(cmd.CorrelationID, optimistic); err != nil {
		return BookingView{}, err
	}

	snap, err := c.remote.CreateBooking(ctx, cmd)
	if !c.alive() {
		return BookingView{}, ErrSessionClosed
	}
	if err != nil {
		c.bookings.Discard(cmd.CorrelationID)
		return BookingView{}, &CommandError{Command: "create booking", CorrelationID: cmd.CorrelationID, Err: err}
	}
	snap.Booking.CorrelationID = cmd.CorrelationID
	c.bookings.Promote(cmd.CorrelationID, snap.Booking)
	if snap.Invoice != nil {
		c.invoices.MergeByIdentity(*snap.Invoice)
	}
	return c.View(snap.Booking.BookingID)
}

// ConfirmPayment is the user's "I have paid". The invoice shows PAID at once;
// the confirmation, from the response or a push, is applied exactly once.
func (c *Coordinator) ConfirmPayment(ctx context.Context, invoiceID string) (Invoice, error) {
	if err := c.acquire(invoiceID, "confirm payment"); err != nil {
		return Invoice{}, err
	}
	defer c.release(invoiceID)

	inv, err := c.Invoice(invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status.IsSettled() {
		return inv, nil
	}
	paid, err := inv.MarkPaid(c.now())
	if err != nil {
		return Invoice{}, err
	}

	cmd := ConfirmPaymentCommand{CorrelationID: c.newID(), InvoiceID: invoiceID}
	if err := ValidateCommand(cmd); err != nil {
		return Invoice{}, err
	}
	paid.CorrelationID = cmd.CorrelationID
	paid.Confirmed = false
	if _, err := c.invoices.StageOptimistic(cmd.CorrelationID, paid); err != nil {
		return Invoice{}, err
	}

	confirmed, err := c.remote.ConfirmPayment(ctx, cmd)
	if !c.alive() {
		return Invoice{}, ErrSessionClosed
	}
	if err != nil {
		c.invoices.Discard(cmd.CorrelationID)
		// A payment event may have settled the invoice while the call was out.
		if stored, ok := c.invoices.Get(Keys{ServerID: invoiceID}); ok && stored.IsConfirmed() && stored.Status.IsSettled() {
			c.log.Warn("Confirm payment failed after the invoice was settled", "invoiceId", invoiceID, "error", err)
			return stored, nil
		}
		c.notify(Notification{Kind: NotifyPaymentFailed, InvoiceID: invoiceID, BookingID: inv.BookingID, Message: err.Error(), At: c.now()})
		return Invoice{}, &CommandError{Command: "confirm payment", CorrelationID: cmd.CorrelationID, Err: err}
	}
	confirmed.CorrelationID = cmd.CorrelationID
	confirmed.Confirmed = true
	c.invoices.Promote(cmd.CorrelationID, confirmed)
	if confirmed.Status.IsSettled() {
		c.paymentSucceeded(invoiceID)
	}
	return c.Invoice(invoiceID)
}

// CancelBooking cancels a booking. A paid booking needs a reason and puts
// its invoice into REFUND_PENDING; an unpaid invoice is voided.
func (c *Coordinator) CancelBooking(ctx context.Context, bookingID, reason string) (BookingView, error) {
	b, err := c.booking(bookingID)
	if err != nil {
		return BookingView{}, err
	}
	inv := c.invoiceFor(bookingID)
	plan, err := b.Cancel(reason, inv, c.quote, c.now())
	if err != nil {
		return BookingView{}, err
	}
	cmd := CancelBookingCommand{
		CorrelationID:  c.newID(),
		BookingID:      bookingID,
		Reason:         plan.Booking.CancellationReason,
		RefundRequired: plan.RefundRequired,
	}
	if err := ValidateCommand(cmd); err != nil {
		return BookingView{}, err
	}
	if inv != nil {
		if err := c.acquire(inv.InvoiceID, "cancel booking"); err != nil {
			return BookingView{}, err
		}
		defer c.release(inv.InvoiceID)
	}

	plan.Booking.CorrelationID = cmd.CorrelationID
	plan.Booking.Confirmed = false
	if _, err := c.bookings.StageOptimistic(cmd.CorrelationID, plan.Booking); err != nil {
		return BookingView{}, err
	}
	if plan.Invoice != nil {
		plan.Invoice.CorrelationID = cmd.CorrelationID
		plan.Invoice.Confirmed = false
		if _, err := c.invoices.StageOptimistic(cmd.CorrelationID, *plan.Invoice); err != nil {
			c.bookings.Discard(cmd.CorrelationID)
			return BookingView{}, err
		}
	}

	snap, err := c.remote.CancelBooking(ctx, cmd)
	if !c.alive() {
		return BookingView{}, ErrSessionClosed
	}
	if err != nil {
		c.bookings.Discard(cmd.CorrelationID)
		c.invoices.Discard(cmd.CorrelationID)
		return BookingView{}, &CommandError{Command: "cancel booking", CorrelationID: cmd.CorrelationID, Err: err}
	}

	snap.Booking.CorrelationID = cmd.CorrelationID
	c.bookings.Promote(cmd.CorrelationID, snap.Booking)
	switch {
	case snap.Invoice != nil:
		snap.Invoice.CorrelationID = cmd.CorrelationID
		c.invoices.Promote(cmd.CorrelationID, *snap.Invoice)
	case plan.Invoice != nil:
		// Accepted without an echo: the planned transition is what the server applied.
		accepted := *plan.Invoice
		accepted.Confirmed = true
		c.invoices.Promote(cmd.CorrelationID, accepted)
	}
	return c.View(bookingID)
}

// CheckIn is only sent when the invoice is PAID and the booking approved or
// awaiting approval.
func (c *Coordinator) CheckIn(ctx context.Context, bookingID string) (BookingView, error) {
	b, err := c.booking(bookingID)
	if err != nil {
		return BookingView{}, err
	}
	next, err := b.CheckIn(c.invoiceFor(bookingID), c.now())
	if err != nil {
		return BookingView{}, err
	}
	return c.runBookingCommand(ctx, "check in", next, c.remote.CheckIn)
}

// CheckOut completes the stay and makes the tenant eligible for a review.
func (c *Coordinator) CheckOut(ctx context.Context, bookingID string) (BookingView, error) {
	b, err := c.booking(bookingID)
	if err != nil {
		return BookingView{}, err
	}
	next, err := b.CheckOut(c.now())
	if err != nil {
		return BookingView{}, err
	}
	return c.runBookingCommand(ctx, "check out", next, c.remote.CheckOut)
}

// Approve is the landlord's approval of a paid booking.
func (c *Coordinator) Approve(ctx context.Context, bookingID string) (BookingView, error) {
	b, err := c.booking(bookingID)
	if err != nil {
		return BookingView{}, err
	}
	next, err := b.Approve(c.now())
	if err != nil {
		return BookingView{}, err
	}
	return c.runBookingCommand(ctx, "approve booking", next, c.remote.ApproveBooking)
}

func (c *Coordinator) runBookingCommand(ctx context.Context, name string, next Booking,
	call func(ctx context.Context, bookingID string) (Booking, error)) (BookingView, error) {
	cid := c.newID()
	next.CorrelationID = cid
	next.Confirmed = false
	if _, err := c.bookings.StageOptimistic(cid, next); err != nil {
		return BookingView{}, err
	}

	confirmed, err := call(ctx, next.BookingID)
	if !c.alive() {
		return BookingView{}, ErrSessionClosed
	}
	if err != nil {
		c.bookings.Discard(cid)
		return BookingView{}, &CommandError{Command: name, CorrelationID: cid, Err: err}
	}
	confirmed.CorrelationID = cid
	c.bookings.Promote(cid, confirmed)
	return c.View(next.BookingID)
}

// Refresh reloads the booking collection from the server.
func (c *Coordinator) Refresh(ctx context.Context) error {
	snaps, err := c.remote.ListBookings(ctx)
	if err != nil {
		return fmt.Errorf("refresh bookings: %w", err)
	}
	if !c.alive() {
		return ErrSessionClosed
	}
	for _, snap := range snaps {
		c.Track(snap)
	}
	c.log.Debug("Bookings refreshed", "count", len(snaps))
	return nil
}

// Load fetches one booking with its invoice.
func (c *Coordinator) Load(ctx context.Context, bookingID string) (BookingView, error) {
	snap, err := c.remote.GetBooking(ctx, bookingID)
	if err != nil {
		return BookingView{}, err
	}
	if !c.alive() {
		return BookingView{}, ErrSessionClosed
	}
	c.Track(snap)
	return c.View(bookingID)
}

// Watch subscribes the invoice topic of a booking for the lifetime of scope.
func (c *Coordinator) Watch(scope *Scope, invoiceID string) (*Subscription, error) {
	return scope.Subscribe(InvoiceTopic(invoiceID), c.HandleEvent)
}

// ============================================================================
// Events
// ============================================================================

// HandleEvent applies a pushed or polled booking, invoice or notification event.
func (c *Coordinator) HandleEvent(env Envelope) {
	if !c.alive() {
		return
	}
	var err error
	switch env.Type {
	case EventPaymentStatusChanged:
		err = c.onPaymentEvent(env)
	case EventRefundConfirmed:
		err = c.onRefundEvent(env)
	case EventInvoiceUpdated:
		var inv Invoice
		if inv, err = NormalizeInvoice(env.Payload); err == nil {
			c.applyInvoice(inv)
		}
	case EventBookingUpdated:
		var snap BookingSnapshot
		if snap, err = NormalizeBookingSnapshot(env.Payload); err == nil {
			c.Track(snap)
		}
	case EventNotification:
		var n Notification
		if n, err = NormalizeNotification(env.Payload); err == nil {
			if n.At.IsZero() {
				n.At = c.now()
			}
			c.notify(n)
		}
	}
	if err != nil {
		c.log.Warn("Dropping event", "type", env.Type, "topic", env.Topic, "error", err)
	}
}

func (c *Coordinator) onPaymentEvent(env Envelope) error {
	ev, err := NormalizePaymentEvent(env.Payload)
	if err != nil {
		return err
	}
	if !ev.Success {
		if c.once(ev.InvoiceID, string(EventPaymentStatusChanged)+":failed") {
			c.notify(Notification{Kind: NotifyPaymentFailed, InvoiceID: ev.InvoiceID, At: c.now()})
		}
		return nil
	}
	inv, err := c.confirmedInvoice(ev, func(known Invoice, at time.Time) (Invoice, error) {
		if known.Status.IsSettled() {
			return known, nil
		}
		return known.MarkPaid(at)
	})
	if err != nil {
		return err
	}
	c.applyInvoice(inv)
	c.paymentSucceeded(ev.InvoiceID)
	return nil
}

func (c *Coordinator) onRefundEvent(env Envelope) error {
	ev, err := NormalizePaymentEvent(env.Payload)
	if err != nil {
		return err
	}
	inv, err := c.confirmedInvoice(ev, func(known Invoice, at time.Time) (Invoice, error) {
		if known.Status == InvoiceRefunded {
			return known, nil
		}
		return known.ConfirmRefund(at)
	})
	if err != nil {
		return err
	}
	c.applyInvoice(inv)
	if c.once(ev.InvoiceID, string(EventRefundConfirmed)) {
		c.notify(Notification{Kind: NotifyRefundConfirmed, InvoiceID: inv.InvoiceID, BookingID: inv.BookingID, At: c.now()})
	}
	return nil
}

// confirmedInvoice returns the invoice carried by ev, or derives it from the
// last confirmed state with advance when the event only names the invoice.
func (c *Coordinator) confirmedInvoice(ev PaymentEvent, advance func(Invoice, time.Time) (Invoice, error)) (Invoice, error) {
	if ev.Invoice != nil {
		return *ev.Invoice, nil
	}
	known, ok := c.invoices.Get(Keys{ServerID: ev.InvoiceID})
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		fetched, err := c.remote.GetInvoice(ctx, ev.InvoiceID)
		if err != nil {
			return Invoice{}, fmt.Errorf("fetch invoice %s: %w", ev.InvoiceID, err)
		}
		return fetched, nil
	}
	at := ev.At
	if at.IsZero() {
		at = c.now()
	}
	next, err := advance(known, at)
	if err != nil {
		return Invoice{}, err
	}
	next.CorrelationID = ""
	next.Confirmed = true
	return next, nil
}

// applyInvoice merges a confirmed invoice and mirrors it onto its booking.
func (c *Coordinator) applyInvoice(inv Invoice) {
	c.invoices.MergeByIdentity(inv)
	stored, ok := c.invoices.Get(Keys{ServerID: inv.InvoiceID})
	if !ok || !stored.IsConfirmed() {
		return
	}
	if b, ok := c.bookings.Get(Keys{ServerID: stored.BookingID}); ok && b.IsConfirmed() {
		c.bookings.MergeByIdentity(b.WithPayment(stored, c.now()))
	}
}

// paymentSucceeded runs the success effects once per invoice: booking display
// state, notification and a background refresh of the collection.
func (c *Coordinator) paymentSucceeded(invoiceID string) {
	if !c.once(invoiceID, string(EventPaymentStatusChanged)) {
		return
	}
	inv, err := c.Invoice(invoiceID)
	if err != nil {
		return
	}
	c.applyInvoice(inv)
	c.notify(Notification{Kind: NotifyPaymentSucceeded, InvoiceID: invoiceID, BookingID: inv.BookingID, At: c.now()})

	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.log.Warn("Background refresh failed", "invoiceId", invoiceID, "error", err)
		}
	}()
}

// once reports whether (invoiceID, kind) is seen for the first time.
func (c *Coordinator) once(invoiceID, kind string) bool {
	key := invoiceID + "|" + kind
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

func (c *Coordinator) notify(n Notification) {
	c.mu.Lock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.mu.Unlock()
	for _, fn := range notifiers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					c.log.Error("Notifier panicked", "kind", n.Kind, "panic", rec)
				}
			}()
			fn(n)
		}()
	}
}

// wait blocks until background refreshes have finished.
func (c *Coordinator) wait() {
	c.refreshes.Wait()
}
