package roomly_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/roomly-app/roomly/sdk/golang/mocks"
)

// ============================================================================
// Test Helpers
// ============================================================================

type notices struct {
	mu   sync.Mutex
	list []roomly.Notification
}

func (n *notices) add(x roomly.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, x)
}

func (n *notices) kinds() []roomly.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]roomly.NotificationKind, 0, len(n.list))
	for _, x := range n.list {
		out = append(out, x.Kind)
	}
	return out
}

var start = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func bookingB1(status roomly.BookingStatus, payment roomly.PaymentState) roomly.Booking {
	return roomly.Booking{
		BookingID: "B1", PropertyID: "P1", TenantRef: "u1", Status: status, PaymentStatus: payment,
		StartDate: start.Add(48 * time.Hour), EndDate: start.Add(96 * time.Hour), CreatedAt: start, Confirmed: true,
	}
}

func invoiceI1(status roomly.InvoiceStatus) roomly.Invoice {
	inv := roomly.Invoice{
		InvoiceID: "I1", BookingID: "B1", Status: status,
		Total: 500000, DueAmount: 500000, IssuedAt: start, Confirmed: true,
	}
	if status.IsSettled() {
		inv.DueAmount = 0
		inv.PaidAt = start.Add(time.Hour)
	}
	return inv
}

func newTestCoordinator(t *testing.T) (*roomly.Coordinator, *mocks.MockRemoteAPI, *notices) {
	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemoteAPI(ctrl)
	c := roomly.NewCoordinator(logs.GetLoggerFromLevel(slog.LevelDebug), remote, roomly.FullRefund, nil)
	n := &notices{}
	c.OnNotification(n.add)

	// Given booking B1 waiting for payment of invoice I1
	inv := invoiceI1(roomly.InvoiceIssued)
	c.Track(roomly.BookingSnapshot{Booking: bookingB1(roomly.BookingPendingPayment, roomly.PaymentUnpaid), Invoice: &inv})
	return c, remote, n
}

// expectRefresh expects exactly one background refresh and returns a channel
// closed once it ran.
func expectRefresh(remote *mocks.MockRemoteAPI) <-chan struct{} {
	done := make(chan struct{})
	paid := invoiceI1(roomly.InvoicePaid)
	remote.EXPECT().ListBookings(gomock.Any()).DoAndReturn(func(context.Context) ([]roomly.BookingSnapshot, error) {
		defer close(done)
		return []roomly.BookingSnapshot{{
			Booking: bookingB1(roomly.BookingAwaitingApproval, roomly.PaymentPaid),
			Invoice: &paid,
		}}, nil
	}).Times(1)
	return done
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "background refresh did not run")
	}
}

func paymentPush() roomly.Envelope {
	return roomly.Envelope{
		Type:    roomly.EventPaymentStatusChanged,
		Topic:   roomly.InvoiceTopic("I1"),
		Payload: []byte(`{"invoiceId":"I1","success":true}`),
	}
}

// ============================================================================
// Confirm Payment
// ============================================================================

func TestCoordinator_ConfirmPaymentThenPush(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c, remote, n := newTestCoordinator(t)
	refreshed := expectRefresh(remote)

	// Given the server accepts the payment
	remote.EXPECT().ConfirmPayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd roomly.ConfirmPaymentCommand) (roomly.Invoice, error) {
			req.Equal("I1", cmd.InvoiceID)
			req.NotEmpty(cmd.CorrelationID)
			return invoiceI1(roomly.InvoicePaid), nil
		}).Times(1)

	// When the tenant confirms and the push follows 50ms later
	inv, err := c.ConfirmPayment(ctx, "I1")
	req.NoError(err)
	req.Equal(roomly.InvoicePaid, inv.Status)
	time.Sleep(50 * time.Millisecond)
	c.HandleEvent(paymentPush())
	waitFor(t, refreshed)

	// Then the invoice is PAID exactly once with a single notification
	req.Len(c.Invoices().Items(), 1)
	req.Equal([]roomly.NotificationKind{roomly.NotifyPaymentSucceeded}, n.kinds())

	view, err := c.View("B1")
	req.NoError(err)
	req.Equal(roomly.PaymentPaid, view.PaymentState)
	req.Equal(roomly.BookingAwaitingApproval, view.Booking.Status)
	req.True(view.CanCheckIn)
	req.True(view.CancelRequiresReason)
	req.False(view.CommandInFlight)

	// And check-in goes through
	remote.EXPECT().CheckIn(gomock.Any(), "B1").
		Return(bookingB1(roomly.BookingCheckedIn, roomly.PaymentPaid), nil).Times(1)
	view, err = c.CheckIn(ctx, "B1")
	req.NoError(err)
	req.Equal(roomly.BookingCheckedIn, view.Booking.Status)
	req.True(view.CanCheckOut)
}

func TestCoordinator_PushBeforeResponse(t *testing.T) {
	req := require.New(t)
	c, remote, n := newTestCoordinator(t)
	refreshed := expectRefresh(remote)

	// Given the push is delivered while the command is still in flight
	remote.EXPECT().ConfirmPayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, roomly.ConfirmPaymentCommand) (roomly.Invoice, error) {
			c.HandleEvent(paymentPush())
			return invoiceI1(roomly.InvoicePaid), nil
		}).Times(1)

	// When the response arrives afterwards
	_, err := c.ConfirmPayment(context.Background(), "I1")
	req.NoError(err)
	waitFor(t, refreshed)

	// Then the success effects ran once
	req.Equal([]roomly.NotificationKind{roomly.NotifyPaymentSucceeded}, n.kinds())
	inv, err := c.Invoice("I1")
	req.NoError(err)
	req.True(inv.IsConfirmed())
	req.Equal(roomly.InvoicePaid, inv.Status)
}

func TestCoordinator_ConfirmPaymentInFlight(t *testing.T) {
	req := require.New(t)
	c, remote, _ := newTestCoordinator(t)
	refreshed := expectRefresh(remote)

	var second error
	remote.EXPECT().ConfirmPayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ roomly.ConfirmPaymentCommand) (roomly.Invoice, error) {
			view, err := c.View("B1")
			req.NoError(err)
			req.True(view.CommandInFlight)
			req.Equal(roomly.PaymentPaid, view.PaymentState)
			_, second = c.ConfirmPayment(ctx, "I1")
			return invoiceI1(roomly.InvoicePaid), nil
		}).Times(1)

	_, err := c.ConfirmPayment(context.Background(), "I1")
	req.NoError(err)
	req.ErrorIs(second, roomly.ErrCommandInFlight)
	waitFor(t, refreshed)

	// A settled invoice is a no-op
	inv, err := c.ConfirmPayment(context.Background(), "I1")
	req.NoError(err)
	req.Equal(roomly.InvoicePaid, inv.Status)
}

func TestCoordinator_ConfirmPaymentFailureRollsBack(t *testing.T) {
	req := require.New(t)
	c, remote, n := newTestCoordinator(t)

	remote.EXPECT().ConfirmPayment(gomock.Any(), gomock.Any()).
		Return(roomly.Invoice{}, errors.New("gateway timeout")).Times(1)

	_, err := c.ConfirmPayment(context.Background(), "I1")

	cmdErr, ok := roomly.IsCommandError(err)
	req.True(ok)
	req.NotEmpty(cmdErr.CorrelationID)
	inv, err := c.Invoice("I1")
	req.NoError(err)
	req.Equal(roomly.InvoiceIssued, inv.Status)
	req.True(inv.IsConfirmed())
	req.Equal([]roomly.NotificationKind{roomly.NotifyPaymentFailed}, n.kinds())
}

func TestCoordinator_UnknownInvoice(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.ConfirmPayment(context.Background(), "nope")
	require.ErrorIs(t, err, roomly.ErrUnknownInvoice)
}

func TestCoordinator_CheckInRequiresPayment(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.CheckIn(context.Background(), "B1")
	require.ErrorIs(t, err, roomly.ErrCheckInNotAllowed)
}

// ============================================================================
// Cancellation & Refunds
// ============================================================================

func TestCoordinator_CancelUnpaidVoidsInvoice(t *testing.T) {
	req := require.New(t)
	c, remote, _ := newTestCoordinator(t)

	remote.EXPECT().CancelBooking(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd roomly.CancelBookingCommand) (roomly.BookingSnapshot, error) {
			req.False(cmd.RefundRequired)
			return roomly.BookingSnapshot{Booking: bookingB1(roomly.BookingCancelled, roomly.PaymentVoid)}, nil
		}).Times(1)

	view, err := c.CancelBooking(context.Background(), "B1", "")

	req.NoError(err)
	req.Equal(roomly.BookingCancelled, view.Booking.Status)
	req.Equal(roomly.PaymentVoid, view.PaymentState)
	req.True(view.Invoice.IsConfirmed())
	req.False(view.CanCancel)
}

func TestCoordinator_CancelPaidRequiresReasonAndRefunds(t *testing.T) {
	req := require.New(t)
	c, remote, n := newTestCoordinator(t)
	paid := invoiceI1(roomly.InvoicePaid)
	c.Track(roomly.BookingSnapshot{Booking: bookingB1(roomly.BookingApproved, roomly.PaymentPaid), Invoice: &paid})

	// Given no reason, nothing is sent
	_, err := c.CancelBooking(context.Background(), "B1", "")
	req.ErrorIs(err, roomly.ErrReasonRequired)

	// When a reason is given
	pending := paid
	pending.Status = roomly.InvoiceRefundPending
	pending.RefundableAmount = 500000
	remote.EXPECT().CancelBooking(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd roomly.CancelBookingCommand) (roomly.BookingSnapshot, error) {
			req.True(cmd.RefundRequired)
			req.Equal("family emergency", cmd.Reason)
			return roomly.BookingSnapshot{
				Booking: bookingB1(roomly.BookingCancelled, roomly.PaymentRefundPending),
				Invoice: &pending,
			}, nil
		}).Times(1)

	view, err := c.CancelBooking(context.Background(), "B1", "family emergency")

	// Then the invoice waits for the refund with its snapshot
	req.NoError(err)
	req.Equal(roomly.PaymentRefundPending, view.PaymentState)
	req.EqualValues(500000, view.Invoice.RefundableAmount)

	// And the refund confirmation is applied once
	refund := roomly.Envelope{Type: roomly.EventRefundConfirmed, Topic: roomly.InvoiceTopic("I1"), Payload: []byte(`{"invoiceId":"I1"}`)}
	c.HandleEvent(refund)
	c.HandleEvent(refund)

	view, err = c.View("B1")
	req.NoError(err)
	req.Equal(roomly.PaymentRefunded, view.PaymentState)
	req.EqualValues(500000, view.Invoice.RefundableAmount)
	req.Equal([]roomly.NotificationKind{roomly.NotifyRefundConfirmed}, n.kinds())
}

func TestCoordinator_CancelFailureRestoresState(t *testing.T) {
	req := require.New(t)
	c, remote, _ := newTestCoordinator(t)

	remote.EXPECT().CancelBooking(gomock.Any(), gomock.Any()).
		Return(roomly.BookingSnapshot{}, errors.New("conflict")).Times(1)

	_, err := c.CancelBooking(context.Background(), "B1", "")
	req.Error(err)

	view, err := c.View("B1")
	req.NoError(err)
	req.Equal(roomly.BookingPendingPayment, view.Booking.Status)
	req.Equal(roomly.PaymentUnpaid, view.PaymentState)
}

// ============================================================================
// Events
// ============================================================================

func TestCoordinator_StaleRefreshDoesNotRegress(t *testing.T) {
	req := require.New(t)
	c, remote, _ := newTestCoordinator(t)
	c.HandleEvent(roomly.Envelope{
		Type:    roomly.EventInvoiceUpdated,
		Payload: []byte(`{"invoiceId":"I1","bookingId":"B1","status":"PAID","total":500000,"dueAmount":0}`),
	})

	// When a refresh returns an older snapshot
	issued := invoiceI1(roomly.InvoiceIssued)
	remote.EXPECT().ListBookings(gomock.Any()).Return([]roomly.BookingSnapshot{{
		Booking: bookingB1(roomly.BookingPendingPayment, roomly.PaymentUnpaid),
		Invoice: &issued,
	}}, nil).Times(1)
	req.NoError(c.Refresh(context.Background()))

	// Then the newer state is kept
	view, err := c.View("B1")
	req.NoError(err)
	req.Equal(roomly.PaymentPaid, view.PaymentState)
	req.Equal(roomly.BookingAwaitingApproval, view.Booking.Status)
}

func TestCoordinator_FailedPaymentEventNotifiesOnce(t *testing.T) {
	req := require.New(t)
	c, _, n := newTestCoordinator(t)
	failed := roomly.Envelope{Type: roomly.EventPaymentStatusChanged, Payload: []byte(`{"invoiceId":"I1","success":false}`)}

	c.HandleEvent(failed)
	c.HandleEvent(failed)

	req.Equal([]roomly.NotificationKind{roomly.NotifyPaymentFailed}, n.kinds())
	inv, _ := c.Invoice("I1")
	req.Equal(roomly.InvoiceIssued, inv.Status)
}

func TestCoordinator_ServerNotification(t *testing.T) {
	req := require.New(t)
	c, _, n := newTestCoordinator(t)

	c.HandleEvent(roomly.Envelope{Type: roomly.EventNotification, Payload: []byte(`{"message":"Landlord replied"}`)})
	c.HandleEvent(roomly.Envelope{Type: roomly.EventNotification, Payload: []byte(`{}`)})

	req.Equal([]roomly.NotificationKind{roomly.NotifyServer}, n.kinds())
}

func TestCoordinator_CreateBooking(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemoteAPI(ctrl)
	session := newTestSession(t, remote, "http://127.0.0.1:1")
	defer session.Close()
	bookings := session.Bookings()
	from, to := start.Add(72*time.Hour), start.Add(120*time.Hour)

	// Given a tenant without an identity yet, the command is rejected locally
	_, err := bookings.CreateBooking(context.Background(), "P2", from, to)
	req.ErrorIs(err, roomly.ErrInvalidCommand)

	session.Identify(roomly.Credentials{Token: "tok", Subject: "u1"})
	remote.EXPECT().CreateBooking(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd roomly.CreateBookingCommand) (roomly.BookingSnapshot, error) {
			// While in flight the pending booking is already listed
			req.Equal(1, bookings.Bookings().Len())
			req.Equal("u1", cmd.TenantRef)
			inv := roomly.Invoice{InvoiceID: "I2", BookingID: "B2", Status: roomly.InvoiceIssued,
				Total: 120000, DueAmount: 120000, IssuedAt: start, Confirmed: true}
			return roomly.BookingSnapshot{
				Booking: roomly.Booking{BookingID: "B2", PropertyID: "P2", TenantRef: "u1",
					Status: roomly.BookingPendingPayment, StartDate: from, EndDate: to, CreatedAt: start, Confirmed: true},
				Invoice: &inv,
			}, nil
		})

	// When the booking is created
	view, err := bookings.CreateBooking(context.Background(), "P2", from, to)

	// Then the confirmed booking replaced the pending one with its invoice
	req.NoError(err)
	req.Equal("B2", view.Booking.BookingID)
	req.NotEmpty(view.Booking.CorrelationID)
	req.NotNil(view.Invoice)
	req.Equal(roomly.PaymentUnpaid, view.PaymentState)
	req.Equal(1, bookings.Bookings().Len())

	// And an inverted date range never reaches the server
	_, err = bookings.CreateBooking(context.Background(), "P2", to, from)
	req.ErrorIs(err, roomly.ErrInvalidCommand)
	req.Equal(1, bookings.Bookings().Len())
}

func TestCoordinator_CreateBookingFailureDiscards(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemoteAPI(ctrl)
	session := newTestSession(t, remote, "http://127.0.0.1:1")
	defer session.Close()
	session.Identify(roomly.Credentials{Token: "tok", Subject: "u1"})
	remote.EXPECT().CreateBooking(gomock.Any(), gomock.Any()).
		Return(roomly.BookingSnapshot{}, errors.New("dates unavailable"))

	_, err := session.Bookings().CreateBooking(context.Background(), "P2", start, start.Add(24*time.Hour))

	var cmdErr *roomly.CommandError
	req.ErrorAs(err, &cmdErr)
	req.NotEmpty(cmdErr.CorrelationID)
	req.Zero(session.Bookings().Bookings().Len())
}

func TestCoordinator_Approve(t *testing.T) {
	req := require.New(t)
	c, remote, _ := newTestCoordinator(t)
	paid := invoiceI1(roomly.InvoicePaid)
	c.Track(roomly.BookingSnapshot{Booking: bookingB1(roomly.BookingAwaitingApproval, roomly.PaymentPaid), Invoice: &paid})

	remote.EXPECT().ApproveBooking(gomock.Any(), "B1").
		DoAndReturn(func(context.Context, string) (roomly.Booking, error) {
			// Optimistic state is visible during the call
			view, err := c.View("B1")
			req.NoError(err)
			req.Equal(roomly.BookingApproved, view.Booking.Status)
			approved := bookingB1(roomly.BookingApproved, roomly.PaymentPaid)
			approved.UpdatedAt = start.Add(2 * time.Hour)
			return approved, nil
		})

	// When the landlord approves
	view, err := c.Approve(context.Background(), "B1")

	// Then the booking is approved and check-in is open
	req.NoError(err)
	req.Equal(roomly.BookingApproved, view.Booking.Status)
	req.True(view.Booking.Confirmed)
	req.True(view.CanCheckIn)

	// And approving twice is an invalid transition caught locally
	_, err = c.Approve(context.Background(), "B1")
	req.ErrorIs(err, roomly.ErrInvalidTransition)
}

func TestCoordinator_ConfirmPaymentErrorAfterPushKeepsPaid(t *testing.T) {
	req := require.New(t)
	c, remote, n := newTestCoordinator(t)
	refreshed := expectRefresh(remote)

	// Given the push settles the invoice but the response then times out
	remote.EXPECT().ConfirmPayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, roomly.ConfirmPaymentCommand) (roomly.Invoice, error) {
			c.HandleEvent(paymentPush())
			return roomly.Invoice{}, errors.New("gateway timeout")
		}).Times(1)

	// When the command returns
	inv, err := c.ConfirmPayment(context.Background(), "I1")
	waitFor(t, refreshed)

	// Then the paid state stands and no failure is reported
	req.NoError(err)
	req.Equal(roomly.InvoicePaid, inv.Status)
	req.Equal([]roomly.NotificationKind{roomly.NotifyPaymentSucceeded}, n.kinds())
}

// ============================================================================
// Server Updates
// ============================================================================

func TestCoordinator_SameStatusUpdatesApply(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestCoordinator(t)

	// When the landlord revises the invoice while it stays ISSUED
	c.HandleEvent(roomly.Envelope{
		Type:    roomly.EventInvoiceUpdated,
		Topic:   roomly.InvoiceTopic("I1"),
		Payload: []byte(`{"invoiceId":"I1","bookingId":"B1","status":"ISSUED","total":450000,"dueAmount":450000,"dueAt":"2026-03-03T10:00:00Z"}`),
	})
	// And moves the end date of the booking
	c.HandleEvent(roomly.Envelope{
		Type:    roomly.EventBookingUpdated,
		Payload: []byte(`{"booking":{"id":"B1","status":"PENDING_PAYMENT","endDate":"2026-03-06T10:00:00Z","updatedAt":"2026-03-02T00:00:00Z"}}`),
	})

	// Then both revisions are visible
	view, err := c.View("B1")
	req.NoError(err)
	req.NotNil(view.Invoice)
	req.EqualValues(450000, view.Invoice.Total)
	req.EqualValues(450000, view.Invoice.DueAmount)
	req.Equal(start.Add(48*time.Hour), view.Invoice.DueAt)
	req.Equal(start.Add(120*time.Hour), view.Booking.EndDate)
	req.Equal(start.Add(48*time.Hour), view.Booking.StartDate)
	req.Equal("P1", view.Booking.PropertyID)
	req.Equal(roomly.PaymentUnpaid, view.PaymentState)
}

func TestCoordinator_CheckOutMakesReviewEligible(t *testing.T) {
	req := require.New(t)
	c, remote, _ := newTestCoordinator(t)
	paid := invoiceI1(roomly.InvoicePaid)
	c.Track(roomly.BookingSnapshot{Booking: bookingB1(roomly.BookingCheckedIn, roomly.PaymentPaid), Invoice: &paid})

	// Given the server echoes the completed booking without the review flag
	remote.EXPECT().CheckOut(gomock.Any(), "B1").
		DoAndReturn(func(context.Context, string) (roomly.Booking, error) {
			completed := bookingB1(roomly.BookingCompleted, roomly.PaymentPaid)
			completed.UpdatedAt = start.Add(100 * time.Hour)
			return completed, nil
		})

	// When the tenant checks out
	view, err := c.CheckOut(context.Background(), "B1")

	// Then the stay is complete and open for review
	req.NoError(err)
	req.Equal(roomly.BookingCompleted, view.Booking.Status)
	req.True(view.Booking.Confirmed)
	req.True(view.Booking.ReviewEligible)
	req.True(view.ReviewEligible)
	req.False(view.CanCheckOut)
}
