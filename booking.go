package roomly

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ============================================================================
// Booking Status
// ============================================================================

type BookingStatus string

const (
	BookingPendingPayment   BookingStatus = "PENDING_PAYMENT"
	BookingAwaitingApproval BookingStatus = "AWAITING_LANDLORD_APPROVAL"
	BookingApproved         BookingStatus = "APPROVED"
	BookingCheckedIn        BookingStatus = "CHECKED_IN"
	BookingCompleted        BookingStatus = "COMPLETED"
	BookingCancelled        BookingStatus = "CANCELLED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPendingPayment:   {BookingAwaitingApproval, BookingCancelled},
	BookingAwaitingApproval: {BookingApproved, BookingCheckedIn, BookingCancelled},
	BookingApproved:         {BookingCheckedIn, BookingCancelled},
	BookingCheckedIn:        {BookingCompleted},
}

var bookingRank = map[BookingStatus]int64{
	BookingPendingPayment:   0,
	BookingAwaitingApproval: 1,
	BookingApproved:         2,
	BookingCheckedIn:        3,
	BookingCompleted:        4,
	BookingCancelled:        5,
}

var bookingLabels = map[BookingStatus]string{
	BookingPendingPayment:   "Pending payment",
	BookingAwaitingApproval: "Awaiting landlord approval",
	BookingApproved:         "Approved",
	BookingCheckedIn:        "Checked in",
	BookingCompleted:        "Completed",
	BookingCancelled:        "Cancelled",
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingRank[s]
	return ok
}

func (s BookingStatus) Rank() int64 { return bookingRank[s] }

func (s BookingStatus) Label() string {
	if l, ok := bookingLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return slices.Contains(bookingTransitions[s], next)
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// ============================================================================
// Booking
// ============================================================================

type Booking struct {
	BookingID          string        `json:"bookingId"`
	PropertyID         string        `json:"propertyId"`
	TenantRef          string        `json:"tenantRef"`
	Status             BookingStatus `json:"status"`
	StartDate          time.Time     `json:"startDate"`
	EndDate            time.Time     `json:"endDate"`
	PaymentStatus      PaymentState  `json:"paymentStatus,omitempty"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	ReviewEligible     bool          `json:"reviewEligible"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt,omitempty"`
	CorrelationID      string        `json:"correlationId,omitempty"`
	Confirmed          bool          `json:"confirmed"`
}

func (b Booking) Keys() Keys {
	return Keys{ServerID: b.BookingID, CorrelationID: b.CorrelationID}
}

func (b Booking) IsConfirmed() bool { return b.Confirmed && b.BookingID != "" }

func (b Booking) CreatedTime() time.Time { return b.CreatedAt }

// Revision orders by status first, then by the mirrored payment state.
func (b Booking) Revision() int64 { return b.Status.Rank()*8 + paymentRank[b.PaymentStatus] }

func (b Booking) UpdatedTime() time.Time { return b.UpdatedAt }

func (b Booking) transition(next BookingStatus, at time.Time) (Booking, error) {
	if b.Status.IsTerminal() {
		return b, fmt.Errorf("%w: booking %s is %s", ErrTerminalState, b.BookingID, b.Status)
	}
	if !b.Status.CanTransitionTo(next) {
		return b, fmt.Errorf("%w: booking %s from %s to %s", ErrInvalidTransition, b.BookingID, b.Status, next)
	}
	b.Status = next
	b.UpdatedAt = at
	return b, nil
}

// CheckInAllowed reports whether the tenant may check in: the invoice must be
// PAID and the booking approved, or awaiting approval after payment.
func CheckInAllowed(b Booking, inv *Invoice) bool {
	if inv == nil || inv.Status != InvoicePaid {
		return false
	}
	return b.Status == BookingApproved || b.Status == BookingAwaitingApproval
}

// CheckIn moves the booking to CHECKED_IN.
func (b Booking) CheckIn(inv *Invoice, at time.Time) (Booking, error) {
	if !CheckInAllowed(b, inv) {
		return b, fmt.Errorf("%w: booking %s is %s, payment %s", ErrCheckInNotAllowed, b.BookingID, b.Status, PaymentStateOf(inv))
	}
	return b.transition(BookingCheckedIn, at)
}

// CheckOut completes the stay; the tenant becomes eligible to review.
func (b Booking) CheckOut(at time.Time) (Booking, error) {
	next, err := b.transition(BookingCompleted, at)
	if err != nil {
		return b, err
	}
	next.ReviewEligible = true
	return next, nil
}

// Approve is the landlord decision on a paid booking.
func (b Booking) Approve(at time.Time) (Booking, error) {
	return b.transition(BookingApproved, at)
}

// WithPayment mirrors the invoice's payment state onto the booking. A paid
// invoice moves a PENDING_PAYMENT booking to AWAITING_LANDLORD_APPROVAL.
func (b Booking) WithPayment(inv Invoice, at time.Time) Booking {
	b.PaymentStatus = PaymentStateOf(&inv)
	if inv.Status.IsSettled() && b.Status == BookingPendingPayment {
		b.Status = BookingAwaitingApproval
		b.UpdatedAt = at
	}
	return b
}

// CancelRequiresReason reports whether cancelling goes through the refund
// branch, which needs a reason.
func CancelRequiresReason(inv *Invoice) bool {
	return inv != nil && inv.Status.IsSettled()
}

// CancellationPlan is the outcome of a cancellation: the cancelled booking and,
// when one exists, the invoice it drags along.
type CancellationPlan struct {
	Booking        Booking
	Invoice        *Invoice
	RefundRequired bool
}

// Cancel plans the cancellation of b. With a settled invoice the reason is
// mandatory and a PAID invoice goes to REFUND_PENDING; otherwise the invoice
// is voided.
func (b Booking) Cancel(reason string, inv *Invoice, quote RefundQuoter, at time.Time) (CancellationPlan, error) {
	reason = strings.TrimSpace(reason)
	cancelled, err := b.transition(BookingCancelled, at)
	if err != nil {
		return CancellationPlan{}, err
	}
	cancelled.CancellationReason = reason

	if inv == nil {
		return CancellationPlan{Booking: cancelled}, nil
	}

	if !CancelRequiresReason(inv) {
		next := *inv
		if !inv.Status.IsTerminal() {
			if next, err = inv.Void(at); err != nil {
				return CancellationPlan{}, err
			}
		}
		cancelled.PaymentStatus = PaymentStateOf(&next)
		return CancellationPlan{Booking: cancelled, Invoice: &next}, nil
	}

	if reason == "" {
		return CancellationPlan{}, fmt.Errorf("%w: booking %s", ErrReasonRequired, b.BookingID)
	}
	next := *inv
	if inv.Status == InvoicePaid {
		if quote == nil {
			quote = FullRefund
		}
		if next, err = inv.RequestRefund(quote(*inv, at), at); err != nil {
			return CancellationPlan{}, err
		}
	}
	cancelled.PaymentStatus = PaymentStateOf(&next)
	return CancellationPlan{Booking: cancelled, Invoice: &next, RefundRequired: true}, nil
}

// mergeBooking keeps client-only fields the server does not echo.
func mergeBooking(existing, incoming Booking) Booking {
	if incoming.CorrelationID == "" {
		incoming.CorrelationID = existing.CorrelationID
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = existing.CreatedAt
	}
	if incoming.PropertyID == "" {
		incoming.PropertyID = existing.PropertyID
	}
	if incoming.TenantRef == "" {
		incoming.TenantRef = existing.TenantRef
	}
	if incoming.StartDate.IsZero() {
		incoming.StartDate = existing.StartDate
	}
	if incoming.EndDate.IsZero() {
		incoming.EndDate = existing.EndDate
	}
	if incoming.CancellationReason == "" {
		incoming.CancellationReason = existing.CancellationReason
	}
	if incoming.PaymentStatus == "" {
		incoming.PaymentStatus = existing.PaymentStatus
	}
	if incoming.Status == BookingCompleted {
		incoming.ReviewEligible = true
	}
	return incoming
}
