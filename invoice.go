package roomly

import (
	"fmt"
	"slices"
	"time"
)

// ============================================================================
// Invoice Status
// ============================================================================

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceIssued        InvoiceStatus = "ISSUED"
	InvoiceVoid          InvoiceStatus = "VOID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceRefundPending InvoiceStatus = "REFUND_PENDING"
	InvoiceRefunded      InvoiceStatus = "REFUNDED"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:         {InvoiceIssued, InvoiceVoid},
	InvoiceIssued:        {InvoicePaid, InvoiceVoid},
	InvoicePaid:          {InvoiceRefundPending},
	InvoiceRefundPending: {InvoiceRefunded},
}

// invoiceRank orders statuses along the lifecycle. A confirmed invoice never
// moves to a lower rank.
var invoiceRank = map[InvoiceStatus]int64{
	InvoiceDraft:         0,
	InvoiceIssued:        1,
	InvoiceVoid:          2,
	InvoicePaid:          3,
	InvoiceRefundPending: 4,
	InvoiceRefunded:      5,
}

func (s InvoiceStatus) Valid() bool {
	_, ok := invoiceRank[s]
	return ok
}

func (s InvoiceStatus) Rank() int64 { return invoiceRank[s] }

func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return slices.Contains(invoiceTransitions[s], next)
}

// IsTerminal reports VOID and REFUNDED. PAID only ends the lifecycle when no
// cancellation follows, so it is not terminal here.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceVoid || s == InvoiceRefunded
}

// IsSettled reports whether money was received for the invoice.
func (s InvoiceStatus) IsSettled() bool {
	return s == InvoicePaid || s == InvoiceRefundPending || s == InvoiceRefunded
}

// ============================================================================
// Payment State
// ============================================================================

// PaymentState is the payment status shown for a booking. It is always derived
// from the invoice.
type PaymentState string

const (
	PaymentUnknown       PaymentState = "unknown"
	PaymentUnpaid        PaymentState = "unpaid"
	PaymentPaid          PaymentState = "paid"
	PaymentRefundPending PaymentState = "refund_pending"
	PaymentRefunded      PaymentState = "refunded"
	PaymentVoid          PaymentState = "void"
)

var paymentRank = map[PaymentState]int64{
	PaymentUnpaid:        1,
	PaymentVoid:          2,
	PaymentPaid:          3,
	PaymentRefundPending: 4,
	PaymentRefunded:      5,
}

// PaymentStateOf derives the display payment state; a nil invoice is unknown.
func PaymentStateOf(inv *Invoice) PaymentState {
	if inv == nil {
		return PaymentUnknown
	}
	switch inv.Status {
	case InvoicePaid:
		return PaymentPaid
	case InvoiceRefundPending:
		return PaymentRefundPending
	case InvoiceRefunded:
		return PaymentRefunded
	case InvoiceVoid:
		return PaymentVoid
	default:
		return PaymentUnpaid
	}
}

// ============================================================================
// Invoice
// ============================================================================

// Invoice is the payment record of a booking. Amounts are minor currency units.
type Invoice struct {
	InvoiceID         string        `json:"invoiceId"`
	BookingID         string        `json:"bookingId"`
	Status            InvoiceStatus `json:"status"`
	Total             int64         `json:"total"`
	DueAmount         int64         `json:"dueAmount"`
	CancellationFee   int64         `json:"cancellationFee"`
	RefundableAmount  int64         `json:"refundableAmount"`
	IssuedAt          time.Time     `json:"issuedAt,omitempty"`
	DueAt             time.Time     `json:"dueAt,omitempty"`
	PaidAt            time.Time     `json:"paidAt,omitempty"`
	CancelledAt       time.Time     `json:"cancelledAt,omitempty"`
	RefundRequestedAt time.Time     `json:"refundRequestedAt,omitempty"`
	RefundConfirmedAt time.Time     `json:"refundConfirmedAt,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt,omitempty"`
	CorrelationID     string        `json:"correlationId,omitempty"`
	Confirmed         bool          `json:"confirmed"`
}

func (i Invoice) Keys() Keys {
	return Keys{ServerID: i.InvoiceID, CorrelationID: i.CorrelationID}
}

func (i Invoice) IsConfirmed() bool { return i.Confirmed }

func (i Invoice) CreatedTime() time.Time { return i.IssuedAt }

func (i Invoice) Revision() int64 { return i.Status.Rank() }

// UpdatedTime is the latest lifecycle timestamp the invoice carries.
func (i Invoice) UpdatedTime() time.Time {
	latest := i.UpdatedAt
	for _, t := range []time.Time{i.PaidAt, i.CancelledAt, i.RefundRequestedAt, i.RefundConfirmedAt} {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

func (i Invoice) transition(next InvoiceStatus) (Invoice, error) {
	if i.Status.IsTerminal() {
		return i, fmt.Errorf("%w: invoice %s is %s", ErrTerminalState, i.InvoiceID, i.Status)
	}
	if !i.Status.CanTransitionTo(next) {
		return i, fmt.Errorf("%w: invoice %s from %s to %s", ErrInvalidTransition, i.InvoiceID, i.Status, next)
	}
	i.Status = next
	return i, nil
}

// MarkPaid is ISSUED → PAID.
func (i Invoice) MarkPaid(at time.Time) (Invoice, error) {
	next, err := i.transition(InvoicePaid)
	if err != nil {
		return i, err
	}
	next.DueAmount = 0
	next.PaidAt = at
	return next, nil
}

// Void is DRAFT/ISSUED → VOID.
func (i Invoice) Void(at time.Time) (Invoice, error) {
	next, err := i.transition(InvoiceVoid)
	if err != nil {
		return i, err
	}
	next.CancelledAt = at
	return next, nil
}

// RequestRefund is PAID → REFUND_PENDING. The fee and refundable amount are
// snapshotted here and never recomputed.
func (i Invoice) RequestRefund(quote RefundQuote, at time.Time) (Invoice, error) {
	next, err := i.transition(InvoiceRefundPending)
	if err != nil {
		return i, err
	}
	next.CancellationFee = quote.CancellationFee
	next.RefundableAmount = quote.RefundableAmount
	next.RefundRequestedAt = at
	next.CancelledAt = at
	return next, nil
}

// ConfirmRefund is REFUND_PENDING → REFUNDED. It is only ever applied to
// state observed from the server.
func (i Invoice) ConfirmRefund(at time.Time) (Invoice, error) {
	next, err := i.transition(InvoiceRefunded)
	if err != nil {
		return i, err
	}
	next.RefundConfirmedAt = at
	return next, nil
}

// AmountPaid is what the tenant has paid so far.
func (i Invoice) AmountPaid() int64 {
	if !i.Status.IsSettled() {
		return 0
	}
	return i.Total - i.DueAmount
}

// RefundQuote is the cancellation fee and refundable amount of a refund.
type RefundQuote struct {
	CancellationFee  int64
	RefundableAmount int64
}

// RefundQuoter computes a refund quote. Fee rules belong to the server; the
// client only snapshots what it is given.
type RefundQuoter func(inv Invoice, at time.Time) RefundQuote

// FullRefund refunds everything that was paid, without fee.
func FullRefund(inv Invoice, _ time.Time) RefundQuote {
	return RefundQuote{RefundableAmount: inv.AmountPaid()}
}

// mergeInvoice keeps the correlation id and the refund snapshot when the
// incoming value does not carry them.
func mergeInvoice(existing, incoming Invoice) Invoice {
	if incoming.CorrelationID == "" {
		incoming.CorrelationID = existing.CorrelationID
	}
	if !existing.RefundRequestedAt.IsZero() && incoming.CancellationFee == 0 && incoming.RefundableAmount == 0 {
		incoming.CancellationFee = existing.CancellationFee
		incoming.RefundableAmount = existing.RefundableAmount
		if incoming.RefundRequestedAt.IsZero() {
			incoming.RefundRequestedAt = existing.RefundRequestedAt
		}
	}
	if incoming.IssuedAt.IsZero() {
		incoming.IssuedAt = existing.IssuedAt
	}
	return incoming
}
