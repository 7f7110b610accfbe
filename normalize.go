package roomly

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ============================================================================
// Payload Normalization
// ============================================================================
//
// Every entity read from the API or the push channel passes through exactly
// one of the Normalize* functions below. Past this boundary the engine only
// sees typed, confirmed values.

// NormalizeMessage reads a confirmed message. The payload may be the message
// itself or wrapped under "message".
func NormalizeMessage(raw []byte) (Message, error) {
	r := unwrap(raw, "message")
	if !r.IsObject() {
		return Message{}, fmt.Errorf("%w: message is not an object", ErrMalformedPayload)
	}
	m := Message{
		ServerID:       firstString(r, "id", "serverId", "_id"),
		CorrelationID:  firstString(r, "clientId", "correlationId", "metadata.clientId"),
		ConversationID: firstString(r, "conversationId", "conversation.id"),
		Content:        firstString(r, "content", "text"),
		SenderRef:      firstString(r, "senderId", "sender.id", "senderRef"),
		CreatedAt:      parseTime(r, "createdAt", "sentAt"),
		UpdatedAt:      parseTime(r, "updatedAt", "editedAt"),
	}
	if m.ServerID == "" {
		return Message{}, fmt.Errorf("%w: message without id", ErrMalformedPayload)
	}
	m.Confirmed = true
	return m, nil
}

// NormalizeMessagePage reads one page of history.
func NormalizeMessagePage(raw []byte) (MessagePage, error) {
	r := gjson.ParseBytes(raw)
	items := r.Get("messages")
	if !items.Exists() {
		items = r
	}
	if !items.IsArray() {
		return MessagePage{}, fmt.Errorf("%w: message page is not a list", ErrMalformedPayload)
	}
	page := MessagePage{
		NextCursor: firstString(r, "nextCursor", "cursor"),
		HasMore:    r.Get("hasMore").Bool(),
	}
	for _, item := range items.Array() {
		m, err := NormalizeMessage([]byte(item.Raw))
		if err != nil {
			return MessagePage{}, err
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}

// NormalizeInvoice reads a confirmed invoice.
func NormalizeInvoice(raw []byte) (Invoice, error) {
	r := unwrap(raw, "invoice")
	if !r.IsObject() {
		return Invoice{}, fmt.Errorf("%w: invoice is not an object", ErrMalformedPayload)
	}
	inv := Invoice{
		InvoiceID:         firstString(r, "invoiceId", "id"),
		BookingID:         firstString(r, "bookingId", "booking.id"),
		Status:            InvoiceStatus(firstString(r, "status", "paymentStatus")),
		Total:             r.Get("total").Int(),
		DueAmount:         r.Get("dueAmount").Int(),
		CancellationFee:   r.Get("cancellationFee").Int(),
		RefundableAmount:  r.Get("refundableAmount").Int(),
		IssuedAt:          parseTime(r, "issuedAt", "createdAt"),
		DueAt:             parseTime(r, "dueAt", "dueDate"),
		PaidAt:            parseTime(r, "paidAt"),
		CancelledAt:       parseTime(r, "cancelledAt"),
		RefundRequestedAt: parseTime(r, "refundRequestedAt"),
		RefundConfirmedAt: parseTime(r, "refundConfirmedAt"),
		UpdatedAt:         parseTime(r, "updatedAt"),
		CorrelationID:     firstString(r, "correlationId"),
		Confirmed:         true,
	}
	if inv.InvoiceID == "" {
		return Invoice{}, fmt.Errorf("%w: invoice without id", ErrMalformedPayload)
	}
	if !inv.Status.Valid() {
		return Invoice{}, fmt.Errorf("%w: invoice %s has status %q", ErrMalformedPayload, inv.InvoiceID, inv.Status)
	}
	return inv, nil
}

// NormalizeBooking reads a confirmed booking.
func NormalizeBooking(raw []byte) (Booking, error) {
	r := unwrap(raw, "booking")
	if !r.IsObject() {
		return Booking{}, fmt.Errorf("%w: booking is not an object", ErrMalformedPayload)
	}
	b := Booking{
		BookingID:          firstString(r, "bookingId", "id"),
		PropertyID:         firstString(r, "propertyId", "property.id"),
		TenantRef:          firstString(r, "tenantId", "tenantRef", "tenant.id"),
		Status:             BookingStatus(firstString(r, "status")),
		StartDate:          parseTime(r, "startDate", "checkInDate"),
		EndDate:            parseTime(r, "endDate", "checkOutDate"),
		PaymentStatus:      PaymentState(firstString(r, "paymentStatus")),
		CancellationReason: firstString(r, "cancellationReason"),
		ReviewEligible:     r.Get("reviewEligible").Bool(),
		CreatedAt:          parseTime(r, "createdAt"),
		UpdatedAt:          parseTime(r, "updatedAt"),
		CorrelationID:      firstString(r, "correlationId"),
		Confirmed:          true,
	}
	if b.BookingID == "" {
		return Booking{}, fmt.Errorf("%w: booking without id", ErrMalformedPayload)
	}
	if !b.Status.Valid() {
		return Booking{}, fmt.Errorf("%w: booking %s has status %q", ErrMalformedPayload, b.BookingID, b.Status)
	}
	return b, nil
}

// NormalizeBookingSnapshot reads a booking with its embedded invoice, if any.
func NormalizeBookingSnapshot(raw []byte) (BookingSnapshot, error) {
	b, err := NormalizeBooking(raw)
	if err != nil {
		return BookingSnapshot{}, err
	}
	snap := BookingSnapshot{Booking: b}
	r := gjson.ParseBytes(raw)
	inv := r.Get("invoice")
	if !inv.Exists() {
		inv = r.Get("booking.invoice")
	}
	if inv.IsObject() {
		i, err := NormalizeInvoice([]byte(inv.Raw))
		if err != nil {
			return BookingSnapshot{}, err
		}
		if i.BookingID == "" {
			i.BookingID = b.BookingID
		}
		snap.Invoice = &i
	}
	return snap, nil
}

// NormalizeBookingList reads a list of booking snapshots.
func NormalizeBookingList(raw []byte) ([]BookingSnapshot, error) {
	r := gjson.ParseBytes(raw)
	items := r.Get("bookings")
	if !items.Exists() {
		items = r
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("%w: booking list is not a list", ErrMalformedPayload)
	}
	out := make([]BookingSnapshot, 0, len(items.Array()))
	for _, item := range items.Array() {
		snap, err := NormalizeBookingSnapshot([]byte(item.Raw))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// NormalizeEventPage reads one page of the event sync feed.
func NormalizeEventPage(raw []byte) (EventPage, error) {
	r := gjson.ParseBytes(raw)
	items := r.Get("events")
	if !items.IsArray() {
		return EventPage{}, fmt.Errorf("%w: event page without events", ErrMalformedPayload)
	}
	page := EventPage{
		Cursor:  firstString(r, "cursor", "nextCursor"),
		HasMore: r.Get("hasMore").Bool(),
	}
	for _, item := range items.Array() {
		env, err := NormalizeEnvelope([]byte(item.Raw))
		if err != nil {
			return EventPage{}, err
		}
		page.Events = append(page.Events, env)
	}
	return page, nil
}

// NormalizeEnvelope reads one pushed or polled event.
func NormalizeEnvelope(raw []byte) (Envelope, error) {
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return Envelope{}, fmt.Errorf("%w: event is not an object", ErrMalformedPayload)
	}
	env := Envelope{
		Seq:   r.Get("seq").Int(),
		Type:  EventType(firstString(r, "type", "event")),
		Topic: firstString(r, "topic", "channel"),
		At:    parseTime(r, "at", "timestamp"),
	}
	payload := r.Get("payload")
	if !payload.Exists() {
		payload = r.Get("data")
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: event without type", ErrMalformedPayload)
	}
	if payload.Exists() {
		env.Payload = []byte(payload.Raw)
	}
	return env, nil
}

// PaymentEvent is the payload of payment and refund events. Invoice is set
// only when the server embedded the full invoice.
type PaymentEvent struct {
	InvoiceID string
	Success   bool
	Invoice   *Invoice
	At        time.Time
}

// NormalizePaymentEvent reads {invoiceId, success} or an embedded invoice.
func NormalizePaymentEvent(raw []byte) (PaymentEvent, error) {
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return PaymentEvent{}, fmt.Errorf("%w: payment event is not an object", ErrMalformedPayload)
	}
	ev := PaymentEvent{
		InvoiceID: firstString(r, "invoiceId", "invoice.invoiceId", "invoice.id"),
		At:        parseTime(r, "at", "paidAt", "updatedAt"),
	}
	if inv := r.Get("invoice"); inv.IsObject() {
		i, err := NormalizeInvoice([]byte(inv.Raw))
		if err != nil {
			return PaymentEvent{}, err
		}
		ev.Invoice = &i
	} else if r.Get("status").Exists() && InvoiceStatus(r.Get("status").String()).Valid() {
		if i, err := NormalizeInvoice(raw); err == nil {
			ev.Invoice = &i
		}
	}
	if ev.InvoiceID == "" {
		return PaymentEvent{}, fmt.Errorf("%w: payment event without invoice id", ErrMalformedPayload)
	}
	if success := r.Get("success"); success.Exists() {
		ev.Success = success.Bool()
	} else if ev.Invoice != nil {
		ev.Success = ev.Invoice.Status.IsSettled()
	}
	return ev, nil
}

// NormalizeNotification reads a server notification.
func NormalizeNotification(raw []byte) (Notification, error) {
	r := unwrap(raw, "notification")
	if !r.IsObject() {
		return Notification{}, fmt.Errorf("%w: notification is not an object", ErrMalformedPayload)
	}
	n := Notification{
		Kind:      NotifyServer,
		BookingID: firstString(r, "bookingId"),
		InvoiceID: firstString(r, "invoiceId"),
		Message:   firstString(r, "message", "text", "title"),
		At:        parseTime(r, "at", "createdAt"),
	}
	if n.Message == "" {
		return Notification{}, fmt.Errorf("%w: notification without message", ErrMalformedPayload)
	}
	return n, nil
}

func unwrap(raw []byte, key string) gjson.Result {
	r := gjson.ParseBytes(raw)
	if inner := r.Get(key); inner.IsObject() {
		return inner
	}
	return r
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// parseTime accepts RFC 3339 strings and unix milliseconds.
func parseTime(r gjson.Result, paths ...string) time.Time {
	for _, p := range paths {
		v := r.Get(p)
		switch v.Type {
		case gjson.Number:
			return time.UnixMilli(v.Int()).UTC()
		case gjson.String:
			if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
