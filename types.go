package roomly

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// PageRequest selects a page of history, newest first.
type PageRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
}

// ============================================================================
// Messages
// ============================================================================

// Message is a chat message, either optimistic (local) or confirmed.
type Message struct {
	CorrelationID  string    `json:"correlationId,omitempty"`
	ServerID       string    `json:"serverId,omitempty"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	SenderRef      string    `json:"senderRef"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
	Confirmed      bool      `json:"confirmed"`
	Failed         bool      `json:"failed,omitempty"`
}

func (m Message) Keys() Keys {
	return Keys{
		ServerID:      m.ServerID,
		CorrelationID: m.CorrelationID,
		Fallback:      fallbackKey(m.Content, m.CreatedAt),
	}
}

func (m Message) IsConfirmed() bool { return m.Confirmed && m.ServerID != "" }

func (m Message) CreatedTime() time.Time { return m.CreatedAt }

func (m Message) UpdatedTime() time.Time {
	if !m.UpdatedAt.IsZero() {
		return m.UpdatedAt
	}
	return m.CreatedAt
}

func (m Message) Revision() int64 {
	if !m.UpdatedAt.IsZero() {
		return m.UpdatedAt.UnixNano()
	}
	return m.CreatedAt.UnixNano()
}

// MessagePage is one page of conversation history.
type MessagePage struct {
	Messages   []Message
	NextCursor string
	HasMore    bool
}

// mergeMessage carries the local correlation id onto a confirmed message that
// the server echoed without it.
func mergeMessage(existing, incoming Message) Message {
	if incoming.CorrelationID == "" {
		incoming.CorrelationID = existing.CorrelationID
	}
	if incoming.SenderRef == "" {
		incoming.SenderRef = existing.SenderRef
	}
	return incoming
}

// ============================================================================
// Bookings & Invoices
// ============================================================================

// BookingSnapshot is a booking together with its invoice, as returned by
// booking commands.
type BookingSnapshot struct {
	Booking Booking
	Invoice *Invoice
}

// CreateBookingCommand creates a new reservation for a tenant.
type CreateBookingCommand struct {
	CorrelationID string    `json:"correlationId" validate:"required"`
	PropertyID    string    `json:"propertyId" validate:"required"`
	TenantRef     string    `json:"tenantRef" validate:"required"`
	StartDate     time.Time `json:"startDate" validate:"required"`
	EndDate       time.Time `json:"endDate" validate:"required,gtfield=StartDate"`
}

// CancelBookingCommand cancels a booking. Reason is mandatory when the linked
// invoice was already paid.
type CancelBookingCommand struct {
	CorrelationID  string `json:"correlationId" validate:"required"`
	BookingID      string `json:"bookingId" validate:"required"`
	Reason         string `json:"reason,omitempty" validate:"required_if=RefundRequired true,max=500"`
	RefundRequired bool   `json:"refundRequired"`
}

// ConfirmPaymentCommand is the user's "I have paid" confirmation.
type ConfirmPaymentCommand struct {
	CorrelationID string `json:"correlationId" validate:"required"`
	InvoiceID     string `json:"invoiceId" validate:"required"`
}

// SendMessageCommand sends a chat message.
type SendMessageCommand struct {
	CorrelationID  string `json:"clientId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	Content        string `json:"content" validate:"required,max=4000"`
}

// ============================================================================
// Events & Topics
// ============================================================================

// EventType discriminates push events.
type EventType string

const (
	EventMessageCreated       EventType = "MESSAGE_CREATED"
	EventMessageUpdated       EventType = "MESSAGE_UPDATED"
	EventPaymentStatusChanged EventType = "PAYMENT_STATUS_CHANGED"
	EventInvoiceUpdated       EventType = "INVOICE_UPDATED"
	EventRefundConfirmed      EventType = "REFUND_CONFIRMED"
	EventBookingUpdated       EventType = "BOOKING_STATUS_CHANGED"
	EventNotification         EventType = "NOTIFICATION"
)

// Envelope is the wire format of every pushed or polled event.
type Envelope struct {
	Seq     int64           `json:"seq,omitempty"`
	Type    EventType       `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at,omitempty"`
}

// EventPage is one page of the event sync feed.
type EventPage struct {
	Events  []Envelope
	Cursor  string
	HasMore bool
}

// TopicKind is the entity kind addressed by a topic.
type TopicKind string

const (
	TopicConversation TopicKind = "conversation"
	TopicInvoice      TopicKind = "invoice"
	TopicUser         TopicKind = "user"
)

func ConversationTopic(conversationID string) string {
	return string(TopicConversation) + ":" + conversationID
}

func InvoiceTopic(invoiceID string) string {
	return string(TopicInvoice) + ":" + invoiceID
}

func UserTopic(userID string) string {
	return string(TopicUser) + ":" + userID
}

// ParseTopic splits a topic into its kind and entity id.
func ParseTopic(topic string) (TopicKind, string, error) {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: topic %q", ErrMalformedPayload, topic)
	}
	switch TopicKind(kind) {
	case TopicConversation, TopicInvoice, TopicUser:
		return TopicKind(kind), id, nil
	}
	return "", "", fmt.Errorf("%w: unknown topic kind %q", ErrMalformedPayload, kind)
}

// Notification is a one-shot user-facing notice raised by the engine.
type Notification struct {
	Kind      NotificationKind
	BookingID string
	InvoiceID string
	Message   string
	At        time.Time
}

type NotificationKind string

const (
	NotifyPaymentSucceeded NotificationKind = "payment_succeeded"
	NotifyPaymentFailed    NotificationKind = "payment_failed"
	NotifyRefundConfirmed  NotificationKind = "refund_confirmed"
	NotifyServer           NotificationKind = "server"
)
