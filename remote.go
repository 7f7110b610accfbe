//go:generate go run go.uber.org/mock/mockgen -source=remote.go -destination=mocks/mock_remote.go -package=mocks
package roomly

import "context"

// RemoteAPI is the command side of the backend. Every call returns the
// confirmed, normalized entity or an error; the engine never inspects the
// wire format.
type RemoteAPI interface {
	SendMessage(ctx context.Context, cmd SendMessageCommand) (Message, error)
	FetchMessages(ctx context.Context, conversationID string, page PageRequest) (MessagePage, error)

	CreateBooking(ctx context.Context, cmd CreateBookingCommand) (BookingSnapshot, error)
	GetBooking(ctx context.Context, bookingID string) (BookingSnapshot, error)
	ListBookings(ctx context.Context) ([]BookingSnapshot, error)
	CancelBooking(ctx context.Context, cmd CancelBookingCommand) (BookingSnapshot, error)
	CheckIn(ctx context.Context, bookingID string) (Booking, error)
	CheckOut(ctx context.Context, bookingID string) (Booking, error)
	ApproveBooking(ctx context.Context, bookingID string) (Booking, error)

	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Invoice, error)

	// FetchEvents returns events after cursor, oldest first.
	FetchEvents(ctx context.Context, cursor string, limit int) (EventPage, error)
}
