// Package roomly is the Go client SDK for the Roomly rental marketplace.
//
// Besides the HTTP command API it carries the real-time state engine: a
// push channel with queued subscriptions, a reconciler that merges optimistic
// and confirmed entities, and the coupled Booking and Invoice lifecycles.
//
// Example:
//
//	client := roomly.NewClient(token)
//	session := roomly.NewSession(client, roomly.NewWebSocketTransport(client.BaseURL(), nil), roomly.SessionConfig{})
//	defer session.Close()
//
//	if err := session.Activate(ctx, roomly.ParseCredentials(token)); err != nil {
//		// push is down; the poller keeps state fresh
//	}
//	scope := session.NewScope()
//	defer scope.Release()
//	session.Chat().Watch(scope, "conv-1")
//	session.Chat().Send(ctx, "conv-1", "Hello!")
package roomly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.roomly.app",
	Staging:    "https://staging.api.roomly.app",
}

const (
	DefaultBaseURL = "https://api.roomly.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP implementation of RemoteAPI.
type Client struct {
	mu         sync.RWMutex
	token      string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ RemoteAPI = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Roomly client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			if v != "" {
				params.Set(k, v)
			}
		}
		if enc := params.Encode(); enc != "" {
			u += "?" + enc
		}
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

// call performs a request and unwraps the {ok, data, error} envelope.
func (c *Client) call(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", status, err)
	}
	if !res.OK {
		if res.Error == nil {
			res.Error = &APIError{Code: "HTTP_" + strconv.Itoa(status), Message: http.StatusText(status)}
		}
		c.log.Debug("Command rejected", "method", method, "path", path, "code", res.Error.Code)
		return nil, res.Error
	}
	if len(res.Data) == 0 || string(res.Data) == "null" {
		return nil, fmt.Errorf("%w: %s %s", ErrEmptyResponsePayload, method, path)
	}
	return res.Data, nil
}

// ============================================================================
// Messages
// ============================================================================

func (c *Client) SendMessage(ctx context.Context, cmd SendMessageCommand) (Message, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(cmd.ConversationID)+"/messages", cmd, nil)
	if err != nil {
		return Message{}, err
	}
	m, err := NormalizeMessage(data)
	if err != nil {
		return Message{}, err
	}
	if m.CorrelationID == "" {
		m.CorrelationID = cmd.CorrelationID
	}
	return m, nil
}

func (c *Client) FetchMessages(ctx context.Context, conversationID string, page PageRequest) (MessagePage, error) {
	query := map[string]string{"before": page.Before}
	if page.Limit > 0 {
		query["limit"] = strconv.Itoa(page.Limit)
	}
	data, err := c.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, query)
	if err != nil {
		return MessagePage{}, err
	}
	return NormalizeMessagePage(data)
}

// ============================================================================
// Bookings
// ============================================================================

func (c *Client) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (BookingSnapshot, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/bookings", cmd, nil)
	if err != nil {
		return BookingSnapshot{}, err
	}
	return NormalizeBookingSnapshot(data)
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (BookingSnapshot, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/bookings/"+url.PathEscape(bookingID), nil, nil)
	if err != nil {
		return BookingSnapshot{}, err
	}
	return NormalizeBookingSnapshot(data)
}

func (c *Client) ListBookings(ctx context.Context) ([]BookingSnapshot, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/bookings", nil, nil)
	if err != nil {
		return nil, err
	}
	return NormalizeBookingList(data)
}

func (c *Client) CancelBooking(ctx context.Context, cmd CancelBookingCommand) (BookingSnapshot, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/bookings/"+url.PathEscape(cmd.BookingID)+"/cancel", cmd, nil)
	if err != nil {
		return BookingSnapshot{}, err
	}
	return NormalizeBookingSnapshot(data)
}

func (c *Client) CheckIn(ctx context.Context, bookingID string) (Booking, error) {
	return c.bookingAction(ctx, bookingID, "check-in")
}

func (c *Client) CheckOut(ctx context.Context, bookingID string) (Booking, error) {
	return c.bookingAction(ctx, bookingID, "check-out")
}

func (c *Client) ApproveBooking(ctx context.Context, bookingID string) (Booking, error) {
	return c.bookingAction(ctx, bookingID, "approve")
}

func (c *Client) bookingAction(ctx context.Context, bookingID, action string) (Booking, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/bookings/"+url.PathEscape(bookingID)+"/"+action, nil, nil)
	if err != nil {
		return Booking{}, err
	}
	return NormalizeBooking(data)
}

// ============================================================================
// Invoices
// ============================================================================

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/invoices/"+url.PathEscape(invoiceID), nil, nil)
	if err != nil {
		return Invoice{}, err
	}
	return NormalizeInvoice(data)
}

func (c *Client) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Invoice, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/invoices/"+url.PathEscape(cmd.InvoiceID)+"/confirm-payment", cmd, nil)
	if err != nil {
		return Invoice{}, err
	}
	inv, err := NormalizeInvoice(data)
	if err != nil {
		return Invoice{}, err
	}
	if inv.CorrelationID == "" {
		inv.CorrelationID = cmd.CorrelationID
	}
	return inv, nil
}

// ============================================================================
// Event sync
// ============================================================================

func (c *Client) FetchEvents(ctx context.Context, cursor string, limit int) (EventPage, error) {
	query := map[string]string{"cursor": cursor}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	data, err := c.call(ctx, http.MethodGet, "/api/sync/events", nil, query)
	if err != nil {
		return EventPage{}, err
	}
	return NormalizeEventPage(data)
}
