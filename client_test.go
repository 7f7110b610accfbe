package roomly_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	roomly "github.com/roomly-app/roomly/sdk/golang"
)

// ============================================================================
// Test Helpers
// ============================================================================

type route struct {
	method string
	path   string
	status int
	body   string
	check  func(r *http.Request, body []byte)
}

func newTestServer(t *testing.T, routes ...route) *roomly.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, rt := range routes {
			if rt.method != r.Method || rt.path != r.URL.Path {
				continue
			}
			body, _ := io.ReadAll(r.Body)
			if rt.check != nil {
				rt.check(r, body)
			}
			w.Header().Set("Content-Type", "application/json")
			if rt.status != 0 {
				w.WriteHeader(rt.status)
			}
			_, _ = io.WriteString(w, rt.body)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return roomly.NewClient("test-token", roomly.WithBaseURL(srv.URL+"/"), roomly.WithTimeout(5*time.Second))
}

// ============================================================================
// Client
// ============================================================================

func TestClient_SendMessage(t *testing.T) {
	req := require.New(t)
	client := newTestServer(t, route{
		method: http.MethodPost,
		path:   "/api/conversations/c1/messages",
		body:   `{"ok":true,"data":{"message":{"id":"m1","content":"hi","senderId":"u1","createdAt":"2026-03-01T10:00:00Z"}}}`,
		check: func(r *http.Request, body []byte) {
			req.Equal("Bearer test-token", r.Header.Get("Authorization"))
			var cmd roomly.SendMessageCommand
			req.NoError(json.Unmarshal(body, &cmd))
			req.Equal("cid-1", cmd.CorrelationID)
		},
	})

	m, err := client.SendMessage(context.Background(), roomly.SendMessageCommand{CorrelationID: "cid-1", ConversationID: "c1", Content: "hi"})

	req.NoError(err)
	req.Equal("m1", m.ServerID)
	req.Equal("cid-1", m.CorrelationID)
	req.True(m.IsConfirmed())
}

func TestClient_APIError(t *testing.T) {
	req := require.New(t)
	client := newTestServer(t,
		route{
			method: http.MethodPost,
			path:   "/api/invoices/I1/confirm-payment",
			status: http.StatusConflict,
			body:   `{"ok":false,"error":{"code":"INVOICE_NOT_PAYABLE","message":"invoice is void"}}`,
		},
		route{
			method: http.MethodGet,
			path:   "/api/invoices/I2",
			status: http.StatusBadGateway,
			body:   `{"ok":false}`,
		},
	)

	_, err := client.ConfirmPayment(context.Background(), roomly.ConfirmPaymentCommand{CorrelationID: "cid", InvoiceID: "I1"})
	var apiErr *roomly.APIError
	req.True(errors.As(err, &apiErr))
	req.Equal("INVOICE_NOT_PAYABLE", apiErr.Code)

	_, err = client.GetInvoice(context.Background(), "I2")
	req.True(errors.As(err, &apiErr))
	req.Equal("HTTP_502", apiErr.Code)
}

func TestClient_EmptyPayload(t *testing.T) {
	client := newTestServer(t, route{method: http.MethodGet, path: "/api/bookings/B1", body: `{"ok":true,"data":null}`})
	_, err := client.GetBooking(context.Background(), "B1")
	require.ErrorIs(t, err, roomly.ErrEmptyResponsePayload)
}

func TestClient_Bookings(t *testing.T) {
	req := require.New(t)
	client := newTestServer(t,
		route{
			method: http.MethodGet,
			path:   "/api/bookings",
			body: `{"ok":true,"data":{"bookings":[{"id":"B1","status":"APPROVED","propertyId":"P1",
				"invoice":{"id":"I1","status":"PAID","total":500000,"dueAmount":0}}]}}`,
		},
		route{
			method: http.MethodPost,
			path:   "/api/bookings/B1/check-in",
			body:   `{"ok":true,"data":{"bookingId":"B1","status":"CHECKED_IN"}}`,
		},
	)

	snaps, err := client.ListBookings(context.Background())
	req.NoError(err)
	req.Len(snaps, 1)
	req.Equal(roomly.BookingApproved, snaps[0].Booking.Status)
	req.NotNil(snaps[0].Invoice)
	req.Equal("B1", snaps[0].Invoice.BookingID)

	b, err := client.CheckIn(context.Background(), "B1")
	req.NoError(err)
	req.Equal(roomly.BookingCheckedIn, b.Status)
}

func TestClient_FetchEvents(t *testing.T) {
	req := require.New(t)
	client := newTestServer(t, route{
		method: http.MethodGet,
		path:   "/api/sync/events",
		body:   `{"ok":true,"data":{"events":[{"seq":7,"type":"PAYMENT_STATUS_CHANGED","topic":"invoice:I1","payload":{"invoiceId":"I1","success":true}}],"cursor":"c-7","hasMore":false}}`,
		check: func(r *http.Request, _ []byte) {
			req.Equal("c-6", r.URL.Query().Get("cursor"))
			req.Equal("50", r.URL.Query().Get("limit"))
		},
	})

	page, err := client.FetchEvents(context.Background(), "c-6", 50)

	req.NoError(err)
	req.Equal("c-7", page.Cursor)
	req.Len(page.Events, 1)
	req.EqualValues(7, page.Events[0].Seq)
	req.Equal(roomly.EventPaymentStatusChanged, page.Events[0].Type)
}

func TestClient_SetTokenWhileRequesting(t *testing.T) {
	req := require.New(t)
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	client := newTestServer(t, route{
		method: http.MethodGet,
		path:   "/api/sync/events",
		body:   `{"ok":true,"data":{"events":[],"cursor":"c-1","hasMore":false}}`,
		check: func(r *http.Request, _ []byte) {
			mu.Lock()
			defer mu.Unlock()
			seen[r.Header.Get("Authorization")]++
		},
	})

	// When the token is refreshed while the poller and commands are running
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := client.FetchEvents(context.Background(), "", 10); err != nil {
					errs <- err
				}
			}
		}()
	}
	for _, token := range []string{"refreshed-1", "refreshed-2", "refreshed-3"} {
		client.SetToken(token)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then every request carried one complete token
	mu.Lock()
	defer mu.Unlock()
	total := 0
	for header, n := range seen {
		req.Contains([]string{"Bearer test-token", "Bearer refreshed-1", "Bearer refreshed-2", "Bearer refreshed-3"}, header)
		total += n
	}
	req.Equal(40, total)
}
