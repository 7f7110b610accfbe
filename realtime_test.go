package roomly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// wsServer accepts one websocket per request, sends first, then the frames,
// and forwards every client frame to received.
func wsServer(t *testing.T, first string, frames []string, received chan<- RealtimeCommand) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		if err := c.Write(ctx, websocket.MessageText, []byte(first)); err != nil {
			return
		}
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var cmd RealtimeCommand
			if json.Unmarshal(data, &cmd) == nil && received != nil {
				received <- cmd
			}
			if cmd.Type == frameSubscribe {
				for _, f := range frames {
					if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
						return
					}
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const authenticatedFrame = `{"type":"authenticated","payload":{"userId":"u1"}}`

func TestWebSocketTransport_SubscribeAndRead(t *testing.T) {
	req := require.New(t)
	received := make(chan RealtimeCommand, 4)
	srv := wsServer(t, authenticatedFrame, []string{
		`{"type":"pong"}`,
		`{"type":"error","payload":{"message":"rate limited"}}`,
		`not json`,
		`{"type":"MESSAGE_CREATED","payload":{"id":"m0"}}`,
		`{"type":"MESSAGE_CREATED","topic":"conversation:c1","payload":{"id":"m1"}}`,
	}, received)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport := NewWebSocketTransport(srv.URL, &RealtimeConfig{Logger: testLogger()})
	conn, err := transport.Open(ctx, Credentials{Token: "tok"})
	req.NoError(err)
	defer conn.Close()

	// When the client subscribes
	req.NoError(conn.Subscribe(ctx, ConversationTopic("c1")))
	cmd := <-received
	req.Equal(frameSubscribe, cmd.Type)

	// Then control and malformed frames are skipped
	env, err := conn.Read(ctx)
	req.NoError(err)
	req.Equal(EventMessageCreated, env.Type)
	req.Equal("conversation:c1", env.Topic)
	req.JSONEq(`{"id":"m1"}`, string(env.Payload))

	req.NoError(conn.Unsubscribe(ctx, ConversationTopic("c1")))
	cmd = <-received
	req.Equal(frameUnsubscribe, cmd.Type)

	req.NoError(conn.Close())
	req.NoError(conn.Close())
}

func TestWebSocketTransport_Handshake(t *testing.T) {
	t.Run("unexpected first frame", func(t *testing.T) {
		srv := wsServer(t, `{"type":"hello"}`, nil, nil)
		_, err := NewWebSocketTransport(srv.URL, nil).Open(context.Background(), Credentials{Token: "tok"})
		require.ErrorIs(t, err, ErrUnexpectedHandshake)
	})

	t.Run("rejected token", func(t *testing.T) {
		srv := wsServer(t, authenticatedFrame, nil, nil)
		_, err := NewWebSocketTransport(srv.URL, nil).Open(context.Background(), Credentials{Token: "wrong"})
		require.Error(t, err)
	})
}

func TestWebSocketTransport_URL(t *testing.T) {
	req := require.New(t)
	req.Equal("wss://api.roomly.app/ws?token=a+b", NewWebSocketTransport("https://api.roomly.app/", nil).wsURL("a b"))
	req.Equal("ws://localhost:3000/ws?token=t", NewWebSocketTransport("http://localhost:3000", nil).wsURL("t"))
}
