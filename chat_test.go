package roomly_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/roomly-app/roomly/sdk/golang/mocks"
)

func newTestChat(t *testing.T, storage roomly.Storage) (*roomly.ChatStore, *mocks.MockRemoteAPI) {
	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemoteAPI(ctrl)
	chat := roomly.NewChatStore(logs.GetLoggerFromLevel(slog.LevelDebug), remote, storage)
	t.Cleanup(func() { _ = chat.Close() })
	return chat, remote
}

func echo(cmd roomly.SendMessageCommand, serverID string, at time.Time) roomly.Message {
	return roomly.Message{
		ServerID: serverID, CorrelationID: cmd.CorrelationID, ConversationID: cmd.ConversationID,
		Content: cmd.Content, SenderRef: "u1", CreatedAt: at, Confirmed: true,
	}
}

func TestChatStore_SendShowsMessageImmediately(t *testing.T) {
	req := require.New(t)
	chat, remote := newTestChat(t, nil)

	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd roomly.SendMessageCommand) (roomly.Message, error) {
			// Given the message is visible while the command is in flight
			pending := chat.Messages("c1")
			req.Len(pending, 1)
			req.False(pending[0].IsConfirmed())
			req.Equal(cmd.CorrelationID, pending[0].CorrelationID)
			return echo(cmd, "m1", start), nil
		}).Times(1)

	m, err := chat.Send(context.Background(), "c1", "  is the flat still free?  ")

	req.NoError(err)
	req.Equal("m1", m.ServerID)
	req.Equal("is the flat still free?", m.Content)
	req.Len(chat.Messages("c1"), 1)
}

func TestChatStore_EchoBeforeResponse(t *testing.T) {
	req := require.New(t)
	chat, remote := newTestChat(t, nil)

	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd roomly.SendMessageCommand) (roomly.Message, error) {
			// The pushed echo carries the client id
			chat.HandlePush(roomly.Envelope{
				Type:    roomly.EventMessageCreated,
				Topic:   roomly.ConversationTopic("c1"),
				Payload: []byte(`{"id":"m1","clientId":"` + cmd.CorrelationID + `","content":"hi","senderId":"u1","createdAt":"2026-03-01T10:00:00Z"}`),
			})
			return echo(cmd, "m1", start), nil
		}).Times(1)

	_, err := chat.Send(context.Background(), "c1", "hi")

	req.NoError(err)
	msgs := chat.Messages("c1")
	req.Len(msgs, 1)
	req.True(msgs[0].IsConfirmed())
	req.Equal("c1", msgs[0].ConversationID)
}

func TestChatStore_FailedSendCanBeRetried(t *testing.T) {
	req := require.New(t)
	chat, remote := newTestChat(t, nil)

	var firstCID string
	gomock.InOrder(
		remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, cmd roomly.SendMessageCommand) (roomly.Message, error) {
				firstCID = cmd.CorrelationID
				return roomly.Message{}, errors.New("offline")
			}),
		remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, cmd roomly.SendMessageCommand) (roomly.Message, error) {
				req.Equal(firstCID, cmd.CorrelationID)
				return echo(cmd, "m1", start), nil
			}),
	)

	// When the first attempt fails
	_, err := chat.Send(context.Background(), "c1", "hello")
	cmdErr, ok := roomly.IsCommandError(err)
	req.True(ok)

	// Then the message stays, marked failed
	msgs := chat.Messages("c1")
	req.Len(msgs, 1)
	req.True(msgs[0].Failed)

	// And the retry reuses the correlation id
	m, err := chat.Retry(context.Background(), "c1", cmdErr.CorrelationID)
	req.NoError(err)
	req.False(m.Failed)
	req.Len(chat.Messages("c1"), 1)

	_, err = chat.Retry(context.Background(), "c1", "unknown")
	req.ErrorIs(err, roomly.ErrUnknownMessage)
}

func TestChatStore_EmptyMessageIsRejected(t *testing.T) {
	chat, _ := newTestChat(t, nil)
	_, err := chat.Send(context.Background(), "c1", "   ")
	require.ErrorIs(t, err, roomly.ErrInvalidCommand)
	require.Empty(t, chat.Messages("c1"))
}

func TestChatStore_HistorySearchAndClear(t *testing.T) {
	req := require.New(t)
	storage := roomly.NewMemoryStorage()
	chat, remote := newTestChat(t, storage)

	// Given a page of history
	remote.EXPECT().FetchMessages(gomock.Any(), "c1", roomly.PageRequest{Limit: 2}).Return(roomly.MessagePage{
		Messages: []roomly.Message{
			{ServerID: "m2", Content: "the heating is broken", CreatedAt: start.Add(time.Minute), Confirmed: true},
			{ServerID: "m1", Content: "welcome to the flat", CreatedAt: start, Confirmed: true},
		},
		NextCursor: "cur-1",
		HasMore:    true,
	}, nil).Times(1)
	remote.EXPECT().FetchMessages(gomock.Any(), "c1", roomly.PageRequest{Limit: 2, Before: "cur-1"}).
		Return(roomly.MessagePage{}, nil).Times(1)

	page, err := chat.LoadHistory(context.Background(), "c1", 2)
	req.NoError(err)
	req.True(page.HasMore)
	_, err = chat.LoadHistory(context.Background(), "c1", 2)
	req.NoError(err)

	// Then it is ordered, searchable and persisted
	msgs := chat.Messages("c1")
	req.Equal("m1", msgs[0].ServerID)
	req.Equal("m2", msgs[1].ServerID)

	hits, err := chat.Search(context.Background(), "c1", "heating", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("m2", hits[0].ServerID)

	stored, err := storage.GetMessages("c1")
	req.NoError(err)
	req.Len(stored, 2)

	// When the conversation is cleared
	req.NoError(chat.Clear("c1"))

	req.Empty(chat.Messages("c1"))
	hits, err = chat.Search(context.Background(), "c1", "heating", 10)
	req.NoError(err)
	req.Empty(hits)
	stored, err = storage.GetMessages("c1")
	req.NoError(err)
	req.Empty(stored)
}

func TestChatStore_RestoreMarksUnsentAsFailed(t *testing.T) {
	req := require.New(t)
	storage := roomly.NewMemoryStorage()
	req.NoError(storage.PutMessages("c1", []roomly.Message{
		{ServerID: "m1", ConversationID: "c1", Content: "sent", CreatedAt: start, Confirmed: true},
		{CorrelationID: "cid-2", ConversationID: "c1", Content: "unsent", CreatedAt: start.Add(time.Second)},
	}))
	chat, _ := newTestChat(t, storage)

	req.NoError(chat.Restore("c1"))

	msgs := chat.Messages("c1")
	req.Len(msgs, 2)
	req.True(msgs[0].IsConfirmed())
	req.True(msgs[1].Failed)
	req.Equal("cid-2", msgs[1].CorrelationID)
}

func TestChatStore_PushTakesConversationFromTopic(t *testing.T) {
	req := require.New(t)
	chat, _ := newTestChat(t, nil)

	chat.HandlePush(roomly.Envelope{
		Type:    roomly.EventMessageCreated,
		Topic:   roomly.ConversationTopic("c9"),
		Payload: []byte(`{"message":{"id":"m1","content":"hello","createdAt":1772359200000}}`),
	})
	chat.HandlePush(roomly.Envelope{Type: roomly.EventMessageCreated, Topic: "bogus", Payload: []byte(`{"id":"m2"}`)})

	msgs := chat.Messages("c9")
	req.Len(msgs, 1)
	req.Equal("c9", msgs[0].ConversationID)
}
