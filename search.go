package roomly

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blugelabs/bluge"
)

const (
	fieldContent      = "content"
	fieldConversation = "conversation"
	fieldID           = "_id"
)

// MessageIndex is a full-text index over confirmed messages, kept in memory.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(log *slog.Logger) (*MessageIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return &MessageIndex{writer: writer, log: log}, nil
}

// Index adds or replaces a confirmed message. Unconfirmed messages are skipped.
func (x *MessageIndex) Index(m Message) error {
	if !m.IsConfirmed() {
		return nil
	}
	doc := bluge.NewDocument(m.ServerID).
		AddField(bluge.NewTextField(fieldContent, m.Content)).
		AddField(bluge.NewKeywordField(fieldConversation, m.ConversationID))
	return x.writer.Update(doc.ID(), doc)
}

// Remove drops the messages with the given server ids.
func (x *MessageIndex) Remove(serverIDs ...string) error {
	batch := bluge.NewBatch()
	for _, id := range serverIDs {
		batch.Delete(bluge.Identifier(id))
	}
	return x.writer.Batch(batch)
}

// Search returns the server ids of the best matches, best first. An empty
// conversationID searches every conversation.
func (x *MessageIndex) Search(ctx context.Context, conversationID, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(text).SetField(fieldContent))
	if conversationID != "" {
		query.AddMust(bluge.NewTermQuery(conversationID).SetField(fieldConversation))
	}

	reader, err := x.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}
	var ids []string
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldID {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			break
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	x.log.Debug("Message search", "conversation", conversationID, "hits", len(ids))
	return ids, nil
}

func (x *MessageIndex) Close() error {
	return x.writer.Close()
}
