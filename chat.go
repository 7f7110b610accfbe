package roomly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ChatStore holds one reconciled message list per conversation. Sends appear
// at once and are confirmed by the response or the pushed echo, whichever
// comes first.
type ChatStore struct {
	log     *slog.Logger
	remote  RemoteAPI
	storage Storage
	index   *MessageIndex
	alive   func() bool
	now     func() time.Time
	newID   func() string

	mu            sync.Mutex
	sender        string
	conversations map[string]*Reconciler[Message]
	cursors       map[string]string
}

func newChatStore(s *Session, cfg SessionConfig) *ChatStore {
	c := NewChatStore(cfg.Logger.With("component", "chat"), s.remote, cfg.Storage)
	c.alive = s.Alive
	c.now = cfg.Now
	c.newID = cfg.NewID
	return c
}

// NewChatStore builds a standalone chat store; storage may be nil.
func NewChatStore(log *slog.Logger, remote RemoteAPI, storage Storage) *ChatStore {
	if log == nil {
		log = slog.Default()
	}
	index, err := NewMessageIndex(log)
	if err != nil {
		log.Warn("Message search disabled", "error", err)
	}
	return &ChatStore{
		log:           log,
		remote:        remote,
		storage:       storage,
		index:         index,
		alive:         func() bool { return true },
		now:           time.Now,
		newID:         uuid.NewString,
		conversations: make(map[string]*Reconciler[Message]),
		cursors:       make(map[string]string),
	}
}

func (c *ChatStore) setSender(sender string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = sender
}

func (c *ChatStore) conversation(conversationID string) *Reconciler[Message] {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.conversations[conversationID]
	if !ok {
		r = NewReconciler(c.log, "conversation:"+conversationID, WithMergeFunc(mergeMessage))
		c.conversations[conversationID] = r
	}
	return r
}

// Messages returns the conversation ordered by creation time.
func (c *ChatStore) Messages(conversationID string) []Message {
	return c.conversation(conversationID).Items()
}

// Conversations lists the ids with a loaded message list.
func (c *ChatStore) Conversations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Keys(c.conversations)
}

// ============================================================================
// Commands
// ============================================================================

// Send stages the message and sends it. On failure the message stays in the
// list marked Failed, ready for Retry.
func (c *ChatStore) Send(ctx context.Context, conversationID, content string) (Message, error) {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()

	cmd := SendMessageCommand{
		CorrelationID:  c.newID(),
		ConversationID: conversationID,
		Content:        strings.TrimSpace(content),
	}
	if err := ValidateCommand(cmd); err != nil {
		return Message{}, err
	}
	optimistic := Message{
		CorrelationID:  cmd.CorrelationID,
		ConversationID: conversationID,
		Content:        cmd.Content,
		SenderRef:      sender,
		CreatedAt:      c.now(),
	}
	if _, err := c.conversation(conversationID).StageOptimistic(cmd.CorrelationID, optimistic); err != nil {
		return Message{}, err
	}
	c.persist(conversationID)
	return c.deliver(ctx, cmd)
}

// Retry resends a failed message under its original correlation id, so a
// late echo of the first attempt still collapses into the same entry.
func (c *ChatStore) Retry(ctx context.Context, conversationID, correlationID string) (Message, error) {
	conv := c.conversation(conversationID)
	m, ok := conv.Get(Keys{CorrelationID: correlationID})
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, correlationID)
	}
	if m.IsConfirmed() {
		return m, nil
	}
	conv.Update(correlationID, func(m Message) Message {
		m.Failed = false
		return m
	})
	return c.deliver(ctx, SendMessageCommand{
		CorrelationID:  correlationID,
		ConversationID: conversationID,
		Content:        m.Content,
	})
}

func (c *ChatStore) deliver(ctx context.Context, cmd SendMessageCommand) (Message, error) {
	conv := c.conversation(cmd.ConversationID)
	confirmed, err := c.remote.SendMessage(ctx, cmd)
	if !c.alive() {
		return Message{}, ErrSessionClosed
	}
	if err != nil {
		conv.Update(cmd.CorrelationID, func(m Message) Message {
			m.Failed = true
			return m
		})
		c.persist(cmd.ConversationID)
		return Message{}, &CommandError{Command: "send message", CorrelationID: cmd.CorrelationID, Err: err}
	}
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = cmd.ConversationID
	}
	confirmed.CorrelationID = cmd.CorrelationID
	confirmed.Confirmed = true
	conv.Promote(cmd.CorrelationID, confirmed)
	c.indexMessage(confirmed)
	c.persist(cmd.ConversationID)

	m, _ := conv.Get(Keys{ServerID: confirmed.ServerID})
	return m, nil
}

// LoadHistory fetches the next older page of the conversation.
func (c *ChatStore) LoadHistory(ctx context.Context, conversationID string, limit int) (MessagePage, error) {
	c.mu.Lock()
	before := c.cursors[conversationID]
	c.mu.Unlock()

	page, err := c.remote.FetchMessages(ctx, conversationID, PageRequest{Limit: limit, Before: before})
	if err != nil {
		return MessagePage{}, fmt.Errorf("load history of %s: %w", conversationID, err)
	}
	if !c.alive() {
		return MessagePage{}, ErrSessionClosed
	}
	conv := c.conversation(conversationID)
	for _, m := range page.Messages {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		conv.MergeByIdentity(m)
		c.indexMessage(m)
	}
	if page.NextCursor != "" {
		c.mu.Lock()
		c.cursors[conversationID] = page.NextCursor
		c.mu.Unlock()
	}
	c.persist(conversationID)
	return page, nil
}

// Watch subscribes the conversation topic for the lifetime of scope.
func (c *ChatStore) Watch(scope *Scope, conversationID string) (*Subscription, error) {
	return scope.Subscribe(ConversationTopic(conversationID), c.HandlePush)
}

// HandlePush merges a pushed or polled message event.
func (c *ChatStore) HandlePush(env Envelope) {
	if !c.alive() {
		return
	}
	m, err := NormalizeMessage(env.Payload)
	if err != nil {
		c.log.Warn("Dropping message event", "topic", env.Topic, "error", err)
		return
	}
	if m.ConversationID == "" {
		kind, id, err := ParseTopic(env.Topic)
		if err != nil || kind != TopicConversation {
			c.log.Warn("Message event without conversation", "topic", env.Topic)
			return
		}
		m.ConversationID = id
	}
	if c.conversation(m.ConversationID).MergeByIdentity(m).Changed() {
		c.indexMessage(m)
		c.persist(m.ConversationID)
	}
}

// Search finds confirmed messages of a conversation by content.
func (c *ChatStore) Search(ctx context.Context, conversationID, text string, limit int) ([]Message, error) {
	if c.index == nil {
		return nil, fmt.Errorf("message search unavailable")
	}
	ids, err := c.index.Search(ctx, conversationID, text, limit)
	if err != nil {
		return nil, err
	}
	conv := c.conversation(conversationID)
	return lo.FilterMap(ids, func(id string, _ int) (Message, bool) {
		return conv.Get(Keys{ServerID: id})
	}), nil
}

// Restore loads the persisted conversation. Messages that were never
// confirmed come back as failed so they can be retried.
func (c *ChatStore) Restore(conversationID string) error {
	if c.storage == nil {
		return nil
	}
	msgs, err := c.storage.GetMessages(conversationID)
	if err != nil {
		return fmt.Errorf("restore conversation %s: %w", conversationID, err)
	}
	conv := c.conversation(conversationID)
	for _, m := range msgs {
		if m.IsConfirmed() {
			conv.MergeByIdentity(m)
			c.indexMessage(m)
			continue
		}
		m.Failed = true
		if _, err := conv.StageOptimistic(m.CorrelationID, m); err != nil {
			c.log.Warn("Skipping stored message", "conversationId", conversationID, "error", err)
		}
	}
	return nil
}

// Clear forgets the conversation locally and in storage.
func (c *ChatStore) Clear(conversationID string) error {
	conv := c.conversation(conversationID)
	ids := lo.FilterMap(conv.Items(), func(m Message, _ int) (string, bool) {
		return m.ServerID, m.ServerID != ""
	})
	conv.Clear()

	c.mu.Lock()
	delete(c.cursors, conversationID)
	c.mu.Unlock()

	if c.index != nil && len(ids) > 0 {
		if err := c.index.Remove(ids...); err != nil {
			c.log.Warn("Removing messages from index failed", "conversationId", conversationID, "error", err)
		}
	}
	if c.storage != nil {
		return c.storage.DeleteConversation(conversationID)
	}
	return nil
}

// Close releases the search index.
func (c *ChatStore) Close() error {
	if c.index == nil {
		return nil
	}
	return c.index.Close()
}

func (c *ChatStore) indexMessage(m Message) {
	if c.index == nil || !m.IsConfirmed() {
		return
	}
	if err := c.index.Index(m); err != nil {
		c.log.Warn("Indexing message failed", "messageId", m.ServerID, "error", err)
	}
}

func (c *ChatStore) persist(conversationID string) {
	if c.storage == nil {
		return
	}
	if err := c.storage.PutMessages(conversationID, c.Messages(conversationID)); err != nil {
		c.log.Warn("Persisting conversation failed", "conversationId", conversationID, "error", err)
	}
}
