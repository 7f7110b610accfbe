package roomly

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// Storage persists reconciled state between runs. Messages are written as a
// whole conversation snapshot; bookings and invoices are upserted by id.
type Storage interface {
	PutMessages(conversationID string, msgs []Message) error
	GetMessages(conversationID string) ([]Message, error)
	DeleteConversation(conversationID string) error

	PutBookings(bookings []Booking) error
	GetBookings() ([]Booking, error)
	PutInvoices(invoices []Invoice) error
	GetInvoices() ([]Invoice, error)

	GetCursor(key string) (string, error)
	SetCursor(key, value string) error

	Close() error
}

// SyncCursorKey is the cursor of the global event feed.
const SyncCursorKey = "events"

// ============================================================================
// MemoryStorage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory storage backend.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages map[string][]Message
	bookings map[string]Booking
	invoices map[string]Invoice
	cursors  map[string]string
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[string][]Message),
		bookings: make(map[string]Booking),
		invoices: make(map[string]Invoice),
		cursors:  make(map[string]string),
	}
}

// ── Messages ─────────────────────────────────────────────

func (s *MemoryStorage) PutMessages(conversationID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = slices.Clone(msgs)
	return nil
}

func (s *MemoryStorage) GetMessages(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[conversationID]), nil
}

func (s *MemoryStorage) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	return nil
}

// ── Bookings & invoices ──────────────────────────────────

func (s *MemoryStorage) PutBookings(bookings []Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bookings {
		if b.BookingID != "" {
			s.bookings[b.BookingID] = b
		}
	}
	return nil
}

func (s *MemoryStorage) GetBookings() ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.bookings), nil
}

func (s *MemoryStorage) PutInvoices(invoices []Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range invoices {
		if inv.InvoiceID != "" {
			s.invoices[inv.InvoiceID] = inv
		}
	}
	return nil
}

func (s *MemoryStorage) GetInvoices() ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.invoices), nil
}

// ── Cursors ──────────────────────────────────────────────

func (s *MemoryStorage) GetCursor(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[key], nil
}

func (s *MemoryStorage) SetCursor(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = value
	return nil
}

func (s *MemoryStorage) Close() error { return nil }

// ============================================================================
// BadgerStorage
// ============================================================================

// BadgerStorage persists state in a Badger database. Message keys are
// "msg:{conversation}:{created_nanos_padded}:{dedup}" so a prefix scan
// returns a conversation in chronological order.
type BadgerStorage struct {
	db  *badger.DB
	log *slog.Logger
}

var _ Storage = (*BadgerStorage)(nil)

// OpenBadgerStorage opens (or creates) the database at dir. An empty dir
// opens an in-memory database.
func OpenBadgerStorage(dir string, log *slog.Logger) (*BadgerStorage, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStorage(db, log), nil
}

func NewBadgerStorage(db *badger.DB, log *slog.Logger) *BadgerStorage {
	return &BadgerStorage{db: db, log: log}
}

func messagePrefix(conversationID string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", conversationID))
}

func messageKey(m Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.ConversationID, m.CreatedAt.UnixNano(), DedupKey(m.Keys())))
}

// PutMessages replaces the stored snapshot of a conversation in one transaction.
func (s *BadgerStorage) PutMessages(conversationID string, msgs []Message) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, messagePrefix(conversationID)); err != nil {
			return err
		}
		for _, m := range msgs {
			m.ConversationID = conversationID
			value, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := txn.Set(messageKey(m), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStorage) GetMessages(conversationID string) ([]Message, error) {
	return scanPrefix[Message](s.db, messagePrefix(conversationID))
}

func (s *BadgerStorage) DeleteConversation(conversationID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deletePrefix(txn, messagePrefix(conversationID))
	})
}

func (s *BadgerStorage) PutBookings(bookings []Booking) error {
	return putByID(s.db, "booking:", bookings, func(b Booking) string { return b.BookingID })
}

func (s *BadgerStorage) GetBookings() ([]Booking, error) {
	return scanPrefix[Booking](s.db, []byte("booking:"))
}

func (s *BadgerStorage) PutInvoices(invoices []Invoice) error {
	return putByID(s.db, "invoice:", invoices, func(i Invoice) string { return i.InvoiceID })
}

func (s *BadgerStorage) GetInvoices() ([]Invoice, error) {
	return scanPrefix[Invoice](s.db, []byte("invoice:"))
}

func (s *BadgerStorage) GetCursor(key string) (string, error) {
	var cursor string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("cursor:" + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cursor = string(val)
			return nil
		})
	})
	return cursor, err
}

func (s *BadgerStorage) SetCursor(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("cursor:"+key), []byte(value))
	})
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func putByID[T any](db *badger.DB, prefix string, items []T, id func(T) string) error {
	return db.Update(func(txn *badger.Txn) error {
		for _, item := range items {
			if id(item) == "" {
				continue
			}
			value, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(prefix+id(item)), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanPrefix[T any](db *badger.DB, prefix []byte) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var v T
				if err := json.Unmarshal(val, &v); err != nil {
					return err
				}
				out = append(out, v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
