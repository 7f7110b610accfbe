package roomly

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ============================================================================
// Record
// ============================================================================

// Keys are the identities a record can be matched by.
type Keys struct {
	ServerID      string
	CorrelationID string
	Fallback      string
}

// Record is an entity the Reconciler can merge.
type Record interface {
	Keys() Keys
	// IsConfirmed reports whether the value originates from the server.
	IsConfirmed() bool
	CreatedTime() time.Time
	// Revision orders two variants of the same entity; the higher one wins.
	Revision() int64
	// UpdatedTime breaks ties between equal revisions. Zero means unknown.
	UpdatedTime() time.Time
}

// MergeResult reports what a reconciliation call did to the collection.
type MergeResult int

const (
	Unchanged MergeResult = iota
	Inserted
	Replaced
)

func (r MergeResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// Changed reports whether the collection was modified.
func (r MergeResult) Changed() bool { return r != Unchanged }

// sameEntity matches on server id when both sides carry one, then on
// correlation id, then on the legacy composite key.
func sameEntity(a, b Keys) bool {
	if a.ServerID != "" && b.ServerID != "" {
		return a.ServerID == b.ServerID
	}
	if a.CorrelationID != "" && b.CorrelationID != "" {
		return a.CorrelationID == b.CorrelationID
	}
	return a.Fallback != "" && a.Fallback == b.Fallback
}

// DedupKey returns the key a record collapses under.
func DedupKey(k Keys) string {
	switch {
	case k.ServerID != "":
		return "sid:" + k.ServerID
	case k.CorrelationID != "":
		return "cid:" + k.CorrelationID
	default:
		return "fb:" + k.Fallback
	}
}

func fallbackKey(content string, at time.Time) string {
	if content == "" && at.IsZero() {
		return ""
	}
	return strconv.FormatInt(at.UnixMilli(), 10) + "|" + content
}

// ============================================================================
// Reconciler
// ============================================================================

type entry[T Record] struct {
	value T
	// base is the confirmed value shadowed by an optimistic overlay.
	base *T
	seq  uint64
}

// ChangeFunc observes a modification of the collection. prev is nil on insert.
type ChangeFunc[T Record] func(prev *T, next T, result MergeResult)

// Reconciler is an ordered collection that unifies optimistic and confirmed
// variants of the same entity. Both local command responses and pushed events
// go through it, so delivery order and duplicates do not matter.
//
// Reconciler is safe for concurrent use.
type Reconciler[T Record] struct {
	mu        sync.Mutex
	log       *slog.Logger
	name      string
	entries   []*entry[T]
	seq       uint64
	merge     func(existing, incoming T) T
	observers []ChangeFunc[T]
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption[T Record] func(*Reconciler[T])

// WithMergeFunc sets how a winning incoming value absorbs fields of the
// value it replaces.
func WithMergeFunc[T Record](fn func(existing, incoming T) T) ReconcilerOption[T] {
	return func(r *Reconciler[T]) { r.merge = fn }
}

func NewReconciler[T Record](log *slog.Logger, name string, opts ...ReconcilerOption[T]) *Reconciler[T] {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler[T]{log: log.With("collection", name), name: name}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers an observer called after each modification, outside the lock.
func (r *Reconciler[T]) OnChange(fn ChangeFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// StageOptimistic inserts a provisional value. When a confirmed value of the
// same entity is present it is kept as the rollback base, unless it already
// supersedes the staged value, in which case nothing changes.
func (r *Reconciler[T]) StageOptimistic(correlationID string, partial T) (MergeResult, error) {
	if correlationID == "" || partial.Keys().CorrelationID != correlationID {
		return Unchanged, fmt.Errorf("%w: staging %q", ErrCorrelationMismatch, correlationID)
	}

	r.mu.Lock()
	idx := r.indexOf(partial.Keys())
	if idx < 0 {
		prev := r.insertLocked(partial)
		r.mu.Unlock()
		r.notify(prev, partial, Inserted)
		return Inserted, nil
	}

	e := r.entries[idx]
	if e.value.IsConfirmed() && e.value.Revision() >= partial.Revision() {
		r.mu.Unlock()
		r.log.Debug("Optimistic value already superseded", "correlationId", correlationID)
		return Unchanged, nil
	}
	prev := e.value
	if e.value.IsConfirmed() {
		base := e.value
		e.base = &base
	}
	e.value = partial
	r.sortLocked()
	r.mu.Unlock()
	r.notify(&prev, partial, Replaced)
	return Replaced, nil
}

// Promote replaces the provisional value staged under correlationID with its
// confirmed version. When nothing was staged the confirmed value is inserted.
func (r *Reconciler[T]) Promote(correlationID string, confirmed T) MergeResult {
	keys := confirmed.Keys()
	if keys.CorrelationID == "" {
		keys.CorrelationID = correlationID
	}

	r.mu.Lock()
	idx := r.indexOfCorrelation(correlationID)
	staged := idx >= 0
	if !staged {
		idx = r.indexOf(keys)
	}
	result, prev, next := r.applyLocked(idx, confirmed, staged)
	r.mu.Unlock()
	r.notify(prev, next, result)
	return result
}

// MergeByIdentity merges a confirmed value that carries no known correlation
// id, such as an unsolicited push.
func (r *Reconciler[T]) MergeByIdentity(confirmed T) MergeResult {
	r.mu.Lock()
	result, prev, next := r.applyLocked(r.indexOf(confirmed.Keys()), confirmed, false)
	r.mu.Unlock()
	r.notify(prev, next, result)
	return result
}

// applyLocked resolves incoming against the entry at idx (or inserts when idx < 0).
// staged is set when incoming confirms the provisional value at idx.
func (r *Reconciler[T]) applyLocked(idx int, incoming T, staged bool) (MergeResult, *T, T) {
	if idx < 0 {
		return Inserted, r.insertLocked(incoming), incoming
	}

	e := r.entries[idx]
	current := e.value
	// Fields the incoming value omits are filled before comparing.
	next := incoming
	if r.merge != nil {
		next = r.merge(current, incoming)
	}

	switch {
	case !current.IsConfirmed() && incoming.IsConfirmed():
		// An older confirmed state arriving behind a pending overlay only
		// refreshes the rollback base.
		if !staged && e.base != nil && current.Revision() > incoming.Revision() {
			if supersedes(*e.base, incoming) {
				base := incoming
				e.base = &base
			}
			return Unchanged, nil, current
		}
	case current.IsConfirmed() && !incoming.IsConfirmed():
		return Unchanged, nil, current
	case current.IsConfirmed() && incoming.IsConfirmed():
		if !supersedes(current, next) || reflect.DeepEqual(next, current) {
			return Unchanged, nil, current
		}
	}

	e.value = next
	if next.IsConfirmed() {
		e.base = nil
		r.collapseLocked(e)
	}
	r.sortLocked()
	return Replaced, &current, next
}

// supersedes reports whether incoming may replace confirmed current. A higher
// revision always does. On equal revisions the newer update time wins, and an
// unknown time counts as the latest delivery.
func supersedes[T Record](current, incoming T) bool {
	if incoming.Revision() != current.Revision() {
		return incoming.Revision() > current.Revision()
	}
	in, cur := incoming.UpdatedTime(), current.UpdatedTime()
	return in.IsZero() || cur.IsZero() || !in.Before(cur)
}

// collapseLocked drops other entries that carry the same server id as keep,
// e.g. a push that arrived without the correlation id of its optimistic twin.
func (r *Reconciler[T]) collapseLocked(keep *entry[T]) {
	sid := keep.value.Keys().ServerID
	if sid == "" {
		return
	}
	r.entries = lo.Reject(r.entries, func(e *entry[T], _ int) bool {
		return e != keep && e.value.Keys().ServerID == sid
	})
}

// Discard rolls back the provisional value staged under correlationID: the
// confirmed base is restored, or the entry removed when there is none.
func (r *Reconciler[T]) Discard(correlationID string) (T, bool) {
	var zero T
	r.mu.Lock()
	idx := r.indexOfCorrelation(correlationID)
	if idx < 0 || r.entries[idx].value.IsConfirmed() {
		r.mu.Unlock()
		return zero, false
	}
	e := r.entries[idx]
	discarded := e.value
	if e.base != nil {
		restored := *e.base
		e.value = restored
		e.base = nil
		r.sortLocked()
		r.mu.Unlock()
		r.notify(&discarded, restored, Replaced)
		return discarded, true
	}
	r.entries = slices.Delete(r.entries, idx, idx+1)
	r.mu.Unlock()
	r.log.Debug("Optimistic value discarded", "correlationId", correlationID)
	return discarded, true
}

// Update mutates the unconfirmed value staged under correlationID in place.
func (r *Reconciler[T]) Update(correlationID string, fn func(T) T) bool {
	r.mu.Lock()
	idx := r.indexOfCorrelation(correlationID)
	if idx < 0 || r.entries[idx].value.IsConfirmed() {
		r.mu.Unlock()
		return false
	}
	e := r.entries[idx]
	prev := e.value
	e.value = fn(e.value)
	next := e.value
	r.sortLocked()
	r.mu.Unlock()
	r.notify(&prev, next, Replaced)
	return true
}

// Get returns the current value matching keys.
func (r *Reconciler[T]) Get(keys Keys) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexOf(keys); idx >= 0 {
		return r.entries[idx].value, true
	}
	var zero T
	return zero, false
}

// Items returns a snapshot ordered by creation time ascending.
func (r *Reconciler[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.entries, func(e *entry[T], _ int) T { return e.value })
}

// Filter returns the ordered values matching predicate.
func (r *Reconciler[T]) Filter(predicate func(T) bool) []T {
	return lo.Filter(r.Items(), func(item T, _ int) bool { return predicate(item) })
}

func (r *Reconciler[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every entry.
func (r *Reconciler[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// RemoveWhere drops the entries matching predicate and returns how many were removed.
func (r *Reconciler[T]) RemoveWhere(predicate func(T) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.entries)
	r.entries = lo.Reject(r.entries, func(e *entry[T], _ int) bool { return predicate(e.value) })
	return before - len(r.entries)
}

func (r *Reconciler[T]) insertLocked(value T) *T {
	r.seq++
	r.entries = append(r.entries, &entry[T]{value: value, seq: r.seq})
	r.sortLocked()
	return nil
}

// sortLocked keeps creation time ascending; insertion order breaks ties.
func (r *Reconciler[T]) sortLocked() {
	slices.SortStableFunc(r.entries, func(a, b *entry[T]) int {
		if c := a.value.CreatedTime().Compare(b.value.CreatedTime()); c != 0 {
			return c
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}

func (r *Reconciler[T]) indexOf(keys Keys) int {
	// Exact server id match first, so two confirmed entities are never merged
	// through a weaker key.
	if keys.ServerID != "" {
		for i, e := range r.entries {
			if e.value.Keys().ServerID == keys.ServerID {
				return i
			}
		}
	}
	for i, e := range r.entries {
		if sameEntity(e.value.Keys(), keys) {
			return i
		}
	}
	return -1
}

func (r *Reconciler[T]) indexOfCorrelation(correlationID string) int {
	if correlationID == "" {
		return -1
	}
	for i, e := range r.entries {
		if e.value.Keys().CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

func (r *Reconciler[T]) notify(prev *T, next T, result MergeResult) {
	if !result.Changed() {
		return
	}
	r.mu.Lock()
	observers := append([]ChangeFunc[T]{}, r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("Change observer panicked", "panic", rec)
				}
			}()
			fn(prev, next, result)
		}()
	}
}
