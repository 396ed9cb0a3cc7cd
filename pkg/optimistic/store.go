// Package optimistic keeps a client-side collection that applies local
// mutations before the server confirms them.
//
// Every mutation starts with a Begin call that changes the collection at once
// and returns a Pending handle. The caller settles the handle with Confirm
// when the request succeeds or Fail when it is rejected. Broadcast events from
// the server are fed in with ApplyUpsert, ApplyRemove and Patch. The store
// converges to the same contents whichever of the response and the broadcast
// arrives first, and applies each change exactly once.
package optimistic

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// State is the reconciliation state of a Store.
type State int

const (
	// Idle means no mutation has been started since the last Reset.
	Idle State = iota
	// OptimisticPending means at least one mutation awaits its response.
	OptimisticPending
	// Reconciled means every started mutation has been settled.
	Reconciled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OptimisticPending:
		return "optimistic-pending"
	case Reconciled:
		return "reconciled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind names the mutation a Pending handle tracks.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrUnknownEntity is returned when an update or delete names a key the store does not hold.
var ErrUnknownEntity = errors.New("optimistic: unknown entity")

// MutationFailedError is returned by Pending.Fail after the local change was rolled back.
type MutationFailedError struct {
	OpID string
	Kind Kind
	Key  string
	Err  error
}

func (e *MutationFailedError) Error() string {
	return fmt.Sprintf("optimistic %s of %s failed: %v", e.Kind, e.Key, e.Err)
}

func (e *MutationFailedError) Unwrap() error { return e.Err }

const tempPrefix = "tmp-"

// TempID returns a fresh temporary key for a locally created entity.
func TempID() string { return tempPrefix + uuid.NewString() }

// IsTemp reports whether id was produced by TempID.
func IsTemp(id string) bool { return strings.HasPrefix(id, tempPrefix) }

// Option customises a Store.
type Option[T any] func(*Store[T])

// WithMatcher correlates a broadcast entity with a pending create whose server
// key is not known yet. When match reports true the broadcast entity takes the
// draft's place.
func WithMatcher[T any](match func(draft, incoming T) bool) Option[T] {
	return func(s *Store[T]) { s.match = match }
}

// WithOnChange registers a callback receiving a snapshot after every change.
// It runs on the goroutine that made the change, outside the store lock.
func WithOnChange[T any](fn func(items []T)) Option[T] {
	return func(s *Store[T]) { s.onChange = fn }
}

type entry[T any] struct {
	key string
	val T
}

type operation[T any] struct {
	id   string
	kind Kind
	key  string
	// next is the optimistic value of an update; prev is the value an
	// update or delete restores on failure.
	next  T
	prev  T
	index int
	// resolved is the server key of a create already delivered by broadcast.
	resolved string
	// overwritten is set when a broadcast replaced the entity while an update was pending.
	overwritten bool
	// patches are partial broadcasts received while an update was pending.
	// They are already folded into prev and next.
	patches []func(T) T
	// gone is set when a broadcast removed the entity while the mutation was pending.
	gone bool
}

// Store is a keyed, ordered collection with optimistic mutations. It is safe
// for concurrent use.
type Store[T any] struct {
	mu       sync.Mutex
	key      func(T) string
	match    func(draft, incoming T) bool
	onChange func([]T)

	entries []entry[T]
	ops     map[string]*operation[T]
	order   []string
	removed map[string]struct{}
	state   State
}

// New builds an empty Store. key returns the identity of an entity.
func New[T any](key func(T) string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		key:     key,
		ops:     make(map[string]*operation[T]),
		removed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Items returns a snapshot in display order.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns the entity under key.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(key); i >= 0 {
		return s.entries[i].val, true
	}
	var zero T
	return zero, false
}

// Len returns the number of entities, optimistic ones included.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// State reports the reconciliation state and, while pending, the most recently
// started unsettled operation.
func (s *Store[T]) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != OptimisticPending || len(s.order) == 0 {
		return s.state, ""
	}
	return s.state, s.order[len(s.order)-1]
}

// BeginCreate appends draft, whose key should come from TempID.
func (s *Store[T]) BeginCreate(draft T) *Pending[T] {
	s.mu.Lock()
	op := s.startLocked(KindCreate, s.key(draft))
	s.entries = append(s.entries, entry[T]{key: op.key, val: draft})
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
	return &Pending[T]{store: s, op: op}
}

// BeginUpdate replaces the entity sharing next's key.
func (s *Store[T]) BeginUpdate(next T) (*Pending[T], error) {
	key := s.key(next)
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	op := s.startLocked(KindUpdate, key)
	op.prev = s.entries[i].val
	op.next = next
	s.entries[i].val = next
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
	return &Pending[T]{store: s, op: op}, nil
}

// BeginDelete removes the entity under key.
func (s *Store[T]) BeginDelete(key string) (*Pending[T], error) {
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	op := s.startLocked(KindDelete, key)
	op.prev = s.entries[i].val
	op.index = i
	s.entries = slices.Delete(s.entries, i, i+1)
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
	return &Pending[T]{store: s, op: op}, nil
}

// ApplyUpsert merges a broadcast entity. It reports whether the collection changed.
func (s *Store[T]) ApplyUpsert(item T) bool {
	key := s.key(item)
	s.mu.Lock()
	changed := s.upsertLocked(key, item)
	items := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.notify(items)
	}
	return changed
}

func (s *Store[T]) upsertLocked(key string, item T) bool {
	if _, ok := s.removed[key]; ok {
		return false
	}
	if op := s.pendingLocked(KindDelete, key); op != nil {
		// Keep the entity out of view; a failed delete restores this value.
		op.prev = item
		return false
	}
	if i := s.indexLocked(key); i >= 0 {
		s.entries[i].val = item
		if op := s.pendingLocked(KindUpdate, key); op != nil {
			op.overwritten = true
		}
		return true
	}
	if s.match != nil {
		for _, id := range s.order {
			op := s.ops[id]
			if op.kind != KindCreate || op.resolved != "" {
				continue
			}
			i := s.indexLocked(op.key)
			if i < 0 || !s.match(s.entries[i].val, item) {
				continue
			}
			s.entries[i] = entry[T]{key: key, val: item}
			op.resolved = key
			return true
		}
	}
	s.entries = append(s.entries, entry[T]{key: key, val: item})
	return true
}

// Patch applies fn to the entity under key, for broadcasts that carry only
// changed fields. It reports whether the entity was present.
func (s *Store[T]) Patch(key string, fn func(T) T) bool {
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		if op := s.pendingLocked(KindDelete, key); op != nil {
			op.prev = fn(op.prev)
		}
		s.mu.Unlock()
		return false
	}
	s.entries[i].val = fn(s.entries[i].val)
	if op := s.pendingLocked(KindUpdate, key); op != nil {
		op.prev = fn(op.prev)
		op.next = fn(op.next)
		op.patches = append(op.patches, fn)
	}
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
	return true
}

// ApplyRemove drops a broadcast removal. Removing an absent key is a no-op,
// and the key is never resurrected by a late upsert.
func (s *Store[T]) ApplyRemove(key string) bool {
	s.mu.Lock()
	s.removed[key] = struct{}{}
	for _, id := range s.order {
		if op := s.ops[id]; op.key == key || op.resolved == key {
			op.gone = true
		}
	}
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
	return true
}

// Reset replaces the collection with an authoritative listing, typically
// after a reconnect. Unsettled mutations stay applied on top of it.
func (s *Store[T]) Reset(items []T) {
	s.mu.Lock()
	next := make([]entry[T], 0, len(items))
	for _, item := range items {
		key := s.key(item)
		delete(s.removed, key)
		if op := s.pendingLocked(KindDelete, key); op != nil {
			op.prev = item
			continue
		}
		if op := s.pendingLocked(KindUpdate, key); op != nil {
			op.prev = item
			if !op.overwritten {
				item = op.next
			}
		}
		next = append(next, entry[T]{key: key, val: item})
	}
	for _, id := range s.order {
		op := s.ops[id]
		if op.kind != KindCreate || op.resolved != "" {
			continue
		}
		if i := s.indexLocked(op.key); i >= 0 {
			next = append(next, s.entries[i])
		}
	}
	s.entries = next
	if len(s.order) == 0 {
		s.state = Idle
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *Store[T]) confirm(op *operation[T], entity T) {
	s.mu.Lock()
	if !s.settleLocked(op) {
		s.mu.Unlock()
		return
	}
	switch op.kind {
	case KindCreate:
		s.confirmCreateLocked(op, entity)
	case KindUpdate:
		if i := s.indexLocked(op.key); i >= 0 && !op.gone && !op.overwritten {
			for _, fn := range op.patches {
				entity = fn(entity)
			}
			s.entries[i].val = entity
		}
	case KindDelete:
		s.removed[op.key] = struct{}{}
	}
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
}

func (s *Store[T]) confirmCreateLocked(op *operation[T], entity T) {
	key := s.key(entity)
	temp := s.indexLocked(op.key)
	switch {
	case op.resolved == key:
		// The broadcast already replaced the draft.
	case s.isRemovedLocked(key):
		if temp >= 0 {
			s.entries = slices.Delete(s.entries, temp, temp+1)
		}
	case s.indexLocked(key) >= 0:
		// The broadcast outran the response without being matched to the draft.
		if temp >= 0 {
			s.entries = slices.Delete(s.entries, temp, temp+1)
		}
	case temp >= 0:
		s.entries[temp] = entry[T]{key: key, val: entity}
	default:
		s.entries = append(s.entries, entry[T]{key: key, val: entity})
	}
}

func (s *Store[T]) fail(op *operation[T], cause error) error {
	failure := &MutationFailedError{OpID: op.id, Kind: op.kind, Key: op.key, Err: cause}
	s.mu.Lock()
	if !s.settleLocked(op) {
		s.mu.Unlock()
		return failure
	}
	switch op.kind {
	case KindCreate:
		// A draft already replaced by a broadcast exists on the server; keep it.
		if op.resolved == "" {
			if i := s.indexLocked(op.key); i >= 0 {
				s.entries = slices.Delete(s.entries, i, i+1)
			}
		}
	case KindUpdate:
		if i := s.indexLocked(op.key); i >= 0 && !op.overwritten {
			s.entries[i].val = op.prev
		}
	case KindDelete:
		if !op.gone && !s.isRemovedLocked(op.key) && s.indexLocked(op.key) < 0 {
			at := min(op.index, len(s.entries))
			s.entries = slices.Insert(s.entries, at, entry[T]{key: op.key, val: op.prev})
		}
	}
	items := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(items)
	return failure
}

func (s *Store[T]) startLocked(kind Kind, key string) *operation[T] {
	op := &operation[T]{id: uuid.NewString(), kind: kind, key: key}
	s.ops[op.id] = op
	s.order = append(s.order, op.id)
	s.state = OptimisticPending
	return op
}

// settleLocked retires op and reports whether it was still pending.
func (s *Store[T]) settleLocked(op *operation[T]) bool {
	if _, ok := s.ops[op.id]; !ok {
		return false
	}
	delete(s.ops, op.id)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == op.id })
	if len(s.order) == 0 {
		s.state = Reconciled
	}
	return true
}

func (s *Store[T]) pendingLocked(kind Kind, key string) *operation[T] {
	for _, id := range s.order {
		if op := s.ops[id]; op.kind == kind && op.key == key {
			return op
		}
	}
	return nil
}

func (s *Store[T]) isRemovedLocked(key string) bool {
	_, ok := s.removed[key]
	return ok
}

func (s *Store[T]) indexLocked(key string) int {
	return slices.IndexFunc(s.entries, func(e entry[T]) bool { return e.key == key })
}

func (s *Store[T]) snapshotLocked() []T {
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.val
	}
	return out
}

func (s *Store[T]) notify(items []T) {
	if s.onChange != nil {
		s.onChange(items)
	}
}

// Pending tracks one optimistic mutation until it is confirmed or failed.
// Settling a handle twice is a no-op.
type Pending[T any] struct {
	store *Store[T]
	op    *operation[T]
}

// ID returns the operation identifier.
func (p *Pending[T]) ID() string { return p.op.id }

// Kind returns the mutation kind.
func (p *Pending[T]) Kind() Kind { return p.op.kind }

// Key returns the key the mutation was started with; a temporary key for creates.
func (p *Pending[T]) Key() string { return p.op.key }

// Confirm settles the mutation with the server's entity. Deletes ignore entity.
func (p *Pending[T]) Confirm(entity T) { p.store.confirm(p.op, entity) }

// Fail rolls the mutation back and returns a *MutationFailedError wrapping cause.
func (p *Pending[T]) Fail(cause error) error { return p.store.fail(p.op, cause) }
