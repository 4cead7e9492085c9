package chat

import (
	"sync"

	"github.com/wuwenbin0122/roomchat/internal/models"
)

type ChangeKind string

const (
	ChangeAppend ChangeKind = "append"
	// ChangeSettle is a pending entry becoming confirmed or local in place.
	ChangeSettle ChangeKind = "settle"
	ChangeReset  ChangeKind = "reset"
)

type Change struct {
	Kind  ChangeKind
	Index int
	Turn  models.Turn
	// PreviousID is set on ChangeSettle when confirmation replaced the local id.
	PreviousID string
}

// Transcript is the ordered view model one viewer renders. Entries are only
// ever appended; the single permitted edit is settling a pending entry.
type Transcript struct {
	mu        sync.RWMutex
	turns     []models.Turn
	index     map[string]int
	observers map[int]func(Change)
	nextObs   int
}

func NewTranscript() *Transcript {
	return &Transcript{
		index:     make(map[string]int),
		observers: make(map[int]func(Change)),
	}
}

// Snapshot returns a copy safe to read from any goroutine.
func (t *Transcript) Snapshot() []models.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Subscribe registers fn for every subsequent change and returns a function
// that removes it. Observers run on the mutating goroutine, after the lock
// is released.
func (t *Transcript) Subscribe(fn func(Change)) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// Reset replaces the whole transcript with persisted truth.
func (t *Transcript) Reset(turns []models.Turn) {
	t.mu.Lock()
	t.turns = make([]models.Turn, 0, len(turns))
	t.index = make(map[string]int, len(turns))
	for _, turn := range turns {
		if _, dup := t.index[turn.ID]; dup {
			continue
		}
		t.index[turn.ID] = len(t.turns)
		t.turns = append(t.turns, turn)
	}
	observers := t.observersLocked()
	t.mu.Unlock()

	notify(observers, Change{Kind: ChangeReset, Index: -1})
}

// Append adds turn at the end. A turn whose id is already present is dropped
// and false is returned.
func (t *Transcript) Append(turn models.Turn) bool {
	t.mu.Lock()
	if _, dup := t.index[turn.ID]; dup {
		t.mu.Unlock()
		return false
	}
	idx := len(t.turns)
	t.index[turn.ID] = idx
	t.turns = append(t.turns, turn)
	observers := t.observersLocked()
	t.mu.Unlock()

	notify(observers, Change{Kind: ChangeAppend, Index: idx, Turn: turn})
	return true
}

// Confirm settles the pending entry localID with the store's authoritative
// turn, keeping its position. If the store id is already displayed (a
// re-hydration raced the write) the pending entry is left as local so the
// logical turn is not shown twice.
func (t *Transcript) Confirm(localID string, persisted models.Turn) bool {
	t.mu.Lock()
	idx, ok := t.index[localID]
	if !ok || t.turns[idx].State != models.StatePending {
		t.mu.Unlock()
		return false
	}
	if _, dup := t.index[persisted.ID]; dup && persisted.ID != localID {
		turn := t.settleLocalLocked(idx)
		observers := t.observersLocked()
		t.mu.Unlock()

		notify(observers, Change{Kind: ChangeSettle, Index: idx, Turn: turn})
		return true
	}

	persisted.State = models.StateConfirmed
	persisted.Failed = t.turns[idx].Failed
	delete(t.index, localID)
	t.index[persisted.ID] = idx
	t.turns[idx] = persisted
	observers := t.observersLocked()
	t.mu.Unlock()

	notify(observers, Change{Kind: ChangeSettle, Index: idx, Turn: persisted, PreviousID: localID})
	return true
}

// MarkLocal settles the pending entry localID as never persisted.
func (t *Transcript) MarkLocal(localID string) bool {
	t.mu.Lock()
	idx, ok := t.index[localID]
	if !ok || t.turns[idx].State != models.StatePending {
		t.mu.Unlock()
		return false
	}
	turn := t.settleLocalLocked(idx)
	observers := t.observersLocked()
	t.mu.Unlock()

	notify(observers, Change{Kind: ChangeSettle, Index: idx, Turn: turn})
	return true
}

func (t *Transcript) settleLocalLocked(idx int) models.Turn {
	t.turns[idx].State = models.StateLocal
	return t.turns[idx]
}

func (t *Transcript) observersLocked() []func(Change) {
	if len(t.observers) == 0 {
		return nil
	}
	out := make([]func(Change), 0, len(t.observers))
	for id := 0; id < t.nextObs; id++ {
		if fn, ok := t.observers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(observers []func(Change), change Change) {
	for _, fn := range observers {
		fn(change)
	}
}
