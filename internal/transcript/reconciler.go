package transcript

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Misuse errors. Under correct orchestration these never occur; the session
// treats them as invariant violations and discards the offending event.
var (
	ErrPendingAlreadyOpen = errors.New("transcript: a pending entry is already open")
	ErrUnknownSlot        = errors.New("transcript: unknown or already resolved slot")
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one transcript row. Pending rows hold placeholder text until the
// backend supplies the recognized utterance.
type Entry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
	Pending   bool
}

// SlotID is the opaque identity of a pending entry, decoupled from the
// entry's position in the log.
type SlotID string

// Reconciler maintains an ordered, append/replace-only transcript. Entries
// are never reordered; a resolved entry is never deleted. At most one
// pending entry is open at a time.
type Reconciler struct {
	mu       sync.Mutex
	entries  []Entry
	pending  SlotID
	slots    map[SlotID]int
	onChange func([]Entry)
}

func NewReconciler() *Reconciler {
	return &Reconciler{slots: make(map[SlotID]int)}
}

// OnChange registers a callback invoked with a snapshot after every mutation.
// Must be set before concurrent use.
func (r *Reconciler) OnChange(fn func([]Entry)) { r.onChange = fn }

// AppendPending creates a provisional entry and returns its slot id. It
// fails with ErrPendingAlreadyOpen while another pending entry exists.
func (r *Reconciler) AppendPending(speaker Speaker, placeholder string) (SlotID, error) {
	r.mu.Lock()
	if r.pending != "" {
		r.mu.Unlock()
		return "", ErrPendingAlreadyOpen
	}
	id := SlotID(uuid.NewString())
	r.slots[id] = len(r.entries)
	r.entries = append(r.entries, Entry{
		Speaker:   speaker,
		Text:      placeholder,
		Timestamp: time.Now(),
		Pending:   true,
	})
	r.pending = id
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return id, nil
}

// Resolve replaces the placeholder text in place, preserving position and
// timestamp order. The slot is consumed.
func (r *Reconciler) Resolve(id SlotID, finalText string) error {
	r.mu.Lock()
	idx, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSlot
	}
	delete(r.slots, id)
	if r.pending == id {
		r.pending = ""
	}
	r.entries[idx].Text = finalText
	r.entries[idx].Pending = false
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return nil
}

// AppendFinal appends an already-final entry (agent utterances are never
// optimistic).
func (r *Reconciler) AppendFinal(speaker Speaker, text string) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// Discard removes a still-pending entry without leaving a gap. No other slot
// index needs fixing up because at most one slot is open at a time.
func (r *Reconciler) Discard(id SlotID) error {
	r.mu.Lock()
	idx, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSlot
	}
	delete(r.slots, id)
	if r.pending == id {
		r.pending = ""
	}
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return nil
}

// HasPending reports whether a pending entry is open.
func (r *Reconciler) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != ""
}

// Entries returns a copy of the current transcript.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Reconciler) notify(snap []Entry) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}
