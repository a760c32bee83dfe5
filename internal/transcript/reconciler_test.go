package transcript

import (
	"errors"
	"testing"
)

func TestReconciler_SinglePendingInvariant(t *testing.T) {
	r := NewReconciler()
	id, err := r.AppendPending(SpeakerUser, "[User speaking...]")
	if err != nil {
		t.Fatalf("append pending: %v", err)
	}
	if _, err := r.AppendPending(SpeakerUser, "again"); !errors.Is(err, ErrPendingAlreadyOpen) {
		t.Fatalf("expected ErrPendingAlreadyOpen, got %v", err)
	}
	if err := r.Resolve(id, "hello there"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// After resolution a new pending entry may open.
	if _, err := r.AppendPending(SpeakerUser, "next"); err != nil {
		t.Fatalf("append after resolve: %v", err)
	}
}

func TestReconciler_ResolveTwiceFails(t *testing.T) {
	r := NewReconciler()
	id, _ := r.AppendPending(SpeakerUser, "...")
	if err := r.Resolve(id, "final"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.Resolve(id, "again"); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestReconciler_DiscardResolvedFails(t *testing.T) {
	r := NewReconciler()
	id, _ := r.AppendPending(SpeakerUser, "...")
	_ = r.Resolve(id, "final")
	if err := r.Discard(id); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestReconciler_ResolvePreservesPosition(t *testing.T) {
	r := NewReconciler()
	r.AppendFinal(SpeakerAgent, "Hi, how can I help?")
	id, _ := r.AppendPending(SpeakerUser, "[User speaking...]")
	r.AppendFinal(SpeakerAgent, "Take your time.")
	if err := r.Resolve(id, "what is the weather"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := r.Entries()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[1].Text != "what is the weather" || got[1].Speaker != SpeakerUser || got[1].Pending {
		t.Fatalf("entry 1 not resolved in place: %+v", got[1])
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) && !got[0].Timestamp.Equal(got[1].Timestamp) {
		t.Fatalf("entries out of timestamp order")
	}
}

func TestReconciler_DiscardLeavesNoGap(t *testing.T) {
	r := NewReconciler()
	r.AppendFinal(SpeakerAgent, "Hello!")
	id, _ := r.AppendPending(SpeakerUser, "[User speaking...]")
	if err := r.Discard(id); err != nil {
		t.Fatalf("discard: %v", err)
	}
	got := r.Entries()
	if len(got) != 1 || got[0].Text != "Hello!" {
		t.Fatalf("unexpected transcript after discard: %+v", got)
	}
	if r.HasPending() {
		t.Fatalf("no pending entry should remain")
	}
}

func TestReconciler_OnChangeSnapshots(t *testing.T) {
	r := NewReconciler()
	var calls int
	var last []Entry
	r.OnChange(func(snap []Entry) { calls++; last = snap })
	id, _ := r.AppendPending(SpeakerUser, "...")
	_ = r.Resolve(id, "done")
	r.AppendFinal(SpeakerAgent, "ok")
	if calls != 3 {
		t.Fatalf("expected 3 change callbacks, got %d", calls)
	}
	if len(last) != 2 {
		t.Fatalf("expected final snapshot of 2 entries, got %d", len(last))
	}
	// Snapshot must be detached from internal state.
	last[0].Text = "mutated"
	if r.Entries()[0].Text == "mutated" {
		t.Fatalf("snapshot aliases internal slice")
	}
}
