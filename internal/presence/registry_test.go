package presence

import (
	"testing"
	"time"

	"matrixcore/pkg/domain"
)

func session(matrixID int64, token string, userID int64) Session {
	return Session{
		Token:       token,
		MatrixID:    matrixID,
		UserID:      userID,
		ConnectedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewMemoryRegistry()
	if err := r.Register(session(1, "a", 100)); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Lookup(1, "a")
	if !ok || got.UserID != 100 {
		t.Fatalf("expected the session back, got %+v (ok=%v)", got, ok)
	}
	if _, ok := r.Lookup(1, "missing"); ok {
		t.Fatalf("expected unknown token to miss")
	}
	if _, ok := r.Lookup(2, "a"); ok {
		t.Fatalf("expected wrong matrix to miss")
	}
}

func TestRegistryUpdate(t *testing.T) {
	r := NewMemoryRegistry()
	_ = r.Register(session(1, "a", 100))
	focus := &domain.CellAddress{MatrixID: 1, TaxonID: 7, CharacterID: 9}
	if !r.Update(1, "a", func(s *Session) { s.Focus = focus }) {
		t.Fatalf("expected update to find the session")
	}
	got, _ := r.Lookup(1, "a")
	if got.Focus == nil || got.Focus.TaxonID != 7 {
		t.Fatalf("expected focus stored, got %+v", got.Focus)
	}
	if r.Update(1, "missing", func(s *Session) {}) {
		t.Fatalf("expected update of unknown token to report false")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewMemoryRegistry()
	_ = r.Register(session(1, "a", 100))
	_ = r.Register(session(1, "b", 101))
	_ = r.Register(session(2, "c", 102))
	if got := len(r.List(1)); got != 2 {
		t.Fatalf("expected 2 sessions on matrix 1, got %d", got)
	}
}

func TestRegistryBroadcastSkipsOrigin(t *testing.T) {
	r := NewMemoryRegistry()
	_ = r.Register(session(1, "a", 100))
	_ = r.Register(session(1, "b", 101))
	chA, cancelA := r.Subscribe(1, "a")
	defer cancelA()
	chB, cancelB := r.Subscribe(1, "b")
	defer cancelB()

	r.Broadcast(Event{Kind: EventRepoll, MatrixID: 1, Token: "a", UserID: 100})

	select {
	case ev := <-chB:
		if ev.Kind != EventRepoll || ev.UserID != 100 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected peer b to receive the event")
	}
	select {
	case ev := <-chA:
		t.Fatalf("expected the origin to be skipped, got %+v", ev)
	default:
	}
}

func TestRegistryBroadcastDropsSlowSubscriber(t *testing.T) {
	r := NewMemoryRegistry()
	_ = r.Register(session(1, "b", 101))
	_, cancel := r.Subscribe(1, "b")
	defer cancel()
	// Fill the buffer past capacity; extra events are dropped, not blocked on.
	for i := 0; i < 64; i++ {
		r.Broadcast(Event{Kind: EventRepoll, MatrixID: 1, Token: "a"})
	}
}

func TestRegistryRemoveClosesSubscription(t *testing.T) {
	r := NewMemoryRegistry()
	_ = r.Register(session(1, "a", 100))
	ch, _ := r.Subscribe(1, "a")
	r.Remove(1, "a")
	if _, ok := r.Lookup(1, "a"); ok {
		t.Fatalf("expected session removed")
	}
	if _, open := <-ch; open {
		t.Fatalf("expected the event channel closed")
	}
}
