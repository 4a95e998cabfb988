package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		cur        State
		ev         EventKind
		wantState  State
		wantAction Action
	}{
		{StateNone, EventStart, StateAwaitingPhoto, ActionGreet},
		{StateAwaitingPhoto, EventStart, StateAwaitingPhoto, ActionGreet},
		{StateAwaitingNext, EventStart, StateAwaitingPhoto, ActionGreet},

		{StateAwaitingPhoto, EventPhoto, StateAwaitingNext, ActionStoreImage},
		{StateAwaitingNext, EventPhoto, StateAwaitingNext, ActionStoreImage},
		{StateAwaitingNext, EventText, StateAwaitingPhoto, ActionClassify},

		{StateAwaitingPhoto, EventCancel, StateNone, ActionFarewell},
		{StateAwaitingNext, EventCancel, StateNone, ActionFarewell},
		{StateAwaitingPhoto, EventStop, StateNone, ActionShutdown},
		{StateAwaitingNext, EventStop, StateNone, ActionShutdown},

		// ignored
		{StateNone, EventPhoto, StateNone, ActionNone},
		{StateNone, EventText, StateNone, ActionNone},
		{StateNone, EventCancel, StateNone, ActionNone},
		{StateNone, EventStop, StateNone, ActionNone},
		{StateAwaitingPhoto, EventText, StateAwaitingPhoto, ActionNone},
		{StateAwaitingNext, EventKind("sticker"), StateAwaitingNext, ActionNone},
	}
	for _, tc := range cases {
		gotState, gotAction := Transition(tc.cur, tc.ev)
		if gotState != tc.wantState || gotAction != tc.wantAction {
			t.Errorf("Transition(%q, %q) = (%q, %s), want (%q, %s)",
				tc.cur, tc.ev, gotState, gotAction, tc.wantState, tc.wantAction)
		}
	}
}

func TestNewSession(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a := New(42, now)
	b := New(42, now)
	if a.State != StateAwaitingPhoto {
		t.Fatalf("state = %q", a.State)
	}
	if a.CorrelationID == "" || a.CorrelationID == b.CorrelationID {
		t.Fatalf("correlation ids must be unique and non-empty: %q %q", a.CorrelationID, b.CorrelationID)
	}
	if !a.StartedAt.Equal(now) || !a.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not set: %+v", a)
	}
}

func TestRegistryIsolation(t *testing.T) {
	r := NewRegistry()
	r.Put(Session{UserID: 1, State: StateAwaitingNext})
	r.Put(Session{UserID: 17, State: StateAwaitingPhoto}) // same shard as 1

	if got := r.State(1); got != StateAwaitingNext {
		t.Fatalf("user 1 state = %q", got)
	}
	if got := r.State(17); got != StateAwaitingPhoto {
		t.Fatalf("user 17 state = %q", got)
	}
	if !r.Delete(1) {
		t.Fatal("expected delete to report existing session")
	}
	if r.Delete(1) {
		t.Fatal("second delete must report absence")
	}
	if got := r.State(1); got != StateNone {
		t.Fatalf("deleted user state = %q", got)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("len after clear = %d", r.Len())
	}
}

func TestRegistryLockSerializesUser(t *testing.T) {
	r := NewRegistry()
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock(7)
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Fatal("two holders of the same user lock overlapped")
	}

	s := r.shardFor(7)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.locks) != 0 {
		t.Fatalf("lock entries leaked: %d", len(s.locks))
	}
}

func TestRegistryLockDoesNotBlockOtherUsers(t *testing.T) {
	r := NewRegistry()
	unlock := r.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		r.Lock(2)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for user 2 blocked behind user 1")
	}
}
