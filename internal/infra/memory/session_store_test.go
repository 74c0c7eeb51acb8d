package memory

import (
	"testing"
	"time"

	"quiz-tutor-service/internal/app"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	session := app.NewSession("s-1", NewStaticProvider(SampleBank()))
	store.Save(session)
	got, ok := store.Get("s-1")
	if !ok || got != session {
		t.Fatalf("expected stored session, got %v (ok=%v)", got, ok)
	}

	store.Delete("s-1")
	if _, ok := store.Get("s-1"); ok {
		t.Fatalf("expected session removed")
	}
	store.Delete("s-1")
}

func TestSessionStoreIdleSkipsAttachedAndRecentSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newSessionStoreWithClock(func() time.Time { return now })
	provider := NewStaticProvider(SampleBank())

	abandoned := app.NewSession("abandoned", provider)
	attached := app.NewSession("attached", provider)
	resumed := app.NewSession("resumed", provider)
	store.Save(abandoned)
	store.Save(attached)
	store.Save(resumed)
	_, unsubscribe := attached.Subscribe()
	defer unsubscribe()

	now = now.Add(20 * time.Minute)
	store.Get("resumed")
	if ids := store.Idle(30 * time.Minute); len(ids) != 0 {
		t.Fatalf("nothing should be idle yet, got %v", ids)
	}

	now = now.Add(15 * time.Minute)
	ids := store.Idle(30 * time.Minute)
	if len(ids) != 1 || ids[0] != "abandoned" {
		t.Fatalf("expected only the abandoned session, got %v", ids)
	}
}
