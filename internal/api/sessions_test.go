package api

import (
	"testing"
	"time"

	"github.com/kalambet/grocer/internal/agent"
)

func TestSessionStore_GetOrCreate(t *testing.T) {
	st := NewSessionStore(time.Hour)

	s1 := st.GetOrCreate("")
	if s1.Conv.SessionID == "" {
		t.Fatal("empty id not generated")
	}

	s2 := st.GetOrCreate(s1.Conv.SessionID)
	if s1 != s2 {
		t.Error("same id returned a different session")
	}

	s3 := st.GetOrCreate("other")
	if s3 == s1 {
		t.Error("different id returned the same session")
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d, want 2", st.Len())
	}
}

func TestSessionStore_Delete(t *testing.T) {
	st := NewSessionStore(time.Hour)
	s := st.GetOrCreate("")

	st.Delete(s.Conv.SessionID)
	if st.Len() != 0 {
		t.Errorf("Len = %d, want 0", st.Len())
	}
}

func TestSessionStore_Prune(t *testing.T) {
	st := NewSessionStore(10 * time.Millisecond)
	stale := st.GetOrCreate("stale")

	time.Sleep(20 * time.Millisecond)
	fresh := st.GetOrCreate("fresh")

	if n := st.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
	if st.GetOrCreate("fresh") != fresh {
		t.Error("fresh session was evicted")
	}
	if st.GetOrCreate("stale") == stale {
		t.Error("stale session survived the prune")
	}
}

func TestSession_DoSerializes(t *testing.T) {
	st := NewSessionStore(time.Hour)
	s := st.GetOrCreate("s1")

	// Two goroutines incrementing a plain int through Do; the lock makes
	// the unsynchronized counter safe.
	counter := 0
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				s.Do(func(_ *agent.Conversation) error {
					counter++
					return nil
				})
			}
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	if counter != 200 {
		t.Errorf("counter = %d, want 200", counter)
	}
}
