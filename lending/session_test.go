package lending

import "testing"

func TestSessionLastWriteWins(t *testing.T) {
	s := NewSession()

	if _, ok := s.Token(); ok {
		t.Fatal("new session should have no token")
	}

	s.SetToken("T1")
	if tok, ok := s.Token(); !ok || tok != "T1" {
		t.Fatalf("want T1, got %q ok=%v", tok, ok)
	}

	s.SetToken("T2")
	if tok, _ := s.Token(); tok != "T2" {
		t.Fatalf("want T2 after overwrite, got %q", tok)
	}

	s.ClearToken()
	if tok, ok := s.Token(); ok || tok != "" {
		t.Fatalf("want absent after clear, got %q ok=%v", tok, ok)
	}
}

func TestSessionClearIsIdempotent(t *testing.T) {
	s := NewSession()

	cleared := 0
	s.OnCleared(func() { cleared++ })

	// Clearing an absent token is a no-op and must not notify.
	s.ClearToken()
	if cleared != 0 {
		t.Fatalf("clear on empty session fired the hook %d time(s)", cleared)
	}

	s.SetToken("T1")
	s.ClearToken()
	s.ClearToken()
	if cleared != 1 {
		t.Fatalf("want exactly 1 notification, got %d", cleared)
	}
}

func TestSessionClearHookSeesEmptyToken(t *testing.T) {
	s := NewSession()
	s.SetToken("T1")

	var tokenInHook string
	var present bool
	s.OnCleared(func() { tokenInHook, present = s.Token() })

	s.ClearToken()
	if present || tokenInHook != "" {
		t.Fatalf("hook observed token %q present=%v, want absent", tokenInHook, present)
	}
}
