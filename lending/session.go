package lending

import "sync"

// Session is the single source of truth for the current credential.
// It lives for one client lifetime; persistence across restarts is the
// state file's job, not this type's. A token being present says nothing
// about its validity; the server is authoritative.
type Session struct {
	mu      sync.Mutex
	token   string
	cleared func()
}

// NewSession returns an empty session (no credential).
func NewSession() *Session { return &Session{} }

// SetToken stores the credential. Visible to the very next gateway
// call; no validation is performed locally.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token returns the current credential and whether one is present.
func (s *Session) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// ClearToken removes the credential and notifies the cleared hook if
// a token was actually present. Clearing an empty session is a no-op.
func (s *Session) ClearToken() {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	hook := s.cleared
	s.mu.Unlock()

	if had && hook != nil {
		hook()
	}
}

// OnCleared registers the single listener told when the credential is
// removed (logout or server-side expiry). The CLI uses it to drop the
// persisted copy of the token so a stale "logged in" state cannot
// survive the invalidation.
func (s *Session) OnCleared(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = fn
}
