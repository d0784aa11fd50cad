package api

import "sync"

// Session holds the bearer credential for the current user. One
// instance is shared by every Client call; it is cleared exactly once,
// either by an explicit logout or by the first authorization rejection.
type Session struct {
	mu           sync.Mutex
	token        string
	onInvalidate []func()
}

func NewSession(token string) *Session {
	return &Session{token: token}
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// OnInvalidate registers fn to run when the credential is cleared.
// Must be called before the session is shared across goroutines.
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	s.onInvalidate = append(s.onInvalidate, fn)
	s.mu.Unlock()
}

// Invalidate clears the credential. Safe to call repeatedly; the
// callbacks fire only on the call that actually clears a token, so an
// unauthorized document poll and an unauthorized scan poll landing
// together still produce a single logout.
func (s *Session) Invalidate() {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	fns := s.onInvalidate
	s.mu.Unlock()

	if !had {
		return
	}
	for _, fn := range fns {
		fn()
	}
}
