package llm

import "sync"

// SessionStore keeps per-thread conversation history. Each worker owns a
// unique thread id; clearing the thread on worker cleanup bounds memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string][]Message
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string][]Message)}
}

// Append adds messages to the thread's history, creating it if needed.
func (s *SessionStore) Append(threadID string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[threadID] = append(s.sessions[threadID], msgs...)
}

// History returns a copy of the thread's conversation.
func (s *SessionStore) History(threadID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.sessions[threadID]
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// Clear drops the thread's conversation.
func (s *SessionStore) Clear(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, threadID)
}

// ActiveSessions returns the number of live threads. Useful as a health
// probe: a count that only grows indicates missing worker cleanup.
func (s *SessionStore) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
