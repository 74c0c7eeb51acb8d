package app

// PendingCalls reports how many provider calls are tracked for cancellation.
func (s *Session) PendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
