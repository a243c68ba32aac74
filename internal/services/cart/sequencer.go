package cart

import "sync"

// sequencer is a ticket lock: remote mutations run one at a time, in the
// order their tickets were taken
type sequencer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	issued  uint64
	serving uint64
}

func newSequencer() *sequencer {
	s := &sequencer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// take returns the next ticket
func (s *sequencer) take() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.issued
	s.issued++
	return t
}

// wait blocks until ticket t is being served. Every ticket must be followed by
// exactly one done, or later tickets never run.
func (s *sequencer) wait(t uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.serving != t {
		s.cond.Wait()
	}
}

func (s *sequencer) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving++
	s.cond.Broadcast()
}
