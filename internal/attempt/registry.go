package attempt

import (
	"sync"
	"time"
)

// Registry tracks live sessions by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove detaches the session without closing it; the caller owns the
// teardown.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// SweepTerminal drops every submitted or failed session. Their tickers
// are already stopped by the time the terminal state is visible, so
// dropping the reference is the whole teardown.
func (r *Registry) SweepTerminal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	swept := 0
	for id, s := range r.sessions {
		switch state, _ := s.State(); state {
		case StateSubmitted, StateFailed:
			delete(r.sessions, id)
			swept++
		}
	}
	return swept
}

// StartSweeper runs SweepTerminal on an interval. It catches sessions
// that end without a client request, such as a timer-forced submit.
// The returned stop function ends the sweep.
func (r *Registry) StartSweeper(every time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				r.SweepTerminal()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
