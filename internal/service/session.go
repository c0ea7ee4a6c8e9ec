package service

import (
	"context"
	"sync"
)

// Session follows one viewer as it navigates between assets. Navigating to a
// new identity cancels the load of the previous one, and views produced by a
// superseded load are dropped instead of reaching the viewer.
type Session struct {
	loader *DetailLoader
	emit   func(DetailView)

	mu      sync.Mutex
	gen     uint64
	current string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSession creates a Session that delivers views to emit. emit is called
// from a single goroutine at a time.
func NewSession(loader *DetailLoader, emit func(DetailView)) *Session {
	return &Session{loader: loader, emit: emit}
}

// Navigate starts loading id and cancels any load in flight. The load runs
// until it completes, Navigate is called again, Close is called, or parent
// is done.
func (s *Session) Navigate(parent context.Context, id string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.current = id
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.loader.Load(ctx, id, func(v DetailView) { s.deliver(gen, v) })
	}()
}

// Current returns the identity of the most recent navigation.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// deliver forwards v only if it belongs to the latest navigation. Holding
// the lock while emitting orders deliveries against Navigate.
func (s *Session) deliver(gen uint64, v DetailView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.emit(v)
}

// Close cancels the current load and waits for every load goroutine to
// return.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until every started load has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}
