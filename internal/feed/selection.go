package feed

import "sync"

// Selection is the single selected-report pointer shared by the feed and the
// dashboard. Listeners run synchronously on the goroutine that changed it,
// one change at a time and in the order the changes were made, so the last
// listener call always carries the current id. Listeners must not change the
// selection themselves.
type Selection struct {
	deliverMu sync.Mutex // held across a change and its listener calls

	mu        sync.Mutex
	id        string
	listeners []func(id string)
}

// Selected returns the selected report id, or "" when none is selected.
func (s *Selection) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Select sets the selection on behalf of the user.
func (s *Selection) Select(id string) {
	s.change(func(cur string) bool { return cur != id }, id)
}

// SelectIfEmpty selects id only when nothing is selected yet. It reports
// whether the selection changed.
func (s *Selection) SelectIfEmpty(id string) bool {
	return s.change(func(cur string) bool { return cur == "" && id != "" }, id)
}

// Replay runs the listeners again with the current id, when there is one.
func (s *Selection) Replay() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	id, fns := s.id, s.snapshot()
	s.mu.Unlock()
	if id == "" {
		return
	}
	for _, fn := range fns {
		fn(id)
	}
}

func (s *Selection) change(ok func(cur string) bool, id string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if !ok(s.id) {
		s.mu.Unlock()
		return false
	}
	s.id = id
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
	return true
}

// OnChange registers fn to run after every selection change.
func (s *Selection) OnChange(fn func(id string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Selection) snapshot() []func(string) {
	fns := make([]func(string), len(s.listeners))
	copy(fns, s.listeners)
	return fns
}
