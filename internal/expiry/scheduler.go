// Package expiry schedules per-key deadlines on a min-heap driven by a single
// clock timer. Re-arming a key replaces its deadline.
package expiry

import (
	"container/heap"
	"sync"
	"time"

	"chat-core/internal/clock"
)

type entry struct {
	key   string
	at    time.Time
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type Scheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	entries  entryHeap
	byKey    map[string]*entry
	timer    clock.Timer
	timerAt  time.Time
	onExpire func(key string)
}

// New returns a scheduler that calls onExpire, outside its lock, for each key
// whose deadline passes.
func New(c clock.Clock, onExpire func(key string)) *Scheduler {
	return &Scheduler{
		clock:    c,
		byKey:    make(map[string]*entry),
		onExpire: onExpire,
	}
}

// Arm sets key to expire after d, replacing any earlier deadline for key.
func (s *Scheduler) Arm(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.clock.Now().Add(d)
	if e, ok := s.byKey[key]; ok {
		e.at = at
		heap.Fix(&s.entries, e.index)
	} else {
		e := &entry{key: key, at: at}
		heap.Push(&s.entries, e)
		s.byKey[key] = e
	}
	s.rearmLocked()
}

// Cancel drops key. It reports whether key was armed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.entries, e.index)
	delete(s.byKey, key)
	s.rearmLocked()
	return true
}

func (s *Scheduler) Deadline(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset drops every key without firing.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byKey = make(map[string]*entry)
	s.rearmLocked()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	now := s.clock.Now()
	var due []string
	for len(s.entries) > 0 && !s.entries[0].at.After(now) {
		e := heap.Pop(&s.entries).(*entry)
		delete(s.byKey, e.key)
		due = append(due, e.key)
	}
	s.timer = nil
	s.rearmLocked()
	s.mu.Unlock()

	for _, key := range due {
		s.onExpire(key)
	}
}

func (s *Scheduler) rearmLocked() {
	if len(s.entries) == 0 {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		return
	}
	earliest := s.entries[0].at
	if s.timer != nil && s.timerAt.Equal(earliest) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerAt = earliest
	s.timer = s.clock.AfterFunc(earliest.Sub(s.clock.Now()), s.fire)
}
