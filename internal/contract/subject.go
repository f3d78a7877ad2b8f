package contract

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// Subject is a push-based broadcast stream holding its most recent
// value. New subscribers receive the latest published value, if any,
// immediately upon subscribing, then every subsequent publication.
type Subject struct {
	key      string
	mu       sync.RWMutex
	latest   interface{}
	hasValue bool
	subs     map[int]chan interface{}
	nextID   int
	logger   *logrus.Entry
}

func newSubject(key string) *Subject {
	return &Subject{
		key:    key,
		subs:   make(map[int]chan interface{}),
		logger: utils.ComponentLogger("subject"),
	}
}

// Key returns the key this subject is addressed by
func (s *Subject) Key() string {
	return s.key
}

// Publish broadcasts a new value to all subscribers and records it as
// the subject's latest value. Slow subscribers that cannot keep up
// have the publication dropped; the latest value remains observable
// via Latest and fresh subscriptions.
func (s *Subject) Publish(value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = value
	s.hasValue = true

	for id, ch := range s.subs {
		select {
		case ch <- value:
		default:
			s.logger.Warn("Dropping publication for slow subscriber",
				"key", s.key, "subscriber", id)
		}
	}
}

// Latest returns the most recently published value, if any
func (s *Subject) Latest() (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasValue
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes its channel.
func (s *Subject) Subscribe() (<-chan interface{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan interface{}, 16)
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	// Replay the latest value so the subscriber starts current
	if s.hasValue {
		ch <- s.latest
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// SubscriberCount returns the number of active subscribers
func (s *Subject) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Directory hands out a stable Subject per key, creating subjects on
// first access
type Directory struct {
	mu       sync.RWMutex
	subjects map[string]*Subject
}

// NewDirectory creates an empty subject directory
func NewDirectory() *Directory {
	return &Directory{
		subjects: make(map[string]*Subject),
	}
}

// Subject returns the subject for key, creating it on first access.
// Repeated calls with the same key return the identical instance.
func (d *Directory) Subject(key string) *Subject {
	d.mu.RLock()
	subject, ok := d.subjects[key]
	d.mu.RUnlock()
	if ok {
		return subject
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if subject, ok := d.subjects[key]; ok {
		return subject
	}
	subject = newSubject(key)
	d.subjects[key] = subject
	return subject
}

// Keys returns the keys of all subjects created so far
func (d *Directory) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.subjects))
	for key := range d.subjects {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of subjects in the directory
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subjects)
}
