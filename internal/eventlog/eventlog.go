// Package eventlog keeps a bounded, append-only log of engine events and
// raises notifications for error-class entries.
package eventlog

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultCapacity = 256

type Event struct {
	Time    time.Time
	Level   logrus.Level
	Message string
}

// Log is a fixed-capacity ring buffer of events. Once full, the oldest
// entry is dropped for each new one.
type Log struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	notify   func(Event)
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// SetNotifier registers the callback invoked for warn-or-worse events.
func (l *Log) SetNotifier(fn func(Event)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

func (l *Log) Append(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, ev)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	notify := l.notify
	l.mu.Unlock()

	if notify != nil && ev.Level <= logrus.WarnLevel {
		notify(ev)
	}
}

// Events returns a copy of the current log, oldest first.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
