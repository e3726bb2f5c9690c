package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Appender persists events as they are appended. The JSONL Store satisfies
// this; tests use an in-memory one.
type Appender interface {
	Append(ev Event) error
}

// Subscription delivers a run's events in order to one observer. Freshness
// tracking is per subscription, so multiple observers of the same run never
// corrupt each other's view.
type Subscription struct {
	C chan Event

	mu     sync.Mutex
	lastAt time.Time
}

// LastEventAt returns when this subscriber last received an event.
func (s *Subscription) LastEventAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAt
}

func (s *Subscription) deliver(ev Event) {
	select {
	case s.C <- ev:
		s.mu.Lock()
		s.lastAt = ev.Timestamp
		s.mu.Unlock()
	default:
		// Slow observers drop events; the log itself stays complete.
	}
}

// Log assigns sequence numbers and fans events out. Append is the only
// primitive; the sequence counter is guarded by a single mutex so numbers
// are gapless and strictly increasing per run even under concurrent
// appends.
type Log struct {
	runID string

	mu       sync.Mutex
	seq      uint64
	events   []Event
	appender Appender
	subs     map[*Subscription]struct{}
}

// New creates a log for one run. appender may be nil for purely in-memory
// use.
func New(runID string, appender Appender) *Log {
	return &Log{
		runID:    runID,
		appender: appender,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Restore seeds the log with previously persisted events, continuing the
// sequence from the highest seq seen. Returns an error when the persisted
// record has a gap; the caller surfaces it as a reliability event rather
// than skipping.
func (l *Log) Restore(events []Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := VerifyGapless(events); err != nil {
		return err
	}
	l.events = append(l.events, events...)
	if n := len(events); n > 0 {
		l.seq = events[n-1].Seq
	}
	return nil
}

// Append records a new event, assigns the next sequence number and fans it
// out to subscribers. Persistence failures are returned but the in-memory
// log keeps the event: the sequence must never gap.
func (l *Log) Append(evType, taskID string, payload map[string]any) (Event, error) {
	l.mu.Lock()
	l.seq++
	ev := Event{
		ID:        uuid.NewString(),
		RunID:     l.runID,
		Seq:       l.seq,
		Timestamp: time.Now().UTC(),
		Type:      evType,
		TaskID:    taskID,
		Payload:   payload,
	}
	l.events = append(l.events, ev)
	subs := make([]*Subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	appender := l.appender
	l.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}

	if appender != nil {
		if err := appender.Append(ev); err != nil {
			return ev, fmt.Errorf("persisting event seq %d: %w", ev.Seq, err)
		}
	}
	return ev, nil
}

// Seq returns the sequence number of the last appended event.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Events returns a copy of all events appended so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Since returns a copy of events with Seq > after.
func (l *Log) Since(after uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers an observer with the given channel buffer.
func (l *Log) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 64
	}
	sub := &Subscription{C: make(chan Event, buffer)}
	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()
	return sub
}

// Unsubscribe removes the observer and closes its channel.
func (l *Log) Unsubscribe(sub *Subscription) {
	l.mu.Lock()
	_, ok := l.subs[sub]
	delete(l.subs, sub)
	l.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

// GapError reports a hole in a run's event sequence.
type GapError struct {
	RunID    string
	Expected uint64
	Got      uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("event log gap in run %s: expected seq %d, got %d", e.RunID, e.Expected, e.Got)
}

// VerifyGapless checks that events carry strictly increasing, gapless
// sequence numbers starting at 1.
func VerifyGapless(events []Event) error {
	var expected uint64 = 1
	for _, ev := range events {
		if ev.Seq != expected {
			return &GapError{RunID: ev.RunID, Expected: expected, Got: ev.Seq}
		}
		expected++
	}
	return nil
}
