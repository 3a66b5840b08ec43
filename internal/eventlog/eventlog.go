// Package eventlog is the append-only record of delivery outcomes and
// operator actions.
package eventlog

import (
	"fmt"
	"sync"
	"time"
)

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Record is immutable once appended.
type Record struct {
	Time          time.Time `json:"time"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	DestinationID string    `json:"destination_id,omitempty"`
}

// String renders "[2006-01-02 15:04:05] message".
func (r Record) String() string {
	return fmt.Sprintf("[%s] %s", r.Time.Format(time.DateTime), r.Message)
}

// Sink observes every appended record, in append order. It must not
// block or call back into the Log.
type Sink func(Record)

// Log is a thread-safe, optionally bounded record list.
type Log struct {
	// sinkMu serializes Append so the sink sees the same order as Recent.
	sinkMu sync.Mutex

	mu sync.RWMutex
	// records[head:] are live; the dropped prefix is compacted lazily.
	records  []Record
	head     int
	capacity int // 0 = unbounded
	sink     Sink
	now      func() time.Time
}

func New(capacity int) *Log {
	if capacity < 0 {
		capacity = 0
	}
	return &Log{capacity: capacity, now: time.Now}
}

func (l *Log) SetSink(fn Sink) {
	l.mu.Lock()
	l.sink = fn
	l.mu.Unlock()
}

// SetCapacity changes the bound. Shrinking drops the oldest records.
func (l *Log) SetCapacity(n int) {
	if n < 0 {
		n = 0
	}
	l.mu.Lock()
	l.capacity = n
	l.trimLocked()
	l.mu.Unlock()
}

// Append stamps r with the current time when unset and stores it.
func (l *Log) Append(r Record) Record {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()

	l.mu.Lock()
	if r.Time.IsZero() {
		r.Time = l.now()
	}
	if r.Severity == "" {
		r.Severity = Info
	}
	l.records = append(l.records, r)
	l.trimLocked()
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		sink(r)
	}
	return r
}

func (l *Log) Infof(destID, format string, args ...any) Record {
	return l.Append(Record{Severity: Info, DestinationID: destID, Message: fmt.Sprintf(format, args...)})
}

func (l *Log) Successf(destID, format string, args ...any) Record {
	return l.Append(Record{Severity: Success, DestinationID: destID, Message: fmt.Sprintf(format, args...)})
}

func (l *Log) Warnf(destID, format string, args ...any) Record {
	return l.Append(Record{Severity: Warning, DestinationID: destID, Message: fmt.Sprintf(format, args...)})
}

func (l *Log) Errorf(destID, format string, args ...any) Record {
	return l.Append(Record{Severity: Error, DestinationID: destID, Message: fmt.Sprintf(format, args...)})
}

// Recent returns up to n records, oldest first. n <= 0 returns everything.
func (l *Log) Recent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	live := l.records[l.head:]
	if n > 0 && n < len(live) {
		live = live[len(live)-n:]
	}
	return append([]Record(nil), live...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records) - l.head
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.records = nil
	l.head = 0
	l.mu.Unlock()
}

// trimLocked drops the oldest records past capacity. The backing slice is
// copied only once the dropped prefix reaches half of it.
func (l *Log) trimLocked() {
	if n := len(l.records) - l.head; l.capacity > 0 && n > l.capacity {
		l.head += n - l.capacity
	}
	if l.head == 0 || l.head < len(l.records)/2 {
		return
	}
	l.records = append(make([]Record, 0, 2*(len(l.records)-l.head)+1), l.records[l.head:]...)
	l.head = 0
}
