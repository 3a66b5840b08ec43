package scheduler

import (
	"time"

	"autoposter/internal/eventlog"
)

// Status is an immutable snapshot for the presentation layer.
type Status struct {
	Running  bool
	Message  string
	Severity eventlog.Severity
	// NextDue is the earliest due time across destinations; zero when stopped.
	NextDue   time.Time
	Entries   []EntryStatus
	Recent    []eventlog.Record
	UpdatedAt time.Time
}

type EntryStatus struct {
	ID        string
	Position  int // 1-based, store order
	Label     string
	TargetRef string
	Interval  time.Duration
	NextDue   time.Time // zero when stopped
	LastSent  time.Time
	InFlight  bool
}

// Until returns the time left before NextDue, never negative.
func (st *Status) Until(now time.Time) time.Duration {
	if st.NextDue.IsZero() || !st.NextDue.After(now) {
		return 0
	}
	return st.NextDue.Sub(now)
}

// Status returns the latest snapshot without blocking on the tick loop.
func (s *Scheduler) Status() *Status {
	if st := s.status.Load(); st != nil {
		return st
	}
	return s.refreshStatus()
}

// RefreshStatus rebuilds the snapshot now.
func (s *Scheduler) RefreshStatus() *Status { return s.refreshStatus() }

func (s *Scheduler) refreshStatus() *Status {
	list := s.store.List()
	now := s.now()

	s.mu.Lock()
	st := &Status{
		Running:   s.running,
		Message:   s.statusMsg,
		Severity:  s.statusSev,
		Entries:   make([]EntryStatus, 0, len(list)),
		UpdatedAt: now,
	}
	lines := s.cfg.StatusLines
	for i, d := range list {
		es := EntryStatus{
			ID:        d.ID,
			Position:  i + 1,
			Label:     Label(d),
			TargetRef: d.TargetRef,
			Interval:  d.IntervalDuration(),
			LastSent:  d.LastSentAt,
			InFlight:  s.inflight[d.ID],
		}
		if e := s.entries[d.ID]; s.running && e != nil {
			es.NextDue = e.nextDue
			if st.NextDue.IsZero() || e.nextDue.Before(st.NextDue) {
				st.NextDue = e.nextDue
			}
		}
		st.Entries = append(st.Entries, es)
	}
	s.mu.Unlock()

	if lines > 0 {
		st.Recent = s.events.Recent(lines)
	}
	s.status.Store(st)
	return st
}
