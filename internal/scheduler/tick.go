package scheduler

import (
	"context"
	"time"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/pkg/logx"
)

// loop ticks until ctx ends. gen pins the loop to the run that started it;
// a stale loop from an earlier run never dispatches.
func (s *Scheduler) loop(ctx context.Context, gen uint64) error {
	tick := s.config().Tick
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-s.nudge:
		}
		if !s.tick(gen, s.now()) {
			return nil
		}
		if cur := s.config().Tick; cur != tick {
			tick = cur
			t.Reset(tick)
		}
	}
}

type skip struct {
	d       destination.Destination
	missing string
}

// tick runs one due-check at now. It reports false when run gen is over.
func (s *Scheduler) tick(gen uint64, now time.Time) bool {
	list := s.store.List()

	s.mu.Lock()
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.reconcileLocked(list, now)

	var (
		dispatch   []destination.Destination
		busy       []destination.Destination
		incomplete []skip
	)
	for _, d := range list {
		e := s.entries[d.ID]
		if e == nil || now.Before(e.nextDue) {
			continue
		}
		e.lastAttempt = now
		e.nextDue = now.Add(e.interval)

		if s.inflight[d.ID] {
			busy = append(busy, d)
			continue
		}
		if missing, ok := d.Sendable(); !ok {
			incomplete = append(incomplete, skip{d: d, missing: missing})
			continue
		}
		s.inflight[d.ID] = true
		s.sends.Add(1)
		dispatch = append(dispatch, d)
	}
	s.mu.Unlock()

	if s.log.Enabled(logx.LevelTrace) {
		s.log.Trace("tick",
			logx.Int("dispatched", len(dispatch)),
			logx.Int("busy", len(busy)),
			logx.Int("incomplete", len(incomplete)),
		)
	}
	for _, sk := range incomplete {
		s.reportIncomplete(sk.d, sk.missing)
	}
	for _, d := range busy {
		s.events.Warnf(d.ID, "Skipped %s: previous delivery still in flight", Label(d))
	}
	for _, d := range dispatch {
		go s.deliver(d, now)
	}
	s.refreshStatus()
	return true
}

// reconcileLocked brings entries in line with the store: new destinations
// are due now, removed ones are dropped, an edited interval is re-based on
// the last attempt. A destination that just became sendable is due now.
func (s *Scheduler) reconcileLocked(list []destination.Destination, now time.Time) {
	seen := make(map[string]struct{}, len(list))
	for _, d := range list {
		seen[d.ID] = struct{}{}
		iv := d.IntervalDuration()
		_, sendable := d.Sendable()

		e := s.entries[d.ID]
		if e == nil {
			s.entries[d.ID] = &entry{nextDue: now, interval: iv, sendable: sendable}
			continue
		}
		if e.interval != iv {
			e.interval = iv
			if !e.lastAttempt.IsZero() {
				e.nextDue = e.lastAttempt.Add(iv)
			}
		}
		if sendable && !e.sendable {
			e.nextDue = now
		}
		e.sendable = sendable
	}
	for id := range s.entries {
		if _, ok := seen[id]; !ok {
			delete(s.entries, id)
		}
	}
}

func (s *Scheduler) reportIncomplete(d destination.Destination, missing string) {
	msg := "Cannot post to " + Label(d) + ": missing " + missing
	s.events.Errorf(d.ID, "%s", msg)
	s.setStatus(msg, eventlog.Error)
}
