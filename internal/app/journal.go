package app

import (
	"context"
	"time"

	"autoposter/internal/eventbus"
	"autoposter/internal/eventlog"
	"autoposter/internal/storage"
	"autoposter/pkg/logx"
)

const (
	journalWriteTimeout = 2 * time.Second
	defaultReplay       = 200
)

// recordSink mirrors every appended record onto the bus and the process log.
func recordSink(bus eventbus.Bus, log logx.Logger) eventlog.Sink {
	return func(r eventlog.Record) {
		bus.Publish(eventbus.Event{Type: eventbus.TypeLogAppended, Time: r.Time, Data: r})

		fields := []logx.Field{logx.String("event", r.Message)}
		if r.DestinationID != "" {
			fields = append(fields, logx.String("destination", r.DestinationID))
		}
		switch r.Severity {
		case eventlog.Error:
			log.Error("event log", fields...)
		case eventlog.Warning:
			log.Warn("event log", fields...)
		default:
			log.Debug("event log", fields...)
		}
	}
}

// replayJournal loads the tail of the persisted journal into events.
// It must run before the sink is installed so nothing is journaled twice.
func replayJournal(ctx context.Context, st storage.Store, events *eventlog.Log, n int, log logx.Logger) {
	if n <= 0 {
		n = defaultReplay
	}
	recs, err := st.RecentEvents(ctx, n)
	if err != nil {
		log.Warn("event journal replay failed", logx.Err(err))
		return
	}
	for _, r := range recs {
		events.Append(r)
	}
	if len(recs) > 0 {
		log.Info("event journal replayed", logx.Int("records", len(recs)))
	}
}

// runJournal persists log.appended events from ch until ctx ends, then
// drains whatever is already buffered.
func runJournal(ctx context.Context, ch <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	failing := false
	write := func(ev eventbus.Event) {
		if ev.Type != eventbus.TypeLogAppended {
			return
		}
		r, ok := ev.Data.(eventlog.Record)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		err := st.AppendEvent(wctx, r)
		cancel()
		switch {
		case err != nil && !failing:
			failing = true
			log.Warn("event journal write failed", logx.Err(err))
		case err == nil && failing:
			failing = false
			log.Info("event journal writes recovered")
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					write(ev)
				default:
					return
				}
			}
		}
	}
}
