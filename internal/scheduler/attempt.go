package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"autoposter/internal/delivery"
	"autoposter/internal/destination"
	"autoposter/internal/eventbus"
	"autoposter/internal/eventlog"
	"autoposter/pkg/logx"
)

// Outcome is published on the bus after every delivery attempt.
type Outcome struct {
	DestinationID string
	At            time.Time
	Manual        bool
	OK            bool
	Detail        string
	Fault         bool
	Took          time.Duration
}

// TestPost delivers to id right away. It works whether or not the
// scheduler is running and leaves the schedule untouched.
func (s *Scheduler) TestPost(id string) error {
	d, ok := s.store.Get(id)
	if !ok {
		return destination.ErrNotFound
	}
	if missing, ok := d.Sendable(); !ok {
		s.reportIncomplete(d, missing)
		s.refreshStatus()
		return fmt.Errorf("%w: %s", ErrIncomplete, missing)
	}

	s.mu.Lock()
	if s.inflight[id] {
		s.mu.Unlock()
		return ErrInFlight
	}
	s.inflight[id] = true
	s.sends.Add(1)
	s.mu.Unlock()

	s.events.Infof(id, "Test post to %s", Label(d))
	s.refreshStatus()
	go s.deliverManual(d, s.now())
	return nil
}

func (s *Scheduler) deliver(d destination.Destination, at time.Time) { s.attempt(d, at, false) }

func (s *Scheduler) deliverManual(d destination.Destination, at time.Time) { s.attempt(d, at, true) }

// attempt performs one send. The caller has marked d in flight and added
// to s.sends.
func (s *Scheduler) attempt(d destination.Destination, at time.Time, manual bool) {
	out := Outcome{DestinationID: d.ID, At: at, Manual: manual}
	log := s.log.With(logx.String("destination", d.ID), logx.Bool("manual", manual))

	defer func() {
		if r := recover(); r != nil {
			log.Error("send panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out.OK, out.Fault, out.Detail = false, true, fmt.Sprintf("panic: %v", r)
			s.recordFailure(d, out)
		}
		s.mu.Lock()
		delete(s.inflight, d.ID)
		s.mu.Unlock()
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryDone, Time: s.now(), Data: out})
		s.refreshStatus()
		s.sends.Done()
	}()

	timeout := s.config().SendTimeout
	ctx, cancel := context.WithTimeout(s.sendCtx, timeout)
	defer cancel()

	start := time.Now()
	res, err := s.sender.Send(ctx, delivery.Request{
		TargetRef:  d.TargetRef,
		MentionRef: d.MentionRef,
		Message:    d.Message,
	})
	out.Took = time.Since(start)

	switch {
	case err != nil:
		out.Fault, out.Detail = true, err.Error()
		log.Warn("send fault", logx.Err(err), logx.Duration("took", out.Took))
		s.recordFailure(d, out)
	case !res.OK:
		out.Detail = res.Detail
		log.Debug("send refused", logx.String("detail", res.Detail))
		s.recordFailure(d, out)
	default:
		out.OK, out.Detail = true, res.Detail
		if err := s.store.MarkSent(d.ID, at); err != nil {
			// Removed mid-send; the post still happened.
			log.Debug("sent to removed destination", logx.Err(err))
		}
		msg := "Posted to " + Label(d)
		s.events.Successf(d.ID, "%s", msg)
		s.setStatus(msg, eventlog.Success)
	}
}

func (s *Scheduler) recordFailure(d destination.Destination, out Outcome) {
	reason := out.Detail
	if reason == "" {
		reason = "unknown error"
	}
	if out.Fault {
		reason = "transport fault: " + reason
	}
	msg := "Failed to post to " + Label(d) + ": " + reason
	s.events.Errorf(d.ID, "%s", msg)
	s.setStatus(msg, eventlog.Error)
}

// Label names a destination for humans without exposing webhook secrets.
func Label(d destination.Destination) string {
	short := d.ID
	if len(short) > 8 {
		short = short[:8]
	}
	target := strings.TrimSpace(d.TargetRef)
	switch delivery.Classify(target) {
	case delivery.KindWebhook:
		return "webhook " + short
	case delivery.KindChannel:
		return "channel " + target
	case delivery.KindTelegram:
		return "telegram " + target[len(delivery.TelegramPrefix):]
	}
	if target != "" {
		return target
	}
	return "destination " + short
}
