// Package controller is the entry point the presentation layer drives.
// It coerces operator input and delegates; it holds no scheduling logic.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/internal/scheduler"
	"autoposter/pkg/logx"
)

var ErrAmbiguous = errors.New("reference matches more than one destination")

const (
	persistTimeout = 5 * time.Second
	minPrefixLen   = 4
)

// Persister saves the destination document.
type Persister interface {
	Save(ctx context.Context, doc destination.Document) error
}

// Edit is an operator edit of one destination. Nil fields stay unchanged.
// Interval is raw text and is coerced, never rejected.
type Edit struct {
	TargetRef  *string
	MentionRef *string
	Message    *string
	Interval   *string
}

type Options struct {
	Store     *destination.Store
	Scheduler *scheduler.Scheduler
	Events    *eventlog.Log
	Persister Persister
	Log       logx.Logger
}

type Controller struct {
	store  *destination.Store
	sched  *scheduler.Scheduler
	events *eventlog.Log
	saver  Persister
	log    logx.Logger
}

func New(opts Options) *Controller {
	return &Controller{
		store:  opts.Store,
		sched:  opts.Scheduler,
		events: opts.Events,
		saver:  opts.Persister,
		log:    opts.Log,
	}
}

// StartAutoPosting reports whether the scheduler was started by this call.
func (c *Controller) StartAutoPosting(ctx context.Context) bool {
	return c.sched.Start(ctx)
}

func (c *Controller) StopAutoPosting() bool {
	return c.sched.Stop()
}

// Toggle flips the running state and returns the new one.
func (c *Controller) Toggle(ctx context.Context) bool {
	if c.sched.Running() {
		c.sched.Stop()
		return false
	}
	c.sched.Start(ctx)
	return true
}

func (c *Controller) Running() bool { return c.sched.Running() }

func (c *Controller) TestPost(id string) error {
	return c.sched.TestPost(id)
}

func (c *Controller) AddDestination(ctx context.Context) string {
	id := c.store.Add()
	c.events.Infof(id, "Added destination #%d", c.store.Len())
	c.changed(ctx)
	return id
}

func (c *Controller) RemoveDestination(ctx context.Context, id string) error {
	d, ok := c.store.Get(id)
	if !ok || !c.store.Remove(id) {
		return destination.ErrNotFound
	}
	c.events.Infof(id, "Removed %s", scheduler.Label(d))
	c.changed(ctx)
	return nil
}

// SaveDestination applies e to id. Text fields are trimmed; the interval is
// parsed leniently and falls back to the default.
func (c *Controller) SaveDestination(ctx context.Context, id string, e Edit) (destination.Destination, error) {
	var p destination.Patch
	if e.TargetRef != nil {
		v := strings.TrimSpace(*e.TargetRef)
		p.TargetRef = &v
	}
	if e.MentionRef != nil {
		v := strings.TrimSpace(*e.MentionRef)
		p.MentionRef = &v
	}
	if e.Message != nil {
		v := strings.TrimSpace(*e.Message)
		p.Message = &v
	}
	if e.Interval != nil {
		v := destination.ParseInterval(*e.Interval)
		p.Interval = &v
	}
	if err := c.store.Update(id, p); err != nil {
		return destination.Destination{}, err
	}
	d, _ := c.store.Get(id)
	c.events.Infof(id, "Saved %s (every %s)", scheduler.Label(d), destination.FormatInterval(d.Interval))
	c.changed(ctx)
	return d, nil
}

// SetCredential stores the Discord bot token used for channel targets.
func (c *Controller) SetCredential(ctx context.Context, token string) {
	c.store.SetCredential(token)
	c.events.Infof("", "Bot token updated")
	c.persist(ctx)
}

func (c *Controller) Status() *scheduler.Status { return c.sched.Status() }

func (c *Controller) Destinations() []destination.Destination { return c.store.List() }

func (c *Controller) Logs(n int) []eventlog.Record { return c.events.Recent(n) }

func (c *Controller) ClearLogs() {
	c.events.Clear()
	c.events.Infof("", "Logs cleared")
	c.sched.RefreshStatus()
}

// Resolve maps an operator reference to a destination id. It accepts a
// full id, a 1-based list position, or a unique id prefix of at least
// four characters.
func (c *Controller) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", destination.ErrNotFound
	}
	list := c.store.List()
	for _, d := range list {
		if d.ID == ref {
			return d.ID, nil
		}
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(list) {
			return list[n-1].ID, nil
		}
	}
	if len(ref) < minPrefixLen {
		return "", destination.ErrNotFound
	}
	match := ""
	for _, d := range list {
		if strings.HasPrefix(d.ID, ref) {
			if match != "" {
				return "", ErrAmbiguous
			}
			match = d.ID
		}
	}
	if match == "" {
		return "", destination.ErrNotFound
	}
	return match, nil
}

// Persist saves the current store. It is a no-op without a persister.
func (c *Controller) Persist(ctx context.Context) error {
	if c.saver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := c.saver.Save(ctx, c.store.Document()); err != nil {
		return fmt.Errorf("persist destinations: %w", err)
	}
	return nil
}

func (c *Controller) changed(ctx context.Context) {
	c.sched.Nudge()
	c.persist(ctx)
}

func (c *Controller) persist(ctx context.Context) {
	if err := c.Persist(ctx); err != nil {
		c.log.Warn("save failed", logx.Err(err))
		c.events.Warnf("", "Could not save settings: %v", err)
	}
}
