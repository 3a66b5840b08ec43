package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"autoposter/internal/delivery"
	"autoposter/internal/destination"
	"autoposter/internal/eventbus"
	"autoposter/internal/eventlog"
	"autoposter/internal/runtime/supervisor"
	"autoposter/pkg/logx"
)

var (
	ErrInFlight   = errors.New("delivery already in flight")
	ErrIncomplete = errors.New("destination is missing required fields")
)

const (
	defaultTick        = time.Second
	defaultSendTimeout = 15 * time.Second
	loopStopGrace      = 2 * time.Second
)

type Config struct {
	Tick        time.Duration
	SendTimeout time.Duration
	// StatusLines is how many recent log records Status carries.
	StatusLines int
}

func (c Config) normalized() Config {
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.StatusLines < 0 {
		c.StatusLines = 0
	}
	return c
}

type Options struct {
	Store  *destination.Store
	Sender delivery.Sender
	Events *eventlog.Log
	Bus    eventbus.Bus
	Log    logx.Logger
	Config Config

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	nextDue     time.Time
	lastAttempt time.Time
	interval    time.Duration
	sendable    bool
}

type Scheduler struct {
	store  *destination.Store
	sender delivery.Sender
	events *eventlog.Log
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	mu        sync.Mutex
	cfg       Config
	running   bool
	gen       uint64
	entries   map[string]*entry
	inflight  map[string]bool
	sup       *supervisor.Supervisor
	runDone   chan struct{}
	statusMsg string
	statusSev eventlog.Severity

	// sendCtx outlives individual runs so Stop never aborts a send.
	sendCtx    context.Context
	sendCancel context.CancelFunc
	sends      sync.WaitGroup

	nudge  chan struct{}
	status atomic.Pointer[Status]
}

func New(opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	if opts.Events == nil {
		opts.Events = eventlog.New(0)
	}
	sendCtx, sendCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:      opts.Store,
		sender:     opts.Sender,
		events:     opts.Events,
		bus:        opts.Bus,
		log:        opts.Log,
		now:        opts.Now,
		cfg:        opts.Config.normalized(),
		entries:    map[string]*entry{},
		inflight:   map[string]bool{},
		statusMsg:  "Idle",
		statusSev:  eventlog.Info,
		sendCtx:    sendCtx,
		sendCancel: sendCancel,
		nudge:      make(chan struct{}, 1),
	}
	s.refreshStatus()
	return s
}

// Configure applies new timing settings. A changed tick takes effect on
// the next loop iteration.
func (s *Scheduler) Configure(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.normalized()
	s.mu.Unlock()
	s.Nudge()
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins auto-posting. It reports false when already running.
// Every destination is due immediately. The loop runs on its own context;
// ending ctx stops the run the same way Stop does.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.gen++
	gen := s.gen
	now := s.now()
	s.entries = map[string]*entry{}
	for _, d := range s.store.List() {
		_, ok := d.Sendable()
		s.entries[d.ID] = &entry{nextDue: now, interval: d.IntervalDuration(), sendable: ok}
	}
	sup := supervisor.New(context.Background(), supervisor.WithLogger(s.log))
	s.sup = sup
	runDone := make(chan struct{})
	s.runDone = runDone
	s.setStatusLocked("Auto-posting started", eventlog.Info)
	s.mu.Unlock()

	s.events.Infof("", "Auto-posting started")
	s.log.Info("auto-posting started", logx.Int("destinations", s.store.Len()))
	s.publishState(true)

	// First tick is synchronous so Start fires everything due right away.
	s.tick(gen, now)

	sup.GoRestart("scheduler.loop", func(ctx context.Context) error {
		return s.loop(ctx, gen)
	}, supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	// Not supervised: stop waits for the supervisor.
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("start context ended; stopping auto-posting", logx.Err(ctx.Err()))
			s.stop(gen)
		case <-runDone:
		}
	}()
	return true
}

// Stop ends auto-posting. It reports false when not running. In-flight
// sends are left to finish.
func (s *Scheduler) Stop() bool { return s.stop(0) }

// stop ends run gen, or whichever run is active when gen is 0.
func (s *Scheduler) stop(gen uint64) bool {
	s.mu.Lock()
	if !s.running || (gen != 0 && s.gen != gen) {
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.gen++
	sup := s.sup
	s.sup = nil
	if s.runDone != nil {
		close(s.runDone)
		s.runDone = nil
	}
	s.setStatusLocked("Auto-posting stopped", eventlog.Info)
	s.mu.Unlock()

	if sup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), loopStopGrace)
		if err := sup.Stop(ctx); err != nil {
			s.log.Warn("scheduler loop did not stop cleanly", logx.Err(err))
		}
		cancel()
	}

	s.events.Infof("", "Auto-posting stopped")
	s.log.Info("auto-posting stopped")
	s.publishState(false)
	s.refreshStatus()
	return true
}

// Nudge asks the loop to re-evaluate now instead of at the next tick.
// While stopped it only refreshes the status snapshot.
func (s *Scheduler) Nudge() {
	if !s.Running() {
		s.refreshStatus()
		return
	}
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Drain waits for in-flight sends. Used on shutdown after Stop.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sends.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.sendCancel()
		return ctx.Err()
	}
}

func (s *Scheduler) setStatusLocked(msg string, sev eventlog.Severity) {
	s.statusMsg = msg
	s.statusSev = sev
}

func (s *Scheduler) setStatus(msg string, sev eventlog.Severity) {
	s.mu.Lock()
	s.setStatusLocked(msg, sev)
	s.mu.Unlock()
}

func (s *Scheduler) publishState(running bool) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulerState, Time: s.now(), Data: running})
}
