package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autoposter/pkg/logx"
)

const autosaveTimeout = 10 * time.Second

// autosaver periodically persists destinations on a cron spec. Edits are
// saved immediately anyway; this covers last_sent_at updates, which are
// not persisted per send.
type autosaver struct {
	parser cron.Parser
	save   func(ctx context.Context) error
	log    logx.Logger

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	id   cron.EntryID
}

func newAutosaver(save func(ctx context.Context) error, log logx.Logger) *autosaver {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &autosaver{
		parser: p,
		save:   save,
		log:    log,
		c:      cron.New(cron.WithParser(p), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (a *autosaver) validate(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := a.parser.Parse(spec); err != nil {
		return fmt.Errorf("storage.autosave: invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Apply replaces the schedule. An empty spec disables autosave.
func (a *autosaver) Apply(spec string) error {
	if err := a.validate(spec); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if spec == a.spec && (spec == "" || a.id != 0) {
		return nil
	}
	if a.id != 0 {
		a.c.Remove(a.id)
		a.id = 0
	}
	a.spec = spec
	if spec == "" {
		a.log.Debug("autosave disabled")
		return nil
	}
	id, err := a.c.AddFunc(spec, a.run)
	if err != nil {
		return err
	}
	a.id = id
	a.log.Info("autosave scheduled", logx.String("spec", spec))
	return nil
}

func (a *autosaver) run() {
	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()
	start := time.Now()
	if err := a.save(ctx); err != nil {
		a.log.Warn("autosave failed", logx.Err(err))
		return
	}
	a.log.Debug("autosaved", logx.Duration("took", time.Since(start)))
}

func (a *autosaver) Start() { a.c.Start() }

// Stop halts the schedule and waits for a running save or ctx.
func (a *autosaver) Stop(ctx context.Context) error {
	done := a.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
