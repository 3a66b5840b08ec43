// Package telegram is the operator surface: an owner-only command bot and
// a delivery sender for "tg:" targets.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"autoposter/internal/controller"
	"autoposter/internal/destination"
	"autoposter/internal/eventbus"
	"autoposter/internal/eventlog"
	"autoposter/internal/runtime/supervisor"
	"autoposter/internal/scheduler"
	"autoposter/pkg/logx"
)

// Controller is what the bot drives. *controller.Controller satisfies it.
type Controller interface {
	StartAutoPosting(ctx context.Context) bool
	StopAutoPosting() bool
	Toggle(ctx context.Context) bool
	TestPost(id string) error
	AddDestination(ctx context.Context) string
	RemoveDestination(ctx context.Context, id string) error
	SaveDestination(ctx context.Context, id string, e controller.Edit) (destination.Destination, error)
	SetCredential(ctx context.Context, token string)
	Status() *scheduler.Status
	Destinations() []destination.Destination
	Logs(n int) []eventlog.Record
	ClearLogs()
	Resolve(ref string) (string, error)
}

type Options struct {
	Token        string
	PollTimeout  time.Duration
	Owners       []int64
	NotifyErrors bool
	Controller   Controller
	Bus          eventbus.Bus
	Log          logx.Logger
}

type Bot struct {
	tb   *tele.Bot
	ctl  Controller
	bus  eventbus.Bus
	log  logx.Logger
	cmds []command
	now  func() time.Time

	mu           sync.RWMutex
	owners       map[int64]struct{}
	notifyErrors bool

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

// New validates the token against the Bot API (getMe) and registers the
// command handlers. Polling starts with Start.
func New(opts Options) (*Bot, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	b := newBot(opts)
	b.tb = tb
	tb.Handle(tele.OnText, b.onText)
	return b, nil
}

func newBot(opts Options) *Bot {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	b := &Bot{
		ctl:  opts.Controller,
		bus:  bus,
		log:  log,
		cmds: commandTable(),
		now:  time.Now,
	}
	b.SetOwners(opts.Owners)
	b.SetNotifyErrors(opts.NotifyErrors)
	return b
}

// SetOwners replaces the allow-list. An empty list locks every command.
func (b *Bot) SetOwners(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id > 0 {
			m[id] = struct{}{}
		}
	}
	b.mu.Lock()
	b.owners = m
	b.mu.Unlock()
	if len(m) == 0 {
		b.log.Warn("no owner_user_ids configured; bot commands are disabled")
	}
}

func (b *Bot) SetNotifyErrors(on bool) {
	b.mu.Lock()
	b.notifyErrors = on
	b.mu.Unlock()
}

func (b *Bot) isOwner(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.owners[id]
	return ok
}

func (b *Bot) ownerIDs() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int64, 0, len(b.owners))
	for id := range b.owners {
		out = append(out, id)
	}
	return out
}

func (b *Bot) ctx() context.Context {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup != nil {
		return b.sup.Context()
	}
	return context.Background()
}

func (b *Bot) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	reply := b.dispatch(b.ctx(), m.Sender.ID, m.Text)
	if reply == "" {
		return nil
	}
	return b.send(Target{ChatID: m.Chat.ID, ThreadID: m.ThreadID}, reply)
}

func (b *Bot) send(to Target, text string) error {
	chat := &tele.Chat{ID: to.ChatID}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              to.ThreadID,
	}
	for _, chunk := range splitText(text, textLimit) {
		if _, err := b.tb.Send(chat, chunk, opts); err != nil {
			b.log.Warn("telegram reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			return err
		}
	}
	return nil
}

// Start begins long polling. The poll loop is restarted if telebot exits
// while the bot is still meant to run.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	if b.running {
		b.runMu.Unlock()
		return nil
	}
	b.running = true
	b.sup = supervisor.New(ctx,
		supervisor.WithLogger(b.log.With(logx.String("comp", "telegram.bot"))),
		supervisor.WithCancelOnError(false),
	)
	sup := b.sup
	b.runMu.Unlock()

	b.publishCommands()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.tb.Stop()
	})
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		b.log.Info("polling started")
		b.tb.Start()
		b.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithStopOnCleanExit(false),
	)
	sup.Go0("telegram.notify", b.notifyLoop)
	return nil
}

// Stop never blocks shutdown for long on a pending getUpdates call.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	wasRunning := b.running
	b.running = false
	b.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	b.log.Info("stopping")
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		b.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

func (b *Bot) publishCommands() {
	list := make([]tele.Command, 0, len(b.cmds))
	for _, c := range b.cmds {
		list = append(list, tele.Command{Text: c.name, Description: c.desc})
	}
	if err := b.tb.SetCommands(list); err != nil {
		b.log.Warn("set bot commands failed", logx.Err(err))
		return
	}
	b.log.Debug("bot commands published", logx.Int("count", len(list)))
}

// notifyLoop forwards error records to the owners when enabled.
func (b *Bot) notifyLoop(ctx context.Context) {
	ch, unsub := b.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeLogAppended {
				continue
			}
			r, ok := ev.Data.(eventlog.Record)
			if !ok || r.Severity != eventlog.Error {
				continue
			}
			b.mu.RLock()
			on := b.notifyErrors
			b.mu.RUnlock()
			if !on {
				continue
			}
			text := marker(r.Severity) + " " + esc(r.String())
			for _, id := range b.ownerIDs() {
				_ = b.send(Target{ChatID: id}, text)
			}
		}
	}
}
