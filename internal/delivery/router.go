package delivery

import (
	"context"
	"strings"
	"sync"
)

// Kind is the sender family a target_ref belongs to.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindWebhook  Kind = "webhook"
	KindChannel  Kind = "channel"
	KindTelegram Kind = "telegram"
)

// TelegramPrefix marks Telegram chat targets: "tg:<chat>" or "tg:<chat>/<thread>".
const TelegramPrefix = "tg:"

// Classify decides which sender handles target.
func Classify(target string) Kind {
	t := strings.TrimSpace(target)
	switch {
	case strings.HasPrefix(t, "https://"), strings.HasPrefix(t, "http://"):
		return KindWebhook
	case strings.HasPrefix(strings.ToLower(t), TelegramPrefix):
		return KindTelegram
	case isSnowflake(t):
		return KindChannel
	default:
		return KindUnknown
	}
}

// Router dispatches by target shape. Unregistered kinds are refused, not faulted.
type Router struct {
	mu      sync.RWMutex
	senders map[Kind]Sender
}

func NewRouter() *Router {
	return &Router{senders: map[Kind]Sender{}}
}

// Handle registers s for kind. A nil s unregisters it.
func (r *Router) Handle(kind Kind, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.senders, kind)
		return
	}
	r.senders[kind] = s
}

func (r *Router) Send(ctx context.Context, req Request) (Result, error) {
	req.TargetRef = strings.TrimSpace(req.TargetRef)
	kind := Classify(req.TargetRef)

	r.mu.RLock()
	s := r.senders[kind]
	r.mu.RUnlock()

	if s == nil {
		if kind == KindUnknown {
			return refused("unsupported target"), nil
		}
		return refused("no " + string(kind) + " sender available"), nil
	}
	return s.Send(ctx, req)
}
