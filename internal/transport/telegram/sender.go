package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"autoposter/internal/delivery"
)

// poster is the slice of *tele.Bot used for outbound messages.
type poster interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Target is a parsed "tg:<chat>[/<thread>]" reference.
type Target struct {
	ChatID   int64
	ThreadID int
}

// ParseTarget reads a Telegram target_ref. The prefix is case-insensitive.
func ParseTarget(ref string) (Target, error) {
	ref = strings.TrimSpace(ref)
	if len(ref) < len(delivery.TelegramPrefix) || !strings.EqualFold(ref[:len(delivery.TelegramPrefix)], delivery.TelegramPrefix) {
		return Target{}, fmt.Errorf("not a telegram target: %q", ref)
	}
	body := ref[len(delivery.TelegramPrefix):]
	chat, thread, hasThread := strings.Cut(body, "/")

	var t Target
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil || id == 0 {
		return Target{}, fmt.Errorf("invalid telegram chat id %q", chat)
	}
	t.ChatID = id
	if hasThread {
		n, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || n <= 0 {
			return Target{}, fmt.Errorf("invalid telegram thread id %q", thread)
		}
		t.ThreadID = n
	}
	return t, nil
}

// Sender posts destination messages to Telegram chats.
type Sender struct {
	api poster
}

func NewSender(b *Bot) *Sender { return &Sender{api: b.tb} }

// Content renders the HTML body: a numeric mention links to the user,
// anything else is escaped and prefixed verbatim.
func Content(mention, msg string) string {
	mention = strings.TrimSpace(mention)
	body := esc(msg)
	if mention == "" {
		return body
	}
	if id, err := strconv.ParseInt(mention, 10, 64); err == nil && id > 0 {
		return fmt.Sprintf(`<a href="tg://user?id=%d">%d</a> %s`, id, id, body)
	}
	return esc(mention) + " " + body
}

// Send implements delivery.Sender. Bot API rejections are refusals;
// anything else is a transport fault.
func (s *Sender) Send(ctx context.Context, req delivery.Request) (delivery.Result, error) {
	t, err := ParseTarget(req.TargetRef)
	if err != nil {
		return delivery.Result{Detail: err.Error()}, nil
	}

	chat := &tele.Chat{ID: t.ChatID}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.ThreadID,
	}
	for _, chunk := range splitText(Content(req.MentionRef, req.Message), textLimit) {
		if err := ctx.Err(); err != nil {
			return delivery.Result{}, err
		}
		if _, err := s.api.Send(chat, chunk, opts); err != nil {
			var apiErr *tele.Error
			if errors.As(err, &apiErr) {
				return delivery.Result{Detail: fmt.Sprintf("telegram %d: %s", apiErr.Code, apiErr.Description)}, nil
			}
			return delivery.Result{}, err
		}
	}
	return delivery.Result{OK: true, Detail: "sent"}, nil
}
