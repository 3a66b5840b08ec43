package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"autoposter/internal/controller"
	"autoposter/internal/destination"
	"autoposter/internal/scheduler"
	"autoposter/pkg/logx"
)

const defaultLogLines = 20

// clearValue empties an optional field in /set and /token.
const clearValue = "-"

type command struct {
	name  string
	usage string
	desc  string
	run   func(ctx context.Context, b *Bot, args string) string
}

func commandTable() []command {
	return []command{
		{name: "status", desc: "show scheduler state, next posts and recent activity", run: cmdStatus},
		{name: "start_posting", desc: "start auto-posting", run: cmdStartPosting},
		{name: "stop_posting", desc: "stop auto-posting", run: cmdStopPosting},
		{name: "toggle", desc: "start or stop auto-posting", run: cmdToggle},
		{name: "list", desc: "list destinations", run: cmdList},
		{name: "add", desc: "add a blank destination", run: cmdAdd},
		{name: "remove", usage: "<ref>", desc: "remove a destination", run: cmdRemove},
		{name: "set", usage: "<ref> <target|mention|message|interval> <value>", desc: "edit a destination field", run: cmdSet},
		{name: "token", usage: "<discord bot token|->", desc: "set the Discord bot token", run: cmdToken},
		{name: "test", usage: "<ref>", desc: "send one test post now", run: cmdTest},
		{name: "logs", usage: "[n]", desc: "show recent log entries", run: cmdLogs},
		{name: "clearlogs", desc: "clear the log", run: cmdClearLogs},
		{name: "help", desc: "show this help", run: cmdHelp},
	}
}

// parseCommand splits "/name@bot rest" into its lowercased name and the
// untouched remainder. ok is false for non-command text.
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest := cutSpace(text[1:])
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), rest, true
}

// cutSpace returns the first whitespace-delimited token and the remainder
// with leading whitespace removed. Newlines inside the remainder survive.
func cutSpace(s string) (head, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

// dispatch runs one owner command and returns the HTML reply. Non-owners
// and non-commands get an empty reply.
func (b *Bot) dispatch(ctx context.Context, fromID int64, text string) string {
	name, args, ok := parseCommand(text)
	if !ok {
		return ""
	}
	if !b.isOwner(fromID) {
		b.log.Debug("command from non-owner ignored", logx.Int64("from_id", fromID), logx.String("cmd", name))
		return ""
	}
	if name == "start" {
		name = "help"
	}
	for _, c := range b.cmds {
		if c.name == name {
			b.log.Debug("command", logx.String("cmd", name), logx.Int64("from_id", fromID))
			return c.run(ctx, b, args)
		}
	}
	return fmt.Sprintf("Unknown command %s. Try /help.", code("/"+name))
}

func cmdHelp(_ context.Context, b *Bot, _ string) string {
	return formatHelp(b.cmds)
}

func cmdStatus(_ context.Context, b *Bot, _ string) string {
	return formatStatus(b.ctl.Status(), b.now())
}

func cmdStartPosting(ctx context.Context, b *Bot, _ string) string {
	if !b.ctl.StartAutoPosting(ctx) {
		return "Auto-posting is already running."
	}
	return "Auto-posting started."
}

func cmdStopPosting(_ context.Context, b *Bot, _ string) string {
	if !b.ctl.StopAutoPosting() {
		return "Auto-posting is not running."
	}
	return "Auto-posting stopped."
}

func cmdToggle(ctx context.Context, b *Bot, _ string) string {
	if b.ctl.Toggle(ctx) {
		return "Auto-posting started."
	}
	return "Auto-posting stopped."
}

func cmdList(_ context.Context, b *Bot, _ string) string {
	return formatList(b.ctl.Destinations())
}

func cmdAdd(ctx context.Context, b *Bot, _ string) string {
	id := b.ctl.AddDestination(ctx)
	return fmt.Sprintf("Added destination #%d %s. Fill it in with /set.", len(b.ctl.Destinations()), code(id))
}

func cmdRemove(ctx context.Context, b *Bot, args string) string {
	ref, _ := cutSpace(args)
	id, errText := b.resolve(ref)
	if errText != "" {
		return errText
	}
	if err := b.ctl.RemoveDestination(ctx, id); err != nil {
		return esc(err.Error())
	}
	return fmt.Sprintf("Removed %s.", code(id))
}

func cmdSet(ctx context.Context, b *Bot, args string) string {
	ref, rest := cutSpace(args)
	field, value := cutSpace(rest)
	if ref == "" || field == "" {
		return "Usage: " + code("/set <ref> <target|mention|message|interval> <value>")
	}
	id, errText := b.resolve(ref)
	if errText != "" {
		return errText
	}

	value = strings.TrimSpace(value)
	if value == clearValue {
		value = ""
	}
	var e controller.Edit
	switch strings.ToLower(field) {
	case "target":
		e.TargetRef = &value
	case "mention":
		e.MentionRef = &value
	case "message":
		e.Message = &value
	case "interval":
		e.Interval = &value
	default:
		return fmt.Sprintf("Unknown field %s. Use target, mention, message or interval.", code(field))
	}

	d, err := b.ctl.SaveDestination(ctx, id, e)
	if err != nil {
		return esc(err.Error())
	}
	return fmt.Sprintf("Saved %s · every %s.", esc(scheduler.Label(d)), destination.FormatInterval(d.Interval))
}

func cmdToken(ctx context.Context, b *Bot, args string) string {
	token := strings.TrimSpace(args)
	if token == "" {
		return "Usage: " + code("/token <discord bot token|->")
	}
	if token == clearValue {
		token = ""
	}
	b.ctl.SetCredential(ctx, token)
	if token == "" {
		return "Bot token cleared."
	}
	return "Bot token updated. Delete your message to keep it private."
}

func cmdTest(_ context.Context, b *Bot, args string) string {
	ref, _ := cutSpace(args)
	id, errText := b.resolve(ref)
	if errText != "" {
		return errText
	}
	switch err := b.ctl.TestPost(id); {
	case err == nil:
		return fmt.Sprintf("Test post to %s queued. Check /logs for the result.", code(id))
	case errors.Is(err, scheduler.ErrInFlight):
		return "A post to that destination is already in flight."
	default:
		return esc(err.Error())
	}
}

func cmdLogs(_ context.Context, b *Bot, args string) string {
	n := defaultLogLines
	if raw, _ := cutSpace(args); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return "Usage: " + code("/logs [n]")
		}
		n = v
	}
	return formatLogs(b.ctl.Logs(n))
}

func cmdClearLogs(_ context.Context, b *Bot, _ string) string {
	b.ctl.ClearLogs()
	return "Logs cleared."
}

// resolve returns the destination id for ref or a user-facing error text.
func (b *Bot) resolve(ref string) (string, string) {
	if ref == "" {
		return "", "Give a destination number, id or id prefix. See /list."
	}
	id, err := b.ctl.Resolve(ref)
	switch {
	case err == nil:
		return id, ""
	case errors.Is(err, controller.ErrAmbiguous):
		return "", fmt.Sprintf("%s matches more than one destination.", code(ref))
	default:
		return "", fmt.Sprintf("No destination %s. See /list.", code(ref))
	}
}
