package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoposter/pkg/logx"
)

const maxErrorBody = 4 << 10

// Discord posts to Discord, either through a webhook URL or through the
// bot API for a channel id.
type Discord struct {
	mu      sync.RWMutex
	client  *http.Client
	apiBase string

	// credential is read per send so token edits apply immediately.
	credential func() string
	log        logx.Logger
}

type DiscordOptions struct {
	APIBase     string
	HTTPTimeout time.Duration
	Credential  func() string
	Log         logx.Logger
}

func NewDiscord(opts DiscordOptions) *Discord {
	d := &Discord{credential: opts.Credential, log: opts.Log}
	d.Configure(opts.APIBase, opts.HTTPTimeout)
	if d.credential == nil {
		d.credential = func() string { return "" }
	}
	return d
}

// Configure swaps the REST base and client timeout at runtime.
func (d *Discord) Configure(apiBase string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	d.mu.Lock()
	d.apiBase = strings.TrimRight(apiBase, "/")
	d.client = &http.Client{Timeout: timeout}
	d.mu.Unlock()
}

func (d *Discord) snapshot() (*http.Client, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client, d.apiBase
}

// Webhook returns a Sender for webhook URL targets.
func (d *Discord) Webhook() Sender { return SenderFunc(d.sendWebhook) }

// Channel returns a Sender for numeric channel id targets.
func (d *Discord) Channel() Sender { return SenderFunc(d.sendChannel) }

func (d *Discord) sendWebhook(ctx context.Context, req Request) (Result, error) {
	client, _ := d.snapshot()
	return d.post(ctx, client, req.TargetRef, "", req)
}

func (d *Discord) sendChannel(ctx context.Context, req Request) (Result, error) {
	token := strings.TrimSpace(d.credential())
	if token == "" {
		return refused("no bot token configured"), nil
	}
	client, base := d.snapshot()
	url := base + "/channels/" + req.TargetRef + "/messages"
	return d.post(ctx, client, url, "Bot "+token, req)
}

func (d *Discord) post(ctx context.Context, client *http.Client, url, auth string, req Request) (Result, error) {
	b, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: Content(req.MentionRef, req.Message)})
	if err != nil {
		return Result{}, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("User-Agent", "autoposter/1.0")
	if auth != "" {
		hreq.Header.Set("Authorization", auth)
	}

	resp, err := client.Do(hreq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return ok(fmt.Sprintf("http %d", resp.StatusCode)), nil
	}

	detail := describeFailure(resp)
	d.log.Debug("discord refused message", logx.Int("status", resp.StatusCode), logx.String("detail", detail))
	return refused(detail), nil
}

// describeFailure turns a non-2xx Discord response into a short reason.
func describeFailure(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var out struct {
		Message    string  `json:"message"`
		Code       int     `json:"code"`
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		out.Message = strings.TrimSpace(string(body))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retry := out.RetryAfter
		if retry == 0 {
			retry, _ = strconv.ParseFloat(resp.Header.Get("Retry-After"), 64)
		}
		return fmt.Sprintf("rate limited (http 429, retry after %.1fs)", retry)
	}
	if out.Message == "" {
		return fmt.Sprintf("http %d", resp.StatusCode)
	}
	if len(out.Message) > 200 {
		out.Message = out.Message[:200]
	}
	if out.Code != 0 {
		return fmt.Sprintf("http %d: %s (code=%d)", resp.StatusCode, out.Message, out.Code)
	}
	return fmt.Sprintf("http %d: %s", resp.StatusCode, out.Message)
}

// Content prefixes msg with a Discord mention for mention. Numeric ids
// become user mentions; anything else is passed through verbatim.
func Content(mention, msg string) string {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return msg
	}
	if isSnowflake(mention) {
		mention = "<@" + mention + ">"
	}
	return mention + " " + msg
}

func isSnowflake(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
