// Package webhook delivers hit alerts to a chat bot webhook (Lark/Feishu
// custom bot format).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
)

// Defaults for Config.
const (
	DefaultRetries = 5
	DefaultBackoff = 100 * time.Millisecond
	DefaultTimeout = 10 * time.Second
)

// Config holds parameters for creating a Notifier.
type Config struct {
	// URL is the bot hook endpoint. Required.
	URL string

	// Retries is how many times a failed delivery is retried. Default 5.
	// Negative disables retries.
	Retries int

	// Backoff is the delay before the first retry; it doubles per retry.
	// Default 100ms.
	Backoff time.Duration

	// Client overrides the HTTP client. Default has a 10s timeout.
	Client *http.Client
}

// Notifier posts hits to a webhook. Implements ports.Notifier.
type Notifier struct {
	url     string
	retries int
	backoff time.Duration
	client  *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// message is the bot payload.
type message struct {
	MsgType string  `json:"msg_type"`
	Content content `json:"content"`
}

type content struct {
	Text string `json:"text"`
}

// reply is the bot's response. A non-zero code is a rejected message.
type reply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// retryable marks statuses worth retrying.
var retryable = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// New creates a Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: empty url")
	}
	n := &Notifier{
		url:     cfg.URL,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		client:  cfg.Client,
	}
	if n.retries == 0 {
		n.retries = DefaultRetries
	}
	if n.retries < 0 {
		n.retries = 0
	}
	if n.backoff <= 0 {
		n.backoff = DefaultBackoff
	}
	if n.client == nil {
		n.client = &http.Client{Timeout: DefaultTimeout}
	}
	return n, nil
}

// Notify sends the hit as a text message.
func (n *Notifier) Notify(ctx context.Context, hit *ports.Hit) error {
	if hit == nil {
		return errors.New("webhook: nil hit")
	}
	text, err := FormatHit(hit)
	if err != nil {
		return err
	}
	return n.Send(ctx, text)
}

// Send posts a text message, retrying connection errors and 5xx gateway
// statuses with exponential backoff.
func (n *Notifier) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(message{MsgType: "text", Content: content{Text: text}})
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	delay := n.backoff
	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "webhook gave up after %d attempts: %v", attempt, lastErr)
			}
		}

		retry, err := n.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return errors.Wrapf(lastErr, "webhook gave up after %d attempts", n.retries+1)
}

// post makes one delivery attempt and reports whether a failure is retryable.
func (n *Notifier) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.Wrap(ctx.Err(), "webhook")
		}
		return true, errors.Wrap(err, "webhook post")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if retryable[resp.StatusCode] {
		return true, errors.Errorf("webhook: %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, errors.Errorf("webhook: %s", resp.Status)
	}

	var r reply
	if err := json.Unmarshal(data, &r); err == nil && r.Code != 0 {
		return false, errors.Errorf("webhook rejected message: code %d: %s", r.Code, r.Msg)
	}
	return false, nil
}

// alert is the JSON body of an alert message.
type alert struct {
	ports.Document
	Keywords []string `json:"keywords"`
}

// FormatHit renders a hit as indented JSON, document fields first and the
// matched keywords last. Non-ASCII text is kept as is.
func FormatHit(hit *ports.Hit) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(alert{Document: hit.Document, Keywords: hit.Keywords}); err != nil {
		return "", errors.Wrap(err, "encode hit")
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
