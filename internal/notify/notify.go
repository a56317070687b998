// Package notify delivers finished digest text.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	appLog "famdigest/internal/log"
)

// MaxMessageLen is Discord's per-message content limit, in characters.
const MaxMessageLen = 2000

// ErrDelivery wraps every failed delivery.
var ErrDelivery = errors.New("delivery failed")

// Sender hands content to a channel.
type Sender interface {
	Send(ctx context.Context, content string) error
}

// DiscordWebhook posts content to a Discord webhook, one message per chunk.
type DiscordWebhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewDiscordWebhook returns a sender for webhookURL. Chunks of one message
// are paced to one per second.
func NewDiscordWebhook(webhookURL string, timeout time.Duration) *DiscordWebhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DiscordWebhook{
		url:     webhookURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// WithLimiter replaces the chunk pacing.
func (d *DiscordWebhook) WithLimiter(l *rate.Limiter) *DiscordWebhook {
	d.limiter = l
	return d
}

func (d *DiscordWebhook) Send(ctx context.Context, content string) error {
	if d.url == "" {
		return fmt.Errorf("%w: no webhook url", ErrDelivery)
	}
	chunks := Split(content, MaxMessageLen)
	for i, chunk := range chunks {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		if err := d.post(ctx, chunk); err != nil {
			return fmt.Errorf("%w: chunk %d/%d: %v", ErrDelivery, i+1, len(chunks), err)
		}
	}
	appLog.Info("digest delivered", "url", appLog.RedactURL(d.url), "chunks", len(chunks))
	return nil
}

func (d *DiscordWebhook) post(ctx context.Context, chunk string) error {
	body, err := json.Marshal(map[string]string{"content": chunk})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Split cuts content into pieces of at most max characters. It breaks on
// blank lines where it can, then on line ends, and hard-splits lines that
// are longer than max on their own.
func Split(content string, max int) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	if utf8.RuneCountInString(content) <= max {
		return []string{content}
	}

	var chunks []string
	var cur []string
	curLen := 0
	sep := "\n\n"
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, sep))
			cur, curLen = nil, 0
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		n := utf8.RuneCountInString(para)
		if n > max {
			flush()
			chunks = append(chunks, splitLines(para, max)...)
			continue
		}
		add := n
		if len(cur) > 0 {
			add += len(sep)
		}
		if curLen+add > max {
			flush()
			add = n
		}
		cur = append(cur, para)
		curLen += add
	}
	flush()
	return chunks
}

func splitLines(para string, max int) []string {
	var chunks []string
	var b strings.Builder
	bLen := 0
	flush := func() {
		if bLen > 0 {
			chunks = append(chunks, b.String())
			b.Reset()
			bLen = 0
		}
	}
	for _, line := range strings.Split(para, "\n") {
		n := utf8.RuneCountInString(line)
		if n > max {
			flush()
			chunks = append(chunks, hardSplit(line, max)...)
			continue
		}
		add := n
		if bLen > 0 {
			add++
		}
		if bLen+add > max {
			flush()
			add = n
		}
		if bLen > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		bLen += add
	}
	flush()
	return chunks
}

func hardSplit(line string, max int) []string {
	r := []rune(line)
	var out []string
	for len(r) > max {
		out = append(out, string(r[:max]))
		r = r[max:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

// FileSender writes content to a file instead of delivering it.
type FileSender struct {
	Path string
}

func (f FileSender) Send(_ context.Context, content string) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
	}
	if err := os.WriteFile(f.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	appLog.Info("digest written", "path", f.Path)
	return nil
}

// WriterSender writes content to w, as the CLI does for dry runs.
type WriterSender struct {
	W io.Writer
}

func (s WriterSender) Send(_ context.Context, content string) error {
	if _, err := io.WriteString(s.W, content); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
