package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"famdigest/internal/config"
	"famdigest/internal/digest"
	appLog "famdigest/internal/log"
)

const (
	defaultMaxInputChars = 30000
	maxCompletionTokens  = 4096
	maxErrorBody         = 512
)

// LLMComposer sends the week's raw inputs to an OpenAI-compatible chat
// completions endpoint and uses the reply as the digest body.
type LLMComposer struct {
	endpoint string
	apiKey   string
	model    string
	maxInput int
	client   *http.Client
}

func NewLLMComposer(cfg config.LLMConfig) *LLMComposer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxInput := cfg.MaxInputChars
	if maxInput <= 0 {
		maxInput = defaultMaxInputChars
	}
	return &LLMComposer{
		endpoint: cfg.Endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    cfg.Model,
		maxInput: maxInput,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *LLMComposer) Name() string { return "llm:" + c.model }

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *LLMComposer) Compose(ctx context.Context, in Input) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: no API key configured", ErrCompositionCall)
	}
	if c.endpoint == "" {
		return "", fmt.Errorf("%w: no endpoint configured", ErrCompositionCall)
	}

	d := digest.Assemble(in.Target, in.People, nil, in.Events, digest.Options{Locale: in.Locale})
	payload := truncate(digest.RenderLLMInput(d, in.People, in.RawText), c.maxInput)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(in)},
			{Role: "user", Content: payload},
		},
		MaxCompletionTokens: maxCompletionTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrCompositionCall, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrCompositionCall, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	appLog.Debug("composition call", "model", c.model, "week", in.Target.String(), "input_chars", utf8.RuneCountInString(payload))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompositionCall, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrCompositionCall, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrCompositionCall, resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCompositionCall, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrCompositionCall)
	}
	text := stripFence(cr.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrCompositionCall)
	}
	return text + "\n", nil
}

func systemPrompt(in Input) string {
	w := in.Target.ISOWeek
	lang := "Swedish"
	if in.Locale == digest.English {
		lang = "English"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You write the weekly digest for a family for week %d (%s). ", w, in.Target.String())
	b.WriteString("You receive raw school page text per person and the calendar grouped by day.\n\n")
	fmt.Fprintf(&b, "School: from each person's block keep only items that concern week %d, ", w)
	b.WriteString("for example \"v. 6\" or \"v7-11\" where the range includes the week. ")
	b.WriteString("Never move items between people. Format each item as **Subject:** text.\n")
	b.WriteString("Calendar: use the day data as given. List a repeated event only once per day. ")
	b.WriteString("Remove the person's name from the event text.\n\n")
	b.WriteString("Output format:\n")
	fmt.Fprintf(&b, "# %s\n", in.Locale.Header(w))
	b.WriteString("A short factual introduction of 2-4 sentences about the coming week.\n")
	fmt.Fprintf(&b, "## %s with a **Person:** heading per person.\n", in.Locale.SchoolTitle())
	fmt.Fprintf(&b, "## %s with one ### heading per day and lines \"Person — time title\".\n", in.Locale.CalendarTitle(w))
	fmt.Fprintf(&b, "Write in %s.", lang)
	return b.String()
}

// stripFence removes a surrounding Markdown code fence, which some models
// add despite instructions.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
