package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMissingAPIKey indicates the upstream credential is not configured. It is
// returned before any network call is attempted.
var ErrMissingAPIKey = errors.New("deepseek api key is not configured")

// apiKeyPlaceholder is the sample value shipped in setup instructions; a key
// left at it is treated the same as no key at all.
const apiKeyPlaceholder = "paste-your-api-key-here"

// ErrUpstream indicates the upstream API returned a non-success status or the
// connection to it failed.
var ErrUpstream = errors.New("upstream generation service error")

// systemPrompt pins the model to emitting a bare animated SVG document.
const systemPrompt = `You are an expert SVG animation generator. Produce an SVG animation from the user's description.

Strict rules:
1. Output only raw SVG markup, with no explanation, markdown, or code fences.
2. Start with <svg and end with </svg>.
3. Include xmlns="http://www.w3.org/2000/svg".
4. Set viewBox="0 0 400 300".
5. Include animation elements (animate, animateTransform, or animateMotion).
6. Every animation must loop forever with repeatCount="indefinite".
7. Use vivid colors.

Remember: output the SVG markup directly and nothing else.`

const maxTokens = 4096

// Client streams chat completions from the DeepSeek API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a client for the given credentials. baseURL carries no
// trailing slash; an empty apiKey is allowed at construction and rejected on
// first use.
func NewClient(apiKey, model, baseURL string, log *logrus.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: responses are long-lived streams. Cancellation
		// comes from the request context.
		httpClient: &http.Client{},
		log:        log,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream"`
	MaxTokens int       `json:"max_tokens"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamGeneration sends the fixed system instruction plus the user prompt to
// the chat-completions endpoint and returns the incremental response stream.
// The returned stream is tied to ctx: cancelling it aborts the upstream read.
func (c *Client) StreamGeneration(ctx context.Context, prompt string) (*Stream, error) {
	if c.apiKey == "" || c.apiKey == apiKeyPlaceholder {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Generate the following SVG animation: " + prompt},
		},
		Stream:    true,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"detail": string(detail),
		}).Error("deepseek request rejected")
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	c.log.WithFields(logrus.Fields{
		"model":   c.model,
		"elapsed": time.Since(start),
	}).Debug("deepseek stream opened")

	return &Stream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// Stream is a lazy, finite, non-restartable sequence of text fragments
// decoded from the upstream server-sent events.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Next returns the next content fragment. It reports io.EOF once the upstream
// signals completion or the connection ends. Malformed or empty chunks are
// skipped rather than surfaced.
func (s *Stream) Next() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("read stream: %w", err)
		}

		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

// Close releases the upstream connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
