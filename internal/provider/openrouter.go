package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Client struct + constructor
// ---------------------------------------------------------------------------

// ClientConfig holds the static settings for Client.
type ClientConfig struct {
	BaseURL string // e.g. "https://openrouter.ai/api/v1"
	Origins Origins

	// Titles maps each task to its X-Title attribution value.
	Titles map[TaskKind]string
}

// Client issues chat completion requests to an OpenRouter-compatible
// endpoint. Every model is reached through the same URL; the model name
// goes in the request body.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a Client. The *http.Client is injected so main can set
// the timeout and tests can swap the transport.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With().Str("component", "upstream").Logger(),
	}
}

// ---------------------------------------------------------------------------
// Wire types (unexported)
// ---------------------------------------------------------------------------

// chatRequest is the body of POST /chat/completions.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the completion response we read.
// Everything besides the first choice's message text is ignored.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// maxErrorSnippet bounds how much of a failed response body we log.
const maxErrorSnippet = 512

// ---------------------------------------------------------------------------
// Attempt
// ---------------------------------------------------------------------------

// Attempt sends req to one model and classifies what came back.
//
// It never retries and never returns an error: every way the upstream can
// let us down maps to a Failure reason, and exactly one log line is written
// per call.
func (c *Client) Attempt(ctx context.Context, model string, req *Request, creds Credentials) Outcome {
	start := time.Now()
	out := c.attempt(ctx, model, req, creds)

	ev := c.logger.Info()
	if !out.OK() {
		ev = c.logger.Warn()
		if out.Failure.Status != 0 {
			ev = ev.Int("status", out.Failure.Status)
		}
		if out.Failure.Err != nil {
			ev = ev.AnErr("cause", out.Failure.Err)
		}
	}
	ev.Str("model", model).
		Str("task", req.Kind.String()).
		Str("outcome", out.Label()).
		Dur("latency", time.Since(start)).
		Msg("upstream attempt")

	return out
}

func (c *Client) attempt(ctx context.Context, model string, req *Request, creds Credentials) Outcome {
	// Step 1: Serialize the request. The built prompt is the only message.
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		// Can't happen with plain strings, but it isn't the network's fault
		// either. Report it as a body problem so the loop moves on.
		return Failed(model, EmptyBody, 0, fmt.Errorf("marshaling request: %w", err))
	}

	// Step 2: Build the HTTP request with auth and attribution headers.
	url := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Failed(model, NetworkError, 0, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set("HTTP-Referer", c.cfg.Origins.Resolve(req.Origin))
	if title := c.cfg.Titles[req.Kind]; title != "" {
		httpReq.Header.Set("X-Title", title)
	}

	// Step 3: Send it. Anything that stops us getting a response is a
	// network failure, including ctx cancellation and client timeouts.
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Failed(model, NetworkError, 0, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorSnippet))
		return Failed(model, HTTPError, httpResp.StatusCode,
			fmt.Errorf("upstream said: %s", strings.TrimSpace(string(snippet))))
	}

	// Step 4: Pull out choices[0].message.content. A body that doesn't
	// decode or has no text is as useless as an error status.
	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Failed(model, EmptyBody, 0, fmt.Errorf("decoding response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Failed(model, EmptyBody, 0, fmt.Errorf("no choices in response"))
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Failed(model, EmptyBody, 0, fmt.Errorf("blank assistant message"))
	}

	return Success(model, text)
}
