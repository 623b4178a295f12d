package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the ledger/mailbox service. It is safe for concurrent use.
type Client struct {
	BaseURL     string
	Slot        string
	HTTP        *http.Client
	GetAttempts int
	Log         *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: timeout,
		},
		GetAttempts: 2,
		Log:         logger,
	}
}

func (c *Client) FetchState(ctx context.Context) (State, error) {
	path := "/info"
	if slot := strings.TrimSpace(c.Slot); slot != "" {
		path += "?agente=" + url.QueryEscape(slot)
	}
	state, err := fetchJSON[State](ctx, c, path)
	if err != nil {
		return State{}, err
	}
	if state.Resources == nil {
		state.Resources = Resources{}
	}
	if state.Target == nil {
		state.Target = Resources{}
	}
	return state, nil
}

// ListPeers returns every other agent's alias. Failures are logged and
// yield an empty list.
func (c *Client) ListPeers(ctx context.Context, self string) []string {
	peers, err := fetchJSON[[]peer](ctx, c, "/gente")
	if err != nil {
		c.Log.Error("list peers failed", "err", err)
		return []string{}
	}
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.Alias == "" || p.Alias == self {
			continue
		}
		out = append(out, p.Alias)
	}
	return out
}

// SendLetter posts a letter. Only transport errors are returned; the
// service's answer is logged.
func (c *Client) SendLetter(ctx context.Context, letter Letter) error {
	c.Log.Info("letter", "recipient", letter.Recipient, "subject", letter.Subject)
	return c.postJSON(ctx, "/carta", letter)
}

// SendPackage posts a one-shot transfer of resources to recipient.
func (c *Client) SendPackage(ctx context.Context, recipient string, res Resources) error {
	c.Log.Info("package", "recipient", recipient, "package", res)
	return c.postJSON(ctx, "/paquete/"+url.PathEscape(recipient), res)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	trimmed := strings.TrimSpace(string(respBody))
	if resp.StatusCode >= 300 {
		c.Log.Warn("ledger rejected post", "path", path, "status", resp.StatusCode, "body", trimmed)
		return nil
	}
	c.Log.Debug("ledger ack", "path", path, "status", resp.StatusCode, "body", trimmed)
	return nil
}

// fetchJSON retries GETs. Every attempt decodes into a zero T, so a
// payload that fails halfway never leaks into the next attempt.
func fetchJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	attempts := c.GetAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var fresh T
		if err = c.fetchOnce(ctx, path, &fresh); err == nil {
			return fresh, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	var zero T
	return zero, err
}

func (c *Client) fetchOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := "ledger request failed"
		if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			trimmed := strings.TrimSpace(string(body))
			if trimmed != "" {
				msg = fmt.Sprintf("%s: %s", msg, trimmed)
			}
		}
		return fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
