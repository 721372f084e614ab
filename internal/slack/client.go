// Package slack wraps the three Web API methods used to deliver direct
// messages: users.lookupByEmail, conversations.open and chat.postMessage.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agendawatch/internal/task/engine"
)

const DefaultBaseURL = "https://slack.com/api"

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
}

// APIError is a response with ok=false or a non-2xx status.
type APIError struct {
	Method string
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("slack %s: http %d", e.Method, e.Status)
	}
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// IsCode reports whether err is a Slack API error with the given code,
// e.g. "users_not_found".
func IsCode(err error, code string) bool {
	var e *APIError
	return errors.As(err, &e) && e.Code == code
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
}

func New(token string, cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")
	return &Client{http: hc}
}

// LookupUserByEmail resolves a workspace member by e-mail address.
func (c *Client) LookupUserByEmail(ctx context.Context, email string) (User, error) {
	var out struct {
		envelope
		User User `json:"user"`
	}
	req := c.http.R().SetContext(ctx).SetQueryParam("email", strings.TrimSpace(email))
	if err := c.call(req, http.MethodGet, "users.lookupByEmail", &out, &out.envelope); err != nil {
		return User{}, err
	}
	return out.User, nil
}

// OpenDM opens (or reuses) a DM or group DM with the given users
// and returns its channel id.
func (c *Client) OpenDM(ctx context.Context, userIDs ...string) (string, error) {
	if len(userIDs) == 0 {
		return "", errors.New("slack conversations.open: no users")
	}
	var out struct {
		envelope
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	req := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(map[string]any{"users": strings.Join(userIDs, ",")})
	if err := c.call(req, http.MethodPost, "conversations.open", &out, &out.envelope); err != nil {
		return "", err
	}
	if out.Channel.ID == "" {
		return "", &APIError{Method: "conversations.open", Status: http.StatusOK, Code: "missing_channel"}
	}
	return out.Channel.ID, nil
}

// PostMessage sends plain text to a channel and returns the message ts.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (string, error) {
	var out struct {
		envelope
		TS string `json:"ts"`
	}
	req := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(map[string]any{"channel": channel, "text": text})
	if err := c.call(req, http.MethodPost, "chat.postMessage", &out, &out.envelope); err != nil {
		return "", err
	}
	return out.TS, nil
}

func (c *Client) call(req *resty.Request, method, apiMethod string, out any, env *envelope) error {
	resp, err := req.SetResult(out).Execute(method, "/"+apiMethod)
	if err != nil {
		return fmt.Errorf("slack %s: %w", apiMethod, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		apiErr := &APIError{Method: apiMethod, Status: resp.StatusCode(), Code: "ratelimited"}
		return engine.RetryAfter(apiErr, retryAfter(resp.Header().Get("Retry-After")))
	}
	if resp.IsError() {
		return &APIError{Method: apiMethod, Status: resp.StatusCode()}
	}
	if !env.OK {
		code := env.Error
		if code == "" {
			code = "unknown_error"
		}
		return &APIError{Method: apiMethod, Status: resp.StatusCode(), Code: code}
	}
	return nil
}

func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return time.Second
	}
	return time.Duration(n) * time.Second
}
