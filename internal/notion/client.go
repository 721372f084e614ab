// Package notion is a small Notion REST client covering the database
// queries, title updates and user lookups the checks need.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

const (
	DefaultBaseURL  = "https://api.notion.com/v1"
	DefaultVersion  = "2022-06-28"
	DefaultPageSize = 100
)

type Config struct {
	BaseURL    string
	Version    string
	Timeout    time.Duration
	RatePerSec float64
	PageSize   int
}

type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	log      logx.Logger
}

// New builds a client authenticated with token.
func New(token string, cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(token).
		SetHeader("Notion-Version", cfg.Version).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:     hc,
		limiter:  limiter,
		pageSize: cfg.PageSize,
		log:      log.With(logx.String("comp", "notion")),
	}
}

// QueryDatabase returns every page matching q, following cursors.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) ([]Page, error) {
	var out []Page
	err := c.EachPage(ctx, databaseID, q, func(batch []Page) error {
		out = append(out, batch...)
		return nil
	})
	return out, err
}

// EachPage calls fn once per result batch. Returning an error from fn stops
// the iteration and is returned as is.
func (c *Client) EachPage(ctx context.Context, databaseID string, q Query, fn func([]Page) error) error {
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return errors.New("notion: database id is required")
	}
	if q.PageSize <= 0 {
		q.PageSize = c.pageSize
	}
	q.StartCursor = ""

	for pages := 1; ; pages++ {
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", q, &resp); err != nil {
			return err
		}
		c.log.Debug("notion query page",
			logx.String("database", databaseID),
			logx.Int("page", pages),
			logx.Int("results", len(resp.Results)),
		)
		if err := fn(resp.Results); err != nil {
			return err
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return nil
		}
		q.StartCursor = *resp.NextCursor
	}
}

// UpdatePageTitle replaces the title property prop of a page.
func (c *Client) UpdatePageTitle(ctx context.Context, pageID, prop, title string) error {
	body := map[string]any{
		"properties": map[string]Property{prop: TitleValue(title)},
	}
	return c.do(ctx, http.MethodPatch, "/pages/"+strings.TrimSpace(pageID), body, nil)
}

// GetUser fetches a workspace user.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/users/"+strings.TrimSpace(userID), nil, &u)
	return u, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("notion %s %s: %w", method, path, err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr, _ := resp.Error().(*APIError)
	if apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	if resp.StatusCode() == http.StatusTooManyRequests {
		return engine.RetryAfter(apiErr, retryAfter(resp.Header().Get("Retry-After")))
	}
	return apiErr
}

func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return time.Second
	}
	return time.Duration(n) * time.Second
}
