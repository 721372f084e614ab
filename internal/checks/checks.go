// Package checks holds the builtin steps a job can run: the database
// inventory, the editorial absence check and the meeting-room check.
package checks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	"agendawatch/internal/slack"
	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

// Builtin check names.
const (
	Inventory = "inventory"
	Editorial = "editorial"
	Room      = "room"
)

// NotionAPI is the part of the Notion client the checks call.
type NotionAPI interface {
	QueryDatabase(ctx context.Context, databaseID string, q notion.Query) ([]notion.Page, error)
	EachPage(ctx context.Context, databaseID string, q notion.Query, fn func([]notion.Page) error) error
	UpdatePageTitle(ctx context.Context, pageID, prop, title string) error
	GetUser(ctx context.Context, userID string) (notion.User, error)
}

// SlackAPI is the part of the Slack client the room check calls.
type SlackAPI interface {
	LookupUserByEmail(ctx context.Context, email string) (slack.User, error)
	OpenDM(ctx context.Context, userIDs ...string) (string, error)
	PostMessage(ctx context.Context, channel, text string) (string, error)
}

type EditorialOptions struct {
	MarginDays int
	DryRun     bool
}

type RoomOptions struct {
	Pattern         *regexp.Regexp
	LookBehind      time.Duration
	LookAhead       time.Duration
	DefaultDuration time.Duration
	KeepWeeks       int
}

type Options struct {
	// Location is used for date-only values and message formatting.
	Location  *time.Location
	Editorial EditorialOptions
	Room      RoomOptions
}

func DefaultOptions() Options {
	return Options{
		Location:  time.Local,
		Editorial: EditorialOptions{MarginDays: 3},
		Room: RoomOptions{
			Pattern:         regexp.MustCompile(`(?i)gcmd`),
			LookBehind:      24 * time.Hour,
			LookAhead:       14 * 24 * time.Hour,
			DefaultDuration: time.Hour,
			KeepWeeks:       12,
		},
	}
}

// Deps is everything a check may touch during one run.
type Deps struct {
	Notion  NotionAPI
	Slack   SlackAPI
	Store   storage.Store
	Secrets env.Secrets
	Options Options
	Log     logx.Logger
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) loc() *time.Location {
	if d.Options.Location != nil {
		return d.Options.Location
	}
	return time.Local
}

func (d Deps) logger() logx.Logger {
	if d.Log.IsZero() {
		return logx.Nop()
	}
	return d.Log
}

// require returns the named secrets or a non-retryable error naming the
// missing ones.
func (d Deps) require(names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	var missing []string
	for _, n := range names {
		v := d.Secrets.Get(n)
		if v == "" {
			missing = append(missing, n)
			continue
		}
		out[n] = v
	}
	if len(missing) > 0 {
		return nil, engine.NoRetry(&env.MissingError{Names: missing})
	}
	return out, nil
}

// Func is a builtin step.
type Func func(ctx context.Context, d Deps) error

// Registry maps check names to implementations.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Func)}
}

// Default returns a registry with every builtin check.
func Default() *Registry {
	r := NewRegistry()
	r.Register(Inventory, RunInventory)
	r.Register(Editorial, RunEditorial)
	r.Register(Room, RunRoom)
	return r
}

func (r *Registry) Register(name string, fn Func) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.m[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.m[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Run executes a registered check.
func (r *Registry) Run(ctx context.Context, name string, d Deps) error {
	fn, ok := r.Lookup(name)
	if !ok {
		return engine.NoRetry(fmt.Errorf("unknown check %q", name))
	}
	if d.Notion == nil {
		return engine.NoRetry(fmt.Errorf("check %s: notion client not configured", name))
	}
	return fn(ctx, d)
}
