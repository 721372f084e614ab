package checks

import (
	"context"
	"errors"
	"sync"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	"agendawatch/internal/slack"
)

type fakeNotion struct {
	mu        sync.Mutex
	dbs       map[string][]notion.Page
	queries   map[string]notion.Query
	fail      map[string]error
	updates   map[string]string
	users     map[string]string
	userCalls int
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{
		dbs:     map[string][]notion.Page{},
		queries: map[string]notion.Query{},
		fail:    map[string]error{},
		updates: map[string]string{},
		users:   map[string]string{},
	}
}

func (f *fakeNotion) QueryDatabase(ctx context.Context, id string, q notion.Query) ([]notion.Page, error) {
	var out []notion.Page
	err := f.EachPage(ctx, id, q, func(p []notion.Page) error {
		out = append(out, p...)
		return nil
	})
	return out, err
}

// EachPage yields batches of two pages.
func (f *fakeNotion) EachPage(_ context.Context, id string, q notion.Query, fn func([]notion.Page) error) error {
	f.mu.Lock()
	f.queries[id] = q
	err := f.fail[id]
	pages := append([]notion.Page(nil), f.dbs[id]...)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for len(pages) > 0 {
		n := min(2, len(pages))
		if err := fn(pages[:n]); err != nil {
			return err
		}
		pages = pages[n:]
	}
	return nil
}

func (f *fakeNotion) UpdatePageTitle(_ context.Context, pageID, prop, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[pageID] = title
	return nil
}

func (f *fakeNotion) GetUser(_ context.Context, id string) (notion.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	name, ok := f.users[id]
	if !ok {
		return notion.User{}, &notion.APIError{Status: 404, Code: "object_not_found"}
	}
	return notion.User{ID: id, Name: name}, nil
}

type sentMessage struct {
	Channel string
	Text    string
}

type fakeSlack struct {
	mu      sync.Mutex
	users   map[string]string
	posts   []sentMessage
	lookups int
}

func (s *fakeSlack) LookupUserByEmail(_ context.Context, email string) (slack.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	id, ok := s.users[email]
	if !ok {
		return slack.User{}, &slack.APIError{Method: "users.lookupByEmail", Status: 200, Code: "users_not_found"}
	}
	return slack.User{ID: id}, nil
}

func (s *fakeSlack) OpenDM(_ context.Context, ids ...string) (string, error) {
	if len(ids) == 0 {
		return "", errors.New("no users")
	}
	return "D-" + ids[0], nil
}

func (s *fakeSlack) PostMessage(_ context.Context, channel, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, sentMessage{Channel: channel, Text: text})
	return "1.0", nil
}

func secretsFrom(vals map[string]string) env.Secrets {
	names := make([]string, 0, len(vals))
	for k := range vals {
		names = append(names, k)
	}
	s, err := env.Contract{Required: names}.Resolve(func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	})
	if err != nil {
		panic(err)
	}
	return s
}

func titleProp(s string) notion.Property {
	return notion.Property{Type: "title", Title: []notion.RichText{{PlainText: s}}}
}

func textProp(s string) notion.Property {
	return notion.Property{Type: "rich_text", RichText: []notion.RichText{{PlainText: s}}}
}

func selectProp(name string) notion.Property {
	return notion.Property{Type: "select", Select: &notion.Option{Name: name}}
}

func peopleProp(names ...string) notion.Property {
	p := notion.Property{Type: "people"}
	for _, n := range names {
		p.People = append(p.People, notion.User{ID: "id-" + n, Name: n})
	}
	return p
}

func dateProp(start, end string) notion.Property {
	d := &notion.DateValue{Start: start}
	if end != "" {
		d.End = &end
	}
	return notion.Property{Type: "date", Date: d}
}
