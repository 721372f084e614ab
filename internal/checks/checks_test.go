package checks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	"agendawatch/internal/task/engine"
)

func TestCountDatabases(t *testing.T) {
	t.Parallel()
	fn := newFakeNotion()
	fn.dbs["meet"] = []notion.Page{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	fn.dbs["abs"] = []notion.Page{{ID: "a"}}
	d := Deps{Notion: fn, Secrets: secretsFrom(map[string]string{env.DBMeetings: "meet", env.DBAbsences: "abs"})}

	res, err := CountDatabases(context.Background(), d)
	if err != nil {
		t.Fatalf("CountDatabases error: %v", err)
	}
	if res.Meetings != 3 || res.Absences != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCountDatabasesFailsOnEitherQuery(t *testing.T) {
	t.Parallel()
	fn := newFakeNotion()
	boom := &notion.APIError{Status: 401, Code: "unauthorized", Message: "API token is invalid."}
	fn.fail["abs"] = boom
	d := Deps{Notion: fn, Secrets: secretsFrom(map[string]string{env.DBMeetings: "meet", env.DBAbsences: "abs"})}

	_, err := CountDatabases(context.Background(), d)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "query absences") {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := Default()
	if got := strings.Join(r.Names(), ","); got != "editorial,inventory,room" {
		t.Fatalf("names = %s", got)
	}
	if _, ok := r.Lookup(" Inventory "); !ok {
		t.Fatal("lookup should be case-insensitive")
	}

	called := false
	r.Register("custom", func(ctx context.Context, d Deps) error {
		called = true
		return nil
	})
	if err := r.Run(context.Background(), "custom", Deps{Notion: newFakeNotion()}); err != nil || !called {
		t.Fatalf("Run(custom) = %v, called=%v", err, called)
	}
	if err := r.Run(context.Background(), "nope", Deps{Notion: newFakeNotion()}); err == nil || !engine.IsNoRetry(err) {
		t.Fatalf("Run(nope) = %v", err)
	}
	if err := r.Run(context.Background(), "custom", Deps{}); err == nil {
		t.Fatal("Run without notion client should fail")
	}
}
