package checks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

func at(h, m int) time.Time { return time.Date(2026, 2, 12, h, m, 0, 0, time.UTC) }

func TestConflictGroupsTransitive(t *testing.T) {
	t.Parallel()
	ms := []Meeting{
		{PageID: "d", Start: at(13, 0), End: at(14, 0)},
		{PageID: "c", Start: at(11, 15), End: at(12, 0)},
		{PageID: "a", Start: at(10, 0), End: at(11, 0)},
		{PageID: "b", Start: at(10, 30), End: at(11, 30)},
		{PageID: "e", Start: at(14, 0), End: at(15, 0)},
	}
	groups := ConflictGroups(ms)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1 (touching intervals do not overlap)", len(groups))
	}
	var ids []string
	for _, m := range groups[0] {
		ids = append(ids, m.PageID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("group = %v, want a,b,c in start order", ids)
	}
}

func TestSignatureIgnoresCreatorsAndTitles(t *testing.T) {
	t.Parallel()
	g1 := []Meeting{
		{PageID: "p2", Local: " Sala GCMD ", Title: "x", Start: at(10, 0), End: at(11, 0)},
		{PageID: "p1", Local: "sala gcmd", Title: "y", Start: at(10, 30), End: at(12, 0)},
	}
	g2 := []Meeting{
		{PageID: "p2", Local: "sala gcmd", Title: "renamed", Creator: "Ana", Start: at(10, 0), End: at(11, 0)},
		{PageID: "p1", Local: "sala gcmd", Start: at(10, 30), End: at(12, 0)},
	}
	if Signature(g1) != Signature(g2) {
		t.Fatal("signature changed with titles/creators")
	}
	g2[1].End = at(12, 30)
	if Signature(g1) == Signature(g2) {
		t.Fatal("signature should change with the window")
	}
	if len(Signature(g1)) != 64 {
		t.Fatalf("signature = %q, want sha256 hex", Signature(g1))
	}
}

func TestWeekKey(t *testing.T) {
	t.Parallel()
	cases := map[time.Time]string{
		time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC):  "2026-W07",
		time.Date(2021, 1, 3, 9, 0, 0, 0, time.UTC):   "2020-W53",
		time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC): "2026-W01",
	}
	for in, want := range cases {
		if got := WeekKey(in); got != want {
			t.Fatalf("WeekKey(%v) = %q, want %q", in, got, want)
		}
	}
	if got := WeekMonday(time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("WeekMonday = %v", got)
	}
	if got := WeekMonday(time.Date(2026, 2, 15, 23, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("WeekMonday(sunday) = %v", got)
	}
}

func TestFormatRoomMessage(t *testing.T) {
	t.Parallel()
	msg := FormatRoomMessage([]Meeting{
		{Title: "Pauta", URL: "https://notion.so/a", Creator: "Ana", Local: "Sala GCMD", Start: at(10, 0), End: at(11, 0)},
		{Title: "(Sem título)", URL: "https://notion.so/b", Creator: "Pessoa não identificada", Local: "GCMD", Start: at(10, 30), End: at(11, 30)},
	}, time.UTC)
	for _, want := range []string{
		"conflito de horário na sala de reuniões da GCMD.\n\n",
		"🗓️ Pauta - https://notion.so/a\nCriada por: Ana\n12/02/2026, 10:00–11:00\nLocal: Sala GCMD\n\n",
		"Criada por: Pessoa não identificada",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if !strings.HasSuffix(msg, "👉 Vale alinhar entre vocês e ajustar o horário ou o local 😊") {
		t.Fatalf("message closing line missing:\n%s", msg)
	}
}

func meetingPage(id, local, start, end, creator string) notion.Page {
	return notion.Page{
		ID:        id,
		URL:       "https://notion.so/" + id,
		CreatedBy: notion.User{ID: creator},
		Properties: map[string]notion.Property{
			"Evento": titleProp("Reunião " + id),
			"Local":  textProp(local),
			"Data":   dateProp(start, end),
		},
	}
}

func TestMeetingsFromPages(t *testing.T) {
	t.Parallel()
	opt := DefaultOptions().Room
	pages := []notion.Page{
		meetingPage("m1", "Sala gcmd", "2026-02-12T10:00:00Z", "", "u1"),
		meetingPage("m2", "Auditório", "2026-02-12T10:00:00Z", "", "u1"),
		meetingPage("m3", "GCMD", "", "", "u1"),
		{ID: "m4", Properties: map[string]notion.Property{"Local": textProp("GCMD"), "Data": dateProp("2026-02-12T09:00:00Z", "2026-02-12T09:45:00Z")}},
	}
	got := MeetingsFromPages(pages, opt, time.UTC)
	if len(got) != 2 {
		t.Fatalf("meetings = %+v", got)
	}
	if !got[0].End.Equal(at(11, 0)) {
		t.Fatalf("default duration not applied: %v", got[0].End)
	}
	if got[1].Title != "(Sem título)" || !got[1].End.Equal(at(9, 45)) {
		t.Fatalf("m4 = %+v", got[1])
	}
}

type roomFixture struct {
	notion *fakeNotion
	slack  *fakeSlack
	store  storage.Store
	deps   Deps
}

func newRoomFixture(t *testing.T) roomFixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fn := newFakeNotion()
	fn.users = map[string]string{"u1": "Ana"}
	fn.dbs["team"] = []notion.Page{
		{ID: "t1", Properties: map[string]notion.Property{
			"Usuário no Notion": {Type: "people", People: []notion.User{{ID: "u1"}}},
			"E-mail":            {Type: "email", Email: ptr("Ana@Example.org")},
		}},
		{ID: "t2", Properties: map[string]notion.Property{
			"Usuário no Notion": {Type: "people", People: []notion.User{{ID: "u2"}}},
			"E-mail":            {Type: "email", Email: ptr("bia@example.org")},
		}},
	}
	fn.dbs["meetings"] = []notion.Page{
		meetingPage("m1", "Sala GCMD", "2026-02-12T10:00:00Z", "2026-02-12T11:00:00Z", "u1"),
		meetingPage("m2", "sala gcmd", "2026-02-12T10:30:00Z", "2026-02-12T11:30:00Z", "u2"),
		meetingPage("m3", "Sala GCMD", "2026-02-13T10:00:00Z", "", "u3"),
		meetingPage("m4", "GCMD", "2026-02-13T10:15:00Z", "", "u3"),
	}
	sl := &fakeSlack{users: map[string]string{"ana@example.org": "UANA", "bia@example.org": "UBIA"}}

	opts := DefaultOptions()
	opts.Location = time.UTC
	return roomFixture{
		notion: fn,
		slack:  sl,
		store:  st,
		deps: Deps{
			Notion: fn,
			Slack:  sl,
			Store:  st,
			Secrets: secretsFrom(map[string]string{
				env.DBMeetings: "meetings",
				env.DBTeam:     "team",
				env.SlackToken: "xoxb",
			}),
			Options: opts,
			Now:     func() time.Time { return at(8, 0) },
		},
	}
}

func ptr(s string) *string { return &s }

func TestCheckRoomNotifiesOncePerWeek(t *testing.T) {
	t.Parallel()
	f := newRoomFixture(t)
	ctx := context.Background()

	sum, err := CheckRoom(ctx, f.deps)
	if err != nil {
		t.Fatalf("CheckRoom error: %v", err)
	}
	if sum.Meetings != 4 || sum.Groups != 2 || sum.Notified != 1 {
		t.Fatalf("summary = %+v (group with unknown creators is not notified)", sum)
	}
	if len(f.slack.posts) != 2 {
		t.Fatalf("posts = %+v, want one DM per creator", f.slack.posts)
	}
	if f.slack.posts[0].Channel != "D-UANA" || f.slack.posts[1].Channel != "D-UBIA" {
		t.Fatalf("channels = %+v", f.slack.posts)
	}
	if !strings.Contains(f.slack.posts[0].Text, "Criada por: Ana") || !strings.Contains(f.slack.posts[0].Text, "Criada por: Pessoa não identificada") {
		t.Fatalf("text = %s", f.slack.posts[0].Text)
	}
	q := f.notion.queries["meetings"]
	if q.Filter == nil || len(q.Filter.And) != 2 || q.Filter.And[0].Date.OnOrAfter != "2026-02-11" || q.Filter.And[1].Date.OnOrBefore != "2026-02-26" {
		t.Fatalf("meetings filter = %+v", q.Filter)
	}

	sum, err = CheckRoom(ctx, f.deps)
	if err != nil {
		t.Fatalf("second CheckRoom error: %v", err)
	}
	if sum.Notified != 0 || len(f.slack.posts) != 2 {
		t.Fatalf("second run notified again: %+v posts=%d", sum, len(f.slack.posts))
	}

	f.deps.Now = func() time.Time { return at(8, 0).AddDate(0, 0, 7) }
	if _, err := CheckRoom(ctx, f.deps); err != nil {
		t.Fatalf("next week CheckRoom error: %v", err)
	}
	if len(f.slack.posts) != 4 {
		t.Fatalf("next week posts = %d, want 4", len(f.slack.posts))
	}
}

func TestCheckRoomPrunesOldMarks(t *testing.T) {
	t.Parallel()
	f := newRoomFixture(t)
	ctx := context.Background()
	old := at(8, 0).AddDate(0, 0, -7*13)
	if err := f.store.MarkSent(ctx, "stale", WeekKey(old), WeekMonday(old)); err != nil {
		t.Fatalf("MarkSent error: %v", err)
	}
	sum, err := CheckRoom(ctx, f.deps)
	if err != nil {
		t.Fatalf("CheckRoom error: %v", err)
	}
	if sum.Pruned != 1 {
		t.Fatalf("pruned = %d, want 1", sum.Pruned)
	}
}

func TestCheckRoomRequirements(t *testing.T) {
	t.Parallel()
	f := newRoomFixture(t)

	d := f.deps
	d.Secrets = secretsFrom(map[string]string{env.DBMeetings: "meetings"})
	_, err := CheckRoom(context.Background(), d)
	var missing *env.MissingError
	if !errors.As(err, &missing) || len(missing.Names) != 2 || !engine.IsNoRetry(err) {
		t.Fatalf("err = %v, want missing team db and slack token", err)
	}

	d = f.deps
	d.Store = nil
	if _, err := CheckRoom(context.Background(), d); err == nil || !engine.IsNoRetry(err) {
		t.Fatalf("err = %v, want storage requirement", err)
	}
}
