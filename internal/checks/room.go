package checks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

// Meetings and team database property names.
const (
	propMeetingDate  = "Data"
	propMeetingLocal = "Local"
	propMeetingTitle = "Evento"
	propTeamUser     = "Usuário no Notion"
	propTeamEmail    = "E-mail"

	untitledMeeting = "(Sem título)"
	unknownCreator  = "Pessoa não identificada"
)

// Meeting is a room booking read from the meetings database.
type Meeting struct {
	PageID    string
	Title     string
	URL       string
	Local     string
	CreatorID string
	Creator   string
	Email     string
	Start     time.Time
	End       time.Time
}

func overlaps(a, b Meeting) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// ConflictGroups returns the connected components of the overlap relation
// that hold two or more meetings. Groups keep start order.
func ConflictGroups(meetings []Meeting) [][]Meeting {
	ms := append([]Meeting(nil), meetings...)
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Start.Before(ms[j].Start) })

	var groups [][]Meeting
	used := make([]bool, len(ms))
	for i := range ms {
		if used[i] {
			continue
		}
		group := []int{i}
		used[i] = true
		for changed := true; changed; {
			changed = false
			for j := range ms {
				if used[j] {
					continue
				}
				for _, k := range group {
					if overlaps(ms[k], ms[j]) {
						group = append(group, j)
						used[j] = true
						changed = true
						break
					}
				}
			}
		}
		if len(group) < 2 {
			continue
		}
		sort.Ints(group)
		out := make([]Meeting, 0, len(group))
		for _, k := range group {
			out = append(out, ms[k])
		}
		groups = append(groups, out)
	}
	return groups
}

// Signature identifies a conflict group independently of creators and
// titles, so the same double booking is recognized across runs.
func Signature(group []Meeting) string {
	if len(group) == 0 {
		return ""
	}
	minStart, maxEnd := group[0].Start, group[0].End
	ids := make([]string, 0, len(group))
	for _, m := range group {
		if m.Start.Before(minStart) {
			minStart = m.Start
		}
		if m.End.After(maxEnd) {
			maxEnd = m.End
		}
		ids = append(ids, m.PageID)
	}
	sort.Strings(ids)
	raw := strings.ToLower(strings.TrimSpace(group[0].Local)) + "|" +
		minStart.Format(time.RFC3339) + "|" +
		maxEnd.Format(time.RFC3339) + "|" +
		strings.Join(ids, ",")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// WeekKey formats the ISO week of t as "2026-W07".
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// WeekMonday returns midnight of the Monday starting t's ISO week.
func WeekMonday(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatRoomMessage renders the direct message sent to the creators of a
// conflict group.
func FormatRoomMessage(group []Meeting, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	lines := []string{
		"⚠️ Opa! Dei uma olhada na agenda de reuniões e encontrei um possível conflito de horário na sala de reuniões da GCMD.",
		"",
	}
	for _, m := range group {
		lines = append(lines,
			fmt.Sprintf("🗓️ %s - %s", m.Title, m.URL),
			"Criada por: "+m.Creator,
			m.Start.In(loc).Format("02/01/2006, 15:04")+"–"+m.End.In(loc).Format("15:04"),
			"Local: "+m.Local,
			"",
		)
	}
	lines = append(lines, "👉 Vale alinhar entre vocês e ajustar o horário ou o local 😊")
	return strings.Join(lines, "\n")
}

// TeamEmails maps Notion user ids to lowercased e-mail addresses.
func TeamEmails(pages []notion.Page) map[string]string {
	out := make(map[string]string)
	for _, p := range pages {
		email := strings.ToLower(p.Email(propTeamEmail))
		if email == "" {
			continue
		}
		for _, u := range p.People(propTeamUser) {
			if u.ID != "" {
				out[u.ID] = email
			}
		}
	}
	return out
}

// MeetingsFromPages keeps pages whose Local matches the room pattern and
// that carry a start date.
func MeetingsFromPages(pages []notion.Page, opt RoomOptions, loc *time.Location) []Meeting {
	dur := opt.DefaultDuration
	if dur <= 0 {
		dur = time.Hour
	}
	var out []Meeting
	for _, p := range pages {
		local := p.Text(propMeetingLocal)
		if strings.TrimSpace(local) == "" || (opt.Pattern != nil && !opt.Pattern.MatchString(local)) {
			continue
		}
		d := p.Date(propMeetingDate)
		start, err := d.StartTime(loc)
		if err != nil {
			continue
		}
		end := start.Add(dur)
		if t, ok, err := d.EndTime(loc); err == nil && ok {
			end = t
		}
		title := strings.TrimSpace(p.Text(propMeetingTitle))
		if title == "" {
			title = untitledMeeting
		}
		out = append(out, Meeting{
			PageID:    p.ID,
			Title:     title,
			URL:       p.URL,
			Local:     local,
			CreatorID: p.CreatedBy.ID,
			Start:     start,
			End:       end,
		})
	}
	return out
}

// RoomSummary counts what one room pass did.
type RoomSummary struct {
	Meetings int
	Groups   int
	Notified int
	Pruned   int
}

// RunRoom finds double bookings of the meeting room and sends each group's
// creators one Slack DM per ISO week.
func RunRoom(ctx context.Context, d Deps) error {
	_, err := CheckRoom(ctx, d)
	return err
}

func CheckRoom(ctx context.Context, d Deps) (RoomSummary, error) {
	ids, err := d.require(env.DBMeetings, env.DBTeam, env.SlackToken)
	if err != nil {
		return RoomSummary{}, err
	}
	if d.Slack == nil {
		return RoomSummary{}, engine.NoRetry(errors.New("room check: slack client not configured"))
	}
	if d.Store == nil {
		return RoomSummary{}, engine.NoRetry(errors.New("room check: storage is required for the weekly anti-flood"))
	}
	log := d.logger()
	loc := d.loc()
	opt := d.Options.Room
	now := d.now().In(loc)

	keep := opt.KeepWeeks
	if keep <= 0 {
		keep = 12
	}
	monday := WeekMonday(now)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	cutoff := today.AddDate(0, 0, -7*keep)

	var sum RoomSummary
	n, err := d.Store.PruneSent(ctx, cutoff)
	if err != nil {
		return sum, fmt.Errorf("prune sent marks: %w", err)
	}
	sum.Pruned += n

	teamPages, err := d.Notion.QueryDatabase(ctx, ids[env.DBTeam], notion.Query{})
	if err != nil {
		return sum, fmt.Errorf("query team: %w", err)
	}
	emails := TeamEmails(teamPages)

	pages, err := d.Notion.QueryDatabase(ctx, ids[env.DBMeetings], notion.Query{
		Filter: notion.DateBetween(propMeetingDate, now.Add(-opt.LookBehind), now.Add(opt.LookAhead)),
		Sorts:  []notion.Sort{{Property: propMeetingDate, Direction: "ascending"}},
	})
	if err != nil {
		return sum, fmt.Errorf("query meetings: %w", err)
	}

	meetings := MeetingsFromPages(pages, opt, loc)
	names := map[string]string{}
	for i := range meetings {
		m := &meetings[i]
		m.Email = emails[m.CreatorID]
		m.Creator = creatorName(ctx, d, names, m.CreatorID)
	}
	sum.Meetings = len(meetings)

	week := WeekKey(now)
	for _, group := range ConflictGroups(meetings) {
		sum.Groups++
		sig := Signature(group)
		sent, err := d.Store.SentWeek(ctx, sig, week)
		if err != nil {
			return sum, fmt.Errorf("read sent mark: %w", err)
		}
		if sent {
			log.Debug("room conflict already notified this week", logx.String("signature", sig[:12]))
			continue
		}
		recipients := groupEmails(group)
		if len(recipients) == 0 {
			log.Debug("room conflict without known creators", logx.String("signature", sig[:12]))
			continue
		}

		text := FormatRoomMessage(group, loc)
		for _, email := range recipients {
			if err := deliver(ctx, d, email, text); err != nil {
				log.Warn("room conflict delivery failed", logx.String("email", email), logx.Err(err))
			}
		}
		if err := d.Store.MarkSent(ctx, sig, week, monday); err != nil {
			return sum, fmt.Errorf("mark sent: %w", err)
		}
		sum.Notified++
	}

	n, err = d.Store.PruneSent(ctx, cutoff)
	if err != nil {
		return sum, fmt.Errorf("prune sent marks: %w", err)
	}
	sum.Pruned += n

	log.Info("room check done",
		logx.Int("meetings", sum.Meetings),
		logx.Int("groups", sum.Groups),
		logx.Int("notified", sum.Notified),
		logx.Int("pruned", sum.Pruned),
	)
	return sum, nil
}

func creatorName(ctx context.Context, d Deps, cache map[string]string, id string) string {
	if id == "" {
		return unknownCreator
	}
	name, ok := cache[id]
	if !ok {
		u, err := d.Notion.GetUser(ctx, id)
		if err != nil {
			d.logger().Debug("notion user lookup failed", logx.String("user", id), logx.Err(err))
		}
		name = strings.TrimSpace(u.Name)
		cache[id] = name
	}
	if name == "" {
		return unknownCreator
	}
	return name
}

func groupEmails(group []Meeting) []string {
	set := map[string]struct{}{}
	for _, m := range group {
		if m.Email != "" {
			set[m.Email] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func deliver(ctx context.Context, d Deps, email, text string) error {
	user, err := d.Slack.LookupUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	channel, err := d.Slack.OpenDM(ctx, user.ID)
	if err != nil {
		return err
	}
	_, err = d.Slack.PostMessage(ctx, channel, text)
	return err
}
