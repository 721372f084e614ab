package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	logx "agendawatch/pkg/logx"
)

// Editorial calendar and absences database property names.
const (
	propTitle    = "Name"
	propStatus   = "Status"
	propStatusYT = "Status - YouTube"

	propPerson      = "Pessoa"
	propAbsenceFrom = "Início"
	propAbsenceTo   = "Fim"

	alertPrefix = "⚠️ "
	alertMarker = " (Conflito:"
)

var (
	peopleFields = []string{"Responsável", "Apoio", "Editor(a) imagem/vídeo"}
	dateFields   = []string{"Veiculação", "Veiculação - YouTube", "Veiculação - TikTok"}

	ignoredStatus = map[string]struct{}{
		"Publicação":    {},
		"Monitoramento": {},
		"Arquivado":     {},
		"Concluído":     {},
	}
	ignoredStatusYT = map[string]struct{}{
		"não teve como publicar": {},
		"Concluído":              {},
		"Não houve reunião":      {},
		"Não teve programa":      {},
		"Concluído com edição":   {},
	}
)

// Absence is one person's leave interval.
type Absence struct {
	Person string
	Start  time.Time
	End    time.Time
}

// AbsencesFromPages reads absences from pages of the absences database.
// Pages without a person or a parseable start are skipped.
func AbsencesFromPages(pages []notion.Page, loc *time.Location) []Absence {
	out := make([]Absence, 0, len(pages))
	for _, p := range pages {
		people := p.People(propPerson)
		if len(people) == 0 || strings.TrimSpace(people[0].Name) == "" {
			continue
		}
		from := p.Date(propAbsenceFrom)
		start, err := from.StartTime(loc)
		if err != nil {
			continue
		}
		end := start
		if to := p.Date(propAbsenceTo); to != nil {
			if t, ok, err := to.EndTime(loc); err == nil && ok {
				end = t
			} else if t, err := to.StartTime(loc); err == nil {
				end = t
			}
		}
		out = append(out, Absence{Person: people[0].Name, Start: start, End: end})
	}
	return out
}

// PostConflicts returns the sorted, unique names of people assigned to the
// post who are absent within margin of any of its publishing dates.
func PostConflicts(p notion.Page, absences []Absence, margin time.Duration, loc *time.Location) []string {
	var dates []time.Time
	for _, f := range dateFields {
		d := p.Date(f)
		if d == nil {
			continue
		}
		if t, err := d.StartTime(loc); err == nil {
			dates = append(dates, t)
		}
	}
	if len(dates) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	for _, f := range peopleFields {
		for _, person := range p.People(f) {
			if person.Name == "" {
				continue
			}
			if _, ok := seen[person.Name]; ok {
				continue
			}
			for _, when := range dates {
				if absentAround(person.Name, when, absences, margin) {
					seen[person.Name] = struct{}{}
					break
				}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func absentAround(person string, when time.Time, absences []Absence, margin time.Duration) bool {
	for _, a := range absences {
		if a.Person != person {
			continue
		}
		if !when.Before(a.Start.Add(-margin)) && !when.After(a.End.Add(margin)) {
			return true
		}
	}
	return false
}

// IsIgnored reports whether the post is past the stage where conflicts matter.
func IsIgnored(p notion.Page) bool {
	if _, ok := ignoredStatus[p.SelectName(propStatus)]; ok {
		return true
	}
	_, ok := ignoredStatusYT[p.SelectName(propStatusYT)]
	return ok
}

// TitleChange is the outcome of PlanTitle.
type TitleChange struct {
	Title   string
	Added   bool
	Removed bool
}

func (c TitleChange) Changed(old string) bool { return c.Title != old }

// PlanTitle computes the title a post should carry. Ignored posts never get
// an alert; an existing alert is kept as is while the conflict persists.
func PlanTitle(title string, conflicts []string, ignored bool) TitleChange {
	hasAlert := strings.HasPrefix(title, strings.TrimSpace(alertPrefix))
	if ignored || len(conflicts) == 0 {
		if hasAlert {
			return TitleChange{Title: StripAlert(title), Removed: true}
		}
		return TitleChange{Title: title}
	}
	suffix := alertMarker + " " + strings.Join(conflicts, ", ") + ")"
	switch {
	case !hasAlert:
		return TitleChange{Title: alertPrefix + StripAlert(title) + suffix, Added: true}
	case !strings.Contains(title, strings.TrimSpace(alertMarker)):
		return TitleChange{Title: title + suffix}
	}
	return TitleChange{Title: title}
}

// StripAlert removes the alert prefix and the conflict suffix.
func StripAlert(title string) string {
	title = strings.ReplaceAll(title, alertPrefix, "")
	title = strings.TrimPrefix(title, strings.TrimSpace(alertPrefix))
	if i := strings.Index(title, alertMarker); i >= 0 {
		title = title[:i]
	}
	return title
}

// EditorialSummary counts what one editorial pass did.
type EditorialSummary struct {
	Analyzed int
	Added    int
	Removed  int
	Updated  int
}

// RunEditorial marks editorial calendar posts whose assignees are absent
// around a publishing date, and clears stale marks.
func RunEditorial(ctx context.Context, d Deps) error {
	_, err := CheckEditorial(ctx, d)
	return err
}

func CheckEditorial(ctx context.Context, d Deps) (EditorialSummary, error) {
	ids, err := d.require(env.DBAbsences, env.DBEditorialCalendar)
	if err != nil {
		return EditorialSummary{}, err
	}
	log := d.logger()
	loc := d.loc()
	margin := time.Duration(d.Options.Editorial.MarginDays) * 24 * time.Hour

	absPages, err := d.Notion.QueryDatabase(ctx, ids[env.DBAbsences], notion.Query{
		Filter: notion.And(notion.DateNotEmpty(propAbsenceFrom), notion.DateNotEmpty(propAbsenceTo)),
	})
	if err != nil {
		return EditorialSummary{}, fmt.Errorf("query absences: %w", err)
	}
	absences := AbsencesFromPages(absPages, loc)
	log.Debug("absences loaded", logx.Int("count", len(absences)))

	var sum EditorialSummary
	err = d.Notion.EachPage(ctx, ids[env.DBEditorialCalendar], notion.Query{}, func(posts []notion.Page) error {
		for _, post := range posts {
			sum.Analyzed++
			title := post.Text(propTitle)
			change := PlanTitle(title, PostConflicts(post, absences, margin, loc), IsIgnored(post))
			if change.Added {
				sum.Added++
			}
			if change.Removed {
				sum.Removed++
			}
			if !change.Changed(title) {
				continue
			}
			if d.Options.Editorial.DryRun {
				log.Info("title change (dry run)", logx.String("page", post.ID), logx.String("from", title), logx.String("to", change.Title))
				continue
			}
			if err := d.Notion.UpdatePageTitle(ctx, post.ID, propTitle, change.Title); err != nil {
				return fmt.Errorf("update page %s: %w", post.ID, err)
			}
			sum.Updated++
			log.Debug("title updated", logx.String("page", post.ID), logx.String("title", change.Title))
		}
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("scan editorial calendar: %w", err)
	}

	log.Info("editorial check done",
		logx.Int("analyzed", sum.Analyzed),
		logx.Int("alerts_added", sum.Added),
		logx.Int("alerts_removed", sum.Removed),
		logx.Int("updated", sum.Updated),
		logx.Bool("dry_run", d.Options.Editorial.DryRun),
	)
	return sum, nil
}
