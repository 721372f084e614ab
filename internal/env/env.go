// Package env resolves the environment contract shared by every step of a
// job: a fixed set of variable names that must be present and non-empty.
package env

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Contract variable names.
const (
	NotionAPIKey        = "NOTION_API_KEY"
	DBMeetings          = "DATABASE_ID_REUNIOES"
	DBAbsences          = "DATABASE_ID_AUSENCIAS"
	DBEditorialCalendar = "DATABASE_ID_CALENDARIOEDITORIAL"

	// Used only by the room check.
	DBTeam     = "DATABASE_ID_EQUIPE_GCMD"
	SlackToken = "SLACK_BOT_TOKEN"

	// NotionTokenAlias is exported to external steps alongside NOTION_API_KEY.
	NotionTokenAlias = "NOTION_TOKEN"
)

// DefaultRequired is the contract of the default job.
var DefaultRequired = []string{NotionAPIKey, DBMeetings, DBAbsences, DBEditorialCalendar}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Contract lists the variables a job requires.
type Contract struct {
	Required []string
}

// MissingError names every missing or empty variable. Values never appear in it.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing or empty environment variables: " + strings.Join(e.Names, ", ")
}

// Secrets holds resolved contract values.
type Secrets struct {
	values map[string]string
	order  []string
}

// Resolve reads every required variable through lookup (os.LookupEnv when
// nil). Whitespace-only values count as empty.
func (c Contract) Resolve(lookup LookupFunc) (Secrets, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	required := c.Required
	if required == nil {
		required = DefaultRequired
	}

	s := Secrets{values: make(map[string]string, len(required))}
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := s.values[name]; dup {
			continue
		}
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
			continue
		}
		s.values[name] = strings.TrimSpace(v)
		s.order = append(s.order, name)
	}
	if len(missing) > 0 {
		return Secrets{}, &MissingError{Names: missing}
	}
	return s, nil
}

// Get returns a resolved value.
func (s Secrets) Get(name string) string { return s.values[name] }

// Names returns the resolved names in contract order.
func (s Secrets) Names() []string { return append([]string(nil), s.order...) }

// With returns a copy that also carries the given optional variables when
// they are set and non-empty.
func (s Secrets) With(lookup LookupFunc, names ...string) Secrets {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := Secrets{values: make(map[string]string, len(s.values)+len(names)), order: append([]string(nil), s.order...)}
	for k, v := range s.values {
		out.values[k] = v
	}
	for _, name := range names {
		if _, ok := out.values[name]; ok {
			continue
		}
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			out.values[name] = strings.TrimSpace(v)
			out.order = append(out.order, name)
		}
	}
	return out
}

// Environ returns KEY=VALUE pairs for a child process, including the
// NOTION_TOKEN alias when NOTION_API_KEY is present.
func (s Secrets) Environ() []string {
	out := make([]string, 0, len(s.order)+1)
	for _, k := range s.order {
		out = append(out, k+"="+s.values[k])
	}
	if v, ok := s.values[NotionAPIKey]; ok {
		if _, set := s.values[NotionTokenAlias]; !set {
			out = append(out, NotionTokenAlias+"="+v)
		}
	}
	return out
}

// Redacted maps each resolved name to a masked form of its value.
func (s Secrets) Redacted() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = mask(v)
	}
	return out
}

// RedactedLines is Redacted as sorted "KEY=masked" lines.
func (s Secrets) RedactedLines() []string {
	r := s.Redacted()
	out := make([]string, 0, len(r))
	for k, v := range r {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func mask(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// NotionCredentials is the credential set the builtin checks use.
type NotionCredentials struct {
	APIKey            string `validate:"required,min=8"`
	MeetingsDB        string `validate:"required,notion_id"`
	AbsencesDB        string `validate:"required,notion_id"`
	EditorialCalendar string `validate:"required,notion_id"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notion_id", func(fl validator.FieldLevel) bool {
		return IsNotionID(fl.Field().String())
	})
	return v
}

// Credentials extracts and validates the Notion credential set.
func (s Secrets) Credentials() (NotionCredentials, error) {
	c := NotionCredentials{
		APIKey:            s.Get(NotionAPIKey),
		MeetingsDB:        s.Get(DBMeetings),
		AbsencesDB:        s.Get(DBAbsences),
		EditorialCalendar: s.Get(DBEditorialCalendar),
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+"("+fe.Tag()+")")
			}
			return NotionCredentials{}, fmt.Errorf("invalid notion credentials: %s", strings.Join(fields, ", "))
		}
		return NotionCredentials{}, fmt.Errorf("invalid notion credentials: %w", err)
	}
	return c, nil
}

// IsNotionID accepts 32 hex digits with or without the 8-4-4-4-12 dashes.
func IsNotionID(id string) bool {
	id = strings.ReplaceAll(strings.TrimSpace(id), "-", "")
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
