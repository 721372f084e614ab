package notion

import (
	"fmt"
	"strings"
	"time"
)

func (p Page) prop(name string) (Property, bool) {
	v, ok := p.Properties[name]
	return v, ok
}

// Text joins the plain text of a title or rich_text property.
func (p Page) Text(name string) string {
	v, ok := p.prop(name)
	if !ok {
		return ""
	}
	parts := v.Title
	if v.Type == "rich_text" || (len(parts) == 0 && len(v.RichText) > 0) {
		parts = v.RichText
	}
	var b strings.Builder
	for _, t := range parts {
		b.WriteString(t.PlainText)
	}
	return b.String()
}

// SelectName returns the option name of a select or status property.
func (p Page) SelectName(name string) string {
	v, ok := p.prop(name)
	if !ok {
		return ""
	}
	switch {
	case v.Select != nil:
		return v.Select.Name
	case v.Status != nil:
		return v.Status.Name
	}
	return ""
}

// People returns the users of a people property.
func (p Page) People(name string) []User {
	v, ok := p.prop(name)
	if !ok {
		return nil
	}
	return v.People
}

// Email returns the value of an email property.
func (p Page) Email(name string) string {
	v, ok := p.prop(name)
	if !ok || v.Email == nil {
		return ""
	}
	return strings.TrimSpace(*v.Email)
}

// Date returns the raw date value of a date property, or nil when empty.
func (p Page) Date(name string) *DateValue {
	v, ok := p.prop(name)
	if !ok || v.Date == nil || strings.TrimSpace(v.Date.Start) == "" {
		return nil
	}
	return v.Date
}

// StartTime parses Start. Date-only values are midnight in loc.
func (d *DateValue) StartTime(loc *time.Location) (time.Time, error) {
	if d == nil {
		return time.Time{}, fmt.Errorf("empty date")
	}
	return ParseTime(d.Start, loc)
}

// EndTime parses End. ok is false when the value has no end.
func (d *DateValue) EndTime(loc *time.Location) (t time.Time, ok bool, err error) {
	if d == nil || d.End == nil || strings.TrimSpace(*d.End) == "" {
		return time.Time{}, false, nil
	}
	t, err = ParseTime(*d.End, loc)
	return t, err == nil, err
}

// ParseTime accepts "2006-01-02" and RFC 3339 with optional fractional seconds.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	if len(s) == len(time.DateOnly) {
		return time.ParseInLocation(time.DateOnly, s, loc)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// Datetime without offset.
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, loc)
}

// TitleValue builds the property payload that replaces a title.
func TitleValue(text string) Property {
	return Property{Title: []RichText{{Type: "text", Text: &Text{Content: text}}}}
}
