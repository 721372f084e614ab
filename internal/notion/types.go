package notion

import (
	"fmt"
	"strings"
	"time"
)

// Page is a database row as returned by the query endpoint.
type Page struct {
	Object     string              `json:"object"`
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	CreatedBy  User                `json:"created_by"`
	Properties map[string]Property `json:"properties"`
}

type User struct {
	Object string `json:"object,omitempty"`
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
}

type RichText struct {
	Type      string `json:"type,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
	Text      *Text  `json:"text,omitempty"`
}

type Text struct {
	Content string `json:"content"`
}

type Option struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// DateValue holds ISO 8601 strings: either a date ("2024-05-06") or a
// date-time with offset.
type DateValue struct {
	Start    string  `json:"start"`
	End      *string `json:"end"`
	TimeZone *string `json:"time_zone,omitempty"`
}

// Property is the subset of Notion property values the checks read.
type Property struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Select   *Option    `json:"select,omitempty"`
	Status   *Option    `json:"status,omitempty"`
	People   []User     `json:"people,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
	Email    *string    `json:"email,omitempty"`
}

// Query is the body of POST /databases/{id}/query.
type Query struct {
	Filter      *Filter `json:"filter,omitempty"`
	Sorts       []Sort  `json:"sorts,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

// Filter is a property filter or a compound "and".
type Filter struct {
	And      []Filter       `json:"and,omitempty"`
	Property string         `json:"property,omitempty"`
	Date     *DateCondition `json:"date,omitempty"`
}

type DateCondition struct {
	IsNotEmpty bool   `json:"is_not_empty,omitempty"`
	OnOrAfter  string `json:"on_or_after,omitempty"`
	OnOrBefore string `json:"on_or_before,omitempty"`
}

type Sort struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

// And combines filters.
func And(filters ...Filter) *Filter { return &Filter{And: filters} }

// DateNotEmpty matches pages whose date property is set.
func DateNotEmpty(prop string) Filter {
	return Filter{Property: prop, Date: &DateCondition{IsNotEmpty: true}}
}

// DateBetween matches pages whose date property falls in [from, to] (dates only).
func DateBetween(prop string, from, to time.Time) *Filter {
	return And(
		Filter{Property: prop, Date: &DateCondition{OnOrAfter: from.Format(time.DateOnly)}},
		Filter{Property: prop, Date: &DateCondition{OnOrBefore: to.Format(time.DateOnly)}},
	)
}

type queryResponse struct {
	Object     string  `json:"object"`
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" && e.Message == "" {
		return fmt.Sprintf("notion: http %d", e.Status)
	}
	return fmt.Sprintf("notion: http %d %s: %s", e.Status, e.Code, strings.TrimSpace(e.Message))
}
