package notion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "agendawatch/pkg/logx"
)

func logxNop() logx.Logger { return logx.Nop() }

const samplePage = `{
  "object": "page",
  "id": "p1",
  "url": "https://www.notion.so/p1",
  "created_by": {"object": "user", "id": "u9"},
  "properties": {
    "Name": {"type": "title", "title": [{"plain_text": "Post "}, {"plain_text": "A"}]},
    "Local": {"type": "rich_text", "rich_text": [{"plain_text": "Sala GCMD"}]},
    "Status": {"type": "status", "status": {"name": "Publicado"}},
    "Status - YouTube": {"type": "select", "select": null},
    "Responsável": {"type": "people", "people": [{"id": "u1", "name": "Ana"}]},
    "Veiculação": {"type": "date", "date": {"start": "2024-05-06", "end": null}},
    "Data": {"type": "date", "date": {"start": "2024-05-06T10:00:00.000-03:00", "end": "2024-05-06T11:30:00.000-03:00"}},
    "E-mail": {"type": "email", "email": " ana@example.org "}
  }
}`

func TestPageAccessors(t *testing.T) {
	t.Parallel()
	var p Page
	require.NoError(t, json.Unmarshal([]byte(samplePage), &p))

	assert.Equal(t, "Post A", p.Text("Name"))
	assert.Equal(t, "Sala GCMD", p.Text("Local"))
	assert.Equal(t, "", p.Text("Missing"))
	assert.Equal(t, "Publicado", p.SelectName("Status"))
	assert.Equal(t, "", p.SelectName("Status - YouTube"))
	assert.Equal(t, "u9", p.CreatedBy.ID)
	require.Len(t, p.People("Responsável"), 1)
	assert.Equal(t, "Ana", p.People("Responsável")[0].Name)
	assert.Equal(t, "ana@example.org", p.Email("E-mail"))

	d := p.Date("Veiculação")
	require.NotNil(t, d)
	start, err := d.StartTime(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), start)
	_, ok, err := d.EndTime(time.UTC)
	require.NoError(t, err)
	assert.False(t, ok)

	r := p.Date("Data")
	end, ok, err := r.EndTime(time.UTC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC), end.UTC())
}

func TestParseTimeVariants(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("BRT", -3*3600)
	got, err := ParseTime("2024-05-06T09:15:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 12, got.UTC().Hour())

	got, err = ParseTime("2024-05-06T09:15:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, 9, got.UTC().Hour())

	_, err = ParseTime("not a date", loc)
	assert.Error(t, err)
}

func TestDateBetweenFilter(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 5, 5, 23, 0, 0, 0, time.UTC)
	to := from.Add(14 * 24 * time.Hour)
	raw, err := json.Marshal(Query{Filter: DateBetween("Data", from, to), Sorts: []Sort{{Property: "Data", Direction: "ascending"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{
	  "filter": {"and": [
	    {"property": "Data", "date": {"on_or_after": "2024-05-05"}},
	    {"property": "Data", "date": {"on_or_before": "2024-05-19"}}
	  ]},
	  "sorts": [{"property": "Data", "direction": "ascending"}]
	}`, string(raw))
}
