package opml

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Home</title></head>
  <body>
    <outline text="Media">
      <outline text="Jellyfin" htmlUrl="http://192.168.1.10:8096" icon="🎬" description="movies"/>
      <outline text="Nested">
        <outline text="Sonarr" htmlUrl="http://192.168.1.10:8989"/>
      </outline>
    </outline>
    <outline text="Router" htmlUrl="http://192.168.1.1"/>
    <outline text="Holidays" type="ical" xmlUrl="webcal://example.com/holidays.ics" icon="🎉"/>
    <outline text="Blog">
      <outline text="Go blog" title="The Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
    </outline>
    <outline text="Empty folder"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	doc, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "Home", doc.Title)
	assert.Equal(t, []model.Category{
		{Title: "Media", Items: []model.Link{{Name: "Jellyfin", URL: "http://192.168.1.10:8096", Icon: "🎬", Desc: "movies"}}},
		{Title: "Media/Nested", Items: []model.Link{{Name: "Sonarr", URL: "http://192.168.1.10:8989"}}},
		{Title: UncategorizedTitle, Items: []model.Link{{Name: "Router", URL: "http://192.168.1.1"}}},
	}, doc.Categories)
	assert.Equal(t, []model.CalendarSource{
		{URL: "webcal://example.com/holidays.ics", Name: "Holidays", Icon: "🎉"},
		{URL: "https://go.dev/blog/feed.atom", Name: "The Go Blog"},
	}, doc.Calendars)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(strings.NewReader("not xml"))
	assert.ErrorContains(t, err, "decode opml")
}

func TestApplyTo(t *testing.T) {
	cfg := &model.DashboardConfig{
		Categories: []model.Category{
			{Title: "Media", Items: []model.Link{{Name: "Plex", URL: "http://192.168.1.10:32400"}}},
		},
		Settings: model.Settings{Calendars: []model.CalendarSource{{URL: "https://go.dev/blog/feed.atom"}}},
	}
	doc := &Document{
		Categories: []model.Category{
			{Title: "Media", Items: []model.Link{
				{Name: "Plex again", URL: "http://192.168.1.10:32400"},
				{Name: "Jellyfin", URL: "http://192.168.1.10:8096"},
			}},
			{Title: "Network", Items: []model.Link{{Name: "Router", URL: "http://192.168.1.1"}}},
		},
		Calendars: []model.CalendarSource{
			{URL: "https://go.dev/blog/feed.atom", Name: "dup"},
			{URL: "https://example.com/a.ics", Name: "A"},
		},
	}

	links, calendars := doc.ApplyTo(cfg)

	assert.Equal(t, 2, links)
	assert.Equal(t, 1, calendars)
	require.Len(t, cfg.Categories, 2)
	assert.Equal(t, []string{"Plex", "Jellyfin"}, []string{cfg.Categories[0].Items[0].Name, cfg.Categories[0].Items[1].Name})
	assert.Equal(t, "Network", cfg.Categories[1].Title)
	assert.Len(t, cfg.Settings.Calendars, 2)

	links, calendars = doc.ApplyTo(cfg)
	assert.Zero(t, links, "re-import adds nothing")
	assert.Zero(t, calendars)
}

func TestExport_RoundTrip(t *testing.T) {
	cfg := &model.DashboardConfig{
		Settings: model.Settings{
			Title:     "Lab",
			Calendars: []model.CalendarSource{{URL: "https://example.com/a.ics", Name: "Work", Icon: "💼"}},
		},
		Categories: []model.Category{
			{Title: "Infra", Items: []model.Link{{Name: "Proxmox", URL: "https://10.0.0.2:8006", Icon: "🖥", Desc: "hypervisor"}}},
		},
	}

	out, err := Export(cfg, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("<?xml")))
	assert.Contains(t, string(out), `<dateCreated>Sun, 18 Oct 2026 09:00:00 +0000</dateCreated>`)

	doc, err := Parse(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "Lab", doc.Title)
	assert.Equal(t, cfg.Categories, doc.Categories)
	assert.Equal(t, cfg.Settings.Calendars, doc.Calendars)
}
