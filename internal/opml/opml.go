// Package opml imports and exports dashboard links and calendar sources as
// OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/homedash/internal/model"
)

// Outline types written on export. Import accepts any type.
const (
	TypeLink     = "link"
	TypeCalendar = "ical"
)

// UncategorizedTitle names the category that collects links found outside
// any folder.
const UncategorizedTitle = "Links"

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder, a link or a calendar feed. Icon and Description are
// extension attributes.
type Outline struct {
	Text        string    `xml:"text,attr"`
	Title       string    `xml:"title,attr,omitempty"`
	Type        string    `xml:"type,attr,omitempty"`
	XMLURL      string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL     string    `xml:"htmlUrl,attr,omitempty"`
	Icon        string    `xml:"icon,attr,omitempty"`
	Description string    `xml:"description,attr,omitempty"`
	Outlines    []Outline `xml:"outline,omitempty"`
}

func (o Outline) name() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Text
}

// Document is the dashboard content found in an OPML file.
type Document struct {
	Title      string
	Categories []model.Category
	Calendars  []model.CalendarSource
}

// Parse reads an OPML document. Outlines with an xmlUrl become calendar
// sources wherever they appear; outlines with only an htmlUrl become links
// in the category named by their folder path.
func Parse(r io.Reader) (*Document, error) {
	var raw OPML
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	doc := &Document{Title: raw.Head.Title}
	index := make(map[string]int)
	addLink := func(category string, link model.Link) {
		i, ok := index[category]
		if !ok {
			i = len(doc.Categories)
			index[category] = i
			doc.Categories = append(doc.Categories, model.Category{Title: category})
		}
		doc.Categories[i].Items = append(doc.Categories[i].Items, link)
	}

	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			switch {
			case o.XMLURL != "":
				doc.Calendars = append(doc.Calendars, model.CalendarSource{
					URL:  o.XMLURL,
					Name: o.name(),
					Icon: o.Icon,
				})
			case o.HTMLURL != "":
				category := strings.Join(path, "/")
				if category == "" {
					category = UncategorizedTitle
				}
				addLink(category, model.Link{
					Name: o.name(),
					URL:  o.HTMLURL,
					Icon: o.Icon,
					Desc: o.Description,
				})
			case len(o.Outlines) > 0:
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(raw.Body.Outlines, nil)
	return doc, nil
}

// ApplyTo merges the document into cfg. Links join the category with the
// same title; links and calendars whose URL is already present are skipped.
// It returns how many links and calendars were added.
func (d *Document) ApplyTo(cfg *model.DashboardConfig) (links, calendars int) {
	byTitle := make(map[string]int, len(cfg.Categories))
	seenLinks := make(map[string]bool)
	for i, c := range cfg.Categories {
		byTitle[c.Title] = i
		for _, item := range c.Items {
			seenLinks[item.URL] = true
		}
	}

	for _, c := range d.Categories {
		i, ok := byTitle[c.Title]
		if !ok {
			i = len(cfg.Categories)
			byTitle[c.Title] = i
			cfg.Categories = append(cfg.Categories, model.Category{Title: c.Title, Items: []model.Link{}})
		}
		for _, item := range c.Items {
			if seenLinks[item.URL] {
				continue
			}
			seenLinks[item.URL] = true
			cfg.Categories[i].Items = append(cfg.Categories[i].Items, item)
			links++
		}
	}

	seenCalendars := make(map[string]bool, len(cfg.Settings.Calendars))
	for _, c := range cfg.Settings.Calendars {
		seenCalendars[c.URL] = true
	}
	for _, c := range d.Calendars {
		if seenCalendars[c.URL] {
			continue
		}
		seenCalendars[c.URL] = true
		cfg.Settings.Calendars = append(cfg.Settings.Calendars, c)
		calendars++
	}
	return links, calendars
}

// Export renders a dashboard's categories as folders of links followed by
// its calendar sources.
func Export(cfg *model.DashboardConfig, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       cfg.Settings.Title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}

	for _, c := range cfg.Categories {
		folder := Outline{Text: c.Title, Title: c.Title}
		for _, item := range c.Items {
			folder.Outlines = append(folder.Outlines, Outline{
				Text:        item.Name,
				Title:       item.Name,
				Type:        TypeLink,
				HTMLURL:     item.URL,
				Icon:        item.Icon,
				Description: item.Desc,
			})
		}
		doc.Body.Outlines = append(doc.Body.Outlines, folder)
	}
	for _, c := range cfg.Settings.Calendars {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   c.DisplayName(),
			Title:  c.Name,
			Type:   TypeCalendar,
			XMLURL: c.URL,
			Icon:   c.Icon,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
