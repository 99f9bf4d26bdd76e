// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"time"
)

// DefaultDashboard is the id used when a request names no dashboard.
const DefaultDashboard = "default"

// ManualSource tags events entered by hand in the dashboard document.
const ManualSource = "Manual"

// DefaultCalendarName is used for calendar sources without a display name.
const DefaultCalendarName = "Calendar"

// DashboardConfig is the per-dashboard document. Fields the backend does not
// know about are kept in Extra and written back unchanged.
type DashboardConfig struct {
	Settings   Settings      `json:"settings"`
	Categories []Category    `json:"categories,omitempty"`
	Events     []ManualEvent `json:"events,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Settings holds dashboard-wide options, including the fields that never
// leave the server (Auth, MasterPassword, TelegramSession).
type Settings struct {
	Title           string           `json:"title,omitempty"`
	Auth            *Credentials     `json:"auth,omitempty"`
	MasterPassword  string           `json:"masterPassword,omitempty"`
	TelegramSession string           `json:"telegramSession,omitempty"`
	Calendars       []CalendarSource `json:"calendars,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Credentials are the basic-auth username and password of a dashboard.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Category groups links for UI rendering.
type Category struct {
	Title string `json:"title"`
	Items []Link `json:"items"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Link is a single service tile.
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon,omitempty"`
	Desc string `json:"desc,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// CalendarSource is an external iCalendar (or RSS/Atom) feed.
type CalendarSource struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Icon string `json:"icon,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// DisplayName returns the source tag used for events from this calendar.
func (c CalendarSource) DisplayName() string {
	if c.Name == "" {
		return DefaultCalendarName
	}
	return c.Name
}

// ManualEvent is an event stored directly in the dashboard document. Date is
// either a date string or epoch milliseconds; a date written as a JSON number
// is written back as one.
type ManualEvent struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Icon string `json:"icon,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`

	numericDate bool
}

// Event is a single upcoming item as served to the frontend.
type Event struct {
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	Source      string    `json:"source"`
	Icon        string    `json:"icon,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	IsCalendar  bool      `json:"isCalendar"`
}

// UnreadChat summarises one conversation with unread messages.
type UnreadChat struct {
	ID      string `json:"id"`
	MsgID   int    `json:"msgId"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Message string `json:"message"`
	Date    int64  `json:"date"` // unix milliseconds
}

// Dialog is a conversation as reported by the messaging service, before
// filtering to unread ones.
type Dialog struct {
	ID          string
	LastMsgID   int
	Title       string
	UnreadCount int
	LastMessage string
	Date        time.Time
}

// Redacted returns a copy without credentials and the session token.
func (c DashboardConfig) Redacted() DashboardConfig {
	c.Settings.Auth = nil
	c.Settings.MasterPassword = ""
	c.Settings.TelegramSession = ""
	return c
}

// PreserveSecrets copies server-side secrets from the previously stored
// document into c. Stored credentials always win; the session token is kept
// unless c brings a new one.
func (c *DashboardConfig) PreserveSecrets(prev *DashboardConfig) {
	if prev == nil {
		return
	}
	if prev.Settings.Auth != nil {
		auth := *prev.Settings.Auth
		c.Settings.Auth = &auth
	}
	if prev.Settings.MasterPassword != "" {
		c.Settings.MasterPassword = prev.Settings.MasterPassword
	}
	if prev.Settings.TelegramSession != "" && c.Settings.TelegramSession == "" {
		c.Settings.TelegramSession = prev.Settings.TelegramSession
	}
}
