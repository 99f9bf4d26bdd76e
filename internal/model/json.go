package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var (
	configFields   = jsonFields(reflect.TypeOf(DashboardConfig{}))
	settingsFields = jsonFields(reflect.TypeOf(Settings{}))
	categoryFields = jsonFields(reflect.TypeOf(Category{}))
	linkFields     = jsonFields(reflect.TypeOf(Link{}))
	calendarFields = jsonFields(reflect.TypeOf(CalendarSource{}))
	eventFields    = jsonFields(reflect.TypeOf(ManualEvent{}))
)

// jsonFields collects the JSON names of a struct's tagged fields.
func jsonFields(t reflect.Type) map[string]bool {
	fields := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = true
	}
	return fields
}

// splitExtra returns the members of a JSON object that are not known fields.
func splitExtra(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range all {
		if known[k] {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// joinExtra marshals v and adds extra members that v did not produce.
func joinExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

func (c *DashboardConfig) UnmarshalJSON(data []byte) error {
	type plain DashboardConfig
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	extra, err := splitExtra(data, configFields)
	c.Extra = extra
	return err
}

func (c DashboardConfig) MarshalJSON() ([]byte, error) {
	type plain DashboardConfig
	return joinExtra(plain(c), c.Extra)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	extra, err := splitExtra(data, settingsFields)
	s.Extra = extra
	return err
}

func (s Settings) MarshalJSON() ([]byte, error) {
	type plain Settings
	return joinExtra(plain(s), s.Extra)
}

func (c *Category) UnmarshalJSON(data []byte) error {
	type plain Category
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	extra, err := splitExtra(data, categoryFields)
	c.Extra = extra
	return err
}

func (c Category) MarshalJSON() ([]byte, error) {
	type plain Category
	return joinExtra(plain(c), c.Extra)
}

func (l *Link) UnmarshalJSON(data []byte) error {
	type plain Link
	if err := json.Unmarshal(data, (*plain)(l)); err != nil {
		return err
	}
	extra, err := splitExtra(data, linkFields)
	l.Extra = extra
	return err
}

func (l Link) MarshalJSON() ([]byte, error) {
	type plain Link
	return joinExtra(plain(l), l.Extra)
}

func (c *CalendarSource) UnmarshalJSON(data []byte) error {
	type plain CalendarSource
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	extra, err := splitExtra(data, calendarFields)
	c.Extra = extra
	return err
}

func (c CalendarSource) MarshalJSON() ([]byte, error) {
	type plain CalendarSource
	return joinExtra(plain(c), c.Extra)
}

func (e *ManualEvent) UnmarshalJSON(data []byte) error {
	type plain ManualEvent
	aux := struct {
		*plain
		Date json.RawMessage `json:"date"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	date, numeric, err := decodeEventDate(aux.Date)
	if err != nil {
		return err
	}
	e.Date, e.numericDate = date, numeric
	extra, err := splitExtra(data, eventFields)
	e.Extra = extra
	return err
}

func (e ManualEvent) MarshalJSON() ([]byte, error) {
	type plain ManualEvent
	aux := struct {
		plain
		Date any `json:"date"`
	}{plain: plain(e), Date: e.Date}
	if e.numericDate {
		aux.Date = json.Number(e.Date)
	}
	return joinExtra(aux, e.Extra)
}

// decodeEventDate accepts a JSON string, a JSON number or null.
func decodeEventDate(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return "", false, nil
	case raw[0] == '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, false, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false, fmt.Errorf("event date: %w", err)
	}
	return n.String(), true, nil
}
