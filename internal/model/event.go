package model

import (
	"fmt"
	"strconv"
	"time"
)

// manualDateLayouts are the date formats the frontend is known to write.
// Layouts without a zone are read in the caller's location.
var manualDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses the stored date of a manual event.
func (e ManualEvent) Time(loc *time.Location) (time.Time, error) {
	if ms, err := strconv.ParseInt(e.Date, 10, 64); err == nil {
		return time.UnixMilli(ms).In(loc), nil
	}
	if e.numericDate {
		if ms, err := strconv.ParseFloat(e.Date, 64); err == nil {
			return time.UnixMilli(int64(ms)).In(loc), nil
		}
	}
	for _, layout := range manualDateLayouts {
		if t, err := time.ParseInLocation(layout, e.Date, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised event date %q", e.Date)
}

// Summary converts a dialog into the unread summary served to clients.
func (d Dialog) Summary() UnreadChat {
	chat := UnreadChat{
		ID:      d.ID,
		MsgID:   d.LastMsgID,
		Name:    d.Title,
		Count:   d.UnreadCount,
		Message: d.LastMessage,
		Date:    d.Date.UnixMilli(),
	}
	if chat.Name == "" {
		chat.Name = "Unknown"
	}
	if chat.Message == "" {
		chat.Message = "[Media]"
	}
	return chat
}
