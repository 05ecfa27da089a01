package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"postbot/internal/recurrence"
)

// flexID accepts a JSON number or string; WebApp clients send either.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// request is the union of every endpoint's body fields.
type request struct {
	UserID    flexID                 `json:"user_id"`
	InitData  string                 `json:"init_data"`
	Content   string                 `json:"content"`
	Datetime  string                 `json:"datetime"`
	ChannelID flexID                 `json:"channel_id"`
	Recurring *recurrence.Recurrence `json:"recurring"`
	MessageID string                 `json:"message_id"`
	Type      string                 `json:"type"`
	Active    *bool                  `json:"active"`
}
