package transport

import (
	"context"
	"strconv"
	"strings"

	"postbot/internal/errors"
)

// ChatTarget addresses a Telegram chat either by numeric id or by public
// @username. ThreadID selects a forum topic (0 if none).
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t ChatTarget) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Sender delivers text to a chat. Long texts may be split into several
// messages; the returned ref points at the first one.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

var ErrBadDestination = errors.Malformed(errors.New("invalid destination"))

// ParseTarget accepts "-1001234567890", "1234" or "@channelname".
func ParseTarget(dest string) (ChatTarget, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return ChatTarget{}, errors.WithHint(errors.Wrap(ErrBadDestination, "empty"), "use a chat id like -1001234567890 or @channelname")
	}
	if strings.HasPrefix(dest, "@") {
		name := dest[1:]
		if len(name) < 4 || strings.ContainsAny(name, " \t/@") {
			return ChatTarget{}, errors.WithHint(errors.Wrapf(ErrBadDestination, "%q", dest), "usernames are at least 4 characters")
		}
		return ChatTarget{Username: dest}, nil
	}
	id, err := strconv.ParseInt(dest, 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, errors.WithHint(errors.Wrapf(ErrBadDestination, "%q", dest), "use a chat id like -1001234567890 or @channelname")
	}
	return ChatTarget{ChatID: id}, nil
}
