// Package adapter delivers posts through the Telegram Bot API.
package adapter

import (
	"context"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/errors"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Config struct {
	Token string
}

// Adapter implements transport.Sender. It never polls for updates; the mini
// app talks to postbot over HTTP.
type Adapter struct {
	log logx.Logger
	api botAPI
}

// botAPI is the subset of *tele.Bot the adapter calls.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, errors.Wrap(err, "telegram: create bot")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	return &Adapter{log: log, api: b}, nil
}

// usernameRecipient addresses a public chat by its @username.
type usernameRecipient string

func (u usernameRecipient) Recipient() string { return string(u) }

func recipient(to transport.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return usernameRecipient(to.Username)
	}
	return &tele.Chat{ID: to.ChatID}
}

const textLimit = 4000

// SendText posts text, split into chunks under the Telegram length limit.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if to.IsZero() {
		return transport.MessageRef{}, transport.ErrBadDestination
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	rcpt := recipient(to)

	var first transport.MessageRef
	chunks := splitText(text, textLimit, opt.ParseMode)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, partial(err, i, len(chunks))
		}
		msg, err := a.api.Send(rcpt, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, partial(classify(err, to), i, len(chunks))
		}
		if i == 0 && msg != nil {
			first = transport.MessageRef{ThreadID: to.ThreadID, MessageID: msg.ID}
			if msg.Chat != nil {
				first.ChatID = msg.Chat.ID
			}
		}
	}
	return first, nil
}

// RetryAfterError reports a Telegram flood-wait.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return "telegram: flood wait " + e.After.String()
}

func (e *RetryAfterError) RetryAfter() time.Duration { return e.After }

// PermanentError wraps a failure retrying cannot fix (bad chat, bot kicked).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Permanent() bool { return true }

func classify(err error, to transport.ChatTarget) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &RetryAfterError{After: time.Duration(flood.RetryAfter) * time.Second}
	}
	if errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrKickedFromGroup) ||
		errors.Is(err, tele.ErrKickedFromSuperGroup) || errors.Is(err, tele.ErrKickedFromChannel) ||
		errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrNoRightsToSend) {
		return &PermanentError{Err: errors.Wrapf(err, "telegram: send to %s", to)}
	}
	return errors.Wrapf(err, "telegram: send to %s", to)
}

// partial marks a failure after sent chunks as permanent. Resending the
// whole text would repeat the chunks already in the chat.
func partial(err error, sent, total int) error {
	if sent == 0 {
		return err
	}
	return &PermanentError{Err: errors.Wrapf(err, "telegram: %d of %d chunks sent", sent, total)}
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, avoiding cuts inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			if html {
				open := lastIndex(rs[start:end], '<')
				shut := lastIndex(rs[start:end], '>')
				if open > shut && open > 1 {
					end = start + open
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
