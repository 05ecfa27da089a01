package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"postbot/internal/errors"
	"postbot/internal/eventbus"
	"postbot/internal/task/engine"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type fakeBot struct {
	sent  []string
	rcpts []string
	opts  []*tele.SendOptions
	err   error

	// failCall makes the n-th Send (1-based) fail once with failErr.
	calls    int
	failCall int
	failErr  error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls == f.failCall {
		return nil, f.failErr
	}
	f.sent = append(f.sent, what.(string))
	f.rcpts = append(f.rcpts, to.Recipient())
	if len(opts) > 0 {
		f.opts = append(f.opts, opts[0].(*tele.SendOptions))
	}
	return &tele.Message{ID: len(f.sent), Chat: &tele.Chat{ID: -100777}}, nil
}

func TestSendTextByIDAndUsername(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	a := &Adapter{log: logx.Nop(), api: bot}

	ref, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: -100777}, "hello", &transport.SendOptions{Silent: true})
	require.NoError(t, err)
	assert.Equal(t, 1, ref.MessageID)
	assert.Equal(t, int64(-100777), ref.ChatID)

	_, err = a.SendText(context.Background(), transport.ChatTarget{Username: "@mychannel"}, "hi", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"-100777", "@mychannel"}, bot.rcpts)
	assert.True(t, bot.opts[0].DisableNotification)
}

func TestSendTextSplitsLongPosts(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	a := &Adapter{log: logx.Nop(), api: bot}

	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	ref, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, text, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ref.MessageID)
	require.Len(t, bot.sent, 2)
	assert.Equal(t, strings.Repeat("a", 3000), bot.sent[0])
	assert.Equal(t, strings.Repeat("b", 3000), bot.sent[1])
}

func TestSendTextRejectsEmptyTarget(t *testing.T) {
	t.Parallel()

	a := &Adapter{log: logx.Nop(), api: &fakeBot{}}
	_, err := a.SendText(context.Background(), transport.ChatTarget{}, "x", nil)
	assert.True(t, errors.Is(err, transport.ErrBadDestination))
}

func TestSendTextClassifiesPermanentErrors(t *testing.T) {
	t.Parallel()

	a := &Adapter{log: logx.Nop(), api: &fakeBot{err: tele.ErrChatNotFound}}
	_, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, "x", nil)

	var perm *PermanentError
	require.True(t, errors.As(err, &perm))
	assert.True(t, errors.Is(err, tele.ErrChatNotFound))
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"short"}, splitText("short", 10, ""))

	got := splitText(strings.Repeat("x", 25), 10, "")
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, got)

	got = splitText("12345678<b>bold</b>", 10, tele.ModeHTML)
	assert.Equal(t, "12345678", got[0])
	assert.Equal(t, "<b>bold</b>", strings.Join(got[1:], ""))
}

func TestSendTextFailureAfterFirstChunkIsPermanent(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failCall: 2, failErr: errors.New("connection reset")}
	a := &Adapter{log: logx.Nop(), api: bot}

	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3001)
	ref, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, text, nil)
	require.Error(t, err)
	assert.Equal(t, 1, ref.MessageID)
	assert.Equal(t, []string{strings.Repeat("a", 3000)}, bot.sent)

	var perm *PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Contains(t, err.Error(), "1 of 2 chunks sent")
}

func TestSendTextFirstChunkFailureStaysRetryable(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failCall: 1, failErr: errors.New("connection reset")}
	a := &Adapter{log: logx.Nop(), api: bot}

	_, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, strings.Repeat("a", 5000), nil)
	require.Error(t, err)
	var perm *PermanentError
	assert.False(t, errors.As(err, &perm))
	assert.Empty(t, bot.sent)
}

// A long post that fails mid-way is not resent from the start by the engine.
func TestLongPostIsNotDuplicatedOnRetry(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failCall: 2, failErr: errors.New("connection reset")}
	a := &Adapter{log: logx.Nop(), api: bot}

	bus := eventbus.New()
	eng := engine.New(engine.Config{Workers: 1, RetryMax: 3}, logx.Nop(), bus)
	eng.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	}()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3001)
	require.NoError(t, eng.Enqueue(engine.Task{
		Name: "deliver.one_shot",
		Opt:  engine.TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Run: func(ctx context.Context, _ int) error {
			_, err := a.SendText(ctx, transport.ChatTarget{ChatID: 1}, text, nil)
			var perm interface{ Permanent() bool }
			if errors.As(err, &perm) {
				return engine.NoRetry(err)
			}
			return err
		},
	}))

	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TaskFailed && ev.Type != eventbus.TaskFinished {
				continue
			}
			assert.Equal(t, eventbus.TaskFailed, ev.Type)
			assert.Equal(t, 1, ev.Data.(engine.HistoryItem).Attempts)
			assert.Equal(t, []string{strings.Repeat("a", 3000)}, bot.sent)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("task did not finish")
		}
	}
}
