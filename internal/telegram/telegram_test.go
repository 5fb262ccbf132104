package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/handler"
	"github.com/set-night/progressmate/internal/repository"
	"github.com/set-night/progressmate/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []*bot.SendMessageParams
	topics   []*bot.CreateForumTopicParams
	sendErr  error
	topicErr error
	date     int
}

func (f *fakeAPI) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	return &models.Message{ID: 100 + len(f.sent), Date: f.date}, nil
}

func (f *fakeAPI) CreateForumTopic(_ context.Context, params *bot.CreateForumTopicParams) (*models.ForumTopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topicErr != nil {
		return nil, f.topicErr
	}
	f.topics = append(f.topics, params)
	return &models.ForumTopic{MessageThreadID: 77, Name: params.Name}, nil
}

func (f *fakeAPI) messages() []*bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*bot.SendMessageParams(nil), f.sent...)
}

func TestTargetRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want Target
	}{
		{"-1001234", Target{ChatID: -1001234}},
		{"-1001234:55", Target{ChatID: -1001234, TopicID: 55}},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}

	_, err := ParseTarget("general")
	assert.Error(t, err)
	_, err = ParseTarget("-100:topic")
	assert.Error(t, err)
}

func TestDeliverySendsToTopicWithMention(t *testing.T) {
	api := &fakeAPI{date: 1759395601}
	d := NewDelivery(api)

	msg, err := d.CreateMessage(context.Background(), service.OutgoingMessage{
		Target:        "-100:77",
		Content:       "How is it going?",
		MentionUserID: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "101", msg.ID)
	assert.Equal(t, "2025-10-02T09:00:01Z", msg.Timestamp)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].ChatID)
	assert.Equal(t, 77, sent[0].MessageThreadID)
	assert.Equal(t, "Check-in\nHow is it going?", sent[0].Text)
	require.Len(t, sent[0].Entities, 1)
	assert.Equal(t, models.MessageEntityTypeTextMention, sent[0].Entities[0].Type)
	assert.Equal(t, len("Check-in"), sent[0].Entities[0].Length)
	assert.Equal(t, int64(42), sent[0].Entities[0].User.ID)
}

func TestDeliveryWithoutMention(t *testing.T) {
	api := &fakeAPI{}
	msg, err := NewDelivery(api).CreateMessage(context.Background(), service.OutgoingMessage{Target: "-100", Content: "hi"})
	require.NoError(t, err)
	assert.Empty(t, msg.Timestamp)

	sent := api.messages()
	assert.Equal(t, "hi", sent[0].Text)
	assert.Empty(t, sent[0].Entities)
	assert.Zero(t, sent[0].MessageThreadID)
}

func TestDeliveryErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"forbidden", fmt.Errorf("%w, bot was kicked", bot.ErrorForbidden), http.StatusForbidden},
		{"bad request", fmt.Errorf("%w, chat not found", bot.ErrorBadRequest), http.StatusBadRequest},
		{"other", errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{sendErr: tt.err}
			_, err := NewDelivery(api).CreateMessage(context.Background(), service.OutgoingMessage{Target: "1", Content: "x"})

			var delivery *domain.DeliveryError
			require.True(t, errors.As(err, &delivery))
			assert.Equal(t, tt.status, delivery.Status)
			assert.Equal(t, "send message", delivery.Op)
		})
	}

	_, err := NewDelivery(&fakeAPI{}).CreateMessage(context.Background(), service.OutgoingMessage{Target: "nope"})
	var delivery *domain.DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, http.StatusBadRequest, delivery.Status)
}

func TestCreateThreadOpensTopic(t *testing.T) {
	api := &fakeAPI{}
	id, err := NewDelivery(api).CreateThread(context.Background(), service.ThreadParams{Parent: "-100:5", Name: "focus-progress-202510020900"})
	require.NoError(t, err)
	assert.Equal(t, "-100:77", id)
	require.Len(t, api.topics, 1)
	assert.Equal(t, int64(-100), api.topics[0].ChatID)
}

func TestCreateThreadFallsBackToChat(t *testing.T) {
	api := &fakeAPI{topicErr: fmt.Errorf("%w, the chat is not a forum", bot.ErrorBadRequest)}
	id, err := NewDelivery(api).CreateThread(context.Background(), service.ThreadParams{Parent: "555", Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "555", id)
}

func TestCreateThreadForbidden(t *testing.T) {
	api := &fakeAPI{topicErr: fmt.Errorf("%w, not enough rights", bot.ErrorForbidden)}
	_, err := NewDelivery(api).CreateThread(context.Background(), service.ThreadParams{Parent: "555", Name: "x"})
	var delivery *domain.DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, http.StatusForbidden, delivery.Status)
	assert.Equal(t, "create topic", delivery.Op)
}

func TestParseStartArgs(t *testing.T) {
	tests := []struct {
		args    string
		cadence *int
		title   string
	}{
		{"", nil, ""},
		{"30", intPtr(30), ""},
		{"30 write thesis", intPtr(30), "write thesis"},
		{"write thesis", nil, "write thesis"},
		{"0 chores", nil, "chores"},
		{"-5 chores", nil, "chores"},
		{"99999999999999999999 chores", intPtr(config.MaxCadenceMinutes + 1), "chores"},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			cadence, title := parseStartArgs(tt.args)
			assert.Equal(t, tt.cadence, cadence)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, "finished intro", commandArgs("/progress@progress_bot  finished intro "))
	assert.Equal(t, "", commandArgs("/stop"))
	assert.Equal(t, "plain", commandArgs("plain"))
	assert.Equal(t, "chapter one", commandArgs("/progress\nchapter one"))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text, name, mention, args string
	}{
		{"/start", "start", "", ""},
		{"/Start@Progress_Bot 30 thesis", "start", "Progress_Bot", "30 thesis"},
		{"/startfoo", "startfoo", "", ""},
		{"  /stop  ", "stop", "", ""},
		{"hello /start", "", "", "hello /start"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, mention, args := ParseCommand(tt.text)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.mention, mention)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCommandMatching(t *testing.T) {
	c := NewCommands(nil, "@progress_bot")
	msg := func(text string) *models.Update {
		return &models.Update{Message: &models.Message{Text: text}}
	}

	start := c.matches("start")
	assert.True(t, start(msg("/start")))
	assert.True(t, start(msg("/start 30 thesis")))
	assert.True(t, start(msg("/start@progress_bot 30 thesis")))
	assert.True(t, start(msg("/START@Progress_Bot")))
	assert.False(t, start(msg("/startfoo")))
	assert.False(t, start(msg("/start@otherbot 30 thesis")))
	assert.False(t, start(msg("start")))
	assert.False(t, start(&models.Update{}))
	assert.False(t, start(nil))

	assert.True(t, c.matches("stop")(msg("/STOP")))
	assert.False(t, c.matches("stop")(msg("/stopwatch")))
	assert.True(t, c.matches("progress")(msg("/progress@progress_bot done")))
	assert.False(t, c.matches("progress")(msg("/progress_report done")))
}

func TestCommandMatchingWithoutKnownUsername(t *testing.T) {
	c := NewCommands(nil, "")
	start := c.matches("start")
	assert.True(t, start(&models.Update{Message: &models.Message{Text: "/start"}}))
	assert.False(t, start(&models.Update{Message: &models.Message{Text: "/start@anybot"}}))
}

func TestCommandsFlow(t *testing.T) {
	store, err := repository.NewSQLite(filepath.Join(t.TempDir(), "telegram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	api := &fakeAPI{date: 1759395600}
	tasks := service.NewTaskRunner(time.Second)
	commands := NewCommands(handler.New(handler.Deps{
		Sessions: service.NewSessionService(store, NewDelivery(api), nil, nil),
		Store:    store,
		Tasks:    tasks,
		Now:      func() time.Time { return time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC) },
	}), "progress_bot")

	ctx := context.Background()
	update := func(text string) *models.Update {
		return &models.Update{Message: &models.Message{
			ID:   9,
			Chat: models.Chat{ID: -100},
			From: &models.User{ID: 42, Username: "ana"},
			Text: text,
		}}
	}

	commands.handle(ctx, api, update("/start 15 thesis"), commands.handleStart)
	session, err := store.GetActiveSessionForUser(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 15, session.CadenceMinutes)
	assert.Equal(t, "-100", session.ChannelID)
	require.NotNil(t, session.ThreadID)
	assert.Equal(t, "-100:77", *session.ThreadID)

	sent := api.messages()
	reply := sent[len(sent)-1]
	assert.Equal(t, int64(-100), reply.ChatID)
	assert.Equal(t, "Session started. Reminders will arrive about every 15 minutes.", reply.Text)
	require.NotNil(t, reply.ReplyParameters)
	assert.Equal(t, 9, reply.ReplyParameters.MessageID)

	commands.handle(ctx, api, update("/progress chapter one done"), commands.handleProgress)
	require.NoError(t, tasks.Wait(ctx))

	msgs, err := store.ListMessagesForSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	commands.handle(ctx, api, update("/stop"), commands.handleStop)
	session, err = store.GetActiveSessionForUser(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestHandleIgnoresNonMessageUpdates(t *testing.T) {
	api := &fakeAPI{}
	c := NewCommands(nil, "")
	c.handle(context.Background(), api, &models.Update{}, func(context.Context, *models.Message) handler.Reply {
		t.Fatal("should not be called")
		return handler.Reply{}
	})
	assert.Empty(t, api.messages())
}

func TestOpsLogger(t *testing.T) {
	api := &fakeAPI{}
	logger := NewOpsLogger(api, -500, 3)
	logger.now = func() time.Time { return time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC) }

	logger.LogError(errors.New("db down"), "start session")
	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-500), sent[0].ChatID)
	assert.Equal(t, 3, sent[0].MessageThreadID)
	assert.Equal(t, "Error\n\nContext: start session\nError: db down\nTime: 2025-10-02 09:00:00", sent[0].Text)

	disabled := NewOpsLogger(api, 0, 3)
	assert.False(t, disabled.Enabled())
	disabled.LogError(errors.New("ignored"), "x")
	assert.Len(t, api.messages(), 1)

	var nilLogger *OpsLogger
	assert.NotPanics(t, func() { nilLogger.LogError(errors.New("x"), "y") })
}

func intPtr(v int) *int { return &v }
