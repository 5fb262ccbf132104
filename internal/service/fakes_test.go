package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/repository"
	"github.com/stretchr/testify/require"
)

var (
	errBoom     = errors.New("boom")
	errRollback = errors.New("rollback failed")
	tickTime    = time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)
	startTime   = time.Date(2025, 10, 2, 8, 30, 0, 0, time.UTC)
)

// testStore wraps a real SQLite store and lets tests inject failures.
type testStore struct {
	repository.Store

	mu            sync.Mutex
	insertErr     func(msg *domain.Message) error
	markErr       error
	stopOthersErr error
	listErr       map[string]error
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	store, err := repository.NewSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &testStore{Store: store, listErr: map[string]error{}}
}

func (s *testStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	hook := s.insertErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(msg); err != nil {
			return err
		}
	}
	return s.Store.InsertMessage(ctx, msg)
}

func (s *testStore) MarkSessionAsStopped(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	return s.Store.MarkSessionAsStopped(ctx, id, endedAt)
}

func (s *testStore) StopOtherActiveSessionsForUser(ctx context.Context, userID string, endedAt time.Time, excludeID string) (int64, error) {
	if s.stopOthersErr != nil {
		return 0, s.stopOthersErr
	}
	return s.Store.StopOtherActiveSessionsForUser(ctx, userID, endedAt, excludeID)
}

func (s *testStore) ListMessagesForSession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.Lock()
	err := s.listErr[sessionID]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.ListMessagesForSession(ctx, sessionID)
}

func (s *testStore) seed(t *testing.T, id, userID string, threadID *string, due *time.Time) *domain.Session {
	t.Helper()
	session, err := s.CreateSession(context.Background(), repository.CreateSessionParams{
		ID:             id,
		UserID:         userID,
		ChannelID:      "channel-" + userID,
		ThreadID:       threadID,
		CadenceMinutes: 20,
		StartedAt:      startTime,
		NextPromptDue:  due,
	})
	require.NoError(t, err)
	return session
}

func (s *testStore) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	session, err := s.GetSessionByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}

func (s *testStore) messages(t *testing.T, sessionID string) []domain.Message {
	t.Helper()
	msgs, err := s.Store.ListMessagesForSession(context.Background(), sessionID)
	require.NoError(t, err)
	return msgs
}

type fakeDelivery struct {
	mu         sync.Mutex
	threads    []ThreadParams
	messages   []OutgoingMessage
	threadID   string
	threadErr  error
	messageErr map[string]error // by target
	timestamp  string
	seq        int
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{threadID: "thread-1", messageErr: map[string]error{}}
}

func (d *fakeDelivery) CreateThread(_ context.Context, params ThreadParams) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threads = append(d.threads, params)
	if d.threadErr != nil {
		return "", d.threadErr
	}
	return d.threadID, nil
}

func (d *fakeDelivery) CreateMessage(_ context.Context, msg OutgoingMessage) (*DeliveredMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.messageErr[msg.Target]; err != nil {
		return nil, err
	}
	d.messages = append(d.messages, msg)
	d.seq++
	return &DeliveredMessage{ID: fmt.Sprintf("msg-%d", d.seq), Timestamp: d.timestamp}, nil
}

func (d *fakeDelivery) sent() []OutgoingMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]OutgoingMessage(nil), d.messages...)
}

type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []GenerationRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerationRequest) (*GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &GenerationResult{Text: g.text, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func ptr[T any](v T) *T { return &v }
