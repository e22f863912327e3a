package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/supportdesk/internal/apperr"
)

// memDriver is an in-memory Driver used to test the Store facade.
type memDriver struct {
	mu        sync.Mutex
	turns     []*Turn
	createErr error
	listErr   error
}

func (m *memDriver) GetDB() *sql.DB { return nil }

func (m *memDriver) Close() error { return nil }

func (m *memDriver) Migrate(_ context.Context) error { return nil }

func (m *memDriver) CreateTurn(_ context.Context, create *CreateTurn) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	t := &Turn{
		ID:             int64(len(m.turns) + 1),
		ConversationID: create.ConversationID,
		Sender:         create.Sender,
		Message:        create.Message,
		CreatedTs:      create.CreatedTs,
	}
	m.turns = append(m.turns, t)
	return t, nil
}

func (m *memDriver) ListTurns(_ context.Context, find *FindTurn) ([]*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Turn
	for _, t := range m.turns {
		if find.ConversationID != nil && t.ConversationID != *find.ConversationID {
			continue
		}
		if find.BeforeID != nil && t.ID >= *find.BeforeID {
			continue
		}
		out = append(out, t)
	}
	if find.Limit > 0 && len(out) > find.Limit {
		out = out[len(out)-find.Limit:]
	}
	return out, nil
}

func (m *memDriver) CountTurns(_ context.Context, conversationID *string) (int64, error) {
	list, err := m.ListTurns(context.Background(), &FindTurn{ConversationID: conversationID})
	return int64(len(list)), err
}

func TestAppendTurnValidation(t *testing.T) {
	s := New(&memDriver{}, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		create *CreateTurn
	}{
		{"bad sender", &CreateTurn{ConversationID: "c", Sender: "operator", Message: "hi"}},
		{"empty message", &CreateTurn{ConversationID: "c", Sender: SenderUser, Message: "  "}},
		{"empty conversation", &CreateTurn{Sender: SenderUser, Message: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AppendTurn(ctx, tt.create)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestAppendTurnTimestampsNeverDecrease(t *testing.T) {
	s := New(&memDriver{}, nil)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	clock := []time.Time{base, base.Add(-5 * time.Second), base.Add(time.Second)}
	i := 0
	s.now = func() time.Time {
		now := clock[i]
		i++
		return now
	}

	var got []int64
	for range clock {
		turn, err := s.AppendTurn(ctx, &CreateTurn{ConversationID: "c", Sender: SenderUser, Message: "hi"})
		require.NoError(t, err)
		got = append(got, turn.CreatedTs)
	}
	assert.Equal(t, []int64{base.UnixMilli(), base.UnixMilli(), base.Add(time.Second).UnixMilli()}, got)
}

// gatedDriver blocks inserts into one conversation until release is closed.
type gatedDriver struct {
	*memDriver
	gated   string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDriver) CreateTurn(ctx context.Context, create *CreateTurn) (*Turn, error) {
	if create.ConversationID == g.gated {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.memDriver.CreateTurn(ctx, create)
}

func TestAppendTurnDoesNotBlockOtherConversations(t *testing.T) {
	d := &gatedDriver{memDriver: &memDriver{}, gated: "slow", entered: make(chan struct{}, 2), release: make(chan struct{})}
	s := New(d, nil)
	ctx := context.Background()

	slowDone := make(chan error, 2)
	go func() {
		_, err := s.AppendTurn(ctx, &CreateTurn{ConversationID: "slow", Sender: SenderUser, Message: "first"})
		slowDone <- err
	}()
	<-d.entered

	otherDone := make(chan error, 1)
	go func() {
		_, err := s.AppendTurn(ctx, &CreateTurn{ConversationID: "other", Sender: SenderUser, Message: "hi"})
		otherDone <- err
	}()
	select {
	case err := <-otherDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("append to another conversation waited for an unrelated insert")
	}

	// A second append to the gated conversation waits for the first one.
	go func() {
		_, err := s.AppendTurn(ctx, &CreateTurn{ConversationID: "slow", Sender: SenderBot, Message: "second"})
		slowDone <- err
	}()
	select {
	case <-d.entered:
		t.Fatal("second append to the same conversation entered the driver concurrently")
	case <-time.After(50 * time.Millisecond):
	}

	close(d.release)
	require.NoError(t, <-slowDone)
	require.NoError(t, <-slowDone)

	conv := "slow"
	list, err := s.ListTurns(ctx, &FindTurn{ConversationID: &conv})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Message)
	assert.LessOrEqual(t, list[0].CreatedTs, list[1].CreatedTs)

	s.convMu.Lock()
	assert.Empty(t, s.convLocks)
	s.convMu.Unlock()
}

func TestAppendTurnStorageError(t *testing.T) {
	s := New(&memDriver{createErr: errors.New("disk I/O error")}, nil)
	_, err := s.AppendTurn(context.Background(), &CreateTurn{ConversationID: "c", Sender: SenderBot, Message: "ok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorage))
}

func TestRecentTurns(t *testing.T) {
	d := &memDriver{}
	s := New(d, nil)
	ctx := context.Background()

	for _, c := range []struct {
		conv string
		msg  string
	}{
		{"a", "a1"}, {"b", "b1"}, {"a", "a2"}, {"a", "a3"}, {"a", "a4"},
	} {
		_, err := s.AppendTurn(ctx, &CreateTurn{ConversationID: c.conv, Sender: SenderUser, Message: c.msg})
		require.NoError(t, err)
	}

	turns, err := s.RecentTurns(ctx, "a", 5, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "a2", turns[0].Message)
	assert.Equal(t, "a3", turns[1].Message)

	none, err := s.RecentTurns(ctx, "a", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := s.CountTurns(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestListTurnsErrors(t *testing.T) {
	s := New(&memDriver{listErr: errors.New("locked")}, nil)
	_, err := s.ListTurns(context.Background(), nil)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))

	_, err = s.ListTurns(context.Background(), &FindTurn{Limit: -1})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
