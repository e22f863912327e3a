package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/supportdesk/internal/apperr"
	"github.com/hrygo/supportdesk/internal/profile"
)

// Store provides access to the conversation history.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// clockMu guards lastTs only; it is never held across I/O.
	clockMu sync.Mutex
	lastTs  int64
	now     func() time.Time

	// convLocks serializes appends within one conversation so that created_ts
	// never decreases in id order there. Other conversations proceed in parallel.
	convMu    sync.Mutex
	convLocks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:    driver,
		profile:   profile,
		now:       time.Now,
		convLocks: make(map[string]*convLock),
	}
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate creates the history schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return apperr.Storage(err, "migrate history schema")
	}
	return nil
}

// AppendTurn records one turn and returns it with its id and timestamp.
func (s *Store) AppendTurn(ctx context.Context, create *CreateTurn) (*Turn, error) {
	if !create.Sender.IsValid() {
		return nil, apperr.Validation("invalid sender %q", create.Sender)
	}
	if strings.TrimSpace(create.Message) == "" {
		return nil, apperr.Validation("turn message is empty")
	}
	if create.ConversationID == "" {
		return nil, apperr.Validation("conversation id is empty")
	}

	unlock := s.lockConversation(create.ConversationID)
	defer unlock()

	create.CreatedTs = s.nextTimestamp()
	turn, err := s.driver.CreateTurn(ctx, create)
	if err != nil {
		return nil, apperr.Storage(err, "append %s turn", create.Sender)
	}
	return turn, nil
}

// nextTimestamp returns the current time in unix milliseconds, never earlier than a
// value it returned before.
func (s *Store) nextTimestamp() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	ts := s.now().UnixMilli()
	if ts < s.lastTs {
		ts = s.lastTs
	}
	s.lastTs = ts
	return ts
}

// lockConversation holds the append lock of one conversation until the returned
// function is called. Entries are dropped once nobody holds or waits for them.
func (s *Store) lockConversation(id string) func() {
	s.convMu.Lock()
	l, ok := s.convLocks[id]
	if !ok {
		l = &convLock{}
		s.convLocks[id] = l
	}
	l.refs++
	s.convMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.convMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.convLocks, id)
		}
		s.convMu.Unlock()
	}
}

// ListTurns returns matching turns in chronological order.
func (s *Store) ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error) {
	if find == nil {
		find = &FindTurn{}
	}
	if find.Limit < 0 {
		return nil, apperr.Validation("limit must not be negative")
	}
	list, err := s.driver.ListTurns(ctx, find)
	if err != nil {
		return nil, apperr.Storage(err, "list turns")
	}
	return list, nil
}

// RecentTurns returns at most limit turns of a conversation that precede beforeID.
// A zero limit returns no turns.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, beforeID int64, limit int) ([]*Turn, error) {
	if limit == 0 {
		return []*Turn{}, nil
	}
	return s.ListTurns(ctx, &FindTurn{
		ConversationID: &conversationID,
		BeforeID:       &beforeID,
		Limit:          limit,
	})
}

func (s *Store) CountTurns(ctx context.Context, conversationID *string) (int64, error) {
	n, err := s.driver.CountTurns(ctx, conversationID)
	if err != nil {
		return 0, apperr.Storage(err, "count turns")
	}
	return n, nil
}
