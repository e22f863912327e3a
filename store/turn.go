package store

// Sender identifies who produced a conversation turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

func (s Sender) IsValid() bool {
	return s == SenderUser || s == SenderBot
}

// Turn is one persisted message. Turns are append-only: never updated or deleted.
type Turn struct {
	ID             int64
	ConversationID string
	Sender         Sender
	Message        string
	CreatedTs      int64 // unix milliseconds
}

type CreateTurn struct {
	ConversationID string
	Sender         Sender
	Message        string

	// CreatedTs is assigned by Store.AppendTurn; drivers persist it as given.
	CreatedTs int64
}

// FindTurn selects turns. Results are always in chronological (id ascending) order.
type FindTurn struct {
	ConversationID *string
	// BeforeID restricts to turns with a smaller id.
	BeforeID *int64
	// Limit > 0 keeps only the most recent Limit turns of the selection.
	Limit int
}
