package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/supportdesk/store"
)

func (d *DB) CreateTurn(ctx context.Context, create *store.CreateTurn) (*store.Turn, error) {
	fields := []string{"conversation_id", "sender", "message", "created_ts"}
	args := []any{create.ConversationID, string(create.Sender), create.Message, create.CreatedTs}
	stmt := `INSERT INTO conversation_turn (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`

	turn := &store.Turn{
		ConversationID: create.ConversationID,
		Sender:         create.Sender,
		Message:        create.Message,
		CreatedTs:      create.CreatedTs,
	}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&turn.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation_turn: %w", err)
	}
	return turn, nil
}

func (d *DB) ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.BeforeID != nil {
		where, args = append(where, "id < "+placeholder(len(args)+1)), append(args, *find.BeforeID)
	}

	query := `SELECT id, conversation_id, sender, message, created_ts
		FROM conversation_turn
		WHERE ` + strings.Join(where, " AND ")
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query = `SELECT id, conversation_id, sender, message, created_ts FROM (` +
			query + ` ORDER BY id DESC LIMIT ` + placeholder(len(args)) + `) AS recent ORDER BY id ASC`
	} else {
		query += ` ORDER BY id ASC`
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation_turn: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Turn, 0)
	for rows.Next() {
		t := &store.Turn{}
		var sender string
		if err := rows.Scan(&t.ID, &t.ConversationID, &sender, &t.Message, &t.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan conversation_turn: %w", err)
		}
		t.Sender = store.Sender(sender)
		list = append(list, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation_turn: %w", err)
	}

	return list, nil
}

func (d *DB) CountTurns(ctx context.Context, conversationID *string) (int64, error) {
	query, args := `SELECT COUNT(*) FROM conversation_turn`, []any{}
	if conversationID != nil {
		query, args = query+` WHERE conversation_id = `+placeholder(1), append(args, *conversationID)
	}
	var n int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversation_turn: %w", err)
	}
	return n, nil
}
