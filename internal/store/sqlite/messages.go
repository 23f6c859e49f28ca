package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// MessageStore implements store.MessageStore.
type MessageStore struct {
	db *DB
}

const messageColumns = `id, channel_id, sender_name, sender_project_id, content,
	timestamp, confidence, metadata, thread_id, is_deleted`

// Insert validates and writes one message inside a single writer
// transaction. The permission check and the insert share the transaction,
// so a concurrent leave/archive is observed either fully before or fully
// after this write.
func (s *MessageStore) Insert(ctx context.Context, m *store.Message) (int64, error) {
	if m.Content == "" {
		return 0, store.InvalidArgumentf("message content must not be empty")
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return 0, store.InvalidArgumentf("confidence %v out of [0,1]", *m.Confidence)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	var id int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var archived int
		err := tx.QueryRowContext(ctx,
			`SELECT is_archived FROM channels WHERE id = ?`, m.ChannelID).Scan(&archived)
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFoundf("channel %s", m.ChannelID)
		}
		if err != nil {
			return err
		}
		if archived != 0 {
			return store.PermissionDeniedf("channel %s is archived", m.ChannelID)
		}

		var canSend int
		err = tx.QueryRowContext(ctx,
			`SELECT can_send FROM channel_members
			 WHERE channel_id = ? AND agent_name = ? AND agent_project_id = ? AND opted_out = 0`,
			m.ChannelID, m.Sender.Name, m.Sender.ProjectID).Scan(&canSend)
		if errors.Is(err, sql.ErrNoRows) {
			return store.PermissionDeniedf("agent %s is not a member of this channel", m.Sender.Name)
		}
		if err != nil {
			return err
		}
		if canSend == 0 {
			return store.PermissionDeniedf("agent %s cannot send to this channel", m.Sender.Name)
		}

		var conf any
		if m.Confidence != nil {
			conf = *m.Confidence
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (channel_id, sender_name, sender_project_id,
			     content, timestamp, confidence, metadata, thread_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ChannelID, m.Sender.Name, m.Sender.ProjectID, m.Content,
			unix(m.Timestamp), conf, marshalMeta(m.Metadata), m.ThreadID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *MessageStore) Get(ctx context.Context, id int64) (*store.Message, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? AND is_deleted = 0`, id)
	return scanMessage(row)
}

func (s *MessageStore) GetMany(ctx context.Context, ids []int64) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE id IN (`+placeholders+`) AND is_deleted = 0`, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *MessageStore) Query(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	var conds []string
	var args []any

	if !q.IncludeDeleted {
		conds = append(conds, "m.is_deleted = 0")
	}
	if len(q.ChannelIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.ChannelIDs)), ",")
		conds = append(conds, "m.channel_id IN ("+placeholders+")")
		for _, id := range q.ChannelIDs {
			args = append(args, id)
		}
	}
	if q.BeforeID > 0 {
		conds = append(conds, "m.id < ?")
		args = append(args, q.BeforeID)
	}
	if q.Where != "" {
		conds = append(conds, "("+q.Where+")")
		args = append(args, q.Args...)
	}

	query := `SELECT m.id, m.channel_id, m.sender_name, m.sender_project_id, m.content,
		m.timestamp, m.confidence, m.metadata, m.thread_id, m.is_deleted FROM messages m`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY m.timestamp DESC, m.confidence DESC, m.id DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *MessageStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE is_deleted = 0`).Scan(&n)
	return n, err
}

func (s *MessageStore) IDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT id FROM messages WHERE is_deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list message ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *MessageStore) SoftDelete(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("message %d", id)
		}
		return nil
	})
}

func collectMessages(rows *sql.Rows) ([]*store.Message, error) {
	var out []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var m store.Message
	var ts float64
	var conf sql.NullFloat64
	var meta string
	var isDeleted int

	err := row.Scan(&m.ID, &m.ChannelID, &m.Sender.Name, &m.Sender.ProjectID,
		&m.Content, &ts, &conf, &meta, &m.ThreadID, &isDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("message")
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.Timestamp = fromUnix(ts)
	if conf.Valid {
		m.Confidence = &conf.Float64
	}
	m.Metadata = unmarshalMeta(meta)
	m.IsDeleted = isDeleted != 0
	return &m, nil
}
