package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:chat_messages,alias:m"`

	ID         int64     `bun:"id,pk,autoincrement"`
	ThreadID   string    `bun:"thread_id,notnull"`
	Role       string    `bun:"role,notnull"`
	Content    string    `bun:"content"`
	ToolCalls  string    `bun:"tool_calls"`
	ToolCallID string    `bun:"tool_call_id"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// PostgresStore persists chat history in Postgres via bun.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(cfg.Timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresStore{db: db}, nil
}

// Init creates the backing table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*messageRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create chat_messages table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Load(ctx context.Context, threadID string) ([]*schema.Message, error) {
	var rows []messageRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("thread_id = ?", threadID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history for thread %s: %w", threadID, err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := rowToMessage(row)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *PostgresStore) Append(ctx context.Context, threadID string, msgs []*schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	rows := make([]messageRow, 0, len(msgs))
	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		row, err := messageToRow(threadID, msg, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("append history for thread %s: %w", threadID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.NewDelete().
		Model((*messageRow)(nil)).
		Where("thread_id = ?", threadID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete history for thread %s: %w", threadID, err)
	}
	return nil
}

func messageToRow(threadID string, msg *schema.Message, now time.Time) (messageRow, error) {
	row := messageRow{
		ThreadID:   threadID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		CreatedAt:  now,
	}
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return messageRow{}, fmt.Errorf("marshal tool calls: %w", err)
		}
		row.ToolCalls = string(raw)
	}
	return row, nil
}

func rowToMessage(row messageRow) (*schema.Message, error) {
	msg := &schema.Message{
		Role:       schema.RoleType(row.Role),
		Content:    row.Content,
		ToolCallID: row.ToolCallID,
	}
	if strings.TrimSpace(row.ToolCalls) != "" {
		if err := json.Unmarshal([]byte(row.ToolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls for row %d: %w", row.ID, err)
		}
	}
	return msg, nil
}
