package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"line-chat-agent/internal/domain"
)

// migrations is the ordered list of SQL migration statements.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		user_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLiteStore keeps conversations in a local SQLite file. It is meant for
// running the webhook outside AWS and follows the same contract as Client.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("repository: create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("repository: migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("repository: Load: user id is required")
	}

	var (
		raw     string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, version FROM conversations WHERE user_id = ?`,
		userID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{UserID: userID}, nil
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load query: %w", err)
	}

	var records []domain.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load decode messages: %w", err)
	}
	return domain.Conversation{UserID: userID, Records: records, Version: version}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.UserID) == "" {
		return errors.New("repository: Save: user id is required")
	}
	if err := validateRecords(conv.Records); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	records := conv.Records
	if records == nil {
		records = []domain.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("repository: Save encode messages: %w", err)
	}

	var res sql.Result
	if conv.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO conversations (user_id, messages, version) VALUES (?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING`,
			conv.UserID, string(data),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET messages = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ? AND version = ?`,
			string(data), conv.UserID, conv.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: Save rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("repository: Save: %w", ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Delete: user id is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
