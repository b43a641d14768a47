package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "chatwarden/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_name, chat_id, action, target, ok, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorName), e.ChatID,
		e.Action, nullStr(e.Target), e.OK, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) PutSeen(ctx context.Context, guid string, at time.Time) error {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO seen(guid, at) VALUES(?,?)`, guid, at.UnixMilli())
	return err
}

func (s *sqliteStore) LoadSeen(ctx context.Context) ([]SeenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guid, at FROM seen ORDER BY at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeenRecord
	for rows.Next() {
		var (
			r  SeenRecord
			ms int64
		)
		if err := rows.Scan(&r.GUID, &ms); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSubscription(ctx context.Context, sub Subscription) error {
	topics, err := json.Marshal(sub.Topics)
	if err != nil {
		return err
	}
	slots, err := json.Marshal(sub.Slots)
	if err != nil {
		return err
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, topics, slots, last_fired_slot, last_fired_date, created_by, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   topics=excluded.topics, slots=excluded.slots,
		   last_fired_slot=excluded.last_fired_slot, last_fired_date=excluded.last_fired_date,
		   created_by=excluded.created_by, updated_at=excluded.updated_at`,
		sub.ChatID, string(topics), string(slots), sub.LastFiredSlot, sub.LastFiredDate,
		sub.CreatedBy, sub.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) LoadSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, topics, slots, last_fired_slot, last_fired_date, created_by, updated_at
		 FROM subscriptions ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		var (
			sub           Subscription
			topics, slots string
			updated       string
		)
		if err := rows.Scan(&sub.ChatID, &topics, &slots, &sub.LastFiredSlot, &sub.LastFiredDate, &sub.CreatedBy, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(topics), &sub.Topics); err != nil {
			return nil, fmt.Errorf("subscription %d topics: %w", sub.ChatID, err)
		}
		if err := json.Unmarshal([]byte(slots), &sub.Slots); err != nil {
			return nil, fmt.Errorf("subscription %d slots: %w", sub.ChatID, err)
		}
		sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutChatSettings(ctx context.Context, cs ChatSettings) error {
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings(chat_id, system_prompt, model, mode, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   system_prompt=excluded.system_prompt, model=excluded.model,
		   mode=excluded.mode, updated_at=excluded.updated_at`,
		cs.ChatID, cs.SystemPrompt, cs.Model, cs.Mode, cs.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadChatSettings(ctx context.Context) ([]ChatSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, system_prompt, model, mode, updated_at FROM chat_settings ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatSettings
	for rows.Next() {
		var (
			cs      ChatSettings
			updated string
		)
		if err := rows.Scan(&cs.ChatID, &cs.SystemPrompt, &cs.Model, &cs.Mode, &updated); err != nil {
			return nil, err
		}
		cs.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutCounter(ctx context.Context, c Counter) error {
	if c.Value == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM counters WHERE kind = ? AND chat_id = ? AND user_id = ?`, c.Kind, c.ChatID, c.UserID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO counters(kind, chat_id, user_id, value, name) VALUES(?,?,?,?,?)
		 ON CONFLICT(kind, chat_id, user_id) DO UPDATE SET value=excluded.value, name=excluded.name`,
		c.Kind, c.ChatID, c.UserID, c.Value, c.Name,
	)
	return err
}

func (s *sqliteStore) LoadCounters(ctx context.Context, kind string) ([]Counter, error) {
	q := `SELECT kind, chat_id, user_id, value, name FROM counters`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY chat_id, user_id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.Kind, &c.ChatID, &c.UserID, &c.Value, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
