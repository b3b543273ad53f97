// Package pgstore persists menu sessions to Postgres. Each chat owns one
// row with the full session snapshot in a JSONB column; schema changes are
// applied from embedded migrations on Open.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/telemenu/core/config"
	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
	"log/slog"
)

// Store wraps a pooled Postgres connection holding the menu_sessions table.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres, configures the pool, verifies connectivity,
// and applies pending migrations.
func Open(cfg config.PostgresConfig) (*Store, error) {
	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	sqlxDB, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	took := time.Since(start)
	if err != nil {
		logger.STORE.Error("db connect failed",
			slog.String("event", "store.connect"),
			slog.String("driver", "postgres"),
			slog.String("host", cfg.Host),
			slog.String("port", cfg.Port),
			slog.String("db", cfg.Name),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if pingErr := sqlxDB.PingContext(ctx); pingErr != nil {
		logger.STORE.Error("db ping failed",
			slog.String("event", "store.ping"),
			slog.String("driver", "postgres"),
			slog.String("host", cfg.Host),
			slog.String("port", cfg.Port),
			slog.String("db", cfg.Name),
			slog.String("err", pingErr.Error()),
		)
		_ = sqlxDB.Close()
		return nil, fmt.Errorf("db ping: %w", pingErr)
	}

	sqlxDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlxDB.SetMaxIdleConns(cfg.MaxConnections)
	logger.STORE.Debug("db pool configured",
		slog.String("event", "store.pool"),
		slog.Int("pool_open", cfg.MaxConnections),
	)

	logger.STORE.Info("db connected",
		slog.String("event", "store.connect"),
		slog.String("driver", "postgres"),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", logger.RoundMS(took)),
	)

	if err := runMigrations(cfg); err != nil {
		_ = sqlxDB.Close()
		return nil, err
	}
	return &Store{db: sqlxDB}, nil
}

// Put inserts or replaces the record for rec.ChatID.
func (s *Store) Put(ctx context.Context, rec storage.Record) error {
	state, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	const q = `
		INSERT INTO menu_sessions (chat_id, session_id, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    state      = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, q, rec.ChatID, rec.SessionID, state, rec.UpdatedAt); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get returns the record for the chat or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, chatID int64) (storage.Record, error) {
	var state []byte
	const q = `SELECT state FROM menu_sessions WHERE chat_id = $1`
	if err := s.db.GetContext(ctx, &state, q, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("get session: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(state, &rec); err != nil {
		return storage.Record{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return rec, nil
}

// Delete removes the record for the chat if present.
func (s *Store) Delete(ctx context.Context, chatID int64) error {
	const q = `DELETE FROM menu_sessions WHERE chat_id = $1`
	if _, err := s.db.ExecContext(ctx, q, chatID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all stored records.
func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	var states [][]byte
	const q = `SELECT state FROM menu_sessions ORDER BY chat_id`
	if err := s.db.SelectContext(ctx, &states, q); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]storage.Record, 0, len(states))
	for _, state := range states {
		var rec storage.Record
		if err := json.Unmarshal(state, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal session state: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
