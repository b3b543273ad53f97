// Package boltstore persists menu sessions to a local bbolt file.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
	"log/slog"
)

var sessionsBucket = []byte("sessions")

// Store wraps a bbolt database holding one bucket of JSON session records.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file and ensures the sessions bucket exists.
func Open(path string) (*Store, error) {
	start := time.Now()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		logger.STORE.Error("bolt open failed",
			slog.String("event", "store.open"),
			slog.String("driver", "bolt"),
			slog.String("path", path),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}

	logger.STORE.Info("bolt opened",
		slog.String("event", "store.open"),
		slog.String("driver", "bolt"),
		slog.String("path", path),
		slog.Duration("duration", logger.Took(start)),
	)
	return &Store{db: db}, nil
}

// Put inserts or replaces the record for rec.ChatID.
func (s *Store) Put(_ context.Context, rec storage.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(sessionsBucket).Put(key(rec.ChatID), data)
	})
}

// Get returns the record for the chat or storage.ErrNotFound.
func (s *Store) Get(_ context.Context, chatID int64) (storage.Record, error) {
	var rec storage.Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get(key(chatID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return storage.Record{}, err
	}
	if !found {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

// Delete removes the record for the chat if present.
func (s *Store) Delete(_ context.Context, chatID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete(key(chatID))
	})
}

// List returns all stored records.
func (s *Store) List(_ context.Context) ([]storage.Record, error) {
	var out []storage.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var rec storage.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(chatID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10))
}
