package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, indexerID int64) (*Session, error) {
	s.mu.Lock()
	data, ok := s.sessions[indexerID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decode(data)
}

func (s *MemoryStore) Save(_ context.Context, indexerID int64, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[indexerID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, indexerID int64) error {
	s.mu.Lock()
	delete(s.sessions, indexerID)
	s.mu.Unlock()
	return nil
}

// SQLStore persists sessions in the indexer_sessions table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store backed by a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load(ctx context.Context, indexerID int64) (*Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM indexer_sessions WHERE indexer_id = ?`, indexerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decode([]byte(data))
}

func (s *SQLStore) Save(ctx context.Context, indexerID int64, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	var expires any
	if !sess.ExpiresAt.IsZero() {
		expires = sess.ExpiresAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indexer_sessions (indexer_id, data, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(indexer_id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		indexerID, string(data), expires, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, indexerID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM indexer_sessions WHERE indexer_id = ?`, indexerID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions that expired before now and returns how many
// were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM indexer_sessions WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}

var sessionsBucket = []byte("sessions")

// BoltStore persists sessions in a bbolt file, for deployments that keep
// session state apart from the main database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(_ context.Context, indexerID int64) (*Session, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionsBucket).Get(boltKey(indexerID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}
	return decode(data)
}

func (s *BoltStore) Save(_ context.Context, indexerID int64, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put(boltKey(indexerID), data)
	})
}

func (s *BoltStore) Clear(_ context.Context, indexerID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete(boltKey(indexerID))
	})
}

// PurgeExpired deletes sessions that expired before now.
func (s *BoltStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			sess, err := decode(v)
			if err != nil || sess.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	return purged, err
}

func boltKey(indexerID int64) []byte {
	return []byte(strconv.FormatInt(indexerID, 10))
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// Purger is implemented by stores that can drop expired sessions in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
