package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
)

const (
	sessionKeyPrefix = "session/"
	gcDiscardRatio   = 0.5
)

// BadgerStore persists sessions as JSON values in an embedded Badger
// database. An empty Path selects in-memory mode, which keeps the same
// transaction semantics without touching disk.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// badgerLogger adapts zap to Badger's internal logger interface.
type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Errorf(format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warnf(format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Infof(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debugf(format, args...)
}

// NewBadgerStore opens the database and, for persistent stores, starts the
// value-log GC loop. The logger may be nil.
func NewBadgerStore(cfg config.StoreConfig, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	inMemory := cfg.Path == ""

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{l: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}

	store := &BadgerStore{db: db, logger: logger}
	if !inMemory && cfg.GCInterval.Duration() > 0 {
		store.gcStop = make(chan struct{})
		store.gcDone = make(chan struct{})
		go store.runGC(cfg.GCInterval.Duration())
	}
	return store, nil
}

// runGC reclaims value-log space on a ticker until Close.
func (b *BadgerStore) runGC(interval time.Duration) {
	defer close(b.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.gcStop:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC failed", zap.Error(err))
			}
		}
	}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// Create stores a new session.
func (b *BadgerStore) Create(_ context.Context, s *healing.Session) error {
	key := sessionKey(s.ID)
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checking session %s: %w", s.ID, err)
		}

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding session %s: %w", s.ID, err)
		}
		return txn.Set(key, data)
	})
}

// Get returns a copy of the session.
func (b *BadgerStore) Get(_ context.Context, id string) (*healing.Session, error) {
	var s *healing.Session
	err := b.db.View(func(txn *badger.Txn) error {
		loaded, err := getSession(txn, id)
		if err != nil {
			return err
		}
		s = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Update applies mutate inside a read-write transaction and stamps
// UpdatedAt.
func (b *BadgerStore) Update(_ context.Context, id string, mutate func(*healing.Session) error) (*healing.Session, error) {
	var updated *healing.Session
	err := b.db.Update(func(txn *badger.Txn) error {
		s, err := getSession(txn, id)
		if err != nil {
			return err
		}
		if err := mutate(s); err != nil {
			return err
		}
		s.UpdatedAt = time.Now()

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding session %s: %w", id, err)
		}
		if err := txn.Set(sessionKey(id), data); err != nil {
			return err
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List scans the session prefix and returns matches, newest first.
func (b *BadgerStore) List(_ context.Context, f Filter) ([]*healing.Session, error) {
	var out []*healing.Session
	prefix := []byte(sessionKeyPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var s healing.Session
				if err := json.Unmarshal(val, &s); err != nil {
					return fmt.Errorf("decoding session %s: %w", it.Item().Key(), err)
				}
				if f.matches(&s) {
					out = append(out, &s)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close stops the GC loop and closes the database.
func (b *BadgerStore) Close() error {
	if b.gcStop != nil {
		close(b.gcStop)
		<-b.gcDone
	}
	return b.db.Close()
}

// getSession loads and decodes one session within a transaction.
func getSession(txn *badger.Txn, id string) (*healing.Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var s healing.Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	}); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}
