// Package badger provides a durable Storage backed by BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/store"
)

// Key namespace
// =============
//
// Data Type        Prefix   Key Format                        Value
// ====================================================================
// Article record   "a:"     a:<feedID>:<articleID>            encoded record
//
// The prefix leaves room for other namespaces in the same database. List
// is a prefix scan over "a:<feedID>:", which BadgerDB returns in key order.
const articlePrefix = "a:"

// BadgerStore implements store.Storage on BadgerDB.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use; the store adds no
// locking of its own.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// Config contains configuration for creating a BadgerStore.
type Config struct {
	// DBPath is the directory holding the database files.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps everything in RAM (DBPath is ignored). Used by tests.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// Compression enables BadgerDB's own block compression (zstd).
	Compression bool `mapstructure:"compression"`
}

var _ store.Storage = (*BadgerStore)(nil)

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger store: db_path is required")
		}
		if err := os.MkdirAll(cfg.DBPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.DBPath, err)
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	opts = opts.WithLoggingLevel(badger.WARNING)
	if cfg.Compression {
		opts = opts.WithCompression(options.ZSTD)
	} else {
		opts = opts.WithCompression(options.None)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	logger.Info("Badger storage opened: path=%s in_memory=%v", cfg.DBPath, cfg.InMemory)

	return &BadgerStore{db: db, path: cfg.DBPath}, nil
}

func dbKey(key string) []byte {
	return []byte(articlePrefix + key)
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		v := make([]byte, len(value))
		copy(v, value)
		return txn.Set(dbKey(key), v)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) List(ctx context.Context, feedID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := dbKey(store.FeedPrefix(feedID))
	keys := make([]string, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false // Only need keys

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			k := string(it.Item().Key())
			keys = append(keys, strings.TrimPrefix(k, articlePrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list feed %s: %w", feedID, err)
	}
	return keys, nil
}

// RunValueLogGC reclaims space in the value log. It returns nil when there
// was nothing to collect.
func (s *BadgerStore) RunValueLogGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Size returns the on-disk size of the LSM tree and value log.
func (s *BadgerStore) Size() (lsm, vlog int64) {
	return s.db.Size()
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
