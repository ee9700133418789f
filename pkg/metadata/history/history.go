// Package history keeps a durable journal of checkpoint attempts in
// BadgerDB, so an operator can see what the secondary did across restarts.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// Key prefixes
const (
	// ckpt:attempt:{started unix nanos, 20 digits}:{id} -> JSON(checkpoint.Attempt)
	prefixAttempt = "ckpt:attempt:"
)

// Metrics observes journal activity. A nil Metrics disables collection.
type Metrics interface {
	ObserveRecord(duration time.Duration, err error)
	SetEntries(n int)
}

// Options configures a Journal.
type Options struct {
	// Retain bounds the number of attempts kept. Zero keeps all.
	Retain int

	// TTL expires attempts after the given age. Zero disables expiry.
	TTL time.Duration

	Metrics Metrics
}

// Journal stores checkpoint attempts. It implements checkpoint.Journal.
//
// Thread Safety:
// All operations use BadgerDB's transaction support for atomicity.
type Journal struct {
	db   *badgerdb.DB
	opts Options

	mu      sync.Mutex
	entries int
}

var _ checkpoint.Journal = (*Journal)(nil)

// Open opens or creates the journal database under dir.
func Open(dir string, opts Options) (*Journal, error) {
	return open(badgerdb.DefaultOptions(dir), opts)
}

// OpenInMemory opens a journal that lives only as long as the process.
func OpenInMemory(opts Options) (*Journal, error) {
	return open(badgerdb.DefaultOptions("").WithInMemory(true), opts)
}

func open(bopts badgerdb.Options, opts Options) (*Journal, error) {
	db, err := badgerdb.Open(bopts.WithLogger(badgerLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint journal: %w", err)
	}

	j := &Journal{db: db, opts: opts}
	n, err := j.count()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.setEntries(n)
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func attemptKey(a checkpoint.Attempt) []byte {
	var ts int64
	if !a.Started.IsZero() {
		ts = a.Started.UnixNano()
	}
	return []byte(fmt.Sprintf("%s%020d:%s", prefixAttempt, ts, a.ID))
}

// Record stores a, then drops the oldest attempts beyond the retention count.
func (j *Journal) Record(ctx context.Context, a checkpoint.Attempt) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.opts.Metrics != nil {
		start := time.Now()
		defer func() { j.opts.Metrics.ObserveRecord(time.Since(start), err) }()
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint attempt: %w", err)
	}

	key := attemptKey(a)
	var created bool
	err = j.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(key); err == badgerdb.ErrKeyNotFound {
			created = true
		} else if err != nil {
			return err
		}
		e := badgerdb.NewEntry(key, data)
		if j.opts.TTL > 0 {
			e = e.WithTTL(j.opts.TTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return merrs.NewIOError("checkpoint journal", err)
	}

	if created {
		j.mu.Lock()
		j.entries++
		n := j.entries
		j.mu.Unlock()
		if j.opts.Retain > 0 && n > j.opts.Retain {
			if _, err := j.Prune(ctx, j.opts.Retain); err != nil {
				logger.WarnCtx(ctx, "Checkpoint journal prune failed", logger.KeyError, err)
			}
		} else {
			j.setEntries(n)
		}
	}
	return nil
}

// List returns up to limit attempts, newest first. A limit of zero or less
// returns all of them.
func (j *Journal) List(ctx context.Context, limit int) ([]checkpoint.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []checkpoint.Attempt
	err := j.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAttempt)
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte(prefixAttempt), 0xFF)); it.Valid(); it.Next() {
			if limit > 0 && len(result) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var a checkpoint.Attempt
				if err := json.Unmarshal(val, &a); err != nil {
					return err
				}
				result = append(result, a)
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
	return result, nil
}

// Last returns the most recent attempt.
func (j *Journal) Last(ctx context.Context) (checkpoint.Attempt, error) {
	attempts, err := j.List(ctx, 1)
	if err != nil {
		return checkpoint.Attempt{}, err
	}
	if len(attempts) == 0 {
		return checkpoint.Attempt{}, merrs.NewNotFoundError("checkpoint journal", "checkpoint attempt")
	}
	return attempts[0], nil
}

// Prune deletes all but the newest keep attempts and returns how many were
// deleted.
func (j *Journal) Prune(ctx context.Context, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var stale [][]byte
	err := j.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAttempt)
		opts.PrefetchValues = false // Only need keys
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seen := 0
		for it.Seek(append([]byte(prefixAttempt), 0xFF)); it.Valid(); it.Next() {
			seen++
			if seen > keep {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = j.db.Update(func(txn *badgerdb.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, merrs.NewIOError("checkpoint journal", err)
	}

	n, err := j.count()
	if err != nil {
		return len(stale), err
	}
	j.setEntries(n)
	return len(stale), nil
}

// Len returns the number of stored attempts.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries
}

// Healthcheck verifies the database can serve a read transaction.
func (j *Journal) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.db.View(func(txn *badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

func (j *Journal) count() (int, error) {
	n := 0
	err := j.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAttempt)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (j *Journal) setEntries(n int) {
	j.mu.Lock()
	j.entries = n
	j.mu.Unlock()
	if j.opts.Metrics != nil {
		j.opts.Metrics.SetEntries(n)
	}
}

// badgerLogger routes BadgerDB's own logging through the internal logger.
// Its info output is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
