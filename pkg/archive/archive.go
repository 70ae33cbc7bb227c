// Package archive persists concepts that were evicted from memory so that
// they can be restored when the same term becomes active again.
//
// A bag evicts its lowest item when full. The archive keeps what went as
// latent knowledge. When a term is conceptualized again, its archived budget
// is taken back out and merged into the fresh concept.
//
// Store uses BadgerDB. Values are JSON-encoded Records.
//
// Key Structure:
//   - Short names: 0x01 + term name -> JSON(Record)
//   - Long names:  0x02 + blake2b-256(term name) -> JSON(Record)
//
// Example:
//
//	store, err := archive.Open(archive.Options{DataDir: "./data/archive"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	store.Save(archive.Record{Term: "bird", Priority: 0.4, Durability: 0.6, Quality: 0.9})
//	rec, err := store.Take("bird")
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/orneryd/attend/pkg/budget"
	"golang.org/x/crypto/blake2b"
)

// Key prefixes for BadgerDB storage organization
const (
	prefixConcept = byte(0x01) // concept:name -> Record
	prefixDigest  = byte(0x02) // concept:blake2b(name) -> Record
)

// maxInlineName is the longest term name stored verbatim in a key.
const maxInlineName = 128

var (
	// ErrNotFound is returned when no record exists for a term.
	ErrNotFound = errors.New("archive: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("archive: closed")
	// ErrInvalidRecord is returned for records without a term.
	ErrInvalidRecord = errors.New("archive: invalid record")
)

// Record is one archived concept.
type Record struct {
	Term       string    `json:"term"`
	Priority   float64   `json:"priority"`
	Durability float64   `json:"durability"`
	Quality    float64   `json:"quality"`
	Tick       int64     `json:"tick"`
	Reason     string    `json:"reason,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// NewRecord captures a term's budget at tick.
func NewRecord(term string, b *budget.Budget, tick int64, reason string) Record {
	r := Record{Term: term, Tick: tick, Reason: reason, ArchivedAt: time.Now().UTC()}
	if b != nil && !b.IsDeleted() {
		r.Priority, r.Durability, r.Quality = b.Priority(), b.Durability(), b.Quality()
	}
	return r
}

// Budget rebuilds the archived budget.
func (r Record) Budget() *budget.Budget {
	b, err := budget.New(r.Priority, r.Durability, r.Quality)
	if err != nil {
		return &budget.Budget{}
	}
	return b
}

// Options configures the archive store.
type Options struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is silenced.
	Logger badger.Logger
}

// Store is a BadgerDB-backed archive of evicted concepts.
type Store struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) an archive.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// Records are small; keep the footprint modest.
	badgerOpts = badgerOpts.
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(32 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory archive.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// conceptKey builds the storage key for a term name.
func conceptKey(term string) []byte {
	if len(term) <= maxInlineName {
		return append([]byte{prefixConcept}, term...)
	}
	sum := blake2b.Sum256([]byte(term))
	return append([]byte{prefixDigest}, sum[:]...)
}

// acquire read-locks the store for one operation. On success the caller
// must RUnlock; Close waits for every operation in flight.
func (s *Store) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// Save writes rec, replacing any previous record for the same term.
func (s *Store) Save(rec Record) error {
	if rec.Term == "" {
		return ErrInvalidRecord
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %q: %w", rec.Term, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(conceptKey(rec.Term), data)
	})
}

// Load returns the record for term.
func (s *Store) Load(term string) (*Record, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = get(txn, term)
		return err
	})
	return rec, err
}

// Take returns the record for term and removes it, atomically.
func (s *Store) Take(term string) (*Record, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	var rec *Record
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		if rec, err = get(txn, term); err != nil {
			return err
		}
		return txn.Delete(conceptKey(term))
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record for term. Deleting a missing term is not an error.
func (s *Store) Delete(term string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(conceptKey(term))
	})
}

func get(txn *badger.Txn, term string) (*Record, error) {
	item, err := txn.Get(conceptKey(term))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode %q: %w", term, err)
	}
	// digest keys could in principle collide
	if rec.Term != term {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ForEach calls fn for every record, in key order. Iteration stops at the
// first error fn returns. fn must not call Close.
func (s *Store) ForEach(fn func(Record) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats summarizes the archive.
type Stats struct {
	Records   int     `json:"records"`
	Digested  int     `json:"digested"`
	MeanPri   float64 `json:"mean_priority"`
	LSMBytes  int64   `json:"lsm_bytes"`
	VlogBytes int64   `json:"vlog_bytes"`
}

// Stats counts records and reports on-disk size.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.acquire(); err != nil {
		return st, err
	}
	defer s.mu.RUnlock()
	sum := 0.0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			st.Records++
			if item.Key()[0] == prefixDigest {
				st.Digested++
			}
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			sum += rec.Priority
		}
		return nil
	})
	if err != nil {
		return st, err
	}
	if st.Records > 0 {
		st.MeanPri = sum / float64(st.Records)
	}
	st.LSMBytes, st.VlogBytes = s.db.Size()
	return st, nil
}

// Close closes the underlying database. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
