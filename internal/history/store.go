// Package history keeps finished run results in a local bbolt database so
// verdicts can be compared across runs.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/volley/internal/engine"
)

const bucketRuns = "runs"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Record is one stored run. Run ids are UUIDv7, so key order is time order.
type Record struct {
	ID         string         `json:"id"`
	ConfigPath string         `json:"configPath,omitempty"`
	SavedAt    time.Time      `json:"savedAt"`
	Result     *engine.Result `json:"result"`
}

// Summary is the list view of a Record.
type Summary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Requests  int64         `json:"requests"`
	ErrorRate float64       `json:"errorRate"`
	Passed    bool          `json:"passed"`
	Aborted   bool          `json:"aborted,omitempty"`
}

// Summarize returns the list view of r.
func (r *Record) Summarize() Summary {
	s := Summary{ID: r.ID}
	if res := r.Result; res != nil {
		s.Name = res.Name
		s.StartTime = res.StartTime
		s.Duration = res.Duration
		s.Passed = res.Verdict.Passed
		s.Aborted = res.Aborted
		if res.Metrics != nil {
			s.Requests = res.Metrics.TotalRequests
			s.ErrorRate = res.Metrics.ErrorRate
		}
	}
	return s
}

// Store is a bbolt-backed run history.
type Store struct {
	db *bbolt.DB
}

// DefaultPath returns ~/.volley/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".volley", "history.db"), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a finished run under its id.
func (s *Store) Save(configPath string, result *engine.Result) (*Record, error) {
	rec := &Record{
		ID:         result.ID,
		ConfigPath: configPath,
		SavedAt:    time.Now().UTC(),
		Result:     result,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run %s: %w", rec.ID, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the run with id.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns up to limit summaries, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			out = append(out, rec.Summarize())
		}
		return nil
	})
	return out, err
}

// Delete removes the run with id.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return b.Delete([]byte(id))
	})
}
