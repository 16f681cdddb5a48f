// Package runlog is a bbolt-backed ledger of past campaign runs, kept at
// <out_dir>/.camp-ledger.db. This is a supplemented feature (SPEC_FULL.md
// §"Run ledger"): the Python original has no equivalent, but its
// model_registry directory doubles as cross-run bookkeeping, and the
// teacher's pkg/storage/boltdb.go shows the idiomatic Go shape for a
// single-file embedded ledger (one bucket per record kind, JSON-encoded
// values keyed by ID, Update/View closures). Adapted here to one bucket
// of campaign-run entries instead of warren's nine resource buckets.
package runlog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const ledgerFileName = ".camp-ledger.db"

var bucketRuns = []byte("runs")

// Outcome is the terminal disposition of a campaign run.
type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeAborted  Outcome = "aborted"
)

// Entry is one row of the ledger: a single coordinator run.
type Entry struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	RunDir    string    `json:"run_dir"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   Outcome   `json:"outcome"`
	NumTasks  int       `json:"num_tasks"`
	NumOK     int       `json:"num_ok"`
	NumFailed int       `json:"num_failed"`
}

// Ledger is a bbolt-backed store of Entry records.
type Ledger struct {
	db *bolt.DB
}

// Open creates or opens the ledger database under outDir.
func Open(outDir string) (*Ledger, error) {
	path := filepath.Join(outDir, ledgerFileName)

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends a run entry, assigning it a fresh ID if it has none.
func (l *Ledger) Record(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	return e, l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(e.ID), data)
	})
}

// List returns all recorded runs, most recently started first.
func (l *Ledger) List() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	return entries, nil
}

// Get looks up a single run by ID.
func (l *Ledger) Get(id string) (Entry, error) {
	var e Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run not found: %s", id)
		}
		return json.Unmarshal(data, &e)
	})
	return e, err
}
