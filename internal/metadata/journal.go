package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

// PlacementState tracks a chunk through push and registration.
type PlacementState string

const (
	StateUnplaced   PlacementState = "unplaced"
	StateStored     PlacementState = "stored"
	StateRegistered PlacementState = "registered"
)

var ErrNotFound = errors.New("metadata: not found")

// FileRecord describes a file the source has shared.
type FileRecord struct {
	FileID    p2p.FileID `json:"file_id"`
	Path      string     `json:"path"`
	Size      int64      `json:"size"`
	NumChunks int        `json:"num_chunks"`
	ChunkSize int        `json:"chunk_size"`
	CreatedAt int64      `json:"created_at"`
}

// Placement records where one chunk was pushed and whether the tracker knows.
type Placement struct {
	FileID    p2p.FileID      `json:"file_id"`
	Index     int             `json:"index"`
	Peer      p2p.PeerAddress `json:"peer"`
	Digest    string          `json:"digest"`
	Size      int64           `json:"size"`
	State     PlacementState  `json:"state"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
}

// Journal is a badger-backed record of the source's placements. It survives
// restarts so stored-but-unregistered chunks can be reconciled later.
type Journal struct {
	db *badger.DB
}

// OpenJournal opens (or creates) a journal at dbPath.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenInMemoryJournal is a journal that is discarded on Close.
func OpenInMemoryJournal() (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory BadgerDB: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func fileKey(fileID p2p.FileID) []byte {
	return []byte("file:" + fileID)
}

func placementPrefix(fileID p2p.FileID) []byte {
	return []byte("placement:" + fileID + ":")
}

func placementKey(fileID p2p.FileID, index int) []byte {
	return []byte(fmt.Sprintf("placement:%s:%08d", fileID, index))
}

func (j *Journal) PutFile(rec FileRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	return j.put(fileKey(rec.FileID), rec)
}

func (j *Journal) GetFile(fileID p2p.FileID) (FileRecord, error) {
	var rec FileRecord
	err := j.get(fileKey(fileID), &rec)
	return rec, err
}

// PutPlacement writes p, stamping UpdatedAt.
func (j *Journal) PutPlacement(p Placement) error {
	p.UpdatedAt = time.Now().Unix()
	return j.put(placementKey(p.FileID, p.Index), p)
}

func (j *Journal) GetPlacement(fileID p2p.FileID, index int) (Placement, error) {
	var p Placement
	err := j.get(placementKey(fileID, index), &p)
	return p, err
}

// ListByFile returns every placement of fileID ordered by index.
func (j *Journal) ListByFile(fileID p2p.FileID) ([]Placement, error) {
	var out []Placement
	err := j.scan(placementPrefix(fileID), func(p Placement) {
		if p.FileID == fileID {
			out = append(out, p)
		}
	})
	return out, err
}

// ListByState returns placements in state across all files, ordered by file
// then index.
func (j *Journal) ListByState(state PlacementState) ([]Placement, error) {
	var out []Placement
	err := j.scan([]byte("placement:"), func(p Placement) {
		if p.State == state {
			out = append(out, p)
		}
	})
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].FileID != out[b].FileID {
			return out[a].FileID < out[b].FileID
		}
		return out[a].Index < out[b].Index
	})
	return out, err
}

func (j *Journal) put(key []byte, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (j *Journal) get(key []byte, v interface{}) error {
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}

func (j *Journal) scan(prefix []byte, fn func(Placement)) error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p Placement
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			fn(p)
		}
		return nil
	})
}
