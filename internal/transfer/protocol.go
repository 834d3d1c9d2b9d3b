package transfer

import (
	"errors"
	"sort"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

var (
	ErrNoSuchFile     = errors.New("no such file")
	ErrIncomplete     = errors.New("file reassembled with missing chunks")
	ErrChunkExhausted = errors.New("chunk unavailable from every registered peer")
	ErrTooManyChunks  = errors.New("chunk map spans too many indices")
)

// TransferStatus represents the current status of a transfer
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusCompleted  TransferStatus = "completed"
	StatusDegraded   TransferStatus = "degraded"
	StatusFailed     TransferStatus = "failed"
	StatusCancelled  TransferStatus = "cancelled"
)

// ChunkState is where one chunk sits in a download.
type ChunkState string

const (
	ChunkPending   ChunkState = "pending"
	ChunkSuccess   ChunkState = "success"
	ChunkExhausted ChunkState = "exhausted"
)

// ShareReport summarizes one Source.Share run.
type ShareReport struct {
	FileID       p2p.FileID
	Size         int64
	Total        int
	Placed       map[int]p2p.PeerAddress
	Unplaced     []int
	Unregistered []int
}

// Complete reports whether every chunk was stored and registered.
func (r *ShareReport) Complete() bool {
	return len(r.Unplaced) == 0 && len(r.Unregistered) == 0
}

// DownloadReport summarizes one Sink.Download run.
type DownloadReport struct {
	FileID     p2p.FileID
	Total      int
	Fetched    map[int]p2p.PeerAddress
	Missing    []int
	Written    int64
	OutputPath string
}

// State reports where chunk idx ended up.
func (r *DownloadReport) State(idx int) ChunkState {
	if _, ok := r.Fetched[idx]; ok {
		return ChunkSuccess
	}
	for _, m := range r.Missing {
		if m == idx {
			return ChunkExhausted
		}
	}
	return ChunkPending
}

// ReconcileReport summarizes one Source.Reconcile run.
type ReconcileReport struct {
	Attempted  int
	Registered int
	Failed     []ReconcileFailure
}

type ReconcileFailure struct {
	FileID p2p.FileID
	Index  int
	Peer   p2p.PeerAddress
	Err    error
}

func sortedKeys(m map[int]p2p.PeerAddress) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
