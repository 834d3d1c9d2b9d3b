package tracker

import (
	"sort"
	"sync"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

// Registry maps file -> chunk index -> peers that claim to hold the chunk.
// Peers are kept in registration order and are not deduplicated.
type Registry struct {
	files map[p2p.FileID]map[int][]p2p.PeerAddress
	mu    sync.RWMutex
}

// FileSummary is a read-only view of one registered file.
type FileSummary struct {
	FileID        p2p.FileID `json:"file_id"`
	Chunks        int        `json:"chunks"`
	MaxIndex      int        `json:"max_index"`
	Registrations int        `json:"registrations"`
}

func NewRegistry() *Registry {
	return &Registry{
		files: make(map[p2p.FileID]map[int][]p2p.PeerAddress),
	}
}

// Register appends peer to the peer list of every index in indices.
func (r *Registry) Register(fileID p2p.FileID, indices []int, peer p2p.PeerAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunks, ok := r.files[fileID]
	if !ok {
		chunks = make(map[int][]p2p.PeerAddress)
		r.files[fileID] = chunks
	}
	for _, idx := range indices {
		chunks[idx] = append(chunks[idx], peer)
	}
}

// GetPeers returns a copy of the chunk map for fileID. Unknown files yield an
// empty, non-nil map.
func (r *Registry) GetPeers(fileID p2p.FileID) map[int][]p2p.PeerAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunks := r.files[fileID]
	out := make(map[int][]p2p.PeerAddress, len(chunks))
	for idx, peers := range chunks {
		cp := make([]p2p.PeerAddress, len(peers))
		copy(cp, peers)
		out[idx] = cp
	}
	return out
}

// Files summarizes every registered file, sorted by ID.
func (r *Registry) Files() []FileSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]FileSummary, 0, len(r.files))
	for id, chunks := range r.files {
		s := FileSummary{FileID: id, Chunks: len(chunks), MaxIndex: -1}
		for idx, peers := range chunks {
			if idx > s.MaxIndex {
				s.MaxIndex = idx
			}
			s.Registrations += len(peers)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].FileID < summaries[j].FileID
	})
	return summaries
}

// Reset drops every registration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = make(map[p2p.FileID]map[int][]p2p.PeerAddress)
}
