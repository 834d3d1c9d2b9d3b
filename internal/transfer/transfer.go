package transfer

import (
	"context"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

// ChunkTransport moves chunks to and from peer storage services.
type ChunkTransport interface {
	// Store pushes a chunk to a peer.
	Store(ctx context.Context, addr p2p.PeerAddress, index int, data []byte) error
	// Fetch pulls a chunk from a peer.
	Fetch(ctx context.Context, addr p2p.PeerAddress, index int) ([]byte, error)
}

// Locator is the tracker as seen by the source and the sink.
type Locator interface {
	Register(ctx context.Context, fileID p2p.FileID, indices []int, peer p2p.PeerAddress) error
	GetPeers(ctx context.Context, fileID p2p.FileID) (map[int][]p2p.PeerAddress, error)
}
