package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaywantadh/chunkmesh/internal/chunker"
	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

var (
	ErrChunkNotFound = errors.New("peer: chunk not found")
	ErrChunkCorrupt  = errors.New("peer: chunk corrupt")
)

// Client pushes chunks to and pulls chunks from peer storage services.
type Client struct {
	dialer *p2p.Dialer
}

func NewClient(dialer *p2p.Dialer) *Client {
	return &Client{dialer: dialer}
}

// Store pushes data as chunk index to the peer at addr.
func (c *Client) Store(ctx context.Context, addr p2p.PeerAddress, index int, data []byte) error {
	req := p2p.StoreRequest{ChunkIndex: index, ChunkData: data, Digest: chunker.Digest(data)}
	var ack p2p.StoreAck
	if err := c.dialer.CallExpect(ctx, addr.String(), p2p.MessageStoreChunk, req, p2p.MessageStoreAck, &ack); err != nil {
		return fmt.Errorf("store chunk %d on %s: %w", index, addr, err)
	}
	if ack.Status != p2p.StatusChunkReceived {
		return fmt.Errorf("store chunk %d on %s: unexpected ack %q", index, addr, ack.Status)
	}
	return nil
}

// Fetch pulls chunk index from the peer at addr. A peer that does not hold
// the chunk yields ErrChunkNotFound.
func (c *Client) Fetch(ctx context.Context, addr p2p.PeerAddress, index int) ([]byte, error) {
	var resp p2p.ChunkData
	if err := c.dialer.CallExpect(ctx, addr.String(), p2p.MessageFetchChunk, p2p.FetchRequest{RequestChunk: index}, p2p.MessageChunkData, &resp); err != nil {
		return nil, fmt.Errorf("fetch chunk %d from %s: %w", index, addr, err)
	}

	switch resp.Error {
	case "":
	case p2p.ErrTextNotFound:
		return nil, fmt.Errorf("fetch chunk %d from %s: %w", index, addr, ErrChunkNotFound)
	case p2p.ErrTextCorrupt:
		return nil, fmt.Errorf("fetch chunk %d from %s: %w", index, addr, ErrChunkCorrupt)
	default:
		return nil, fmt.Errorf("fetch chunk %d from %s: %w", index, addr, &p2p.RemoteError{Message: resp.Error})
	}

	if !chunker.VerifyDigest(resp.ChunkData, resp.Digest) {
		return nil, fmt.Errorf("fetch chunk %d from %s: %w", index, addr, p2p.ErrDigestMismatch)
	}
	return resp.ChunkData, nil
}

func (c *Client) Ping(ctx context.Context, addr p2p.PeerAddress) error {
	return c.dialer.Ping(ctx, addr.String())
}
