package tracker

import (
	"context"
	"fmt"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

// Client talks to a tracker at a fixed address.
type Client struct {
	addr   string
	dialer *p2p.Dialer
}

func NewClient(addr string, dialer *p2p.Dialer) *Client {
	return &Client{addr: addr, dialer: dialer}
}

func (c *Client) Addr() string {
	return c.addr
}

// Register asserts that peer holds the given chunks of fileID.
func (c *Client) Register(ctx context.Context, fileID p2p.FileID, indices []int, peer p2p.PeerAddress) error {
	req := p2p.RegisterRequest{FileID: fileID, Chunks: indices, PeerAddress: peer}
	var ack p2p.RegisterAck
	if err := c.dialer.CallExpect(ctx, c.addr, p2p.MessageRegister, req, p2p.MessageRegisterAck, &ack); err != nil {
		return fmt.Errorf("register %s %v with tracker: %w", fileID, indices, err)
	}
	if ack.Status != p2p.StatusOK {
		return fmt.Errorf("register %s %v: tracker answered %q", fileID, indices, ack.Status)
	}
	return nil
}

// GetPeers fetches the chunk map for fileID. Unknown files yield an empty map.
func (c *Client) GetPeers(ctx context.Context, fileID p2p.FileID) (map[int][]p2p.PeerAddress, error) {
	var pm p2p.PeerMap
	if err := c.dialer.CallExpect(ctx, c.addr, p2p.MessageGetPeers, p2p.GetPeersRequest{FileID: fileID}, p2p.MessagePeerMap, &pm); err != nil {
		return nil, fmt.Errorf("get peers for %s: %w", fileID, err)
	}
	if pm.Chunks == nil {
		pm.Chunks = make(map[int][]p2p.PeerAddress)
	}
	return pm.Chunks, nil
}
