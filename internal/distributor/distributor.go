package distributor

import (
	"errors"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

var ErrNoPeers = errors.New("distributor: no peers configured")

// Policy decides which peer receives chunk index. It must be a pure function
// of the index so concurrent pushes land where a sequential run would.
type Policy interface {
	Place(index int) p2p.PeerAddress
	Peers() []p2p.PeerAddress
}

// RoundRobin assigns chunk i to peers[i mod len(peers)].
type RoundRobin struct {
	peers []p2p.PeerAddress
}

func NewRoundRobin(peers []p2p.PeerAddress) (*RoundRobin, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	cp := make([]p2p.PeerAddress, len(peers))
	copy(cp, peers)
	return &RoundRobin{peers: cp}, nil
}

func (r *RoundRobin) Place(index int) p2p.PeerAddress {
	return r.peers[index%len(r.peers)]
}

func (r *RoundRobin) Peers() []p2p.PeerAddress {
	cp := make([]p2p.PeerAddress, len(r.peers))
	copy(cp, r.peers)
	return cp
}

// Plan returns the placement of n chunks under policy.
func Plan(policy Policy, n int) map[int]p2p.PeerAddress {
	plan := make(map[int]p2p.PeerAddress, n)
	for i := 0; i < n; i++ {
		plan[i] = policy.Place(i)
	}
	return plan
}
