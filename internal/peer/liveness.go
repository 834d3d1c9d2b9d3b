package peer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

type PeerNode struct {
	Addr     p2p.PeerAddress
	LastSeen time.Time
	Alive    bool
	LastErr  error
}

// Liveness tracks which of a fixed set of peers answered the last probe.
type Liveness struct {
	mu     sync.RWMutex
	peers  map[p2p.PeerAddress]*PeerNode
	order  []p2p.PeerAddress
	client *Client
	log    *logrus.Entry
}

func NewLiveness(client *Client, peers []p2p.PeerAddress, log *logrus.Entry) *Liveness {
	l := &Liveness{
		peers:  make(map[p2p.PeerAddress]*PeerNode),
		client: client,
		log:    log,
	}
	for _, addr := range peers {
		if _, exists := l.peers[addr]; exists {
			continue
		}
		l.peers[addr] = &PeerNode{Addr: addr}
		l.order = append(l.order, addr)
	}
	return l
}

// ProbeAll pings every peer concurrently and waits for all answers.
func (l *Liveness) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, addr := range l.order {
		wg.Add(1)
		go func(addr p2p.PeerAddress) {
			defer wg.Done()
			l.probe(ctx, addr)
		}(addr)
	}
	wg.Wait()
}

func (l *Liveness) probe(ctx context.Context, addr p2p.PeerAddress) {
	err := l.client.Ping(ctx, addr)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	node := l.peers[addr]
	node.LastErr = err
	if err != nil {
		if node.Alive {
			l.log.WithField("peer", addr.String()).WithError(err).Warn("peer stopped answering")
		}
		node.Alive = false
		return
	}
	node.Alive = true
	node.LastSeen = now
}

// StartMonitor probes every interval until ctx is done.
func (l *Liveness) StartMonitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.ProbeAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Snapshot returns the peers in their original order.
func (l *Liveness) Snapshot() []PeerNode {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]PeerNode, 0, len(l.order))
	for _, addr := range l.order {
		out = append(out, *l.peers[addr])
	}
	return out
}

// Down lists peers whose last probe failed.
func (l *Liveness) Down() []p2p.PeerAddress {
	var down []p2p.PeerAddress
	for _, n := range l.Snapshot() {
		if !n.Alive {
			down = append(down, n.Addr)
		}
	}
	return down
}
