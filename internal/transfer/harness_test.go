package transfer

import (
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkmesh/internal/distributor"
	"github.com/jaywantadh/chunkmesh/internal/metadata"
	"github.com/jaywantadh/chunkmesh/internal/p2p"
	"github.com/jaywantadh/chunkmesh/internal/peer"
	"github.com/jaywantadh/chunkmesh/internal/storage"
	"github.com/jaywantadh/chunkmesh/internal/tracker"
	"github.com/jaywantadh/chunkmesh/pkg/logging"
)

// mesh is a tracker plus peers running on loopback for one test.
type mesh struct {
	t        *testing.T
	tracker  *tracker.Client
	registry *tracker.Registry
	peers    *peer.Client
	stores   map[p2p.PeerAddress]*storage.LocalStorage
	dir      string
}

func newMesh(t *testing.T, numPeers int) (*mesh, []p2p.PeerAddress) {
	t.Helper()
	dialer := p2p.NewDialer(500*time.Millisecond, 5*time.Second)
	serverCfg := p2p.ServerConfig{Addr: "127.0.0.1:0", MaxConns: 8, IOTimeout: 5 * time.Second}

	reg := tracker.NewRegistry()
	ts := tracker.NewServer(serverCfg, reg, logging.Discard())
	serve(t, ts.Server)

	m := &mesh{
		t:        t,
		tracker:  tracker.NewClient(ts.Addr(), dialer),
		registry: reg,
		peers:    peer.NewClient(dialer),
		stores:   make(map[p2p.PeerAddress]*storage.LocalStorage),
		dir:      t.TempDir(),
	}

	var addrs []p2p.PeerAddress
	for i := 0; i < numPeers; i++ {
		store, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		ps := peer.NewServer(serverCfg, store, logging.Discard())
		serve(t, ps.Server)

		addr, err := p2p.ParsePeerAddress(ps.Addr())
		require.NoError(t, err)
		m.stores[addr] = store
		addrs = append(addrs, addr)
	}
	return m, addrs
}

func serve(t *testing.T, srv *p2p.Server) {
	t.Helper()
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) p2p.PeerAddress {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := p2p.ParsePeerAddress(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	return addr
}

func (m *mesh) source(peers []p2p.PeerAddress, chunkSize int, locator Locator, journal *metadata.Journal) *Source {
	m.t.Helper()
	policy, err := distributor.NewRoundRobin(peers)
	require.NoError(m.t, err)
	if locator == nil {
		locator = m.tracker
	}
	cfg := SourceConfig{
		StagingDir:       filepath.Join(m.dir, "chunks"),
		ChunkSize:        chunkSize,
		PushAttempts:     2,
		RegisterAttempts: 2,
		RetryBackoff:     time.Millisecond,
		Parallelism:      3,
	}
	return NewSource(cfg, policy, m.peers, locator, journal, logging.Discard())
}

func (m *mesh) sink(policy string) *Sink {
	cfg := SinkConfig{
		DownloadDir: filepath.Join(m.dir, "bob_chunks"),
		OutputDir:   filepath.Join(m.dir, "out"),
		Policy:      policy,
		Parallelism: 3,
	}
	return NewSink(cfg, m.peers, m.tracker, logging.Discard())
}

// place stores data as chunk index on addr and registers each peer in order.
func (m *mesh) place(fileID string, index int, data []byte, holders []p2p.PeerAddress, registered []p2p.PeerAddress) {
	m.t.Helper()
	ctx := context.Background()
	for _, h := range holders {
		require.NoError(m.t, m.peers.Store(ctx, h, index, data))
	}
	for _, r := range registered {
		require.NoError(m.t, m.tracker.Register(ctx, fileID, []int{index}, r))
	}
}

func randomFile(t *testing.T, dir, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	return data
}
