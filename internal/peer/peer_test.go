package peer

import (
	"bytes"
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
	"github.com/jaywantadh/chunkmesh/internal/storage"
	"github.com/jaywantadh/chunkmesh/pkg/logging"
)

func startPeer(t *testing.T, compress bool) (p2p.PeerAddress, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir(), storage.WithCompression(compress))
	require.NoError(t, err)

	srv := NewServer(p2p.ServerConfig{Addr: "127.0.0.1:0", MaxConns: 4, IOTimeout: 2 * time.Second}, store, logging.Discard())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	addr, err := p2p.ParsePeerAddress(srv.Addr())
	require.NoError(t, err)
	return addr, store
}

func newTestClient() *Client {
	return NewClient(p2p.NewDialer(500*time.Millisecond, 2*time.Second))
}

func TestStoreThenFetch(t *testing.T) {
	for _, compress := range []bool{false, true} {
		addr, _ := startPeer(t, compress)
		client := newTestClient()
		ctx := context.Background()

		data := bytes.Repeat([]byte("payload "), 4096)
		require.NoError(t, client.Store(ctx, addr, 5, data))

		got, err := client.Fetch(ctx, addr, 5)
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestStoreOverwrites(t *testing.T) {
	addr, _ := startPeer(t, false)
	client := newTestClient()
	ctx := context.Background()

	require.NoError(t, client.Store(ctx, addr, 0, []byte("old")))
	require.NoError(t, client.Store(ctx, addr, 0, []byte("new")))

	got, err := client.Fetch(ctx, addr, 0)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestFetchNotFound(t *testing.T) {
	addr, _ := startPeer(t, false)

	_, err := newTestClient().Fetch(context.Background(), addr, 99)
	require.ErrorIs(t, err, ErrChunkNotFound)
}

func TestStoreRejectsBadDigest(t *testing.T) {
	addr, store := startPeer(t, false)
	dialer := p2p.NewDialer(time.Second, 2*time.Second)

	req := p2p.StoreRequest{ChunkIndex: 1, ChunkData: []byte("abc"), Digest: "0000"}
	_, err := dialer.Call(context.Background(), addr.String(), p2p.MessageStoreChunk, req)
	var remote *p2p.RemoteError
	require.ErrorAs(t, err, &remote)
	require.False(t, store.Has(1))
}

func TestFetchDetectsCorruptionAtRest(t *testing.T) {
	addr, store := startPeer(t, false)
	client := newTestClient()
	ctx := context.Background()

	require.NoError(t, client.Store(ctx, addr, 2, []byte("pristine")))
	require.NoError(t, os.WriteFile(store.Path(2), []byte("tampered"), 0644))

	_, err := client.Fetch(ctx, addr, 2)
	require.ErrorIs(t, err, ErrChunkCorrupt)
}

func TestFetchUnreachablePeer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := p2p.ParsePeerAddress(l.Addr().String())
	require.NoError(t, err)
	l.Close()

	_, err = newTestClient().Fetch(context.Background(), addr, 0)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrChunkNotFound)
}

func TestLivenessProbe(t *testing.T) {
	up, _ := startPeer(t, false)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	down, err := p2p.ParsePeerAddress(l.Addr().String())
	require.NoError(t, err)
	l.Close()

	live := NewLiveness(newTestClient(), []p2p.PeerAddress{up, down, up}, logging.Discard())
	live.ProbeAll(context.Background())

	snap := live.Snapshot()
	require.Len(t, snap, 2)
	require.True(t, snap[0].Alive)
	require.False(t, snap[0].LastSeen.IsZero())
	require.False(t, snap[1].Alive)
	require.Equal(t, []p2p.PeerAddress{down}, live.Down())
}
