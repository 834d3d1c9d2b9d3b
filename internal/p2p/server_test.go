package p2p

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkmesh/pkg/logging"
)

func startServer(t *testing.T, cfg ServerConfig, register func(*Server)) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, logging.Discard())
	if register != nil {
		register(srv)
	}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		require.NoError(t, <-done)
	})
	return srv
}

func testDialer() *Dialer {
	return NewDialer(time.Second, 2*time.Second)
}

func TestServerPing(t *testing.T) {
	srv := startServer(t, ServerConfig{NodeID: "node-1"}, nil)

	var pong Pong
	err := testDialer().CallExpect(context.Background(), srv.Addr(), MessagePing, struct{}{}, MessagePong, &pong)
	require.NoError(t, err)
	require.Equal(t, "node-1", pong.NodeID)
}

func TestServerUnknownType(t *testing.T) {
	srv := startServer(t, ServerConfig{}, nil)

	_, err := testDialer().Call(context.Background(), srv.Addr(), MessageType("bogus"), struct{}{})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, "unknown message type")
}

func TestServerRejectsEmptyFrame(t *testing.T) {
	srv := startServer(t, ServerConfig{}, nil)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	env, err := ReadEnvelope(conn)
	require.NoError(t, err)
	require.Equal(t, MessageError, env.Type)
}

func TestServerIdleConnectionTimesOut(t *testing.T) {
	srv := startServer(t, ServerConfig{IOTimeout: 100 * time.Millisecond}, nil)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "server should close a connection that never sends a request")
}

func TestServerBoundsConcurrency(t *testing.T) {
	const maxConns = 2
	var inFlight, peak int32
	release := make(chan struct{})

	srv := startServer(t, ServerConfig{MaxConns: maxConns}, func(s *Server) {
		s.Handle(MessageGetPeers, func(ctx context.Context, req *Envelope) (MessageType, interface{}) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return MessagePeerMap, PeerMap{Chunks: map[int][]PeerAddress{}}
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var pm PeerMap
			_ = NewDialer(time.Second, 5*time.Second).CallExpect(context.Background(), srv.Addr(), MessageGetPeers, GetPeersRequest{FileID: "f"}, MessagePeerMap, &pm)
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(maxConns))
}

func TestDialerUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	err = testDialer().Ping(context.Background(), addr)
	require.Error(t, err)
}
