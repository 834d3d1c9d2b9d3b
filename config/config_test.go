package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost:9000", cfg.Tracker.Addr())
	assert.Equal(t, 9101, cfg.Peer.Port)
	assert.Equal(t, 512*1024, cfg.Source.ChunkSize)
	assert.Equal(t, []string{"localhost:9101", "localhost:9102"}, cfg.Source.Peers)
	assert.Equal(t, PolicyBestEffort, cfg.Sink.Policy)
	assert.Equal(t, 200*time.Millisecond, cfg.Source.RetryBackoff)
	assert.Equal(t, "bob_chunks", cfg.Sink.DownloadDir)
	assert.Equal(t, 1<<20, cfg.Sink.MaxChunks)
	assert.NotEmpty(t, cfg.NodeID)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "tracker:\n  port: 9500\nsource:\n  chunk_size: 1024\n  retry_backoff: 1s\nsink:\n  policy: fail-fast\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("CHUNKMESH_PEER_PORT", "9200")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Tracker.Port)
	assert.Equal(t, 1024, cfg.Source.ChunkSize)
	assert.Equal(t, time.Second, cfg.Source.RetryBackoff)
	assert.Equal(t, PolicyFailFast, cfg.Sink.Policy)
	assert.Equal(t, 9200, cfg.Peer.Port)
	assert.Same(t, cfg, Config)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Tracker.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Sink.Policy = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Source.ChunkSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Network.IOTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Sink.MaxChunks = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateChunkSizeFitsFrame(t *testing.T) {
	cfg := Default()
	cfg.Source.ChunkSize = p2p.MaxChunkSize
	assert.NoError(t, cfg.Validate())

	cfg.Source.ChunkSize = p2p.MaxChunkSize + 1
	assert.Error(t, cfg.Validate())

	cfg.Source.ChunkSize = 16 * 1024 * 1024
	assert.Error(t, cfg.Validate())
}

func TestPeerStorageDir(t *testing.T) {
	cfg := Default()
	cfg.Peer.Port = 9102
	assert.Equal(t, "./peer_9102_storage", cfg.PeerStorageDir())

	cfg.Peer.StorageRoot = "/var/chunks/"
	assert.Equal(t, "/var/chunks/peer_9102_storage", cfg.PeerStorageDir())

	cfg.Peer.StorageDir = "/explicit"
	assert.Equal(t, "/explicit", cfg.PeerStorageDir())
}
