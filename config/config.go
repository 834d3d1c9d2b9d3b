package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

const (
	PolicyBestEffort = "best-effort"
	PolicyFailFast   = "fail-fast"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	NodeID  string        `mapstructure:"node_id"`
	Debug   bool          `mapstructure:"debug"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Peer    PeerConfig    `mapstructure:"peer"`
	Source  SourceConfig  `mapstructure:"source"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Network NetworkConfig `mapstructure:"network"`
}

type TrackerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	HTTPAddr string `mapstructure:"http_addr"`
	MaxConns int    `mapstructure:"max_conns"`
}

// Addr returns the host:port the tracker listens on and clients dial.
func (t TrackerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

type PeerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	StorageRoot string `mapstructure:"storage_root"`
	StorageDir  string `mapstructure:"storage_dir"`
	Compress    bool   `mapstructure:"compress"`
	MaxConns    int    `mapstructure:"max_conns"`
}

type SourceConfig struct {
	StagingDir       string        `mapstructure:"staging_dir"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	Peers            []string      `mapstructure:"peers"`
	PushAttempts     int           `mapstructure:"push_attempts"`
	RegisterAttempts int           `mapstructure:"register_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	Parallelism      int           `mapstructure:"parallelism"`
	JournalPath      string        `mapstructure:"journal_path"`
}

type SinkConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	OutputDir   string `mapstructure:"output_dir"`
	Policy      string `mapstructure:"policy"`
	Parallelism int    `mapstructure:"parallelism"`
	MaxChunks   int    `mapstructure:"max_chunks"`
}

type NetworkConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	IOTimeout   time.Duration `mapstructure:"io_timeout"`
}

var Config *AppConfig

// SetDefaults registers every default on v. Exposed so tests can build a
// config without touching the filesystem.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "chunkmesh-"+uuid.New().String())
	v.SetDefault("debug", false)

	v.SetDefault("tracker.host", "localhost")
	v.SetDefault("tracker.port", 9000)
	v.SetDefault("tracker.http_addr", "")
	v.SetDefault("tracker.max_conns", 64)

	v.SetDefault("peer.host", "localhost")
	v.SetDefault("peer.port", 9101)
	v.SetDefault("peer.storage_root", ".")
	v.SetDefault("peer.storage_dir", "")
	v.SetDefault("peer.compress", false)
	v.SetDefault("peer.max_conns", 64)

	v.SetDefault("source.staging_dir", "chunks")
	v.SetDefault("source.chunk_size", 512*1024)
	v.SetDefault("source.peers", []string{"localhost:9101", "localhost:9102"})
	v.SetDefault("source.push_attempts", 3)
	v.SetDefault("source.register_attempts", 3)
	v.SetDefault("source.retry_backoff", 200*time.Millisecond)
	v.SetDefault("source.parallelism", 4)
	v.SetDefault("source.journal_path", "source_journal")

	v.SetDefault("sink.download_dir", "bob_chunks")
	v.SetDefault("sink.output_dir", ".")
	v.SetDefault("sink.policy", PolicyBestEffort)
	v.SetDefault("sink.parallelism", 4)
	v.SetDefault("sink.max_chunks", 1<<20)

	v.SetDefault("network.dial_timeout", 5*time.Second)
	v.SetDefault("network.io_timeout", 30*time.Second)
}

// LoadConfig reads config.yaml from path (optional), applies CHUNKMESH_*
// environment overrides and stores the result in Config.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("CHUNKMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	appConfig, err := decode(v)
	if err != nil {
		return nil, err
	}

	Config = appConfig
	return appConfig, nil
}

// Default returns the configuration built from defaults alone.
func Default() *AppConfig {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := decode(v)
	return cfg
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}
	return &appConfig, nil
}

// Validate rejects settings no component can run with.
func (c *AppConfig) Validate() error {
	if c.Source.ChunkSize <= 0 {
		return fmt.Errorf("source.chunk_size must be positive, got %d", c.Source.ChunkSize)
	}
	if c.Source.ChunkSize > p2p.MaxChunkSize {
		return fmt.Errorf("source.chunk_size %d exceeds the %d bytes a frame can carry", c.Source.ChunkSize, p2p.MaxChunkSize)
	}
	if c.Sink.MaxChunks <= 0 {
		return fmt.Errorf("sink.max_chunks must be positive, got %d", c.Sink.MaxChunks)
	}
	switch c.Sink.Policy {
	case PolicyBestEffort, PolicyFailFast:
	default:
		return fmt.Errorf("sink.policy must be %q or %q, got %q", PolicyBestEffort, PolicyFailFast, c.Sink.Policy)
	}
	if c.Network.DialTimeout <= 0 || c.Network.IOTimeout <= 0 {
		return errors.New("network timeouts must be positive")
	}
	return nil
}

// PeerStorageDir is the namespace directory a peer on the configured port
// stores chunks in.
func (c *AppConfig) PeerStorageDir() string {
	if c.Peer.StorageDir != "" {
		return c.Peer.StorageDir
	}
	return fmt.Sprintf("%s/peer_%d_storage", strings.TrimRight(c.Peer.StorageRoot, "/"), c.Peer.Port)
}
