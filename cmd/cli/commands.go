package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jaywantadh/chunkmesh/config"
	"github.com/jaywantadh/chunkmesh/internal/distributor"
	"github.com/jaywantadh/chunkmesh/internal/metadata"
	"github.com/jaywantadh/chunkmesh/internal/p2p"
	"github.com/jaywantadh/chunkmesh/internal/peer"
	"github.com/jaywantadh/chunkmesh/internal/storage"
	"github.com/jaywantadh/chunkmesh/internal/tracker"
	"github.com/jaywantadh/chunkmesh/internal/transfer"
	"github.com/jaywantadh/chunkmesh/pkg/httpserver"
	"github.com/jaywantadh/chunkmesh/pkg/logging"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newDialer() *p2p.Dialer {
	return p2p.NewDialer(cfg.Network.DialTimeout, cfg.Network.IOTimeout)
}

// prompt reads one trimmed line from stdin.
func prompt(question string) (string, error) {
	fmt.Print(question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func argOrPrompt(c *cli.Context, question string) (string, error) {
	if v := c.Args().First(); v != "" {
		return v, nil
	}
	v, err := prompt(question)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", errors.New("no input given")
	}
	return v, nil
}

func trackerCommand() *cli.Command {
	return &cli.Command{
		Name:  "tracker",
		Usage: "Run the chunk location tracker",
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext()
			defer stop()
			log := logging.Component("tracker")

			reg := tracker.NewRegistry()
			srv := tracker.NewServer(p2p.ServerConfig{
				Addr:      cfg.Tracker.Addr(),
				MaxConns:  cfg.Tracker.MaxConns,
				IOTimeout: cfg.Network.IOTimeout,
				NodeID:    cfg.NodeID,
			}, reg, log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx) })
			if cfg.Tracker.HTTPAddr != "" {
				status := httpserver.New(cfg.Tracker.HTTPAddr, reg, logging.Component("status"))
				g.Go(func() error { return status.ListenAndServe(gctx) })
			}
			log.WithField("addr", cfg.Tracker.Addr()).Info("tracker started")
			return g.Wait()
		},
	}
}

func peerCommand() *cli.Command {
	return &cli.Command{
		Name:      "peer",
		Usage:     "Run a peer storage service",
		ArgsUsage: "[port]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "compress", Usage: "store chunks lz4-compressed"},
		},
		Subcommands: []*cli.Command{
			{
				Name:      "ping",
				Usage:     "Check that a peer answers",
				ArgsUsage: "<host:port>",
				Action: func(c *cli.Context) error {
					addr, err := p2p.ParsePeerAddress(c.Args().First())
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()

					start := time.Now()
					if err := peer.NewClient(newDialer()).Ping(ctx, addr); err != nil {
						return cli.Exit(fmt.Sprintf("%s is down: %v", addr, err), 1)
					}
					fmt.Printf("pong from %s in %s\n", addr, time.Since(start).Round(time.Millisecond))
					return nil
				},
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Present() {
				port, err := strconv.Atoi(c.Args().First())
				if err != nil || port <= 0 || port > 65535 {
					return fmt.Errorf("invalid port %q", c.Args().First())
				}
				cfg.Peer.Port = port
			}
			compress := cfg.Peer.Compress || c.Bool("compress")

			ctx, stop := signalContext()
			defer stop()

			addr := fmt.Sprintf("%s:%d", cfg.Peer.Host, cfg.Peer.Port)
			log := logging.Component("peer").WithField("addr", addr)

			store, err := storage.NewLocalStorage(cfg.PeerStorageDir(), storage.WithCompression(compress))
			if err != nil {
				return err
			}
			srv := peer.NewServer(p2p.ServerConfig{
				Addr:      addr,
				MaxConns:  cfg.Peer.MaxConns,
				IOTimeout: cfg.Network.IOTimeout,
				NodeID:    cfg.NodeID,
			}, store, log)

			log.WithFields(logrus.Fields{"storage": store.Dir(), "compress": compress}).Info("peer started")
			return srv.ListenAndServe(ctx)
		},
	}
}

func sourceCommand() *cli.Command {
	return &cli.Command{
		Name:      "source",
		Usage:     "Split a file and distribute its chunks",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "peers", Usage: "peer addresses (host:port), overrides source.peers"},
			&cli.IntFlag{Name: "chunk-size", Usage: "chunk size in bytes, overrides source.chunk_size"},
		},
		Action: func(c *cli.Context) error {
			path, err := argOrPrompt(c, "Enter path to file to share: ")
			if err != nil {
				return err
			}
			peerList := cfg.Source.Peers
			if c.IsSet("peers") {
				peerList = c.StringSlice("peers")
			}
			if c.IsSet("chunk-size") {
				cfg.Source.ChunkSize = c.Int("chunk-size")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			addrs, err := p2p.ParsePeerAddresses(peerList)
			if err != nil {
				return err
			}
			policy, err := distributor.NewRoundRobin(addrs)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			log := logging.Component("source")

			dialer := newDialer()
			peers := peer.NewClient(dialer)

			liveness := peer.NewLiveness(peers, addrs, log)
			liveness.ProbeAll(ctx)
			if down := liveness.Down(); len(down) > 0 {
				log.WithField("down", down).Warn("some peers did not answer, their chunks will likely stay unplaced")
			}

			journal, err := metadata.OpenJournal(cfg.Source.JournalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			src := transfer.NewSource(sourceConfig(), policy, peers, tracker.NewClient(cfg.Tracker.Addr(), dialer), journal, log)

			fileID := filepath.Base(path)
			monCtx, stopMon := context.WithCancel(ctx)
			go src.Progress().MonitorProgress(monCtx, os.Stdout, fileID, time.Second)
			report, err := src.Share(ctx, path)
			stopMon()
			if err != nil {
				return err
			}
			src.Progress().PrintProgress(os.Stdout, report.FileID)

			if !report.Complete() {
				return cli.Exit(fmt.Sprintf("share of %s incomplete: unplaced %v, unregistered %v (run reconcile later)",
					report.FileID, report.Unplaced, report.Unregistered), 2)
			}
			fmt.Printf("shared %s as %d chunks, download it with: chunkmesh sink %s\n", report.FileID, report.Total, report.FileID)
			return nil
		},
	}
}

func sinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "sink",
		Usage:     "Download and reassemble a shared file",
		ArgsUsage: "[file-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "policy",
				Usage: fmt.Sprintf("%s or %s, overrides sink.policy", config.PolicyBestEffort, config.PolicyFailFast),
			},
		},
		Action: func(c *cli.Context) error {
			fileID, err := argOrPrompt(c, "Enter file ID to download: ")
			if err != nil {
				return err
			}
			if c.IsSet("policy") {
				cfg.Sink.Policy = c.String("policy")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signalContext()
			defer stop()
			log := logging.Component("sink")

			dialer := newDialer()
			sink := transfer.NewSink(transfer.SinkConfig{
				DownloadDir: cfg.Sink.DownloadDir,
				OutputDir:   cfg.Sink.OutputDir,
				Policy:      cfg.Sink.Policy,
				Parallelism: cfg.Sink.Parallelism,
				MaxChunks:   cfg.Sink.MaxChunks,
			}, peer.NewClient(dialer), tracker.NewClient(cfg.Tracker.Addr(), dialer), log)

			monCtx, stopMon := context.WithCancel(ctx)
			go sink.Progress().MonitorProgress(monCtx, os.Stdout, fileID, time.Second)
			report, err := sink.Download(ctx, fileID)
			stopMon()

			switch {
			case errors.Is(err, transfer.ErrNoSuchFile):
				return cli.Exit(fmt.Sprintf("tracker has no chunks for %s", fileID), 1)
			case transfer.IsDegraded(err):
				sink.Progress().PrintProgress(os.Stdout, fileID)
				return cli.Exit(fmt.Sprintf("wrote %s with gaps: %v", report.OutputPath, err), 2)
			case err != nil:
				return err
			}
			sink.Progress().PrintProgress(os.Stdout, fileID)
			fmt.Printf("reconstructed %s (%d bytes) at %s\n", fileID, report.Written, report.OutputPath)
			return nil
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Register chunks that were stored but never registered",
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext()
			defer stop()
			log := logging.Component("reconcile")

			journal, err := metadata.OpenJournal(cfg.Source.JournalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			dialer := newDialer()
			src := transfer.NewSource(sourceConfig(), nil, peer.NewClient(dialer), tracker.NewClient(cfg.Tracker.Addr(), dialer), journal, log)
			report, err := src.Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reconcile: %d pending, %d registered, %d still failing\n", report.Attempted, report.Registered, len(report.Failed))
			for _, f := range report.Failed {
				origin := "unknown origin"
				if rec, err := journal.GetFile(f.FileID); err == nil {
					origin = rec.Path
				}
				fmt.Printf("  %s chunk %d on %s (%s): %v\n", f.FileID, f.Index, f.Peer, origin, f.Err)
			}
			if len(report.Failed) > 0 {
				return cli.Exit("some chunks are still unregistered", 2)
			}
			return nil
		},
	}
}

func sourceConfig() transfer.SourceConfig {
	return transfer.SourceConfig{
		StagingDir:       cfg.Source.StagingDir,
		ChunkSize:        cfg.Source.ChunkSize,
		PushAttempts:     cfg.Source.PushAttempts,
		RegisterAttempts: cfg.Source.RegisterAttempts,
		RetryBackoff:     cfg.Source.RetryBackoff,
		Parallelism:      cfg.Source.Parallelism,
	}
}
