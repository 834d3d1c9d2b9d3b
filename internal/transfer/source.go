package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jaywantadh/chunkmesh/internal/chunker"
	"github.com/jaywantadh/chunkmesh/internal/distributor"
	"github.com/jaywantadh/chunkmesh/internal/metadata"
	"github.com/jaywantadh/chunkmesh/internal/p2p"
	"github.com/jaywantadh/chunkmesh/internal/storage"
)

type SourceConfig struct {
	StagingDir       string
	ChunkSize        int
	PushAttempts     int
	RegisterAttempts int
	RetryBackoff     time.Duration
	Parallelism      int
}

// Source splits files, pushes chunks to peers and registers them with the
// tracker. Pushing finishes for every chunk before any registration starts.
type Source struct {
	cfg      SourceConfig
	policy   distributor.Policy
	peers    ChunkTransport
	tracker  Locator
	journal  *metadata.Journal
	progress *ProgressTracker
	log      *logrus.Entry
}

// NewSource wires a Source. journal may be nil, in which case nothing is
// recorded and Reconcile is unavailable.
func NewSource(cfg SourceConfig, policy distributor.Policy, peers ChunkTransport, tracker Locator, journal *metadata.Journal, log *logrus.Entry) *Source {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Source{
		cfg:      cfg,
		policy:   policy,
		peers:    peers,
		tracker:  tracker,
		journal:  journal,
		progress: NewProgressTracker(),
		log:      log,
	}
}

func (s *Source) Progress() *ProgressTracker {
	return s.progress
}

// Share distributes filePath. Only a failure to split the file aborts; push
// and registration failures are reported per chunk in the returned report.
func (s *Source) Share(ctx context.Context, filePath string) (*ShareReport, error) {
	if s.cfg.ChunkSize > p2p.MaxChunkSize {
		return nil, fmt.Errorf("chunk size %d exceeds the %d bytes a frame can carry", s.cfg.ChunkSize, p2p.MaxChunkSize)
	}

	if err := validateFileID(filepath.Base(filePath)); err != nil {
		return nil, err
	}
	stagingDir := filepath.Join(s.cfg.StagingDir, filepath.Base(filePath))
	if err := os.RemoveAll(stagingDir); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	staging, err := storage.NewLocalStorage(stagingDir)
	if err != nil {
		return nil, err
	}
	manifest, err := chunker.Split(filePath, staging, chunker.SplitOptions{
		ChunkSize: s.cfg.ChunkSize,
		Workers:   s.cfg.Parallelism,
	})
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", filePath, err)
	}

	fileID := manifest.FileID
	log := s.log.WithField("file_id", fileID)
	log.WithFields(logrus.Fields{"chunks": manifest.NumChunks(), "size": manifest.FileSize}).Info("file split")

	if s.journal != nil {
		rec := metadata.FileRecord{
			FileID:    fileID,
			Path:      filePath,
			Size:      manifest.FileSize,
			NumChunks: manifest.NumChunks(),
			ChunkSize: manifest.ChunkSize,
		}
		if err := s.journal.PutFile(rec); err != nil {
			log.WithError(err).Warn("failed to journal file record")
		}
	}

	report := &ShareReport{
		FileID: fileID,
		Size:   manifest.FileSize,
		Total:  manifest.NumChunks(),
		Placed: make(map[int]p2p.PeerAddress),
	}
	s.progress.StartTracking(fileID, fileID, manifest.NumChunks(), manifest.FileSize)

	s.pushAll(ctx, manifest, staging, report, log)
	if err := ctx.Err(); err != nil {
		s.progress.Finish(fileID, StatusCancelled)
		return report, err
	}

	s.registerAll(ctx, manifest, report, log)
	if err := ctx.Err(); err != nil {
		s.progress.Finish(fileID, StatusCancelled)
		return report, err
	}

	if report.Complete() {
		s.progress.Finish(fileID, StatusCompleted)
	} else {
		s.progress.Finish(fileID, StatusDegraded)
	}
	log.WithFields(logrus.Fields{
		"placed":       len(report.Placed),
		"unplaced":     report.Unplaced,
		"unregistered": report.Unregistered,
	}).Info("share finished")
	return report, nil
}

func (s *Source) pushAll(ctx context.Context, manifest *chunker.Manifest, staging *storage.LocalStorage, report *ShareReport, log *logrus.Entry) {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Parallelism)

	for _, chunk := range manifest.Chunks {
		g.Go(func() error {
			target := s.policy.Place(chunk.Index)
			clog := log.WithFields(logrus.Fields{"chunk": chunk.Index, "peer": target.String()})

			data, err := staging.ReadChunk(chunk.Index)
			var attempts int
			if err == nil {
				attempts, err = retry(ctx, s.cfg.PushAttempts, s.cfg.RetryBackoff, func() error {
					return s.peers.Store(ctx, target, chunk.Index, data)
				})
			}

			placement := metadata.Placement{
				FileID:   manifest.FileID,
				Index:    chunk.Index,
				Peer:     target,
				Digest:   chunk.Digest,
				Size:     chunk.Size,
				Attempts: attempts,
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				clog.WithError(err).Error("chunk could not be placed")
				report.Unplaced = append(report.Unplaced, chunk.Index)
				placement.State = metadata.StateUnplaced
				placement.LastError = err.Error()
				s.progress.ChunkFailed(manifest.FileID)
			} else {
				clog.Info("chunk stored")
				report.Placed[chunk.Index] = target
				placement.State = metadata.StateStored
				s.progress.ChunkDone(manifest.FileID, chunk.Size)
			}
			s.record(placement, clog)
			return nil
		})
	}
	g.Wait()
	sort.Ints(report.Unplaced)
}

func (s *Source) registerAll(ctx context.Context, manifest *chunker.Manifest, report *ShareReport, log *logrus.Entry) {
	for _, idx := range sortedKeys(report.Placed) {
		target := report.Placed[idx]
		clog := log.WithFields(logrus.Fields{"chunk": idx, "peer": target.String()})

		_, err := retry(ctx, s.cfg.RegisterAttempts, s.cfg.RetryBackoff, func() error {
			return s.tracker.Register(ctx, manifest.FileID, []int{idx}, target)
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		placement, jerr := s.placement(manifest.FileID, idx)
		if jerr != nil {
			placement = metadata.Placement{FileID: manifest.FileID, Index: idx, Peer: target}
		}
		if err != nil {
			clog.WithError(err).Error("chunk stored but not registered")
			report.Unregistered = append(report.Unregistered, idx)
			placement.State = metadata.StateStored
			placement.LastError = err.Error()
		} else {
			clog.Info("chunk registered")
			placement.State = metadata.StateRegistered
			placement.LastError = ""
		}
		s.record(placement, clog)
	}
}

// Reconcile retries registration of every chunk the journal holds as stored
// but unregistered.
func (s *Source) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if s.journal == nil {
		return nil, errors.New("reconcile requires a placement journal")
	}
	pending, err := s.journal.ListByState(metadata.StateStored)
	if err != nil {
		return nil, fmt.Errorf("list pending placements: %w", err)
	}

	report := &ReconcileReport{}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		clog := s.log.WithFields(logrus.Fields{"file_id": p.FileID, "chunk": p.Index, "peer": p.Peer.String()})

		_, err := retry(ctx, s.cfg.RegisterAttempts, s.cfg.RetryBackoff, func() error {
			return s.tracker.Register(ctx, p.FileID, []int{p.Index}, p.Peer)
		})
		if err != nil {
			clog.WithError(err).Warn("reconcile: registration still failing")
			report.Failed = append(report.Failed, ReconcileFailure{FileID: p.FileID, Index: p.Index, Peer: p.Peer, Err: err})
			p.LastError = err.Error()
			s.record(p, clog)
			continue
		}

		p.State = metadata.StateRegistered
		p.LastError = ""
		s.record(p, clog)
		report.Registered++
		clog.Info("reconcile: chunk registered")
	}
	return report, nil
}

func (s *Source) record(p metadata.Placement, log *logrus.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.PutPlacement(p); err != nil {
		log.WithError(err).Warn("failed to journal placement")
	}
}

func (s *Source) placement(fileID p2p.FileID, index int) (metadata.Placement, error) {
	if s.journal == nil {
		return metadata.Placement{}, metadata.ErrNotFound
	}
	return s.journal.GetPlacement(fileID, index)
}
