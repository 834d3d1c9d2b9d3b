package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jaywantadh/chunkmesh/config"
	"github.com/jaywantadh/chunkmesh/internal/chunker"
	"github.com/jaywantadh/chunkmesh/internal/p2p"
	"github.com/jaywantadh/chunkmesh/internal/storage"
)

// DefaultMaxChunks bounds how many chunk indices one download may span.
const DefaultMaxChunks = 1 << 20

// missingPreview is how many missing indices errors and logs spell out.
const missingPreview = 5

// errStopFetching cancels the remaining fetches once fail-fast has lost a chunk.
var errStopFetching = errors.New("stop fetching")

type SinkConfig struct {
	DownloadDir string
	OutputDir   string
	// Policy is config.PolicyBestEffort or config.PolicyFailFast.
	Policy      string
	Parallelism int
	MaxChunks   int
}

// Sink locates, fetches and reassembles shared files.
type Sink struct {
	cfg      SinkConfig
	peers    ChunkTransport
	tracker  Locator
	progress *ProgressTracker
	log      *logrus.Entry
}

func NewSink(cfg SinkConfig, peers ChunkTransport, tracker Locator, log *logrus.Entry) *Sink {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = config.PolicyBestEffort
	}
	if cfg.MaxChunks < 1 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	return &Sink{
		cfg:      cfg,
		peers:    peers,
		tracker:  tracker,
		progress: NewProgressTracker(),
		log:      log,
	}
}

func (s *Sink) Progress() *ProgressTracker {
	return s.progress
}

// OutputPath is where Download writes fileID.
func (s *Sink) OutputPath(fileID p2p.FileID) string {
	return filepath.Join(s.cfg.OutputDir, "reconstructed_"+fileID)
}

// Download fetches every chunk of fileID and reassembles it.
//
// An unknown file returns ErrNoSuchFile and writes nothing. Under the
// best-effort policy a file with unreachable chunks is still written, the
// gaps are listed in the report and ErrIncomplete is returned. Under
// fail-fast the first such chunk aborts before any output is written.
func (s *Sink) Download(ctx context.Context, fileID p2p.FileID) (*DownloadReport, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	log := s.log.WithField("file_id", fileID)

	chunkMap, err := s.tracker.GetPeers(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(chunkMap) == 0 {
		log.Info("tracker knows no such file")
		return nil, fmt.Errorf("%w: %s", ErrNoSuchFile, fileID)
	}

	total := 0
	for idx := range chunkMap {
		if idx+1 > total {
			total = idx + 1
		}
	}
	if total > s.cfg.MaxChunks {
		log.WithFields(logrus.Fields{"chunks": total, "registered": len(chunkMap)}).Error("chunk map spans too many indices")
		return nil, fmt.Errorf("%w: %s spans %d chunks, limit is %d", ErrTooManyChunks, fileID, total, s.cfg.MaxChunks)
	}
	if total > 2*len(chunkMap) {
		log.WithFields(logrus.Fields{"chunks": total, "registered": len(chunkMap)}).Warn("chunk map is sparse, most indices are unregistered")
	}

	chunkDir := filepath.Join(s.cfg.DownloadDir, fileID)
	if err := os.RemoveAll(chunkDir); err != nil {
		return nil, fmt.Errorf("failed to clear download directory: %w", err)
	}
	downloads, err := storage.NewLocalStorage(chunkDir)
	if err != nil {
		return nil, err
	}

	report := &DownloadReport{
		FileID:  fileID,
		Total:   total,
		Fetched: make(map[int]p2p.PeerAddress),
	}
	s.progress.StartTracking(fileID, fileID, total, 0)
	log.WithFields(logrus.Fields{"chunks": total, "registered": len(chunkMap)}).Info("downloading")

	if err := s.fetchAll(ctx, fileID, total, chunkMap, downloads, report, log); err != nil {
		s.progress.Finish(fileID, StatusFailed)
		return report, err
	}

	if len(report.Missing) > 0 && s.cfg.Policy == config.PolicyFailFast {
		s.progress.Finish(fileID, StatusFailed)
		log.WithField("missing", summarizeIndices(report.Missing)).Error("aborting: chunks exhausted")
		return report, fmt.Errorf("%w: %s of %s", ErrChunkExhausted, summarizeIndices(report.Missing), fileID)
	}

	res, err := chunker.Reassemble(s.OutputPath(fileID), total, downloads)
	if err != nil {
		s.progress.Finish(fileID, StatusFailed)
		return report, fmt.Errorf("reassemble %s: %w", fileID, err)
	}
	report.OutputPath = res.OutputPath
	report.Written = res.Written

	if len(report.Missing) > 0 {
		s.progress.Finish(fileID, StatusDegraded)
		log.WithFields(logrus.Fields{"missing": summarizeIndices(report.Missing), "output": res.OutputPath}).Warn("file reassembled with gaps")
		return report, fmt.Errorf("%w: %s of %s", ErrIncomplete, summarizeIndices(report.Missing), fileID)
	}

	s.progress.Finish(fileID, StatusCompleted)
	log.WithFields(logrus.Fields{"bytes": res.Written, "output": res.OutputPath}).Info("file reassembled")
	return report, nil
}

// fetchAll runs every chunk through PENDING -> SUCCESS | EXHAUSTED. Only a
// local storage failure or cancellation is returned as an error. Under
// fail-fast the first EXHAUSTED chunk cancels the fetches still pending.
func (s *Sink) fetchAll(ctx context.Context, fileID p2p.FileID, total int, chunkMap map[int][]p2p.PeerAddress, downloads *storage.LocalStorage, report *DownloadReport, log *logrus.Entry) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for idx := 0; idx < total; idx++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			clog := log.WithField("chunk", idx)
			data, from, ok := s.fetchChunk(gctx, idx, chunkMap[idx], clog)
			if err := gctx.Err(); err != nil {
				return err
			}

			if ok {
				if _, err := downloads.Put(idx, bytes.NewReader(data)); err != nil {
					return fmt.Errorf("persist chunk %d: %w", idx, err)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if ok {
				report.Fetched[idx] = from
				s.progress.ChunkDone(fileID, int64(len(data)))
			} else {
				if len(chunkMap[idx]) == 0 {
					clog.Debug("chunk index never registered")
				} else {
					clog.WithField("peers", len(chunkMap[idx])).Error("chunk exhausted")
				}
				report.Missing = append(report.Missing, idx)
				s.progress.ChunkFailed(fileID)
				if s.cfg.Policy == config.PolicyFailFast {
					return errStopFetching
				}
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Ints(report.Missing)
	if err != nil && !errors.Is(err, errStopFetching) {
		return err
	}
	return ctx.Err()
}

// fetchChunk tries peers in registration order and returns the first
// verified copy.
func (s *Sink) fetchChunk(ctx context.Context, idx int, peers []p2p.PeerAddress, log *logrus.Entry) ([]byte, p2p.PeerAddress, bool) {
	for k, addr := range peers {
		if ctx.Err() != nil {
			return nil, p2p.PeerAddress{}, false
		}
		data, err := s.peers.Fetch(ctx, addr, idx)
		if err == nil {
			if k > 0 {
				log.WithField("peer", addr.String()).Info("chunk fetched from fallback peer")
			}
			return data, addr, true
		}
		log.WithFields(logrus.Fields{"peer": addr.String(), "attempt": k + 1}).WithError(err).Warn("fetch failed, trying next peer")
	}
	return nil, p2p.PeerAddress{}, false
}

func validateFileID(fileID p2p.FileID) error {
	if fileID == "" || fileID == "." || fileID == ".." || strings.ContainsAny(fileID, `/\`) || filepath.Base(fileID) != fileID {
		return fmt.Errorf("invalid file id %q", fileID)
	}
	return nil
}

// IsDegraded reports whether err is the best-effort incomplete outcome, in
// which case the output file exists.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// summarizeIndices renders a list of chunk indices, spelling out only the
// first few.
func summarizeIndices(idx []int) string {
	if len(idx) <= missingPreview {
		return fmt.Sprintf("chunks %v", idx)
	}
	return fmt.Sprintf("%d chunks, first %v", len(idx), idx[:missingPreview])
}
