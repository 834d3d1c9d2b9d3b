package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ProgressTracker tracks the progress of shares and downloads.
type ProgressTracker struct {
	transfers map[string]*TransferProgress
	mu        sync.RWMutex
}

// TransferProgress represents the progress of a single transfer
type TransferProgress struct {
	TransferID     string
	FileID         string
	Status         TransferStatus
	ChunksDone     int
	ChunksFailed   int
	TotalChunks    int
	BytesDone      int64
	TotalBytes     int64
	StartTime      time.Time
	LastUpdateTime time.Time
	Speed          float64 // bytes per second
	mu             sync.RWMutex
}

// Snapshot is a lock-free copy of a TransferProgress.
type Snapshot struct {
	TransferID   string
	FileID       string
	Status       TransferStatus
	ChunksDone   int
	ChunksFailed int
	TotalChunks  int
	BytesDone    int64
	TotalBytes   int64
	Speed        float64
	Elapsed      time.Duration
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		transfers: make(map[string]*TransferProgress),
	}
}

// StartTracking starts tracking a new transfer, replacing any previous one
// with the same ID.
func (pt *ProgressTracker) StartTracking(transferID, fileID string, totalChunks int, totalBytes int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := time.Now()
	pt.transfers[transferID] = &TransferProgress{
		TransferID:     transferID,
		FileID:         fileID,
		Status:         StatusInProgress,
		TotalChunks:    totalChunks,
		TotalBytes:     totalBytes,
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// ChunkDone records one finished chunk of n bytes.
func (pt *ProgressTracker) ChunkDone(transferID string, n int64) {
	pt.update(transferID, func(p *TransferProgress) {
		p.ChunksDone++
		p.BytesDone += n
	})
}

// ChunkFailed records one chunk that could not be moved.
func (pt *ProgressTracker) ChunkFailed(transferID string) {
	pt.update(transferID, func(p *TransferProgress) {
		p.ChunksFailed++
	})
}

// Finish sets the terminal status of a transfer.
func (pt *ProgressTracker) Finish(transferID string, status TransferStatus) {
	pt.update(transferID, func(p *TransferProgress) {
		p.Status = status
	})
}

func (pt *ProgressTracker) update(transferID string, fn func(*TransferProgress)) {
	pt.mu.RLock()
	progress, exists := pt.transfers[transferID]
	pt.mu.RUnlock()

	if !exists {
		return
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()

	now := time.Now()
	fn(progress)
	progress.LastUpdateTime = now

	if elapsed := now.Sub(progress.StartTime).Seconds(); elapsed > 0 {
		progress.Speed = float64(progress.BytesDone) / elapsed
	}
}

// Get returns a snapshot of one transfer.
func (pt *ProgressTracker) Get(transferID string) (Snapshot, bool) {
	pt.mu.RLock()
	progress, exists := pt.transfers[transferID]
	pt.mu.RUnlock()
	if !exists {
		return Snapshot{}, false
	}

	progress.mu.RLock()
	defer progress.mu.RUnlock()
	return Snapshot{
		TransferID:   progress.TransferID,
		FileID:       progress.FileID,
		Status:       progress.Status,
		ChunksDone:   progress.ChunksDone,
		ChunksFailed: progress.ChunksFailed,
		TotalChunks:  progress.TotalChunks,
		BytesDone:    progress.BytesDone,
		TotalBytes:   progress.TotalBytes,
		Speed:        progress.Speed,
		Elapsed:      progress.LastUpdateTime.Sub(progress.StartTime),
	}, true
}

func (pt *ProgressTracker) RemoveTransfer(transferID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	delete(pt.transfers, transferID)
}

// IDs lists tracked transfers in sorted order.
func (pt *ProgressTracker) IDs() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	ids := make([]string, 0, len(pt.transfers))
	for id := range pt.transfers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PrintProgress writes a one-line summary of a transfer to w.
func (pt *ProgressTracker) PrintProgress(w io.Writer, transferID string) {
	s, exists := pt.Get(transferID)
	if !exists {
		fmt.Fprintf(w, "Transfer %s not found\n", transferID)
		return
	}

	percent := 0.0
	if s.TotalChunks > 0 {
		percent = float64(s.ChunksDone) / float64(s.TotalChunks) * 100.0
	}

	fmt.Fprintf(w, "%s [%s] %d/%d chunks (%.1f%%), %s/%s",
		s.FileID, s.Status, s.ChunksDone, s.TotalChunks, percent,
		formatBytes(s.BytesDone), formatBytes(s.TotalBytes))
	if s.ChunksFailed > 0 {
		fmt.Fprintf(w, ", %d failed", s.ChunksFailed)
	}
	if s.Speed > 0 {
		fmt.Fprintf(w, ", %s/s", formatBytes(int64(s.Speed)))
	}
	fmt.Fprintln(w)
}

// MonitorProgress prints the transfer every interval until ctx is done.
func (pt *ProgressTracker) MonitorProgress(ctx context.Context, w io.Writer, transferID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, ok := pt.Get(transferID); ok {
				pt.PrintProgress(w, transferID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
