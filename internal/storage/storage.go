package storage

import (
	"errors"
	"io"
)

// ErrChunkNotFound is returned by Get when no chunk is stored at an index.
var ErrChunkNotFound = errors.New("chunk not found")

// Storage defines the interface for storing and retrieving chunks by index
// within one namespace.
type Storage interface {
	// Put stores the chunk at index, replacing any previous blob.
	Put(index int, chunkData io.Reader) (int64, error)
	// Get opens the chunk at index. Returns ErrChunkNotFound when absent.
	Get(index int) (io.ReadCloser, error)
	Has(index int) bool
	// Path returns where the chunk at index lives on disk.
	Path(index int) string
	// Indices lists stored chunk indices in ascending order.
	Indices() ([]int, error)
}
