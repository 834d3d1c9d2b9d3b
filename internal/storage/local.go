package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jaywantadh/chunkmesh/internal/compressor"
)

const (
	chunkPrefix   = "chunk_"
	chunkExt      = ".dat"
	compressedExt = ".lz4"
	digestExt     = ".sum"
)

// LocalStorage implements Storage on a single directory, one file per index.
type LocalStorage struct {
	basePath string
	compress bool
}

type Option func(*LocalStorage)

// WithCompression stores blobs as lz4 frames.
func WithCompression(on bool) Option {
	return func(s *LocalStorage) { s.compress = on }
}

// NewLocalStorage creates the directory if needed.
func NewLocalStorage(basePath string, opts ...Option) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	s := &LocalStorage{basePath: basePath}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *LocalStorage) Dir() string {
	return s.basePath
}

func (s *LocalStorage) Path(index int) string {
	return filepath.Join(s.basePath, ChunkFileName(index))
}

func (s *LocalStorage) compressedPath(index int) string {
	return s.Path(index) + compressedExt
}

func (s *LocalStorage) digestPath(index int) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s%d%s", chunkPrefix, index, digestExt))
}

// ChunkFileName is the on-disk name for the chunk at index.
func ChunkFileName(index int) string {
	return fmt.Sprintf("%s%d%s", chunkPrefix, index, chunkExt)
}

// Put writes to a temp file and renames it into place, so readers only ever
// see whole blobs.
func (s *LocalStorage) Put(index int, chunkData io.Reader) (int64, error) {
	if index < 0 {
		return 0, fmt.Errorf("invalid chunk index %d", index)
	}
	tmp, err := os.CreateTemp(s.basePath, ".incoming-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp chunk file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var n int64
	if s.compress {
		zw := compressor.NewWriter(tmp)
		n, err = io.Copy(zw, chunkData)
		if err == nil {
			err = zw.Close()
		}
	} else {
		n, err = io.Copy(tmp, chunkData)
	}
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close chunk %d: %w", index, err)
	}

	final, stale := s.Path(index), s.compressedPath(index)
	if s.compress {
		final, stale = stale, final
	}
	if err := os.Rename(tmpName, final); err != nil {
		return 0, fmt.Errorf("failed to commit chunk %d: %w", index, err)
	}
	if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return n, fmt.Errorf("failed to remove stale chunk %d: %w", index, err)
	}
	return n, nil
}

// Get opens the chunk at index, decompressing transparently.
func (s *LocalStorage) Get(index int) (io.ReadCloser, error) {
	file, err := os.Open(s.Path(index))
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to open chunk file: %w", err)
	}

	file, err = os.Open(s.compressedPath(index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: index %d", ErrChunkNotFound, index)
		}
		return nil, fmt.Errorf("failed to open chunk file: %w", err)
	}
	return &lz4ReadCloser{Reader: compressor.NewReader(file), file: file}, nil
}

// ReadChunk returns the whole chunk at index.
func (s *LocalStorage) ReadChunk(index int) ([]byte, error) {
	rc, err := s.Get(index)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	return data, nil
}

func (s *LocalStorage) Has(index int) bool {
	for _, p := range []string{s.Path(index), s.compressedPath(index)} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (s *LocalStorage) Indices() ([]int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}
	seen := make(map[int]bool)
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), compressedExt)
		if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkExt) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkExt))
		if err != nil || idx < 0 {
			continue
		}
		seen[idx] = true
	}
	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// PutDigest records the expected digest for the chunk at index.
func (s *LocalStorage) PutDigest(index int, digest string) error {
	if digest == "" {
		if err := os.Remove(s.digestPath(index)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(s.digestPath(index), []byte(digest), 0644)
}

// Digest returns the recorded digest, or "" when none was recorded.
func (s *LocalStorage) Digest(index int) (string, error) {
	b, err := os.ReadFile(s.digestPath(index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read digest for chunk %d: %w", index, err)
	}
	return strings.TrimSpace(string(b)), nil
}

type lz4ReadCloser struct {
	io.Reader
	file *os.File
}

func (r *lz4ReadCloser) Close() error {
	return r.file.Close()
}
