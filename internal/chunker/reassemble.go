package chunker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jaywantadh/chunkmesh/internal/storage"
)

// Result reports what Reassemble wrote.
type Result struct {
	OutputPath string
	Written    int64
	Missing    []int
}

// Reassemble concatenates chunks 0..total-1 from store into outputPath in
// ascending index order. Chunks absent from store are skipped and listed in
// Result.Missing. The output appears atomically once every present chunk is
// written.
func Reassemble(outputPath string, total int, store storage.Storage) (*Result, error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".reassemble-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	res := &Result{OutputPath: outputPath}
	for i := 0; i < total; i++ {
		n, err := copyChunk(tmp, store, i)
		if errors.Is(err, storage.ErrChunkNotFound) {
			res.Missing = append(res.Missing, i)
			continue
		}
		if err != nil {
			tmp.Close()
			return nil, err
		}
		res.Written += n
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return nil, fmt.Errorf("failed to set output permissions: %w", err)
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return nil, fmt.Errorf("failed to move output into place: %w", err)
	}
	return res, nil
}

func copyChunk(w io.Writer, store storage.Storage, index int) (int64, error) {
	rc, err := store.Get(index)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return n, fmt.Errorf("failed to write chunk %d to output file: %w", index, err)
	}
	return n, nil
}
