package chunker

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/jaywantadh/chunkmesh/internal/storage"
)

// DefaultChunkSize is 512 KiB.
const DefaultChunkSize = 512 * 1024

type ChunkMetadata struct {
	Index  int
	Digest string
	Path   string
	Size   int64
}

// Manifest describes a file after splitting. Chunks is ordered by index.
type Manifest struct {
	FileID    string
	FileSize  int64
	ChunkSize int
	Chunks    []ChunkMetadata
}

func (m *Manifest) NumChunks() int {
	return len(m.Chunks)
}

type SplitOptions struct {
	ChunkSize int
	Workers   int
}

type chunkTask struct {
	Index int
	Data  []byte
}

// Split cuts filePath into ChunkSize pieces and writes each one into store.
// A 0-byte file yields a single empty chunk.
func Split(filePath string, store storage.Storage, opts SplitOptions) (*Manifest, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	numWorkers := opts.Workers
	if numWorkers < 1 {
		numWorkers = 1
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	taskChan := make(chan chunkTask, numWorkers*2)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var metadataList []ChunkMetadata
	var errOnce sync.Once
	var processErr error

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				if _, err := store.Put(task.Index, bytes.NewReader(task.Data)); err != nil {
					setErrOnce(&errOnce, &processErr, fmt.Errorf("failed to stage chunk %d: %w", task.Index, err))
					continue
				}

				info := ChunkMetadata{
					Index:  task.Index,
					Digest: Digest(task.Data),
					Path:   store.Path(task.Index),
					Size:   int64(len(task.Data)),
				}

				mu.Lock()
				metadataList = append(metadataList, info)
				mu.Unlock()
			}
		}()
	}

	buf := make([]byte, opts.ChunkSize)
	index := 0
	for {
		n, err := io.ReadFull(file, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			close(taskChan)
			wg.Wait()
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}
		if n == 0 {
			break
		}

		taskCopy := make([]byte, n)
		copy(taskCopy, buf[:n])
		taskChan <- chunkTask{Index: index, Data: taskCopy}
		index++

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}
	// An empty file still gets chunk 0 so it can be registered and found.
	if index == 0 {
		taskChan <- chunkTask{Index: 0, Data: []byte{}}
	}

	close(taskChan)
	wg.Wait()

	if processErr != nil {
		return nil, processErr
	}

	sort.Slice(metadataList, func(i, j int) bool {
		return metadataList[i].Index < metadataList[j].Index
	})

	return &Manifest{
		FileID:    filepath.Base(filePath),
		FileSize:  fileInfo.Size(),
		ChunkSize: opts.ChunkSize,
		Chunks:    metadataList,
	}, nil
}

// NumChunksFor returns ceil(size / chunkSize), with a minimum of one.
func NumChunksFor(size int64, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// Digest is the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyDigest checks data against want. An empty want is accepted.
func VerifyDigest(data []byte, want string) bool {
	return want == "" || Digest(data) == want
}

func setErrOnce(once *sync.Once, target *error, err error) {
	once.Do(func() {
		*target = err
	})
}
