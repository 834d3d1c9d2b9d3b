package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkmesh/internal/chunker"
	"github.com/jaywantadh/chunkmesh/internal/p2p"
	"github.com/jaywantadh/chunkmesh/internal/storage"
)

// ChunkStore is the storage a peer serves from.
type ChunkStore interface {
	Put(index int, chunkData io.Reader) (int64, error)
	ReadChunk(index int) ([]byte, error)
	PutDigest(index int, digest string) error
	Digest(index int) (string, error)
}

// Server stores and serves chunks for one namespace.
type Server struct {
	*p2p.Server
	store ChunkStore
	log   *logrus.Entry

	// mu keeps a blob and its digest sidecar consistent for readers.
	mu sync.RWMutex
}

func NewServer(cfg p2p.ServerConfig, store ChunkStore, log *logrus.Entry) *Server {
	s := &Server{
		Server: p2p.NewServer(cfg, log),
		store:  store,
		log:    log,
	}
	s.Handle(p2p.MessageStoreChunk, s.handleStore)
	s.Handle(p2p.MessageFetchChunk, s.handleFetch)
	return s
}

func (s *Server) handleStore(ctx context.Context, req *p2p.Envelope) (p2p.MessageType, interface{}) {
	var r p2p.StoreRequest
	if err := req.Decode(&r); err != nil {
		return p2p.Fail(err)
	}
	log := s.log.WithFields(logrus.Fields{"chunk": r.ChunkIndex, "bytes": len(r.ChunkData)})

	if r.ChunkIndex < 0 {
		return p2p.Fail(fmt.Errorf("invalid chunk index %d", r.ChunkIndex))
	}
	if !chunker.VerifyDigest(r.ChunkData, r.Digest) {
		log.Warn("rejecting chunk with mismatched digest")
		return p2p.Fail(p2p.ErrDigestMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutDigest(r.ChunkIndex, ""); err != nil {
		log.WithError(err).Error("failed to clear digest")
		return p2p.Fail(err)
	}
	if _, err := s.store.Put(r.ChunkIndex, bytes.NewReader(r.ChunkData)); err != nil {
		log.WithError(err).Error("failed to store chunk")
		return p2p.Fail(err)
	}
	if err := s.store.PutDigest(r.ChunkIndex, r.Digest); err != nil {
		log.WithError(err).Error("failed to record digest")
		return p2p.Fail(err)
	}

	log.Info("chunk stored")
	return p2p.MessageStoreAck, p2p.StoreAck{Status: p2p.StatusChunkReceived}
}

func (s *Server) handleFetch(ctx context.Context, req *p2p.Envelope) (p2p.MessageType, interface{}) {
	var r p2p.FetchRequest
	if err := req.Decode(&r); err != nil {
		return p2p.Fail(err)
	}
	log := s.log.WithField("chunk", r.RequestChunk)

	s.mu.RLock()
	data, err := s.store.ReadChunk(r.RequestChunk)
	var want string
	if err == nil {
		want, err = s.store.Digest(r.RequestChunk)
	}
	s.mu.RUnlock()

	if errors.Is(err, storage.ErrChunkNotFound) {
		log.Debug("chunk not held")
		return p2p.MessageChunkData, p2p.ChunkData{Error: p2p.ErrTextNotFound}
	}
	if err != nil {
		log.WithError(err).Error("failed to read chunk")
		return p2p.Fail(err)
	}

	digest := chunker.Digest(data)
	if want != "" && want != digest {
		log.Error("stored chunk no longer matches its digest")
		return p2p.MessageChunkData, p2p.ChunkData{Error: p2p.ErrTextCorrupt}
	}

	log.Debug("chunk served")
	return p2p.MessageChunkData, p2p.ChunkData{ChunkData: data, Digest: digest}
}
