package tracker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

// Server exposes a Registry over the framed protocol.
type Server struct {
	*p2p.Server
	reg *Registry
	log *logrus.Entry
}

func NewServer(cfg p2p.ServerConfig, reg *Registry, log *logrus.Entry) *Server {
	s := &Server{
		Server: p2p.NewServer(cfg, log),
		reg:    reg,
		log:    log,
	}
	s.Handle(p2p.MessageRegister, s.handleRegister)
	s.Handle(p2p.MessageGetPeers, s.handleGetPeers)
	return s
}

func (s *Server) Registry() *Registry {
	return s.reg
}

func (s *Server) handleRegister(ctx context.Context, req *p2p.Envelope) (p2p.MessageType, interface{}) {
	var r p2p.RegisterRequest
	if err := req.Decode(&r); err != nil {
		return p2p.Fail(err)
	}
	if r.FileID == "" {
		return p2p.Fail(errors.New("register: empty file_id"))
	}

	s.reg.Register(r.FileID, r.Chunks, r.PeerAddress)
	s.log.WithFields(logrus.Fields{
		"file_id": r.FileID,
		"chunks":  r.Chunks,
		"peer":    r.PeerAddress.String(),
	}).Info("registered chunks")

	return p2p.MessageRegisterAck, p2p.RegisterAck{Status: p2p.StatusOK}
}

func (s *Server) handleGetPeers(ctx context.Context, req *p2p.Envelope) (p2p.MessageType, interface{}) {
	var r p2p.GetPeersRequest
	if err := req.Decode(&r); err != nil {
		return p2p.Fail(err)
	}

	chunks := s.reg.GetPeers(r.FileID)
	s.log.WithFields(logrus.Fields{"file_id": r.FileID, "chunks": len(chunks)}).Debug("peer lookup")
	return p2p.MessagePeerMap, p2p.PeerMap{Chunks: chunks}
}
