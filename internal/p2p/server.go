package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HandlerFunc answers one request. The returned payload is sent back under
// the returned message type.
type HandlerFunc func(ctx context.Context, req *Envelope) (MessageType, interface{})

type ServerConfig struct {
	Addr      string
	MaxConns  int
	IOTimeout time.Duration
	NodeID    string
}

// Server is a one-request-per-connection TCP service. Accepted connections
// are handed to a fixed pool of MaxConns workers, so accept blocks while
// every worker is busy.
type Server struct {
	cfg      ServerConfig
	log      *logrus.Entry
	handlers map[MessageType]HandlerFunc

	mu       sync.Mutex
	listener net.Listener
	connChan chan net.Conn
	quit     chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(cfg ServerConfig, log *logrus.Entry) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		handlers: make(map[MessageType]HandlerFunc),
		connChan: make(chan net.Conn),
		quit:     make(chan struct{}),
	}
	s.Handle(MessagePing, func(ctx context.Context, req *Envelope) (MessageType, interface{}) {
		return MessagePong, Pong{NodeID: s.cfg.NodeID}
	})
	return s
}

// Handle registers h for msgType. It must be called before Serve.
func (s *Server) Handle(msgType MessageType, h HandlerFunc) {
	s.handlers[msgType] = h
}

// Listen binds the configured address. Calling it before Serve lets callers
// learn the bound port when Addr ends in ":0".
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	if s.closed {
		return errors.New("p2p: server closed")
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	s.listener = listener
	return nil
}

// Addr is the bound listen address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// ListenAndServe binds and serves until ctx is cancelled or Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop on a listener bound by Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("p2p: Serve called before Listen")
	}

	for i := 0; i < s.cfg.MaxConns; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.log.WithField("addr", listener.Addr().String()).Info("listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		select {
		case s.connChan <- conn:
		case <-s.quit:
			conn.Close()
			return nil
		}
	}
}

// Close stops accepting, closes the listener and waits for in-flight
// requests to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case conn := <-s.connChan:
			s.handleConn(ctx, conn)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.WithField("remote", conn.RemoteAddr().String())

	if err := conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
		log.WithError(err).Warn("failed to set deadline")
		return
	}

	req, err := ReadEnvelope(conn)
	if err != nil {
		log.WithError(err).Warn("rejecting request")
		if errors.Is(err, ErrEmptyFrame) || errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrMalformedMessage) {
			_ = WriteMessage(conn, MessageError, ErrorResponse{Error: err.Error()})
		}
		return
	}
	log = log.WithFields(logrus.Fields{"type": req.Type, "msg_id": req.ID})

	var (
		respType MessageType
		payload  interface{}
	)
	if h, ok := s.handlers[req.Type]; ok {
		respType, payload = h(ctx, req)
	} else {
		log.Warn("no handler for message type")
		respType, payload = MessageError, ErrorResponse{Error: fmt.Sprintf("unknown message type %q", req.Type)}
	}

	resp, err := NewEnvelope(respType, payload)
	if err != nil {
		log.WithError(err).Error("failed to build response")
		return
	}
	resp.ID = req.ID
	if err := WriteEnvelope(conn, resp); err != nil {
		log.WithError(err).Warn("failed to write response")
		return
	}
	log.Debug("request served")
}

// Fail builds an error reply for handlers.
func Fail(err error) (MessageType, interface{}) {
	return MessageError, ErrorResponse{Error: err.Error()}
}
