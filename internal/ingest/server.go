// Package ingest implements the TCP ingestion listener.
//
// Clients hold a persistent connection and stream wire frames; each
// decoded point goes straight into the storage service. A malformed
// frame is counted and skipped and the connection stays open. A client
// disconnecting mid-stream never affects engine state.
package ingest

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/logging"
	"github.com/carouseldb/carousel/internal/storage"
	"github.com/carouseldb/carousel/internal/wire"
)

// Server accepts ingestion connections.
type Server struct {
	addr     string
	svc      *storage.Service
	maxFrame int

	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	shutdown chan struct{}
	stopped  atomic.Bool
	wg       sync.WaitGroup

	log *slog.Logger
}

// NewServer creates an ingestion server in front of svc.
func NewServer(addr string, maxFrame int, svc *storage.Service) *Server {
	return &Server{
		addr:     addr,
		svc:      svc,
		maxFrame: maxFrame,
		conns:    make(map[net.Conn]struct{}),
		shutdown: make(chan struct{}),
		log:      logging.Component("ingest"),
	}
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	s.listener = ln
	s.log.Info("ingestion listener started", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and all active connections, then waits for
// connection handlers to finish. Safe to call more than once.
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(s.shutdown)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			s.log.Error("accept failed", "error", err)
			return
		}

		s.track(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConn reads frames until the client disconnects or the write
// path halts.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	id := uuid.NewString()[:8]
	log := s.log.With("conn", id, "remote", conn.RemoteAddr().String())
	log.Info("client connected")

	r := wire.NewReader(conn, s.maxFrame)
	for {
		p, err := r.ReadPoint()
		if err != nil {
			if err == io.EOF {
				log.Info("client disconnected")
				return
			}
			if errors.IsDecode(err) {
				s.svc.RecordDecodeError()
				log.Debug("malformed frame", "error", err)
				continue
			}
			// io.ErrUnexpectedEOF, reset connections, listener close
			log.Info("connection closed", "error", err)
			return
		}

		if err := s.svc.Ingest(p); err != nil {
			if errors.IsDecode(err) {
				s.svc.RecordDecodeError()
				log.Debug("point rejected", "series", p.Series, "error", err)
				continue
			}
			// Halted or stopped engine: nothing more this connection can do.
			log.Error("ingest failed, dropping connection", "error", err)
			return
		}
	}
}
