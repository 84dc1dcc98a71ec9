package remote

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim/network"
	"github.com/sirupsen/logrus"
)

// ServerConfig configures a worker server.
type ServerConfig struct {
	// Name identifies the worker in replies (defaults to the listen address).
	Name string
	// IdleTimeout closes connections that send nothing for this long; 0 disables it.
	IdleTimeout  time.Duration
	MaxFrameSize uint32
}

// Server serves catalog simulations to remote clients, one goroutine per connection.
// Requests on one connection are served in order.
type Server struct {
	catalog *Catalog
	cfg     ServerConfig

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*network.TCPTransport]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server for catalog.
func NewServer(catalog *Catalog, cfg ServerConfig) *Server {
	return &Server{
		catalog: catalog,
		cfg:     cfg,
		conns:   make(map[*network.TCPTransport]struct{}),
	}
}

// Listen binds addr ("host:port"; port 0 picks a free port).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "listening on %s", addr)
	}
	s.mu.Lock()
	s.ln = ln
	if s.cfg.Name == "" {
		s.cfg.Name = ln.Addr().String()
	}
	s.mu.Unlock()
	logrus.Infof("worker %s listening on %s (%d models)", s.cfg.Name, ln.Addr(), len(s.catalog.Names()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called.
// It returns nil on orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return eris.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			return eris.Wrap(err, "accepting connection")
		}
		opts := []network.Option{network.WithTimeout(s.cfg.IdleTimeout)}
		if s.cfg.MaxFrameSize > 0 {
			opts = append(opts, network.WithMaxFrameSize(s.cfg.MaxFrameSize))
		}
		transport := network.NewTCPTransport(conn, opts...)
		if !s.track(transport) {
			_ = transport.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(transport)
			s.handle(ctx, transport)
		}()
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for t := range s.conns {
		_ = t.Close()
	}
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			return eris.Wrap(err, "closing listener")
		}
	}
	return nil
}

func (s *Server) handle(ctx context.Context, transport *network.TCPTransport) {
	peer := transport.RemoteAddr()
	logrus.Debugf("worker %s: connection from %s", s.cfg.Name, peer)
	conn := network.NewObjectConn(transport, NewCodec())

	for {
		msg, err := conn.ReadAny()
		switch {
		case err == nil:
		case eris.Is(err, network.ErrDecode):
			logrus.Warnf("worker %s: undecodable message from %s: %v", s.cfg.Name, peer, err)
			if werr := conn.WriteObject(&SimulationReply{Worker: s.cfg.Name, Err: err.Error()}); werr != nil {
				return
			}
			continue
		case eris.Is(err, network.ErrConnectionClosed):
			logrus.Debugf("worker %s: %s disconnected", s.cfg.Name, peer)
			return
		case eris.Is(err, network.ErrTimeout):
			logrus.Debugf("worker %s: closing idle connection from %s", s.cfg.Name, peer)
			return
		default:
			logrus.Warnf("worker %s: reading from %s: %v", s.cfg.Name, peer, err)
			return
		}

		var reply any
		switch m := msg.(type) {
		case *SimulationRequest:
			reply = s.serve(ctx, m)
		case *CatalogRequest:
			reply = &CatalogReply{Worker: s.cfg.Name, Models: s.catalog.Models()}
		default:
			reply = &SimulationReply{Worker: s.cfg.Name, Err: eris.Errorf("unexpected message %T", msg).Error()}
		}
		if err := conn.WriteObject(reply); err != nil {
			logrus.Warnf("worker %s: replying to %s: %v", s.cfg.Name, peer, err)
			return
		}
	}
}

func (s *Server) serve(ctx context.Context, req *SimulationRequest) *SimulationReply {
	start := time.Now()
	reply, err := s.catalog.Execute(ctx, req)
	if err != nil {
		logrus.Warnf("worker %s: request %s (%s %s) failed: %v", s.cfg.Name, req.ID, req.Kind, req.Model, err)
		return &SimulationReply{ID: req.ID, Worker: s.cfg.Name, Err: err.Error()}
	}
	reply.Worker = s.cfg.Name
	logrus.Infof("worker %s: request %s (%s %s) served in %s", s.cfg.Name, req.ID, req.Kind, req.Model,
		time.Since(start).Round(time.Millisecond))
	return reply
}

func (s *Server) track(t *network.TCPTransport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[t] = struct{}{}
	return true
}

func (s *Server) untrack(t *network.TCPTransport) {
	s.mu.Lock()
	delete(s.conns, t)
	s.mu.Unlock()
	_ = t.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
