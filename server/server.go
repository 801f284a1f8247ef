// Package server serves emulators over TCP. Every accepted connection gets a
// fresh device instance, a stream session and, for stateful devices, a tick
// runner; all three end together when the connection closes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/internal/task"
	"github.com/arloliu/go-labemu/logger"
	"github.com/arloliu/go-labemu/stream"
)

var (
	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("server: already started")
	// ErrNilFactory is returned by New without device factory.
	ErrNilFactory = errors.New("server: device factory must not be nil")
)

type sessionEntry struct {
	session *stream.Session
	emu     device.Emulator
	runner  *device.Runner
	started time.Time
}

// Server accepts TCP connections and serves one emulator instance per connection.
type Server struct {
	ctx     context.Context
	cfg     *Config
	factory device.Factory
	logger  logger.Logger

	state lifecycle

	listener      net.Listener
	listenerMutex sync.Mutex

	acceptMgr  *task.Manager
	sessionMgr *task.Manager
	sessions   *xsync.MapOf[string, *sessionEntry]
	latest     atomic.Pointer[sessionEntry]
}

// New creates a server. The server stops when ctx is canceled or Close is called.
func New(ctx context.Context, cfg *Config, factory device.Factory) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config must not be nil")
	}
	if factory == nil {
		return nil, ErrNilFactory
	}

	l := cfg.logger.With("component", "server", "address", cfg.Address())

	return &Server{
		ctx:        ctx,
		cfg:        cfg,
		factory:    factory,
		logger:     l,
		acceptMgr:  task.NewManager(ctx, l),
		sessionMgr: task.NewManager(ctx, l),
		sessions:   xsync.NewMapOf[string, *sessionEntry](),
	}, nil
}

// Start opens the listener and starts accepting connections.
func (s *Server) Start() error {
	if !s.state.begin() {
		return ErrAlreadyStarted
	}

	if err := s.ensureListener(); err != nil {
		s.state.abort()
		return err
	}

	if err := s.acceptMgr.Start("accept", s.acceptConnTask, nil); err != nil {
		_ = s.closeListener()
		s.state.abort()

		return err
	}

	s.state.listening()
	s.logger.Info("server: listening", "addr", s.Addr())

	return nil
}

// Addr returns the bound listener address, nil when the server is not started.
func (s *Server) Addr() net.Addr {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return s.state.get()
}

// Sessions returns the IDs of the live sessions, sorted.
func (s *Server) Sessions() []string {
	ids := make([]string, 0, s.sessions.Size())
	s.sessions.Range(func(id string, _ *sessionEntry) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)

	return ids
}

// Emulator returns the device served by the session id.
func (s *Server) Emulator(id string) (device.Emulator, bool) {
	entry, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}

	return entry.emu, true
}

// Latest returns the device of the most recently accepted session that is
// still alive.
func (s *Server) Latest() (device.Emulator, bool) {
	entry := s.latest.Load()
	if entry == nil || entry.session.Closed() {
		return nil, false
	}

	return entry.emu, true
}

// Close stops accepting, closes every session and waits for their tasks.
func (s *Server) Close() error {
	if !s.state.drain() {
		return nil
	}

	s.acceptMgr.Stop()
	err := s.closeListener()
	s.acceptMgr.Wait()

	s.sessionMgr.Stop()
	s.sessions.Range(func(_ string, entry *sessionEntry) bool {
		_ = entry.session.Close()
		return true
	})
	s.sessionMgr.Wait()

	s.state.stopped()
	s.logger.Info("server: closed")

	return err
}

func (s *Server) ensureListener() error {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.listener != nil {
		return nil
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(s.ctx, "tcp", s.cfg.Address())
	if err != nil {
		s.logger.Error("server: failed to listen", "error", err)
		return fmt.Errorf("server: listen %s: %w", s.cfg.Address(), err)
	}
	s.listener = listener

	return nil
}

// acceptConnTask blocks on Accept() for at most the accept timeout and
// serves the accepted connection. It returns false once the server shuts down.
func (s *Server) acceptConnTask() bool {
	tcpListener := s.getTCPListener()
	if tcpListener == nil {
		return false
	}

	conn, err := tcpListener.Accept()
	if err != nil {
		return s.handleAcceptError(err)
	}

	if s.sessions.Size() >= s.cfg.maxSessions {
		s.logger.Warn("server: session limit reached, rejecting connection",
			"remoteAddr", conn.RemoteAddr(), "maxSessions", s.cfg.maxSessions)
		_ = conn.Close()

		return true
	}

	if err := s.serveConn(conn); err != nil {
		s.logger.Error("server: failed to serve connection", "remoteAddr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
	}

	return true
}

// handleAcceptError handles errors from Accept(). Returns true to retry,
// false to stop the accept loop.
func (s *Server) handleAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		select {
		case <-s.acceptMgr.Context().Done():
			return false
		default:
			return true
		}
	}

	if errors.Is(err, net.ErrClosed) || s.acceptMgr.Context().Err() != nil {
		return false
	}

	s.logger.Error("server: accept failed", "error", err)

	return true
}

// getTCPListener retrieves the listener and sets the accept deadline.
func (s *Server) getTCPListener() *net.TCPListener {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.listener == nil {
		return nil
	}

	tcpListener, ok := s.listener.(*net.TCPListener)
	if !ok {
		return nil
	}

	if err := tcpListener.SetDeadline(time.Now().Add(s.cfg.acceptTimeout)); err != nil {
		s.logger.Error("server: failed to set accept deadline", "error", err)
		return nil
	}

	return tcpListener
}

func (s *Server) closeListener() error {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.listener == nil {
		return nil
	}

	err := s.listener.Close()
	s.listener = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (s *Server) serveConn(conn net.Conn) error {
	emu, err := s.factory()
	if err != nil {
		return fmt.Errorf("server: create device: %w", err)
	}

	id := uuid.NewString()
	entry := &sessionEntry{
		emu:     emu,
		started: time.Now(),
		session: stream.NewSession(conn, emu.Protocol(),
			stream.WithSessionID(id),
			stream.WithLocker(emu),
		),
	}

	if _, ok := emu.(device.Ticker); ok {
		runner, err := device.NewRunner(s.sessionMgr.Context(), emu,
			device.WithTickInterval(s.cfg.tickInterval),
			device.WithRunnerLogger(s.logger.With("session", id)),
		)
		if err != nil {
			return err
		}
		if err := runner.Start(); err != nil {
			return err
		}
		entry.runner = runner
	}

	s.sessions.Store(id, entry)
	s.latest.Store(entry)

	s.logger.Info("server: session opened", "session", id, "device", emu.Name(), "remoteAddr", conn.RemoteAddr())

	err = s.sessionMgr.Start("session-"+id, func() bool {
		if err := entry.session.Serve(s.sessionMgr.Context()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("server: session ended with error", "session", id, "error", err)
		}

		return false
	}, func() {
		s.endSession(id, entry)
	})
	if err != nil {
		s.endSession(id, entry)
		return err
	}

	return nil
}

func (s *Server) endSession(id string, entry *sessionEntry) {
	if entry.runner != nil {
		entry.runner.Stop()
	}
	_ = entry.session.Close()
	s.sessions.Delete(id)
	s.latest.CompareAndSwap(entry, nil)

	m := entry.session.Metrics()
	s.logger.Info("server: session closed", "session", id,
		"duration", time.Since(entry.started),
		"requests", m.RequestCount.Load(),
		"replies", m.ReplyCount.Load(),
	)
}
