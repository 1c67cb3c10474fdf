package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Versifine/hexrelay/internal/hexdump"
	"github.com/Versifine/hexrelay/internal/logger"
)

type Server struct {
	listenerAddr string
	remoteAddr   string
	backlog      int
	grace        time.Duration
	sink         hexdump.Sink
	log          *slog.Logger

	// abortCtx 仅在宽限期耗尽时取消，用于中断仍在拨号的连接
	abortCtx context.Context
	abort    context.CancelFunc

	mu       sync.Mutex
	conns    map[*conn]struct{}
	aborting bool
	handlers sync.WaitGroup
}

type Option func(*Server)

// WithBacklog sets the accept queue length. Zero keeps the platform default.
func WithBacklog(n int) Option {
	return func(s *Server) { s.backlog = n }
}

// WithShutdownGrace bounds how long Serve waits for live connections after
// shutdown before closing them. Zero leaves them running untouched.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) { s.grace = d }
}

func WithSink(sink hexdump.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(listenerAddr, remoteAddr string, opts ...Option) *Server {
	s := &Server{
		listenerAddr: listenerAddr,
		remoteAddr:   remoteAddr,
		backlog:      16,
		conns:        make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.L()
	}
	if s.sink == nil {
		s.sink = hexdump.NewTextSink(logger.Output())
	}
	s.abortCtx, s.abort = context.WithCancel(context.Background())
	return s
}

// conn 持有一对端点，两端各关闭一次
type conn struct {
	client     net.Conn
	remote     net.Conn
	clientAddr string
	remoteAddr string
	created    time.Time
	closeOnce  sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.client.Close()
		_ = c.remote.Close()
	})
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlListener}
	netListener, err := lc.Listen(ctx, "tcp", s.listenerAddr)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrBind, s.listenerAddr, err)
	}
	if err := setBacklog(netListener, s.backlog); err != nil {
		_ = netListener.Close()
		return fmt.Errorf("%w %s: backlog: %w", ErrBind, s.listenerAddr, err)
	}
	s.log.Info("Listening", "listen", netListener.Addr().String(), "remote", s.remoteAddr)
	return s.Serve(ctx, netListener)
}

// Serve runs the accept loop on an already bound listener until ctx is
// cancelled. Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, netListener net.Listener) error {
	defer netListener.Close()
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("Shutting down")
			_ = netListener.Close()
		case <-stopped:
		}
	}()
	for {
		clientConn, err := netListener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.drain()
				s.log.Info("Relay stopped", "active", s.ActiveConnections())
				return nil
			}
			s.log.Error("Error accepting connection", "error", err)
			return err
		}
		s.log.Info("Accepted connection", "client", clientConn.RemoteAddr().String())
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConnection(clientConn)
		}()
	}
}

// ActiveConnections 返回当前正在转发的连接数
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConnection(clientConn net.Conn) {
	clientAddr := clientConn.RemoteAddr().String()
	setNoDelay(clientConn)

	var dialer net.Dialer
	remoteConn, err := dialer.DialContext(s.abortCtx, "tcp", s.remoteAddr)
	if err != nil {
		err = fmt.Errorf("%w %s: %w", ErrConnect, s.remoteAddr, err)
		s.log.Error("Cannot connect to remote", "client", clientAddr, "remote", s.remoteAddr, "error", err)
		_ = clientConn.Close()
		return
	}
	setNoDelay(remoteConn)

	c := &conn{
		client:     clientConn,
		remote:     remoteConn,
		clientAddr: clientAddr,
		remoteAddr: s.remoteAddr,
		created:    time.Now(),
	}
	if !s.track(c) {
		c.close()
		return
	}
	defer s.untrack(c)

	s.log.Debug("Relaying connection", "client", clientAddr, "remote", s.remoteAddr)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.relay(clientConn, remoteConn, "client->"+s.remoteAddr, clientAddr)
	}()
	go func() {
		defer wg.Done()
		s.relay(remoteConn, clientConn, s.remoteAddr+"->client", clientAddr)
	}()
	wg.Wait()
	c.close()
	s.log.Info("Connection closed",
		"client", clientAddr,
		"at", time.Now().Format(time.DateTime),
		"duration", time.Since(c.created).Round(time.Millisecond))
}

func (s *Server) relay(src, dst net.Conn, direction, clientAddr string) {
	err := relayChunks(src, dst, direction, clientAddr, s.sink, s.log)
	if err != nil {
		s.log.Error("Relay error", "direction", direction, "client", clientAddr, "error", err)
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborting {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// drain 在 grace 为 0 时直接返回，保留正在转发的连接；
// 否则等待至多 grace，再强制关闭剩余连接并等待其处理协程退出
func (s *Server) drain() {
	if s.grace <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	s.aborting = true
	s.abort()
	for c := range s.conns {
		s.log.Warn("Force closing connection", "client", c.clientAddr, "remote", c.remoteAddr)
		c.close()
	}
	s.mu.Unlock()
	<-done
}

func setNoDelay(c net.Conn) {
	// Disable Nagle's algorithm for lower latency
	if tcpConn, ok := c.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
}
