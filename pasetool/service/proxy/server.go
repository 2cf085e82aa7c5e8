package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/go-appsec/pasetool/pasetool/service/store"
)

// Options configures a ProxyServer.
type Options struct {
	// Addr is the listen address; port 0 picks a free port.
	Addr string
	// ConfigDir holds the interception CA.
	ConfigDir string
	// MaxBodyBytes truncates bodies kept in history. Zero keeps everything.
	MaxBodyBytes int
	Timeouts     TimeoutConfig
	// Interceptor sees every request before it is forwarded. Defaults to PassThrough.
	Interceptor RequestInterceptor
	// History receives captured exchanges. Defaults to an in-memory store.
	History *HistoryStore
	Logger  zerolog.Logger
}

// ProxyServer is an intercepting HTTP/1.1 proxy with CONNECT MITM support.
type ProxyServer struct {
	log      zerolog.Logger
	listener net.Listener
	certs    *CertManager
	history  *HistoryStore
	http1    *http1Handler
	connect  *connectHandler

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	ready       chan struct{}
	readyOnce   sync.Once
	closed      atomic.Bool
	activeConns sync.Map
}

// NewProxyServer loads the CA and binds the listener. Call Serve to start accepting.
func NewProxyServer(opts Options) (*ProxyServer, error) {
	log := opts.Logger.With().Str("component", "proxy").Logger()
	certs, err := NewCertManager(opts.ConfigDir, log)
	if err != nil {
		return nil, fmt.Errorf("load CA: %w", err)
	}

	listener, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}

	history := opts.History
	if history == nil {
		history = NewHistoryStore(store.NewMemStorage(), log, nil)
	}
	interceptor := opts.Interceptor
	if interceptor == nil {
		interceptor = PassThrough{}
	}

	h1 := &http1Handler{
		log:          log,
		history:      history,
		interceptor:  interceptor,
		maxBodyBytes: opts.MaxBodyBytes,
		timeouts:     opts.Timeouts,
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProxyServer{
		log:      log,
		listener: listener,
		certs:    certs,
		history:  history,
		http1:    h1,
		connect:  &connectHandler{log: log, certs: certs, http1: h1},
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (s *ProxyServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *ProxyServer) History() *HistoryStore {
	return s.history
}

func (s *ProxyServer) CertManager() *CertManager {
	return s.certs
}

// WaitReady blocks until Serve is accepting connections.
func (s *ProxyServer) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve accepts connections until Shutdown.
func (s *ProxyServer) Serve() error {
	s.readyOnce.Do(func() { close(s.ready) })
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *ProxyServer) handleConnection(conn net.Conn) {
	s.activeConns.Store(conn, struct{}{})
	defer func() {
		s.activeConns.Delete(conn)
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	peek, err := br.Peek(8)
	if err != nil {
		return
	}
	switch {
	case bytes.HasPrefix(peek, []byte("PRI * HT")):
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("h2c preface rejected")
	case bytes.HasPrefix(peek, []byte("CONNECT ")):
		s.connect.Handle(s.ctx, conn, br)
	default:
		s.http1.serve(s.ctx, conn, br, nil)
	}
}

// Shutdown stops accepting, cancels in-flight exchanges and waits for them.
// Connections still open when ctx ends are closed forcibly.
func (s *ProxyServer) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.listener.Close()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.activeConns.Range(func(key, _ any) bool {
			_ = key.(net.Conn).Close()
			return true
		})
		<-done
	}
	return nil
}
