package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/go-appsec/pasetool/pasetool/config"
	"github.com/go-appsec/pasetool/pasetool/service/paseto"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
	"github.com/go-appsec/pasetool/pasetool/service/store"
)

const (
	shutdownTimeout = 10 * time.Second
	caCertFile      = "ca.pem" // CA certificate filename in config directory
	minPruneEvery   = time.Second
)

// Server is the pasetool MCP server.
type Server struct {
	cfg        *config.Config
	configPath string // resolved config file path (respects --config flag)
	flags      MCPServerFlags
	log        zerolog.Logger

	mcpPort   int
	proxyPort int

	// Edit engine and its collaborators
	settings *config.Settings
	registry *paseto.Registry
	engine   *paseto.Engine
	metrics  *Metrics
	promReg  *prometheus.Registry

	// Runtime state
	mcpServer   *mcpServer
	httpBackend HttpBackend
	proxyIndex  *store.ProxyIndex
	started     chan struct{}
	startedAt   time.Time

	// proxyLastOffset is the highest offset returned by proxy_poll, for since=last.
	proxyLastOffset atomic.Int64

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates a new MCP server instance. Run loads the config and starts
// the built-in proxy.
func NewServer(flags MCPServerFlags, log zerolog.Logger) (*Server, error) {
	promReg := prometheus.NewRegistry()
	s := &Server{
		flags:      flags,
		log:        log,
		promReg:    promReg,
		metrics:    NewMetrics(promReg),
		proxyIndex: store.NewProxyIndex(store.NewMemStorage()),
		started:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
	s.proxyLastOffset.Store(-1)
	return s, nil
}

// WaitTillStarted blocks until the server has started.
func (s *Server) WaitTillStarted() {
	<-s.started
}

// Run starts the MCP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Str("version", config.Version).Str("rev", config.RevNum).Msg("pasetool MCP server starting")

	markStarted := sync.OnceFunc(func() {
		s.startedAt = time.Now()
		close(s.started)
	})
	defer markStarted()

	if err := s.loadOrCreateConfig(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := s.setup(); err != nil {
		return err
	}

	s.mcpServer = newMCPServer(s)
	if err := s.mcpServer.Start(s.mcpPort); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to start MCP server: %w", err)
	}

	markStarted()
	s.log.Info().Str("addr", "http://"+s.mcpServer.Addr()+"/mcp").Msg("MCP server listening")
	s.printMCPConfig()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, initiating shutdown")
	case sig := <-sigCh:
		s.log.Info().Str("signal", sig.String()).Msg("initiating shutdown")
	case <-s.shutdownCh:
		s.log.Info().Msg("shutdown requested")
	}
	return s.shutdown()
}

// setup builds the engine from the loaded config and starts the built-in proxy.
func (s *Server) setup() error {
	s.settings = config.NewSettings(s.cfg, s.configPath)

	var opts []store.PendingOption
	if s.cfg.Pending.MaxEntries > 0 {
		opts = append(opts, store.WithMaxEntries(s.cfg.Pending.MaxEntries))
	}
	if ttl := s.cfg.Pending.TTL.Std(); ttl > 0 {
		opts = append(opts, store.WithTTL(ttl))
	}
	s.registry = paseto.NewRegistry(opts...)
	s.engine = paseto.NewEngine(s.registry, s.settings,
		paseto.WithLogger(s.log.With().Str("component", "engine").Logger()),
		paseto.WithObserver(s.metrics))

	if err := s.startBuiltinProxy(); err != nil {
		return fmt.Errorf("failed to setup HTTP backend: %w", err)
	}

	if ttl := s.cfg.Pending.TTL.Std(); ttl > 0 {
		s.startPruner(max(ttl/2, minPruneEvery))
	}
	return nil
}

// startPruner drops expired edits in the background until shutdown.
func (s *Server) startPruner(every time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.shutdownCh:
				return
			case <-ticker.C:
				s.engine.Prune()
			}
		}
	}()
}

// shutdown performs graceful shutdown.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.RequestShutdown()
	if s.mcpServer != nil {
		if err := s.mcpServer.Close(ctx); err != nil {
			s.log.Warn().Err(err).Msg("MCP server shutdown")
		}
	}

	s.wg.Wait()

	if s.httpBackend != nil {
		if err := s.httpBackend.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close HttpBackend")
		}
	}
	if err := s.proxyIndex.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close flow index")
	}
	if s.settings != nil {
		s.settings.Close()
	}

	s.log.Info().Msg("pasetool MCP server stopped")
	return nil
}

// RequestShutdown initiates server shutdown.
func (s *Server) RequestShutdown() {
	select {
	case <-s.shutdownCh:
		// Already shutting down
	default:
		close(s.shutdownCh)
	}
}

// loadOrCreateConfig loads config and applies CLI flag overrides.
// Precedence: CLI flags > config file > defaults
func (s *Server) loadOrCreateConfig() error {
	s.configPath = s.flags.ConfigPath
	if s.configPath == "" {
		s.configPath = config.DefaultPath()
	}

	cfg, err := config.LoadOrCreatePath(s.configPath)
	if err != nil {
		return err
	}

	s.mcpPort = cfg.MCPPort
	if s.flags.MCPPort != 0 {
		s.mcpPort = s.flags.MCPPort
	}
	s.proxyPort = cfg.ProxyPort
	if s.flags.ProxyPort != 0 {
		s.proxyPort = s.flags.ProxyPort
	}

	s.cfg = cfg
	return nil
}

// startBuiltinProxy starts the native built-in proxy.
func (s *Server) startBuiltinProxy() error {
	backend, err := NewNativeProxyBackend(NativeProxyOptions{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.proxyPort),
		ConfigDir:    filepath.Dir(s.configPath),
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Timeouts: proxy.TimeoutConfig{
			DialTimeout:  s.cfg.Timeouts.Dial.Std(),
			ReadTimeout:  s.cfg.Timeouts.Read.Std(),
			WriteTimeout: s.cfg.Timeouts.Write.Std(),
		},
		Engine: s.engine,
		Logger: s.log,
	})
	if err != nil {
		return fmt.Errorf("start built-in proxy: %w", err)
	}

	go func() {
		if err := backend.Serve(); err != nil {
			s.log.Error().Err(err).Msg("proxy server error")
		}
	}()

	s.httpBackend = backend
	return nil
}

// printMCPConfig outputs MCP configuration instructions to stderr.
func (s *Server) printMCPConfig() {
	addr := s.mcpServer.Addr()
	mcpURL := fmt.Sprintf("http://%s/mcp", addr)

	_, _ = fmt.Fprintln(os.Stderr, "")
	_, _ = fmt.Fprintln(os.Stderr, "================================================================================")
	if backend, ok := s.httpBackend.(*NativeProxyBackend); ok {
		_, _ = fmt.Fprintf(os.Stderr, "Proxy Address:  %s\n", backend.Addr())
		_, _ = fmt.Fprintf(os.Stderr, "CA Certificate: %s\n", filepath.Join(filepath.Dir(s.configPath), caCertFile))
		_, _ = fmt.Fprintln(os.Stderr, "")
	}
	_, _ = fmt.Fprintf(os.Stderr, "MCP Endpoint: %s\n", mcpURL)
	_, _ = fmt.Fprintf(os.Stderr, "SSE Endpoint: http://%s/sse (legacy)\n", addr)
	_, _ = fmt.Fprintf(os.Stderr, "Metrics:      http://%s/metrics\n", addr)
	_, _ = fmt.Fprintf(os.Stderr, "Mark edited requests: %v\n", s.cfg.MarkRequests)
	_, _ = fmt.Fprintln(os.Stderr, "================================================================================")
	_, _ = fmt.Fprintln(os.Stderr, "")
}
