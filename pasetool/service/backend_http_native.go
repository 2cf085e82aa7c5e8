package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-appsec/pasetool/pasetool/service/paseto"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
	"github.com/go-appsec/pasetool/pasetool/service/store"
)

// NativeProxyOptions configures a NativeProxyBackend.
type NativeProxyOptions struct {
	Addr         string
	ConfigDir    string
	MaxBodyBytes int
	Timeouts     proxy.TimeoutConfig
	Engine       *paseto.Engine
	// Storage holds proxy history. Defaults to memory.
	Storage store.Storage
	Logger  zerolog.Logger
}

// NativeProxyBackend implements HttpBackend using the built-in proxy, with the
// edit engine deciding every request it forwards or sends.
type NativeProxyBackend struct {
	log          zerolog.Logger
	server       *proxy.ProxyServer
	history      *proxy.HistoryStore
	engine       *paseto.Engine
	sender       *proxy.Sender
	maxBodyBytes int

	closed atomic.Bool
}

// Compile-time checks that NativeProxyBackend implements interfaces.
var _ HttpBackend = (*NativeProxyBackend)(nil)
var _ proxy.RequestInterceptor = (*NativeProxyBackend)(nil)

// NewNativeProxyBackend creates a new native proxy backend.
// Does NOT start serving - call Serve() separately (typically in a goroutine).
func NewNativeProxyBackend(opts NativeProxyOptions) (*NativeProxyBackend, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("native proxy backend requires an engine")
	}
	storage := opts.Storage
	if storage == nil {
		storage = store.NewMemStorage()
	}

	b := &NativeProxyBackend{
		log:          opts.Logger.With().Str("component", "backend").Logger(),
		history:      proxy.NewHistoryStore(storage, opts.Logger, paseto.ContainsToken),
		engine:       opts.Engine,
		sender:       &proxy.Sender{Timeouts: opts.Timeouts},
		maxBodyBytes: opts.MaxBodyBytes,
	}
	server, err := proxy.NewProxyServer(proxy.Options{
		Addr:         opts.Addr,
		ConfigDir:    opts.ConfigDir,
		MaxBodyBytes: opts.MaxBodyBytes,
		Timeouts:     opts.Timeouts,
		Interceptor:  b,
		History:      b.history,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create proxy server: %w", err)
	}
	b.server = server
	return b, nil
}

// Serve starts the proxy server. Call in a goroutine.
func (b *NativeProxyBackend) Serve() error {
	return b.server.Serve()
}

// Addr returns the proxy listen address.
func (b *NativeProxyBackend) Addr() string {
	return b.server.Addr()
}

// WaitReady blocks until Serve() has entered its accept loop.
func (b *NativeProxyBackend) WaitReady(ctx context.Context) error {
	return b.server.WaitReady(ctx)
}

// CACertPEM returns the interception CA for installing in clients.
func (b *NativeProxyBackend) CACertPEM() []byte {
	return b.server.CertManager().CACertPEM()
}

// InterceptRequest runs the edit engine on a request about to be forwarded.
func (b *NativeProxyBackend) InterceptRequest(req *proxy.RawHTTP1Request) proxy.Verdict {
	v, _ := b.decide(req)
	return v
}

func (b *NativeProxyBackend) decide(req *proxy.RawHTTP1Request) (proxy.Verdict, bool) {
	d := b.engine.Decide(req)
	out := proxy.Verdict{Request: d.Forward}
	if d.Annotate {
		out.Highlight = proxy.HighlightGreen
		out.Comment = "paseto edit " + d.Key
	}
	return out, d.Substituted
}

func (b *NativeProxyBackend) FlowCount() int {
	return b.history.Count()
}

func (b *NativeProxyBackend) ListFlows(count int, start uint32) []proxy.HistoryMeta {
	return b.history.ListMeta(count, start)
}

func (b *NativeProxyBackend) GetFlow(offset uint32) (*proxy.HistoryEntry, bool) {
	return b.history.Get(offset)
}

func (b *NativeProxyBackend) SendRequest(ctx context.Context, req *proxy.RawHTTP1Request, target proxy.Target) (*SendResult, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("backend closed")
	}
	start := time.Now()
	verdict, substituted := b.decide(req)

	res, err := b.sender.Send(ctx, verdict.Request, target)
	if err != nil {
		if substituted {
			b.log.Warn().Err(err).Str("host", target.Hostname).Msg("send failed after edit was consumed")
		}
		return nil, err
	}

	entry := &proxy.HistoryEntry{
		Source:    proxy.SourceReplay,
		Target:    &target,
		Request:   verdict.Request,
		Response:  res.Response,
		Highlight: verdict.Highlight,
		Comment:   verdict.Comment,
		Timestamp: start,
		Duration:  res.Duration,
	}
	stored := *entry
	stored.Request = entry.Request.Clone()
	stored.Response = entry.Response.Clone()
	stored.TruncateBodies(b.maxBodyBytes)
	entry.Offset = b.history.Store(&stored)

	b.log.Debug().Uint32("offset", entry.Offset).Str("host", target.Hostname).
		Int("status", res.Response.StatusCode).Bool("substituted", substituted).Msg("request sent")
	return &SendResult{Entry: entry, Substituted: substituted}, nil
}

// Close stops the proxy and its history store.
func (b *NativeProxyBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.server.Shutdown(ctx); err != nil {
		return err
	}
	return b.history.Close()
}
