package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/go-appsec/pasetool/pasetool/config"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

// mcpServer wraps the MCP server and its dependencies.
type mcpServer struct {
	server           *server.MCPServer
	sseServer        *server.SSEServer
	streamableServer *server.StreamableHTTPServer
	httpServer       *http.Server
	listener         net.Listener
	service          *Server
	log              zerolog.Logger
}

const serverInstructions = `pasetool substitutes edited PASETO tokens into requests passing through its proxy.

1. proxy_poll (has_token=true) to find flows carrying a token
2. paseto_find to see the token and its parts
3. paseto_edit to queue an edit; send=true issues the tagged request immediately
4. flow_get on the returned flow_id to inspect the substituted exchange`

// newMCPServer creates a new MCP server instance.
func newMCPServer(svc *Server) *mcpServer {
	mcpSrv := server.NewMCPServer("pasetool", config.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithInstructions(serverInstructions),
	)

	m := &mcpServer{
		server:  mcpSrv,
		service: svc,
		log:     svc.log.With().Str("component", "mcp").Logger(),
	}
	m.registerTools()
	return m
}

func (m *mcpServer) Start(port int) error {
	addr := "127.0.0.1:" + strconv.Itoa(port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	m.listener = listener

	// SSE server for legacy clients
	m.sseServer = server.NewSSEServer(m.server,
		server.WithBaseURL("http://"+listener.Addr().String()),
	)
	// Streamable HTTP server for modern clients
	m.streamableServer = server.NewStreamableHTTPServer(m.server,
		server.WithStateLess(true),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", m.streamableServer)
	mux.Handle("/sse", m.sseServer)
	mux.Handle("/sse/", m.sseServer)
	mux.Handle("/metrics", promhttp.HandlerFor(m.service.promReg, promhttp.HandlerOpts{
		Registry: m.service.promReg,
	}))

	m.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := m.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("MCP server error")
		}
	}()
	return nil
}

func (m *mcpServer) Addr() string {
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return ""
}

// Close stops the MCP server.
func (m *mcpServer) Close(ctx context.Context) error {
	var errs []error

	// Streaming connections (SSE, MCP) never become idle, so Shutdown gets a
	// short window before the server is closed forcibly.
	if m.httpServer != nil {
		shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		err := m.httpServer.Shutdown(shortCtx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			if closeErr := m.httpServer.Close(); closeErr != nil {
				errs = append(errs, closeErr)
			}
		} else if err != nil {
			errs = append(errs, err)
		}
	}

	if m.sseServer != nil {
		if err := m.sseServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.streamableServer != nil {
		if err := m.streamableServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *mcpServer) registerTools() {
	m.addProxyTools()
	m.addPasetoTools()
	m.addSettingsTools()
	m.addReplayTools()
}

func (m *mcpServer) addProxyTools() {
	m.server.AddTool(m.proxyPollTool(), m.handleProxyPoll)
	m.server.AddTool(m.flowGetTool(), m.handleFlowGet)
}

func (m *mcpServer) addPasetoTools() {
	m.server.AddTool(m.pasetoFindTool(), m.handlePasetoFind)
	m.server.AddTool(m.pasetoEditTool(), m.handlePasetoEdit)
	m.server.AddTool(m.pasetoPendingTool(), m.handlePasetoPending)
	m.server.AddTool(m.pasetoCancelTool(), m.handlePasetoCancel)
	m.server.AddTool(m.pasetoDecodeTool(), m.handlePasetoDecode)
}

func (m *mcpServer) addSettingsTools() {
	m.server.AddTool(m.settingsGetTool(), m.handleSettingsGet)
	m.server.AddTool(m.settingsSetTool(), m.handleSettingsSet)
}

func (m *mcpServer) addReplayTools() {
	m.server.AddTool(m.requestSendTool(), m.handleRequestSend)
}

func jsonResult(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errorResult("failed to marshal response: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func errorResult(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// errorResultFromErr creates an error result with user-friendly timeout messages.
func errorResultFromErr(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(prefix + translateTimeoutError(err))
}

// translateTimeoutError converts context errors to user-friendly messages.
func translateTimeoutError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	return err.Error()
}

// resolveFlow looks up a history entry by flow_id.
func (m *mcpServer) resolveFlow(flowID string) (*proxy.HistoryEntry, *mcp.CallToolResult) {
	if flowID == "" {
		return nil, errorResult("flow_id is required")
	}
	offset, ok := m.service.proxyIndex.Offset(flowID)
	if !ok {
		return nil, errorResult("flow_id not found: run proxy_poll to see available flows")
	}
	entry, ok := m.service.httpBackend.GetFlow(offset)
	if !ok {
		return nil, errorResult("flow not found in proxy history")
	}
	return entry, nil
}

// flowID registers offset in the flow index.
func (m *mcpServer) flowID(offset uint32) string {
	id, err := m.service.proxyIndex.Register(offset)
	if err != nil {
		m.log.Warn().Err(err).Uint32("offset", offset).Msg("register flow id")
	}
	return id
}
