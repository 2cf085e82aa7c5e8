package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	protocolHTTP11 = "http/1.1"

	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

type http1Handler struct {
	log          zerolog.Logger
	history      *HistoryStore
	interceptor  RequestInterceptor
	maxBodyBytes int
	timeouts     TimeoutConfig
}

// upstream is a connection reused across requests of one CONNECT tunnel.
type upstream struct {
	conn   net.Conn
	reader *bufio.Reader
	target *Target
}

// serve handles requests from client until it closes or ctx ends.
// up is nil for plaintext proxy connections, where each request names its own target.
func (h *http1Handler) serve(ctx context.Context, client net.Conn, cr *bufio.Reader, up *upstream) {
	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
		if up != nil {
			_ = up.conn.Close()
		}
	})
	defer stop()

	for ctx.Err() == nil {
		if !h.exchange(ctx, client, cr, up) {
			return
		}
	}
}

// exchange relays one request and its response. It returns false when the
// client connection should be closed.
func (h *http1Handler) exchange(ctx context.Context, client net.Conn, cr *bufio.Reader, up *upstream) bool {
	start := time.Now()

	req, err := parseRequest(cr)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, ErrEmptyRequest) {
			h.log.Debug().Err(err).Msg("parse request")
			sendError(client, 400, "Bad Request")
		}
		return false
	}

	// intercept before routing so a substituted request is routed by its own headers
	verdict := h.interceptor.InterceptRequest(req)
	req = verdict.Request
	entry := &HistoryEntry{
		Source:    SourceProxy,
		Request:   req,
		Highlight: verdict.Highlight,
		Comment:   verdict.Comment,
		Timestamp: start,
	}

	var conn net.Conn
	var reader *bufio.Reader
	if up != nil {
		conn, reader, entry.Target = up.conn, up.reader, up.target
	} else {
		target, err := extractTarget(req)
		if err != nil {
			sendError(client, 400, "Bad Request: "+err.Error())
			return false
		}
		rewriteToOriginForm(req, target)
		entry.Target = target

		if conn, err = dialTarget(ctx, *target, h.timeouts); err != nil {
			h.log.Debug().Err(err).Str("host", target.Hostname).Msg("dial upstream")
			h.fail(client, entry, err, "connection failed")
			return false
		}
		defer func() { _ = conn.Close() }()
		reader = bufio.NewReader(conn)
	}

	var buf bytes.Buffer
	if h.timeouts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.timeouts.WriteTimeout))
	}
	if _, err := conn.Write(req.SerializeRaw(&buf, false)); err != nil {
		h.fail(client, entry, err, "write failed")
		return false
	}

	if h.timeouts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.timeouts.ReadTimeout))
	}
	resp, err := parseResponse(reader, req.Method)
	if err != nil {
		h.fail(client, entry, err, "malformed response")
		return false
	}

	if h.timeouts.WriteTimeout > 0 {
		_ = client.SetWriteDeadline(time.Now().Add(h.timeouts.WriteTimeout))
	}
	if _, err := client.Write(resp.SerializeRaw(&buf, false)); err != nil {
		h.log.Debug().Err(err).Msg("write response to client")
		return false
	}

	entry.Response = resp
	h.record(entry, start)
	return !strings.EqualFold(resp.GetHeader("Connection"), "close")
}

// fail answers the client with a gateway error and records the request without a response.
func (h *http1Handler) fail(client net.Conn, entry *HistoryEntry, err error, what string) {
	if isTimeoutError(err) {
		sendError(client, 504, "Gateway Timeout: "+what)
	} else {
		sendError(client, 502, "Bad Gateway: "+what)
	}
	h.record(entry, entry.Timestamp)
}

func (h *http1Handler) record(entry *HistoryEntry, start time.Time) {
	entry.Duration = time.Since(start)
	entry.TruncateBodies(h.maxBodyBytes)
	h.history.Store(entry)
}

// extractTarget resolves the upstream from an absolute-form target or the Host header.
func extractTarget(req *RawHTTP1Request) (*Target, error) {
	if isAbsoluteForm(req.Path) {
		u, err := url.Parse(req.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy-form URL: %w", err)
		}
		return parseHostPort(u.Host, u.Scheme == schemeHTTPS)
	}
	host := req.GetHeader("Host")
	if host == "" {
		return nil, errors.New("no Host header and not a proxy-form request")
	}
	return parseHostPort(host, false)
}

// RouteRequest resolves the upstream for a request sent outside the listener and
// rewrites an absolute-form target to origin form. https only applies when the
// target comes from the Host header.
func RouteRequest(req *RawHTTP1Request, https bool) (*Target, error) {
	var target *Target
	var err error
	if !isAbsoluteForm(req.Path) && https {
		host := req.GetHeader("Host")
		if host == "" {
			return nil, errors.New("no Host header and not a proxy-form request")
		}
		target, err = parseHostPort(host, true)
	} else {
		target, err = extractTarget(req)
	}
	if err != nil {
		return nil, err
	}
	rewriteToOriginForm(req, target)
	return target, nil
}

// parseHostPort splits host[:port], defaulting the port by scheme. Bracketed IPv6 is accepted.
func parseHostPort(hostPort string, https bool) (*Target, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = strings.TrimSuffix(strings.TrimPrefix(hostPort, "["), "]")
		portStr = "80"
		if https {
			portStr = "443"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %s", portStr)
	} else if host == "" {
		return nil, errors.New("empty host")
	}
	return &Target{Hostname: host, Port: port, UsesHTTPS: https}, nil
}

func isAbsoluteForm(path string) bool {
	return strings.HasPrefix(path, schemeHTTP+"://") || strings.HasPrefix(path, schemeHTTPS+"://")
}

// rewriteToOriginForm strips scheme and authority from an absolute-form target and sets Host.
func rewriteToOriginForm(req *RawHTTP1Request, target *Target) {
	if isAbsoluteForm(req.Path) {
		if u, err := url.Parse(req.Path); err == nil {
			req.Path = u.EscapedPath()
			if req.Path == "" {
				req.Path = "/"
			}
		}
	}
	req.SetHeader("Host", hostHeader(target))
}

func hostHeader(t *Target) string {
	if (t.UsesHTTPS && t.Port == 443) || (!t.UsesHTTPS && t.Port == 80) {
		return t.Hostname
	}
	return net.JoinHostPort(t.Hostname, strconv.Itoa(t.Port))
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sendError(conn net.Conn, code int, message string) {
	resp := &RawHTTP1Response{
		Version:    "HTTP/1.1",
		StatusCode: code,
		StatusText: message,
		Headers: Headers{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Connection", Value: "close"},
		},
		Body: []byte(message + "\n"),
	}
	var buf bytes.Buffer
	_, _ = conn.Write(resp.SerializeRaw(&buf, false))
}
