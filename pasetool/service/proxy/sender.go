package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TimeoutConfig bounds upstream I/O. Zero values disable the corresponding timeout.
type TimeoutConfig struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Sender issues single HTTP/1.1 requests outside the proxy listener.
type Sender struct {
	Timeouts TimeoutConfig
}

// SendResult is a completed exchange.
type SendResult struct {
	Response *RawHTTP1Response
	Duration time.Duration
}

// Send writes req to target and reads one response.
func (s *Sender) Send(ctx context.Context, req *RawHTTP1Request, target Target) (*SendResult, error) {
	if req == nil {
		return nil, errors.New("nil request")
	} else if target.Hostname == "" || target.Port <= 0 {
		return nil, fmt.Errorf("invalid target %s:%d", target.Hostname, target.Port)
	}

	start := time.Now()
	conn, err := dialTarget(ctx, target, s.Timeouts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.Timeouts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.Timeouts.WriteTimeout))
	}
	var buf bytes.Buffer
	if _, err := conn.Write(req.SerializeRaw(&buf, false)); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	if s.Timeouts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.Timeouts.ReadTimeout))
	}
	resp, err := parseResponse(bufio.NewReader(conn), req.Method)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &SendResult{Response: resp, Duration: time.Since(start)}, nil
}

// dialTarget connects to target, negotiating TLS when it uses HTTPS.
// Upstream certificates are not verified.
func dialTarget(ctx context.Context, target Target, timeouts TimeoutConfig) (net.Conn, error) {
	addr := net.JoinHostPort(target.Hostname, strconv.Itoa(target.Port))
	netDialer := &net.Dialer{Timeout: timeouts.DialTimeout}
	if !target.UsesHTTPS {
		conn, err := netDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		return conn, nil
	}
	return dialTLS(ctx, addr, target.Hostname, timeouts)
}

func dialTLS(ctx context.Context, addr, serverName string, timeouts TimeoutConfig) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeouts.DialTimeout},
		Config: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
			NextProtos:         []string{protocolHTTP11},
		},
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return conn, nil
}
