package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// connectHandler terminates CONNECT tunnels with a minted certificate so the
// HTTP/1.1 traffic inside can be intercepted like plaintext requests.
type connectHandler struct {
	log   zerolog.Logger
	certs *CertManager
	http1 *http1Handler
}

func (h *connectHandler) Handle(ctx context.Context, client net.Conn, cr *bufio.Reader) {
	target, err := parseConnect(cr)
	if err != nil {
		h.log.Debug().Err(err).Msg("parse CONNECT")
		sendError(client, 400, "Bad Request")
		return
	}
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	addr := net.JoinHostPort(target.Hostname, strconv.Itoa(target.Port))
	var upConn net.Conn
	cfg := &tls.Config{
		// the upstream is dialed once the client's SNI is known
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			sni := hello.ServerName
			if sni == "" {
				sni = target.Hostname
			} else if sni != target.Hostname {
				h.log.Info().Str("connect", target.Hostname).Str("sni", sni).Msg("SNI differs from CONNECT target")
			}
			conn, err := dialTLS(ctx, addr, sni, h.http1.timeouts)
			if err != nil {
				return nil, err
			}
			cert, err := h.certs.GetCertificate(sni)
			if err != nil {
				_ = conn.Close()
				return nil, err
			}
			upConn = conn
			// only HTTP/1.1 is offered so h2-capable clients still pass through the interceptor
			return &tls.Config{Certificates: []tls.Certificate{*cert}, NextProtos: []string{protocolHTTP11}}, nil
		},
	}

	clientTLS := tls.Server(client, cfg)
	if err := clientTLS.HandshakeContext(ctx); err != nil {
		h.log.Debug().Err(err).Str("target", addr).Msg("TLS handshake")
		if upConn != nil {
			_ = upConn.Close()
		}
		return
	}
	defer func() {
		_ = clientTLS.Close()
		_ = upConn.Close()
	}()

	h.http1.serve(ctx, clientTLS, bufio.NewReader(clientTLS), &upstream{
		conn:   upConn,
		reader: bufio.NewReader(upConn),
		target: target,
	})
}

// parseConnect reads "CONNECT host:port HTTP/1.1" and discards the remaining headers.
func parseConnect(br *bufio.Reader) (*Target, error) {
	line, _, err := readLineWithEnding(br)
	if err != nil {
		return nil, fmt.Errorf("read request line: %w", err)
	}
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 || parts[0] != "CONNECT" {
		return nil, errors.New("invalid CONNECT request line")
	}
	if _, _, err := readHeaders(br); err != nil {
		return nil, fmt.Errorf("read headers: %w", err)
	}

	target, err := parseHostPort(parts[1], true)
	if err != nil {
		return nil, err
	}
	return target, nil
}
