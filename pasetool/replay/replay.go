package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
	"github.com/go-appsec/pasetool/pasetool/mcpclient"
	"github.com/go-appsec/pasetool/pasetool/protocol"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

type sendOpts struct {
	flow          string
	file          string
	target        string
	setHeaders    []string
	removeHeaders []string
}

func send(mcpURL string, timeout time.Duration, opts sendOpts) error {
	sendReq := mcpclient.RequestSendOpts{FlowID: opts.flow, Timeout: timeout.String()}
	if opts.file != "" {
		raw, err := readRequestData(opts.file)
		if err != nil {
			return err
		}
		if sendReq.Request, err = applyHeaderModifications(raw, opts.setHeaders, opts.removeHeaders); err != nil {
			return err
		}
	}
	if opts.target != "" {
		host, port, https, err := parseTarget(opts.target)
		if err != nil {
			return err
		}
		sendReq.Host, sendReq.Port, sendReq.HTTPS = host, port, https
	}

	// the server-side timeout ends first so its error is the one reported
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()

	client, err := mcpclient.Connect(ctx, mcpURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	resp, err := client.RequestSend(ctx, sendReq)
	if err != nil {
		return fmt.Errorf("replay send failed: %w", err)
	}
	printSendResult(resp)
	return nil
}

func readRequestData(file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read request from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// applyHeaderModifications edits a raw request in place of its own header
// order; with no modifications the text is returned unchanged.
func applyHeaderModifications(raw []byte, addHeaders, removeHeaders []string) (string, error) {
	if len(addHeaders) == 0 && len(removeHeaders) == 0 {
		return string(raw), nil
	}
	req, err := proxy.ParseRequest(raw)
	if err != nil {
		return "", fmt.Errorf("parse request: %w", err)
	}

	for _, name := range removeHeaders {
		req.RemoveHeader(strings.TrimSpace(name))
	}
	for _, h := range addHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return "", fmt.Errorf("invalid header %q: expected 'Name: Value'", h)
		}
		req.SetHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	var buf bytes.Buffer
	return string(req.SerializeRaw(&buf, false)), nil
}

// parseTarget splits scheme://host[:port]; a bare host defaults to https.
func parseTarget(target string) (host string, port int, https bool, err error) {
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid target: %w", err)
	}
	switch u.Scheme {
	case "https":
		https = true
	case "http":
	default:
		return "", 0, false, fmt.Errorf("invalid target scheme %q: expected http or https", u.Scheme)
	}

	host = u.Hostname()
	if host == "" {
		return "", 0, false, errors.New("invalid target: missing host")
	}
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil || port <= 0 || port > 65535 {
			return "", 0, false, fmt.Errorf("invalid target port %q", p)
		}
	}
	return host, port, https, nil
}

func printSendResult(resp *protocol.SendResponse) {
	fmt.Printf("## Sent\n\n")
	fmt.Printf("Flow ID: `%s`\n", resp.FlowID)
	fmt.Printf("Duration: %s\n", resp.Duration)
	if resp.Substituted {
		fmt.Printf("Token edit: %s\n", cliutil.Success("substituted"))
	}

	fmt.Printf("\n### Response\n\n")
	fmt.Printf("Status: %s\n", resp.StatusLine)
	fmt.Printf("Size: %d bytes\n\n", resp.RespSize)
	if resp.RespHeaders != "" {
		fmt.Printf("Headers:\n```\n%s```\n\n", resp.RespHeaders)
	}
	if resp.RespPreview != "" {
		fmt.Printf("Body Preview:\n```\n%s\n```\n", resp.RespPreview)
	}
}
