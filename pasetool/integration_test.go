package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsec/pasetool/pasetool/mcpclient"
	"github.com/go-appsec/pasetool/pasetool/service"
)

// End-to-end: mcpclient.Client → MCP server over streamable HTTP → built-in proxy → upstream.

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startServer runs the MCP server and returns a connected client and the proxy URL.
func startServer(t *testing.T) (*mcpclient.Client, *url.URL) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	flags := service.MCPServerFlags{
		ConfigPath: filepath.Join(t.TempDir(), "config.json"),
		MCPPort:    freePort(t),
		ProxyPort:  freePort(t),
	}
	srv, err := service.NewServer(flags, zerolog.Nop())
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run(t.Context())
	}()
	srv.WaitTillStarted()
	t.Cleanup(func() {
		srv.RequestShutdown()
		select {
		case err := <-serverErr:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down in time")
		}
	})

	client, err := mcpclient.Connect(t.Context(), "http://127.0.0.1:"+strconv.Itoa(flags.MCPPort)+"/mcp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	proxyURL, err := url.Parse("http://127.0.0.1:" + strconv.Itoa(flags.ProxyPort))
	require.NoError(t, err)
	return client, proxyURL
}

func TestIntegrationEditAndSend(t *testing.T) {
	client, proxyURL := startServer(t)

	var mu sync.Mutex
	var seen []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(upstream.Close)

	transport := &http.Transport{Proxy: http.ProxyURL(proxyURL), DisableKeepAlives: true}
	httpClient := &http.Client{Transport: transport, Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(t.Context(), "GET", upstream.URL+"/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer v2.local.AAAA.BBBB")
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var flowID string
	require.Eventually(t, func() bool {
		poll, err := client.ProxyPoll(t.Context(), mcpclient.ProxyPollOpts{HasToken: true})
		if err != nil || len(poll.Flows) == 0 {
			return false
		}
		flowID = poll.Flows[0].FlowID
		return true
	}, 5*time.Second, 20*time.Millisecond)

	found, err := client.PasetoFind(t.Context(), flowID)
	require.NoError(t, err)
	assert.Equal(t, "v2.local.AAAA.BBBB", found.Token)

	payload := "CCCC"
	edit, err := client.PasetoEdit(t.Context(), flowID, mcpclient.PasetoEditOpts{Payload: &payload, Send: true})
	require.NoError(t, err)
	require.NotNil(t, edit.Sent)
	assert.True(t, edit.Sent.Substituted)
	assert.Equal(t, "hello", edit.Sent.RespPreview)

	mu.Lock()
	assert.Equal(t, []string{"Bearer v2.local.AAAA.BBBB", "Bearer v2.local.CCCC.BBBB"}, seen)
	mu.Unlock()

	settings, err := client.SettingsSet(t.Context(), true)
	require.NoError(t, err)
	assert.True(t, settings.MarkRequests)
	assert.Equal(t, 0, settings.PendingEdits)

	_, err = client.PasetoCancel(t.Context(), edit.Key)
	assert.ErrorContains(t, err, "no pending edit")
}
