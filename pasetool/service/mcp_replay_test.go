package service

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsec/pasetool/pasetool/protocol"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

func TestMCP_RequestSend(t *testing.T) {
	t.Parallel()

	srv, c := setupMCPServer(t, nil)
	upstream := newUpstream(t)
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	t.Run("host_header", func(t *testing.T) {
		raw := "GET /direct HTTP/1.1\nHost: " + u.Host + "\nAuthorization: " + originalAuth + "\n\n"
		resp := callJSON[protocol.SendResponse](t, c, "request_send", map[string]any{"request": raw})
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, "HTTP/1.1 200 OK", resp.StatusLine)
		assert.Equal(t, "ok /direct", resp.RespPreview)
		assert.Contains(t, resp.RespHeaders, "Content-Type: text/plain")
		assert.False(t, resp.Substituted)
		assert.Equal(t, originalAuth, upstream.auth(upstream.count()-1))

		flow := callJSON[protocol.FlowGetResponse](t, c, "flow_get", map[string]any{"flow_id": resp.FlowID})
		assert.Equal(t, proxy.SourceReplay, flow.Source)
		assert.Equal(t, upstream.URL+"/direct", flow.URL)
	})

	t.Run("explicit_target", func(t *testing.T) {
		raw := "GET /explicit HTTP/1.1\r\nHost: ignored.test\r\n\r\n"
		resp := callJSON[protocol.SendResponse](t, c, "request_send", map[string]any{
			"request": raw,
			"host":    "127.0.0.1",
			"port":    port,
		})
		assert.Equal(t, "ok /explicit", resp.RespPreview)
	})

	t.Run("absolute_form", func(t *testing.T) {
		raw := "GET " + upstream.URL + "/abs HTTP/1.1\r\n\r\n"
		resp := callJSON[protocol.SendResponse](t, c, "request_send", map[string]any{"request": raw})
		assert.Equal(t, "ok /abs", resp.RespPreview)
	})

	t.Run("resend_flow", func(t *testing.T) {
		proxyRequest(t, srv, upstream.URL+"/again", map[string]string{"Authorization": originalAuth})
		poll := callJSON[protocol.ProxyPollResponse](t, c, "proxy_poll", map[string]any{"path": "/again", "source": "proxy"})
		require.Len(t, poll.Flows, 1)

		before := upstream.count()
		resp := callJSON[protocol.SendResponse](t, c, "request_send", map[string]any{"flow_id": poll.Flows[0].FlowID})
		assert.Equal(t, "ok /again", resp.RespPreview)
		assert.NotEqual(t, poll.Flows[0].FlowID, resp.FlowID)
		require.Equal(t, before+1, upstream.count())

		poll = callJSON[protocol.ProxyPollResponse](t, c, "proxy_poll", map[string]any{"path": "/again"})
		assert.Len(t, poll.Flows, 2)
	})

	t.Run("tagged_request_substituted", func(t *testing.T) {
		flowID := tokenFlow(t, srv, c, upstream)
		edit := callJSON[protocol.TokenEditResponse](t, c, "paseto_edit", map[string]any{"flow_id": flowID, "payload": "CCCC"})

		resp := callJSON[protocol.SendResponse](t, c, "request_send", map[string]any{"request": edit.Request, "flow_id": flowID})
		assert.True(t, resp.Substituted)
		assert.Equal(t, editedAuth, upstream.auth(upstream.count()-1))
		assert.Empty(t, upstream.marker(upstream.count()-1))
	})

	assert.InDelta(t, 5, testutil.ToFloat64(srv.metrics.RequestsSent), 0)

	t.Run("errors", func(t *testing.T) {
		assert.Contains(t, callError(t, c, "request_send", nil), "request or flow_id is required")
		assert.Contains(t, callError(t, c, "request_send", map[string]any{"request": "\r\n"}), "invalid request")
		assert.Contains(t, callError(t, c, "request_send", map[string]any{"request": "GET / HTTP/1.1\r\n\r\n"}), "cannot determine target")
		assert.Contains(t, callError(t, c, "request_send", map[string]any{
			"request": "GET / HTTP/1.1\r\nHost: h\r\n\r\n",
			"timeout": "soon",
		}), "invalid timeout")
		msg := callError(t, c, "request_send", map[string]any{
			"request": "GET / HTTP/1.1\r\nHost: h\r\n\r\n",
			"host":    "127.0.0.1",
			"port":    70000,
		})
		assert.True(t, strings.HasPrefix(msg, "port must be"))
	})
}
