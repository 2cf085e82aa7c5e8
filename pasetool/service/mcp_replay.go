package service

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-appsec/pasetool/pasetool/protocol"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

func (m *mcpServer) requestSendTool() mcp.Tool {
	return mcp.NewTool("request_send",
		mcp.WithDescription(`Send a raw HTTP/1.1 request and record the exchange as a replay flow.

The request passes through the same edit decision as proxied traffic, so a request tagged by paseto_edit is substituted here too.
Omit request to resend a flow's request unchanged. The target is taken from host/port/https, else the flow, else the request's Host header or absolute-form URL.`),
		mcp.WithString("request", mcp.Description("Raw HTTP request text; bare LF line endings are accepted")),
		mcp.WithString("flow_id", mcp.Description("Flow to take the request and/or target from")),
		mcp.WithString("host", mcp.Description("Target host override")),
		mcp.WithNumber("port", mcp.Description("Target port (default 443 with https, else 80)")),
		mcp.WithBoolean("https", mcp.Description("Use TLS to the target")),
		mcp.WithString("timeout", mcp.Description("Overall send timeout, e.g. 30s")),
	)
}

func (m *mcpServer) handleRequestSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("request", "")
	flowID := req.GetString("flow_id", "")
	if raw == "" && flowID == "" {
		return errorResult("request or flow_id is required"), nil
	}

	var base *proxy.HistoryEntry
	if flowID != "" {
		entry, errResult := m.resolveFlow(flowID)
		if errResult != nil {
			return errResult, nil
		}
		base = entry
	}

	var httpReq *proxy.RawHTTP1Request
	if raw != "" {
		parsed, err := proxy.ParseRequest([]byte(raw))
		if err != nil {
			return errorResultFromErr("invalid request: ", err), nil
		}
		httpReq = parsed
	} else {
		httpReq = base.Request.Clone()
	}

	useHTTPS := req.GetBool("https", false)
	var target proxy.Target
	if host := req.GetString("host", ""); host != "" {
		port := req.GetInt("port", 0)
		if port == 0 {
			port = 80
			if useHTTPS {
				port = 443
			}
		} else if port < 0 || port > 65535 {
			return errorResult("port must be between 1 and 65535"), nil
		}
		target = proxy.Target{Hostname: host, Port: port, UsesHTTPS: useHTTPS}
	} else if base != nil && base.Target != nil {
		target = *base.Target
	} else {
		t, err := proxy.RouteRequest(httpReq, useHTTPS)
		if err != nil {
			return errorResultFromErr("cannot determine target: ", err), nil
		}
		target = *t
	}

	if s := req.GetString("timeout", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return errorResult("invalid timeout: " + s), nil
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sent, errResult := m.send(ctx, httpReq, target)
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(sent)
}

// send issues req through the backend and summarizes the recorded flow.
func (m *mcpServer) send(ctx context.Context, req *proxy.RawHTTP1Request, target proxy.Target) (*protocol.SendResponse, *mcp.CallToolResult) {
	res, err := m.service.httpBackend.SendRequest(ctx, req, target)
	if err != nil {
		return nil, errorResultFromErr("request failed: ", err)
	}
	m.service.metrics.RequestsSent.Inc()

	resp := res.Entry.Response
	contentEncoding := resp.GetHeader("Content-Encoding")
	body, _ := decompressForDisplay(resp.Body, contentEncoding)
	m.log.Info().Str("host", target.Hostname).Int("status", resp.StatusCode).
		Bool("substituted", res.Substituted).Msg("request sent")

	return &protocol.SendResponse{
		FlowID:      m.flowID(res.Entry.Offset),
		Duration:    res.Entry.Duration.Round(time.Millisecond).String(),
		Status:      resp.StatusCode,
		StatusLine:  statusLine(resp),
		RespHeaders: responseHeaderText(resp),
		RespPreview: previewBody(body, responsePreviewLen),
		RespSize:    len(resp.Body),
		Substituted: res.Substituted,
	}, nil
}
