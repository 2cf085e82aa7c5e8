package service

import (
	"bytes"
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-appsec/pasetool/pasetool/protocol"
	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

const sinceLast = "last"

func (m *mcpServer) proxyPollTool() mcp.Tool {
	return mcp.NewTool("proxy_poll",
		mcp.WithDescription(`List captured flows with flow_id for use with flow_get, paseto_find and paseto_edit.

Sources: proxy-captured traffic (source=proxy) and sent requests (source=replay) in capture order.
Filters: host/path use glob (*, ?). method is comma-separated. has_token=true keeps flows whose request carries a PASETO token.
Incremental: since accepts a flow_id or "last" (cursor of the previous poll). Pagination with limit/offset.`),
		mcp.WithString("source", mcp.Description("Filter by source: 'proxy', 'replay', or empty for both")),
		mcp.WithString("host", mcp.Description("Filter by host glob")),
		mcp.WithString("path", mcp.Description("Filter by path+query glob (e.g., '/api/*')")),
		mcp.WithString("method", mcp.Description("Filter by HTTP method(s), comma-separated (e.g., 'GET,POST')")),
		mcp.WithBoolean("has_token", mcp.Description("Only flows whose request carries a PASETO token")),
		mcp.WithString("since", mcp.Description("Entries after flow_id, or 'last' (cursor)")),
		mcp.WithNumber("limit", mcp.Description("Max results to return")),
		mcp.WithNumber("offset", mcp.Description("Skip first N results (applied after filtering)")),
	)
}

func (m *mcpServer) flowGetTool() mcp.Tool {
	return mcp.NewTool("flow_get",
		mcp.WithDescription(`Get full request and response for a flow.

Bodies are decoded from their Content-Encoding for display. Binary bodies are returned as "<BINARY:N Bytes>".
Substituted requests show the edited token; when mark_requests is on they also carry highlight=green.`),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("Flow identifier")),
	)
}

// pollFilter is the parsed proxy_poll request.
type pollFilter struct {
	source   string
	host     func(string) bool
	path     func(string) bool
	methods  []string
	hasToken bool
}

func (f pollFilter) matches(meta proxy.HistoryMeta) bool {
	if f.source != "" && meta.Source != f.source {
		return false
	} else if f.hasToken && !meta.HasToken {
		return false
	} else if len(f.methods) > 0 && !slices.ContainsFunc(f.methods, func(m string) bool { return strings.EqualFold(m, meta.Method) }) {
		return false
	}
	return f.host(meta.Host) && f.path(meta.Path)
}

func (m *mcpServer) handleProxyPoll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := pollFilter{
		source:   req.GetString("source", ""),
		host:     compileGlob(req.GetString("host", "")),
		path:     compileGlob(req.GetString("path", "")),
		methods:  parseCommaSeparated(req.GetString("method", "")),
		hasToken: req.GetBool("has_token", false),
	}
	limit := req.GetInt("limit", 0)
	offset := req.GetInt("offset", 0)
	if limit < 0 || offset < 0 {
		return errorResult("limit and offset must not be negative"), nil
	}

	var start uint32
	var note string
	switch since := req.GetString("since", ""); since {
	case "":
	case sinceLast:
		start = uint32(m.service.proxyLastOffset.Load() + 1)
	default:
		off, ok := m.service.proxyIndex.Offset(since)
		if !ok {
			return errorResult("since flow_id not found: run proxy_poll without since first"), nil
		}
		start = off + 1
	}

	backend := m.service.httpBackend
	metas := bulk.SliceFilter(filter.matches, backend.ListFlows(backend.FlowCount(), start))
	if offset >= len(metas) {
		metas = nil
	} else {
		metas = metas[offset:]
	}
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
		note = "more flows available: raise limit or poll with since=last"
	}

	flows := make([]protocol.FlowEntry, 0, len(metas))
	for _, meta := range metas {
		flows = append(flows, protocol.FlowEntry{
			FlowID:         m.flowID(meta.Offset),
			Method:         meta.Method,
			Scheme:         meta.Scheme,
			Host:           meta.Host,
			Port:           meta.Port,
			Path:           meta.Path,
			Status:         meta.Status,
			ResponseLength: meta.RespLen,
			Source:         meta.Source,
			Highlight:      meta.Highlight,
			HasToken:       meta.HasToken,
		})
		if last := int64(meta.Offset); last > m.service.proxyLastOffset.Load() {
			m.service.proxyLastOffset.Store(last)
		}
	}

	m.log.Debug().Int("flows", len(flows)).Uint32("start", start).Msg("proxy_poll")
	return jsonResult(&protocol.ProxyPollResponse{Flows: flows, Note: note})
}

func (m *mcpServer) handleFlowGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID := req.GetString("flow_id", "")
	entry, errResult := m.resolveFlow(flowID)
	if errResult != nil {
		return errResult, nil
	}

	var buf bytes.Buffer
	result := protocol.FlowGetResponse{
		FlowID:    flowID,
		Source:    entry.Source,
		Method:    entry.Request.Method,
		URL:       targetURL(entry.Target, entry.Request),
		Request:   renderMessage(entry.FormatRequest(&buf), entry.Request.Headers, entry.Request.Body, fullBodyMaxSize),
		Highlight: entry.Highlight,
		Comment:   entry.Comment,
	}
	if entry.Duration > 0 {
		result.Duration = entry.Duration.Round(time.Millisecond).String()
	}
	if resp := entry.Response; resp != nil {
		result.Status = resp.StatusCode
		result.RespSize = len(resp.Body)
		result.ContentType = resp.GetHeader("Content-Type")
		result.Response = renderMessage(entry.FormatResponse(&buf), resp.Headers, resp.Body, fullBodyMaxSize)
		if cl := resp.GetHeader("Content-Length"); cl != "" && cl != strconv.Itoa(len(resp.Body)) {
			result.Truncated = true
		}
	} else {
		result.NoResponse = true
	}

	m.log.Debug().Str("flow", flowID).Str("url", result.URL).Msg("flow_get")
	return jsonResult(&result)
}
