// Package protocol holds the JSON shapes exchanged between the MCP service and its clients.
package protocol

// =============================================================================
// Proxy Types
// =============================================================================

// FlowEntry represents a single proxy history entry in list view.
type FlowEntry struct {
	FlowID         string `json:"flow_id"`
	Method         string `json:"method"`
	Scheme         string `json:"scheme"`
	Host           string `json:"host"`
	Port           int    `json:"port,omitempty"`
	Path           string `json:"path"`
	Status         int    `json:"status"`
	ResponseLength int    `json:"response_length"`
	Source         string `json:"source"`
	Highlight      string `json:"highlight,omitempty"`
	HasToken       bool   `json:"has_token,omitempty"`
}

// ProxyPollResponse is the response for proxy_poll.
type ProxyPollResponse struct {
	Flows []FlowEntry `json:"flows"`
	Note  string      `json:"note,omitempty"`
}

// FlowGetResponse is the response for flow_get.
type FlowGetResponse struct {
	FlowID      string `json:"flow_id"`
	Source      string `json:"source"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	Request     string `json:"request"`
	Status      int    `json:"status,omitempty"`
	Response    string `json:"response,omitempty"`
	Highlight   string `json:"highlight,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Duration    string `json:"duration,omitempty"`
	RespSize    int    `json:"response_size"`
	Truncated   bool   `json:"truncated,omitempty"`
	NoResponse  bool   `json:"no_response,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// =============================================================================
// PASETO Types
// =============================================================================

// TokenParts is a token split into its four sections.
type TokenParts struct {
	Version string `json:"version"`
	Purpose string `json:"purpose"`
	Payload string `json:"payload"`
	Footer  string `json:"footer"`
}

// TokenFindResponse is the response for paseto_find. Found is false when the
// request carries no token; that is a normal outcome.
type TokenFindResponse struct {
	FlowID   string      `json:"flow_id"`
	Found    bool        `json:"found"`
	Token    string      `json:"token,omitempty"`
	Location string      `json:"location,omitempty"`
	Parts    *TokenParts `json:"parts,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// TokenEditResponse is the response for paseto_edit. Request is the tagged
// request to send through the proxy; it is omitted when the edit was sent directly.
type TokenEditResponse struct {
	Key      string        `json:"key"`
	Original string        `json:"original"`
	Edited   string        `json:"edited"`
	Request  string        `json:"request,omitempty"`
	Sent     *SendResponse `json:"sent,omitempty"`
}

// PendingEntry describes a queued edit.
type PendingEntry struct {
	Key      string `json:"key"`
	Original string `json:"original"`
	Edited   string `json:"edited"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Age      string `json:"age"`
}

// PendingResponse is the response for paseto_pending.
type PendingResponse struct {
	Pending []PendingEntry `json:"pending"`
}

// CancelResponse is the response for paseto_cancel.
type CancelResponse struct {
	Key       string `json:"key"`
	Cancelled bool   `json:"cancelled"`
}

// DecodeResponse is the response for paseto_decode.
type DecodeResponse struct {
	Token        string     `json:"token"`
	Valid        bool       `json:"valid"`
	Parts        TokenParts `json:"parts"`
	Recomposed   string     `json:"recomposed"`
	PayloadBytes int        `json:"payload_bytes,omitempty"`
	PublicClaims string     `json:"public_claims,omitempty"`
	FooterText   string     `json:"footer_text,omitempty"`
}

// SettingsResponse is the response for settings_get and settings_set.
type SettingsResponse struct {
	MarkRequests bool `json:"mark_requests"`
	PendingEdits int  `json:"pending_edits"`
}

// =============================================================================
// Send Types
// =============================================================================

// SendResponse is the response for request_send.
type SendResponse struct {
	FlowID      string `json:"flow_id"`
	Duration    string `json:"duration"`
	Status      int    `json:"status"`
	StatusLine  string `json:"status_line"`
	RespHeaders string `json:"response_headers"`
	RespPreview string `json:"response_preview,omitempty"`
	RespSize    int    `json:"response_size"`
	Substituted bool   `json:"substituted,omitempty"`
}
