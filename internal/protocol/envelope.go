// Package protocol defines the JSON-RPC envelope this module speaks on
// the wire: requests, responses, notifications and content items.
//
// Field names and omitempty placement follow the same convention as the
// teacher's hand-rolled JSON-RPC types (see jsonrpc.go), extended with
// the optional apiKey and the notification (absent id) semantics spec'd
// for a multi-backend MCP deployment.
package protocol

import (
	"encoding/json"

	"mcpfabric/pkg/mcperr"
)

// RID is a 64-bit unsigned monotonic request identifier, unique within a
// single client instance's lifetime. Zero is reserved: it means "no id
// assigned" on the wire (a keepalive/notification) and "empty slot" in
// the pending-request table.
type RID uint64

// Request is a JSON-RPC request or notification. A Request with ID == 0
// is a notification: no response is expected or sent.
type Request struct {
	ID     RID         `json:"id,omitempty"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
	APIKey string      `json:"apiKey,omitempty"`
}

// IsNotification reports whether this request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == 0
}

// Response is a JSON-RPC response: exactly one of Result or Error is set.
type Response struct {
	ID     RID             `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the {code, message} error object of a Response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse builds a Response carrying the given error.
func NewErrorResponse(id RID, code mcperr.Code, message string) *Response {
	return &Response{ID: id, Error: &ResponseError{Code: int(code), Message: message}}
}

// NewResultResponse builds a Response carrying a successful result.
func NewResultResponse(id RID, result interface{}) *Response {
	return &Response{ID: id, Result: result}
}

// Err converts a response-level error object back into an *mcperr.Error,
// or returns nil if the response was not an error.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return mcperr.New(mcperr.Code(r.Error.Code), r.Error.Message)
}

// Marshal encodes the request as JSON.
func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Marshal encodes the response as JSON.
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses a JSON-RPC request from raw bytes.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, mcperr.Wrap(mcperr.ParseError, "failed to parse request", err)
	}
	return &req, nil
}

// DecodeResponse parses a JSON-RPC response from raw bytes.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, mcperr.Wrap(mcperr.ParseError, "failed to parse response", err)
	}
	return &resp, nil
}
