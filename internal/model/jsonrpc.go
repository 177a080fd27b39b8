package model

import "encoding/json"

// RPCRequest is an outbound JSON-RPC 2.0 request or notification. ID is
// omitted for notifications (e.g. notifications/terminated).
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is an inbound JSON-RPC 2.0 response or notification.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"` // set on notifications
	Params  json.RawMessage `json:"params,omitempty"` // set on notifications
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether this inbound frame carries no id.
func (r *RPCResponse) IsNotification() bool {
	return r.ID == nil
}

// NewRequest builds a request frame with the given jsonrpc id.
func NewRequest(id uint64, method string, params any) (*RPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &RPCRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a fire-and-forget frame (no id).
func NewNotification(method string, params any) (*RPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &RPCRequest{JSONRPC: "2.0", Method: method, Params: raw}, nil
}
