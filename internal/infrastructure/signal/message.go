package signal

import (
	"encoding/json"
	"fmt"
)

// Subprotocol is the websocket sub-protocol spoken by protoo room servers.
const Subprotocol = "protoo"

// message is the single wire envelope for requests, responses and
// notifications. Exactly one of Request, Response and Notification is set.
type message struct {
	Request      bool            `json:"request,omitempty"`
	Response     bool            `json:"response,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	ID           uint64          `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	OK           *bool           `json:"ok,omitempty"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorReason  string          `json:"errorReason,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

var emptyData = json.RawMessage("{}")

func encodeData(data interface{}) (json.RawMessage, error) {
	if data == nil {
		return emptyData, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		if len(raw) == 0 {
			return emptyData, nil
		}
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return b, nil
}

func newRequest(id uint64, method string, data interface{}) (*message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return &message{Request: true, ID: id, Method: method, Data: raw}, nil
}

func newSuccessResponse(id uint64, data interface{}) (*message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	ok := true
	return &message{Response: true, ID: id, OK: &ok, Data: raw}, nil
}

func newErrorResponse(id uint64, code int, reason string) *message {
	ok := false
	return &message{Response: true, ID: id, OK: &ok, ErrorCode: code, ErrorReason: reason}
}

func (m *message) succeeded() bool {
	return m.OK != nil && *m.OK
}

func (m *message) validate() error {
	switch {
	case m.Request:
		if m.Method == "" {
			return fmt.Errorf("request %d without method", m.ID)
		}
	case m.Response:
		if m.OK == nil {
			return fmt.Errorf("response %d without ok flag", m.ID)
		}
	case m.Notification:
		if m.Method == "" {
			return fmt.Errorf("notification without method")
		}
	default:
		return fmt.Errorf("unknown message kind")
	}
	return nil
}
