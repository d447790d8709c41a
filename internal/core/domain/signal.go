package domain

import "encoding/json"

// Signaling methods exchanged with the room server.
const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectWebRtcTransport   = "connectWebRtcTransport"
	MethodJoin                     = "join"
	MethodNewConsumer              = "newConsumer"
	MethodResumeConsumer           = "resumeConsumer"
)

// Request is a server-initiated request received over the signaling link.
type Request struct {
	ID     uint64
	Method string
	Data   json.RawMessage
}

// Notification is a server push that expects no answer.
type Notification struct {
	Method string
	Data   json.RawMessage
}

// Reply is the structured answer to an inbound Request. AfterSend, when set,
// runs once the reply has been written to the link.
type Reply struct {
	Data      interface{}
	Err       error
	AfterSend func()
}

func Accept(data interface{}) Reply {
	return Reply{Data: data}
}

func Reject(err error) Reply {
	return Reply{Err: err}
}

func (r Reply) Accepted() bool {
	return r.Err == nil
}

// Then schedules fn to run after the reply is sent.
func (r Reply) Then(fn func()) Reply {
	r.AfterSend = fn
	return r
}

type CreateTransportRequest struct {
	ForceTCP  bool `json:"forceTcp"`
	Producing bool `json:"producing"`
	Consuming bool `json:"consuming"`
}

type ConnectTransportRequest struct {
	TransportID    string         `json:"transportId"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type DeviceInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type JoinRequest struct {
	DisplayName     string          `json:"displayName"`
	Device          DeviceInfo      `json:"device"`
	RtpCapabilities RtpCapabilities `json:"rtpCapabilities"`
}

type JoinedPeer struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type JoinResponse struct {
	Peers []JoinedPeer `json:"peers"`
}

type NewConsumerRequest struct {
	PeerID         string                 `json:"peerId"`
	ProducerID     string                 `json:"producerId"`
	ID             string                 `json:"id"`
	Kind           MediaKind              `json:"kind"`
	RtpParameters  RtpParameters          `json:"rtpParameters"`
	Type           string                 `json:"type"`
	AppData        map[string]interface{} `json:"appData,omitempty"`
	ProducerPaused bool                   `json:"producerPaused"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}
