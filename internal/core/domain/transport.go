package domain

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip,omitempty"`
	Address    string `json:"address,omitempty"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

// Addr returns the candidate address; newer servers send "address", older "ip".
func (c IceCandidate) Addr() string {
	if c.Address != "" {
		return c.Address
	}
	return c.IP
}

// Receive transport connection states that mean media can no longer flow.
const (
	TransportStateFailed = "failed"
	TransportStateClosed = "closed"
)

type DtlsRole string

const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportOptions are the server-side transport parameters returned by
// createWebRtcTransport.
type TransportOptions struct {
	ID             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type ConsumerOptions struct {
	ID             string
	ProducerID     string
	Kind           MediaKind
	RtpParameters  RtpParameters
	ProducerPaused bool
	AppData        map[string]interface{}
}
