package domain

// Camera is the client-role tag sent when opening the signaling link.
type Camera string

const (
	CameraFront    Camera = "front"
	CameraBack     Camera = "back"
	CameraLeft     Camera = "left"
	CameraRight    Camera = "right"
	CameraCombined Camera = "combined"
)

func (c Camera) Valid() bool {
	switch c {
	case CameraFront, CameraBack, CameraLeft, CameraRight, CameraCombined:
		return true
	}
	return false
}

// SessionSnapshot is the read-only projection of the session handed to the
// view layer.
type SessionSnapshot struct {
	Streaming bool             `json:"streaming"`
	Starting  bool             `json:"starting"`
	ServerURL string           `json:"server_url"`
	RoomID    string           `json:"room_id"`
	PeerID    string           `json:"peer_id,omitempty"`
	Camera    Camera           `json:"camera"`
	Stream    *MediaStreamInfo `json:"stream,omitempty"`

	TransportState string `json:"transport_state,omitempty"`
}
