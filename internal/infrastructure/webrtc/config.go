package webrtc

import "github.com/pion/webrtc/v3"

// Config holds the local peer connection settings for receive transports.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}
