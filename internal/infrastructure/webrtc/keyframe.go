package webrtc

import (
	"strings"

	"github.com/pion/rtp"
)

// isKeyframe reports whether packet starts a keyframe for the given codec.
func isKeyframe(mimeType string, packet *rtp.Packet) bool {
	if packet == nil || len(packet.Payload) == 0 {
		return false
	}

	switch strings.ToLower(mimeType) {
	case "video/vp8":
		return isVP8Keyframe(packet.Payload)
	case "video/vp9":
		return isVP9Keyframe(packet.Payload)
	case "video/h264":
		return isH264Keyframe(packet.Payload)
	default:
		return false
	}
}

// VP8 payload descriptor (RFC 7741 section 4.2) followed by the frame tag,
// whose lowest bit is 0 on keyframes.
func isVP8Keyframe(payload []byte) bool {
	first := payload[0]
	// Start of partition 0 only.
	if first&0x10 == 0 || first&0x07 != 0 {
		return false
	}

	idx := 1
	if first&0x80 != 0 {
		if len(payload) < 2 {
			return false
		}
		ext := payload[1]
		idx = 2
		if ext&0x80 != 0 { // PictureID
			if len(payload) <= idx {
				return false
			}
			if payload[idx]&0x80 != 0 {
				idx += 2
			} else {
				idx++
			}
		}
		if ext&0x40 != 0 { // TL0PICIDX
			idx++
		}
		if ext&0x20 != 0 || ext&0x10 != 0 { // TID/KEYIDX
			idx++
		}
	}

	if len(payload) <= idx {
		return false
	}
	return payload[idx]&0x01 == 0
}

// VP9: P bit clear (not inter-predicted) and B bit set (start of frame).
func isVP9Keyframe(payload []byte) bool {
	first := payload[0]
	return first&0x40 == 0 && first&0x08 != 0
}

const (
	naluIDR  = 5
	naluSPS  = 7
	naluSTAP = 24
	naluFUA  = 28
)

func isH264Keyframe(payload []byte) bool {
	switch payload[0] & 0x1F {
	case naluIDR, naluSPS:
		return true
	case naluSTAP:
		offset := 1
		for offset+2 < len(payload) {
			size := int(payload[offset])<<8 | int(payload[offset+1])
			nal := payload[offset+2] & 0x1F
			if nal == naluIDR || nal == naluSPS {
				return true
			}
			offset += 2 + size
		}
	case naluFUA:
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1F == naluIDR
	}
	return false
}
