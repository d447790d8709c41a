package webrtc

import (
	"fmt"
	"strings"

	"roomview/internal/core/domain"
)

var videoFeedback = []domain.RtcpFeedback{
	{Type: "goog-remb"},
	{Type: "transport-cc"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// supportedCodecs is what the local pion stack can depacketize.
var supportedCodecs = []domain.RtpCodecCapability{
	{
		Kind:         domain.MediaKindAudio,
		MimeType:     "audio/opus",
		ClockRate:    48000,
		Channels:     2,
		RtcpFeedback: []domain.RtcpFeedback{{Type: "transport-cc"}},
	},
	{
		Kind:         domain.MediaKindVideo,
		MimeType:     "video/VP8",
		ClockRate:    90000,
		RtcpFeedback: videoFeedback,
	},
	{
		Kind:         domain.MediaKindVideo,
		MimeType:     "video/VP9",
		ClockRate:    90000,
		RtcpFeedback: videoFeedback,
	},
	{
		Kind:      domain.MediaKindVideo,
		MimeType:  "video/H264",
		ClockRate: 90000,
		Parameters: map[string]interface{}{
			"level-asymmetry-allowed": 1,
			"packetization-mode":      1,
			"profile-level-id":        "42e01f",
		},
		RtcpFeedback: videoFeedback,
	},
	{
		Kind:      domain.MediaKindVideo,
		MimeType:  "video/H264",
		ClockRate: 90000,
		Parameters: map[string]interface{}{
			"level-asymmetry-allowed": 1,
			"packetization-mode":      0,
			"profile-level-id":        "42e01f",
		},
		RtcpFeedback: videoFeedback,
	},
}

var supportedHeaderExtensions = []domain.RtpHeaderExtension{
	{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid"},
	{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid"},
	{Kind: domain.MediaKindAudio, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"},
	{Kind: domain.MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"},
	{Kind: domain.MediaKindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"},
	{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:toffset"},
	{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level"},
	{Kind: domain.MediaKindVideo, URI: "urn:3gpp:video-orientation"},
}

// negotiateRecvCapabilities intersects the router's capabilities with the
// locally supported ones. The result keeps the router's payload types,
// parameters and extension ids.
func negotiateRecvCapabilities(router domain.RtpCapabilities) (domain.RtpCapabilities, error) {
	var out domain.RtpCapabilities

	for _, rc := range router.Codecs {
		if rc.IsRtx() {
			continue
		}
		local, ok := findLocalCodec(rc)
		if !ok {
			continue
		}
		codec := rc
		codec.Parameters = copyParameters(rc.Parameters)
		codec.RtcpFeedback = intersectFeedback(rc.RtcpFeedback, local.RtcpFeedback)
		out.Codecs = append(out.Codecs, codec)
	}

	if len(out.Codecs) == 0 {
		return domain.RtpCapabilities{}, fmt.Errorf("%w: no common media codec with router", domain.ErrCapabilityMismatch)
	}

	// Attach each RTX codec right after the media codec it repairs.
	withRtx := make([]domain.RtpCodecCapability, 0, len(out.Codecs)*2)
	for _, codec := range out.Codecs {
		withRtx = append(withRtx, codec)
		for _, rc := range router.Codecs {
			if !rc.IsRtx() {
				continue
			}
			if apt, ok := domain.ParameterInt(rc.Parameters, "apt"); ok && apt == int(codec.PreferredPayloadType) {
				rtx := rc
				rtx.Parameters = copyParameters(rc.Parameters)
				rtx.RtcpFeedback = nil
				withRtx = append(withRtx, rtx)
			}
		}
	}
	out.Codecs = withRtx

	for _, rh := range router.HeaderExtensions {
		if supportsHeaderExtension(rh) {
			out.HeaderExtensions = append(out.HeaderExtensions, rh)
		}
	}

	return out, nil
}

func findLocalCodec(rc domain.RtpCodecCapability) (domain.RtpCodecCapability, bool) {
	for _, lc := range supportedCodecs {
		if lc.Kind == rc.Kind && codecsMatch(lc, rc) {
			return lc, true
		}
	}
	return domain.RtpCodecCapability{}, false
}

func codecsMatch(a, b domain.RtpCodecCapability) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false
	}
	if a.ClockRate != b.ClockRate {
		return false
	}
	if a.Kind == domain.MediaKindAudio && channels(a.Channels) != channels(b.Channels) {
		return false
	}

	if strings.EqualFold(a.MimeType, "video/H264") {
		if packetizationMode(a.Parameters) != packetizationMode(b.Parameters) {
			return false
		}
		if !sameH264Profile(a.Parameters, b.Parameters) {
			return false
		}
	}
	return true
}

func channels(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

func packetizationMode(params map[string]interface{}) int {
	mode, _ := domain.ParameterInt(params, "packetization-mode")
	return mode
}

// sameH264Profile compares profile_idc and profile_iop, the first four hex
// digits of profile-level-id. The level is negotiable.
func sameH264Profile(a, b map[string]interface{}) bool {
	pa, _ := domain.ParameterString(a, "profile-level-id")
	pb, _ := domain.ParameterString(b, "profile-level-id")
	if pa == "" {
		pa = "42e01f"
	}
	if pb == "" {
		pb = "42e01f"
	}
	if len(pa) < 4 || len(pb) < 4 {
		return false
	}
	return strings.EqualFold(pa[:4], pb[:4])
}

func intersectFeedback(router, local []domain.RtcpFeedback) []domain.RtcpFeedback {
	var out []domain.RtcpFeedback
	for _, rf := range router {
		for _, lf := range local {
			if rf.Type == lf.Type && rf.Parameter == lf.Parameter {
				out = append(out, rf)
				break
			}
		}
	}
	return out
}

// supportsHeaderExtension keeps extensions the router may send on consumer
// streams. Router-side "recvonly" and "inactive" ones never reach us.
func supportsHeaderExtension(ext domain.RtpHeaderExtension) bool {
	if ext.Direction == "recvonly" || ext.Direction == "inactive" {
		return false
	}
	for _, local := range supportedHeaderExtensions {
		if local.Kind == ext.Kind && local.URI == ext.URI {
			return true
		}
	}
	return false
}

// canReceive reports whether parameters can be consumed with caps: the first
// media codec must be present with the same payload type.
func canReceive(caps domain.RtpCapabilities, params domain.RtpParameters) bool {
	codec, ok := params.MediaCodec()
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if c.PreferredPayloadType == codec.PayloadType && strings.EqualFold(c.MimeType, codec.MimeType) {
			return true
		}
	}
	return false
}

func copyParameters(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
