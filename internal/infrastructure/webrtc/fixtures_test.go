package webrtc

import (
	"roomview/internal/core/domain"
)

func routerCapabilities() domain.RtpCapabilities {
	videoFb := []domain.RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
	return domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{
			{
				Kind:                 domain.MediaKindAudio,
				MimeType:             "audio/opus",
				PreferredPayloadType: 100,
				ClockRate:            48000,
				Channels:             2,
				RtcpFeedback:         []domain.RtcpFeedback{{Type: "nack"}, {Type: "transport-cc"}},
			},
			{
				Kind:                 domain.MediaKindVideo,
				MimeType:             "video/VP8",
				PreferredPayloadType: 101,
				ClockRate:            90000,
				RtcpFeedback:         videoFb,
			},
			{
				Kind:                 domain.MediaKindVideo,
				MimeType:             "video/rtx",
				PreferredPayloadType: 102,
				ClockRate:            90000,
				Parameters:           map[string]interface{}{"apt": float64(101)},
			},
			{
				Kind:                 domain.MediaKindVideo,
				MimeType:             "video/H264",
				PreferredPayloadType: 107,
				ClockRate:            90000,
				Parameters: map[string]interface{}{
					"packetization-mode": float64(1),
					"profile-level-id":   "4d0032",
				},
				RtcpFeedback: videoFb,
			},
			{
				Kind:                 domain.MediaKindVideo,
				MimeType:             "video/rtx",
				PreferredPayloadType: 108,
				ClockRate:            90000,
				Parameters:           map[string]interface{}{"apt": float64(107)},
			},
			{
				Kind:                 domain.MediaKindVideo,
				MimeType:             "video/H264",
				PreferredPayloadType: 109,
				ClockRate:            90000,
				Parameters: map[string]interface{}{
					"level-asymmetry-allowed": float64(1),
					"packetization-mode":      float64(1),
					"profile-level-id":        "42e01f",
				},
				RtcpFeedback: videoFb,
			},
			{
				Kind:                 domain.MediaKindVideo,
				MimeType:             "video/AV1",
				PreferredPayloadType: 111,
				ClockRate:            90000,
			},
		},
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
			{Kind: domain.MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:framemarking", PreferredID: 7, Direction: "sendrecv"},
			{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10, Direction: "recvonly"},
		},
	}
}

func vp8ConsumerParameters(mid string, ssrc, rtxSSRC uint32) domain.RtpParameters {
	return domain.RtpParameters{
		Mid: mid,
		Codecs: []domain.RtpCodecParameters{
			{
				MimeType:    "video/VP8",
				PayloadType: 101,
				ClockRate:   90000,
				RtcpFeedback: []domain.RtcpFeedback{
					{Type: "nack"},
					{Type: "nack", Parameter: "pli"},
					{Type: "ccm", Parameter: "fir"},
				},
			},
			{
				MimeType:    "video/rtx",
				PayloadType: 102,
				ClockRate:   90000,
				Parameters:  map[string]interface{}{"apt": float64(101)},
			},
		},
		HeaderExtensions: []domain.RtpHeaderExtensionParameters{
			{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
			{URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", ID: 4},
		},
		Encodings: []domain.RtpEncodingParameters{
			{SSRC: ssrc, Rtx: &domain.RtxParameters{SSRC: rtxSSRC}},
		},
		Rtcp: domain.RtcpParameters{CNAME: "cam-combined", ReducedSize: true},
	}
}

func opusConsumerParameters(mid string, ssrc uint32) domain.RtpParameters {
	return domain.RtpParameters{
		Mid: mid,
		Codecs: []domain.RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2},
		},
		Encodings: []domain.RtpEncodingParameters{{SSRC: ssrc}},
		Rtcp:      domain.RtcpParameters{CNAME: "cam-combined", ReducedSize: true},
	}
}

func transportOptions() domain.TransportOptions {
	return domain.TransportOptions{
		ID: "transport-1",
		IceParameters: domain.IceParameters{
			UsernameFragment: "k3vgd2xqalpv8wby",
			Password:         "xnuaoz8f2ijbmp7ycrw4vh1g0qd5mls9",
			IceLite:          true,
		},
		IceCandidates: []domain.IceCandidate{
			{Foundation: "udpcandidate", Priority: 1076302079, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"},
			{Foundation: "tcpcandidate", Priority: 1076276479, Address: "127.0.0.1", Protocol: "tcp", Port: 40001, Type: "host", TCPType: "passive"},
		},
		DtlsParameters: domain.DtlsParameters{
			Role: domain.DtlsRoleAuto,
			Fingerprints: []domain.DtlsFingerprint{
				{Algorithm: "sha-1", Value: "AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD"},
				{
					Algorithm: "sha-256",
					Value:     "4A:AD:B9:B1:3F:82:18:3B:54:02:12:DF:3E:5D:49:6B:19:E5:7C:AB:4A:AD:B9:B1:3F:82:18:3B:54:02:12:DF",
				},
			},
		},
	}
}
