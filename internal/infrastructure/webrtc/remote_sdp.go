package webrtc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"roomview/internal/core/domain"

	"github.com/pion/sdp/v3"
)

// remoteSdp builds the server side offer for a receive transport. The server
// never sends SDP; every m-section is synthesised from the transport and
// consumer parameters it returned over signaling.
type remoteSdp struct {
	ice        domain.IceParameters
	candidates []domain.IceCandidate
	dtls       domain.DtlsParameters

	mu        sync.Mutex
	sessionID uint64
	version   uint64
	sections  []*sdp.MediaDescription
	mids      map[string]int
}

func newRemoteSdp(opts domain.TransportOptions) *remoteSdp {
	return &remoteSdp{
		ice:        opts.IceParameters,
		candidates: opts.IceCandidates,
		dtls:       opts.DtlsParameters,
		sessionID:  uint64(time.Now().UnixNano() / int64(time.Millisecond)),
		mids:       make(map[string]int),
	}
}

// Receive adds (or replaces) a sendonly m-section for one consumer.
func (r *remoteSdp) Receive(mid string, kind domain.MediaKind, params domain.RtpParameters, streamID, trackID string) error {
	md, err := r.mediaSection(mid, kind, params, streamID, trackID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.mids[mid]; ok {
		r.sections[idx] = md
		return nil
	}
	r.mids[mid] = len(r.sections)
	r.sections = append(r.sections, md)
	return nil
}

// Disable turns the m-section for mid inactive and drops its SSRCs. The
// section stays in the BUNDLE group so later mids keep their positions.
func (r *remoteSdp) Disable(mid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.mids[mid]
	if !ok {
		return false
	}
	md := r.sections[idx]
	attrs := md.Attributes[:0]
	for _, attr := range md.Attributes {
		switch attr.Key {
		case sdp.AttrKeySendOnly, sdp.AttrKeyRecvOnly, sdp.AttrKeySendRecv:
			attrs = append(attrs, sdp.NewPropertyAttribute(sdp.AttrKeyInactive))
		case sdp.AttrKeySSRC, sdp.AttrKeySSRCGroup, sdp.AttrKeyMsid:
			// An inactive section must not claim the SSRCs any more.
		default:
			attrs = append(attrs, attr)
		}
	}
	md.Attributes = attrs
	return true
}

// Offer renders the current session. Each call bumps the origin version.
func (r *remoteSdp) Offer() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "roomview-server",
			SessionID:      r.sessionID,
			SessionVersion: r.version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	if r.ice.IceLite {
		sd.WithPropertyAttribute(sdp.AttrKeyICELite)
	}
	if fp, ok := r.fingerprint(); ok {
		sd.WithFingerprint(fp.Algorithm, strings.ToUpper(fp.Value))
	}
	sd.WithValueAttribute(sdp.AttrKeyMsidSemantic, "WMS *")

	mids := make([]string, 0, len(r.sections))
	for _, md := range r.sections {
		mid, _ := md.Attribute(sdp.AttrKeyMID)
		mids = append(mids, mid)
	}
	if len(mids) > 0 {
		sd.WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE "+strings.Join(mids, " "))
	}
	for _, md := range r.sections {
		sd.WithMedia(md)
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal remote offer: %w", err)
	}
	return string(out), nil
}

// fingerprint picks the last advertised fingerprint, which is the strongest
// hash servers list.
func (r *remoteSdp) fingerprint() (domain.DtlsFingerprint, bool) {
	if len(r.dtls.Fingerprints) == 0 {
		return domain.DtlsFingerprint{}, false
	}
	return r.dtls.Fingerprints[len(r.dtls.Fingerprints)-1], true
}

func (r *remoteSdp) mediaSection(mid string, kind domain.MediaKind, params domain.RtpParameters, streamID, trackID string) (*sdp.MediaDescription, error) {
	if mid == "" {
		return nil, fmt.Errorf("m-section without mid")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind %q", kind)
	}
	if len(params.Codecs) == 0 {
		return nil, fmt.Errorf("no codecs for mid %s", mid)
	}

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   string(kind),
			Port:    sdp.RangedPort{Value: 7},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: []string{},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
	}

	md.WithValueAttribute(sdp.AttrKeyMID, mid)
	md.WithICECredentials(r.ice.UsernameFragment, r.ice.Password)
	for _, c := range r.candidates {
		md.WithValueAttribute("candidate", candidateValue(c))
	}
	md.WithPropertyAttribute("end-of-candidates")
	md.WithValueAttribute("ice-options", "renomination")
	md.WithValueAttribute(sdp.AttrKeyConnectionSetup, "actpass")
	md.WithPropertyAttribute(sdp.AttrKeySendOnly)

	for _, codec := range params.Codecs {
		md.WithCodec(codec.PayloadType, domain.CodecName(codec.MimeType), codec.ClockRate,
			codecChannels(kind, codec.Channels), domain.FormatParameters(codec.Parameters))
		for _, fb := range codec.RtcpFeedback {
			value := fmt.Sprintf("%d %s", codec.PayloadType, fb.Type)
			if fb.Parameter != "" {
				value += " " + fb.Parameter
			}
			md.WithValueAttribute("rtcp-fb", value)
		}
	}

	for _, ext := range params.HeaderExtensions {
		md.WithValueAttribute(sdp.AttrKeyExtMap, fmt.Sprintf("%d %s", ext.ID, ext.URI))
	}

	md.WithPropertyAttribute(sdp.AttrKeyRTCPMux)
	if params.Rtcp.ReducedSize {
		md.WithPropertyAttribute(sdp.AttrKeyRTCPRsize)
	}

	if len(params.Encodings) > 0 {
		enc := params.Encodings[0]
		cname := params.Rtcp.CNAME
		md.WithValueAttribute(sdp.AttrKeyMsid, streamID+" "+trackID)
		if enc.Rtx != nil && enc.Rtx.SSRC != 0 {
			md.WithValueAttribute(sdp.AttrKeySSRCGroup, fmt.Sprintf("FID %d %d", enc.SSRC, enc.Rtx.SSRC))
		}
		md.WithMediaSource(enc.SSRC, cname, streamID, trackID)
		if enc.Rtx != nil && enc.Rtx.SSRC != 0 {
			md.WithMediaSource(enc.Rtx.SSRC, cname, streamID, trackID)
		}
	}

	return md, nil
}

// codecChannels omits the channel count except for multi-channel audio.
func codecChannels(kind domain.MediaKind, n uint16) uint16 {
	if kind == domain.MediaKindAudio && n > 1 {
		return n
	}
	return 0
}

func candidateValue(c domain.IceCandidate) string {
	value := fmt.Sprintf("%s 1 %s %d %s %d typ %s",
		c.Foundation, strings.ToLower(c.Protocol), c.Priority, c.Addr(), c.Port, c.Type)
	if strings.EqualFold(c.Protocol, "tcp") && c.TCPType != "" {
		value += " tcptype " + c.TCPType
	}
	return value
}
