package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability describes a codec the router (or this client) can handle.
type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint16                 `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

// IsRtx reports whether the codec is a retransmission codec.
func (c RtpCodecCapability) IsRtx() bool {
	return isRtxMime(c.MimeType)
}

type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind"`
	URI              string    `json:"uri"`
	PreferredID      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions"`
}

type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint16                 `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

func (c RtpCodecParameters) IsRtx() bool {
	return isRtxMime(c.MimeType)
}

type RtpHeaderExtensionParameters struct {
	URI        string                 `json:"uri"`
	ID         int                    `json:"id"`
	Encrypt    bool                   `json:"encrypt,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type RtxParameters struct {
	SSRC uint32 `json:"ssrc"`
}

type RtpEncodingParameters struct {
	SSRC             uint32         `json:"ssrc,omitempty"`
	Rid              string         `json:"rid,omitempty"`
	CodecPayloadType uint8          `json:"codecPayloadType,omitempty"`
	Rtx              *RtxParameters `json:"rtx,omitempty"`
	Dtx              bool           `json:"dtx,omitempty"`
	ScalabilityMode  string         `json:"scalabilityMode,omitempty"`
	MaxBitrate       uint32         `json:"maxBitrate,omitempty"`
}

type RtcpParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
	Mux         bool   `json:"mux,omitempty"`
}

// RtpParameters describe the stream a consumer receives.
type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp"`
}

// MediaCodec returns the first non-RTX codec.
func (p RtpParameters) MediaCodec() (RtpCodecParameters, bool) {
	for _, c := range p.Codecs {
		if !c.IsRtx() {
			return c, true
		}
	}
	return RtpCodecParameters{}, false
}

func isRtxMime(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

// CodecName returns the encoding name part of a mime type ("video/VP8" -> "VP8").
func CodecName(mimeType string) string {
	if i := strings.IndexByte(mimeType, '/'); i >= 0 {
		return mimeType[i+1:]
	}
	return mimeType
}

// ParameterString renders a codec parameter value. JSON numbers arrive as
// float64 and are printed without a fractional part when integral.
func ParameterString(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	return formatValue(v), true
}

func ParameterInt(params map[string]interface{}, key string) (int, bool) {
	s, ok := ParameterString(params, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatParameters renders parameters as an SDP fmtp line body, keys sorted.
func FormatParameters(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(params[k]))
	}
	return strings.Join(parts, ";")
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return formatValue(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint8:
		return strconv.Itoa(int(val))
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}
