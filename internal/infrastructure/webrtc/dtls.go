package webrtc

import (
	"fmt"
	"strings"

	"roomview/internal/core/domain"

	"github.com/pion/sdp/v3"
)

// localDtlsParameters reads our fingerprint and DTLS role out of a local
// answer. "a=setup:active" means we act as DTLS client.
func localDtlsParameters(answer string) (domain.DtlsParameters, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(answer)); err != nil {
		return domain.DtlsParameters{}, fmt.Errorf("parse local answer: %w", err)
	}

	fingerprint, ok := sd.Attribute("fingerprint")
	setup, hasSetup := sd.Attribute(sdp.AttrKeyConnectionSetup)
	for _, md := range sd.MediaDescriptions {
		if !ok {
			fingerprint, ok = md.Attribute("fingerprint")
		}
		if !hasSetup {
			setup, hasSetup = md.Attribute(sdp.AttrKeyConnectionSetup)
		}
	}
	if !ok {
		return domain.DtlsParameters{}, fmt.Errorf("local answer has no fingerprint")
	}

	parts := strings.Fields(fingerprint)
	if len(parts) != 2 {
		return domain.DtlsParameters{}, fmt.Errorf("malformed fingerprint %q", fingerprint)
	}

	role := domain.DtlsRoleAuto
	switch setup {
	case "active":
		role = domain.DtlsRoleClient
	case "passive":
		role = domain.DtlsRoleServer
	}

	return domain.DtlsParameters{
		Role: role,
		Fingerprints: []domain.DtlsFingerprint{
			{Algorithm: strings.ToLower(parts[0]), Value: parts[1]},
		},
	}, nil
}
