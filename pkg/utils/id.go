package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GeneratePeerID generates the opaque peer id used for one session
func GeneratePeerID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GenerateDisplayName generates the display name announced on join
func GenerateDisplayName() string {
	return "Consumer_" + RandomToken(7)
}

// RandomToken returns n random characters from [0-9a-z]
func RandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}
