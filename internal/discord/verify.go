package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an interaction request's Ed25519 signature over
// timestamp followed by the raw body. Malformed input is reported as an
// invalid signature.
func VerifySignature(signature, timestamp, publicKeyHex string, rawBody []byte) bool {
	if signature == "" || timestamp == "" || publicKeyHex == "" {
		return false
	}

	key, ok := decodeHex(publicKeyHex)
	if !ok || len(key) != ed25519.PublicKeySize {
		return false
	}
	sig, ok := decodeHex(signature)
	if !ok || len(sig) != ed25519.SignatureSize {
		return false
	}

	msg := make([]byte, 0, len(timestamp)+len(rawBody))
	msg = append(msg, timestamp...)
	msg = append(msg, rawBody...)
	return ed25519.Verify(ed25519.PublicKey(key), msg, sig)
}

func decodeHex(s string) ([]byte, bool) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}
