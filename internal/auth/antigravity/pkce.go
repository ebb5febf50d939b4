package antigravity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// StatePayload is carried through the OAuth state parameter so the callback
// can be correlated to the login attempt without server-side session storage.
type StatePayload struct {
	Verifier  string `json:"verifier"`
	ProjectID string `json:"projectId"`
}

// GeneratePKCE returns a (verifier, challenge) pair for the PKCE flow.
// The verifier is 32 bytes of cryptographically secure randomness in
// URL-safe base64 without padding; the challenge is the unpadded URL-safe
// base64 of the verifier's SHA-256 digest.
func GeneratePKCE() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("antigravity pkce: generate random bytes: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return verifier, ChallengeFor(verifier), nil
}

// ChallengeFor derives the S256 code challenge for a verifier.
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// EncodeState serializes a state payload to a URL-safe base64 string without
// padding.
func EncodeState(payload StatePayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("antigravity pkce: marshal state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState reverses EncodeState, restoring padding as needed.
// DecodeState(EncodeState(p)) == p for every payload.
func DecodeState(state string) (StatePayload, error) {
	var payload StatePayload
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return payload, fmt.Errorf("antigravity pkce: decode state: %w", err)
	}
	if err = json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("antigravity pkce: unmarshal state: %w", err)
	}
	return payload, nil
}
