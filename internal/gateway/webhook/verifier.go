// Package webhook authenticates asynchronous deliveries from collaborator services.
//
// Each peer signs the exact request body with HMAC-SHA256 under its own shared secret
// and sends the hex digest in an x-<peer>-signature header. A secret is only ever
// checked against its own peer's deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	dErrors "govsign/pkg/domain-errors"
)

var (
	ErrInvalidSignature = dErrors.New(dErrors.CodeUnauthorized, "invalid signature")
	ErrUnknownPeer      = dErrors.New(dErrors.CodeNotFound, "unknown webhook peer")
)

// Verifier holds one secret per peer.
type Verifier struct {
	secrets map[string][]byte
}

// NewVerifier copies secrets keyed by peer name. Peers with an empty secret are
// dropped, so their deliveries are always rejected.
func NewVerifier(secrets map[string]string) *Verifier {
	v := &Verifier{secrets: make(map[string][]byte, len(secrets))}
	for peer, secret := range secrets {
		if secret == "" {
			continue
		}
		v.secrets[strings.ToLower(peer)] = []byte(secret)
	}
	return v
}

// HeaderName is the signature header a peer sends.
func HeaderName(peer string) string {
	return "x-" + strings.ToLower(peer) + "-signature"
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body for peer. The comparison is constant time
// over the decoded digests.
func (v *Verifier) Verify(peer string, body []byte, signature string) error {
	secret, ok := v.secrets[strings.ToLower(peer)]
	if !ok {
		return ErrUnknownPeer
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Peers lists the peers with a configured secret.
func (v *Verifier) Peers() []string {
	peers := make([]string, 0, len(v.secrets))
	for p := range v.secrets {
		peers = append(peers, p)
	}
	return peers
}
