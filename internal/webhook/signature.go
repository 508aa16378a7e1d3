package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimestamp       = errors.New("invalid signature timestamp")
	ErrTimestampOutsideWindow = errors.New("signature timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// SignatureWindow bounds how stale a signed timestamp may be, as replay
// protection. Providers retry within minutes, so five is generous.
const SignatureWindow = 5 * time.Minute

// Verifier checks provider webhook signatures: hex-encoded
// HMAC-SHA256(secret, "<timestamp>.<body>") with a timestamp freshness
// window. The comparison is constant-time.
type Verifier struct {
	secrets map[string]string
	now     func() time.Time
}

// NewVerifier builds a verifier over per-provider shared secrets.
func NewVerifier(secrets map[string]string, now func() time.Time) *Verifier {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Verifier{secrets: secrets, now: now}
}

// Verify validates the signature headers of a delivery for the given
// provider. An unknown provider fails as an invalid signature rather than
// leaking which providers are configured.
func (v *Verifier) Verify(provider, timestampHeader, signatureHeader string, body []byte) error {
	secret, ok := v.secrets[provider]
	if !ok || secret == "" {
		return ErrInvalidSignature
	}

	tsHeader := strings.TrimSpace(timestampHeader)
	tsInt, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	ts := time.Unix(tsInt, 0).UTC()

	now := v.now().UTC()
	if ts.Before(now.Add(-SignatureWindow)) || ts.After(now.Add(SignatureWindow)) {
		return ErrTimestampOutsideWindow
	}

	provided, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(provided, signBytes(secret, tsHeader, body)) {
		return ErrInvalidSignature
	}
	return nil
}

func signBytes(secret, timestampHeader string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestampHeader))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex computes the hex signature for "<ts>.<body>". Used by tests and
// by tooling that replays captured payloads.
func SignHex(secret, timestampHeader string, body []byte) string {
	return hex.EncodeToString(signBytes(secret, timestampHeader, body))
}
