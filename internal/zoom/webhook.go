package zoom

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MaxSignatureAge bounds how old a signed webhook may be before it is
// rejected as a possible replay.
const MaxSignatureAge = 5 * time.Minute

// SignPayload computes the provider's webhook signature for a raw body:
// "v0=" + hex(HMAC-SHA256(secret, "v0:{timestamp}:{body}")).
func SignPayload(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time. The raw body
// must be the exact bytes received on the wire.
func VerifySignature(secret, timestamp, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayload(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// TimestampFresh reports whether a webhook timestamp is within
// MaxSignatureAge of now. The provider sends epoch seconds, but some relays
// forward milliseconds; both are accepted.
func TimestampFresh(timestamp string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	// Heuristic: anything past the year 33658 in seconds is milliseconds.
	if ts > 1e12 {
		ts /= 1000
	}

	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff)*time.Second <= MaxSignatureAge
}

// ValidationResponse answers the endpoint.url_validation handshake:
// the plain token echoed back beside its hex HMAC under the webhook secret.
func ValidationResponse(secret, plainToken string) *URLValidationResponse {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(plainToken))
	return &URLValidationResponse{
		PlainToken:     plainToken,
		EncryptedToken: hex.EncodeToString(mac.Sum(nil)),
	}
}
