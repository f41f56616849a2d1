package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

var signatureHeaders = []string{"X-Signature", "Signature", "X-HeyGen-Signature", "X-Submagic-Signature"}

// verify checks an HMAC-SHA256 hex digest of body. An empty secret disables
// verification.
func verify(secret string, r *http.Request, body []byte) bool {
	if secret == "" {
		return true
	}
	var got string
	for _, h := range signatureHeaders {
		if v := r.Header.Get(h); v != "" {
			got = v
			break
		}
	}
	got = strings.TrimPrefix(strings.TrimSpace(got), "sha256=")
	if got == "" {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// Sign returns the hex signature a provider would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
