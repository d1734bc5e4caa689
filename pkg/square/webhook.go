package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries Square's HMAC over the notification URL and body.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// VerifySignature checks a webhook delivery against the configured signature key.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	if c == nil {
		return false
	}
	return verifySignature(c.signatureKey, c.webhookURL, payload, signature)
}

func verifySignature(key, notificationURL string, payload []byte, signature string) bool {
	if key == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
