package aswan

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// StringToSign is the canonical message covered by X-Signature.
func StringToSign(subjectID, timestamp, keyID string) string {
	return subjectID + timestamp + keyID
}

// Sign returns the lowercase hex HMAC-SHA256 of StringToSign keyed by secret.
func Sign(secret, subjectID, timestamp, keyID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(StringToSign(subjectID, timestamp, keyID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckSignature compares a supplied signature to the expected one in constant time.
func CheckSignature(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(supplied))
}
