package registrar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerificationMessage is the plaintext carried by the satellite broadcast
// during registration: the one-time code plus a MAC binding it to the nonce
// issued at enrollment.
type VerificationMessage struct {
	Code string `json:"code"`
	MAC  string `json:"mac"`
}

// MessageMAC computes the nonce-bound MAC over a verification code.
func MessageMAC(nonce, code string) string {
	mac := hmac.New(sha256.New, []byte(nonce))
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Valid reports whether the message MAC matches the enrollment nonce.
func (m VerificationMessage) Valid(nonce string) bool {
	want, err := hex.DecodeString(m.MAC)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(MessageMAC(nonce, m.Code))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
