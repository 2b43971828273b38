package registry

import "encoding/json"

// RegisterRequest enrolls a receiver by key fingerprint.
type RegisterRequest struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"public_key"`
	Address     string `json:"address"`
	Satellite   string `json:"satellite"`
}

// RegisterResponse carries the server-assigned account and the nonce bound
// to the verification code sent over satellite.
type RegisterResponse struct {
	UUID  string `json:"uuid"`
	Nonce string `json:"nonce"`
}

// VerifyRequest proves reception of the satellite verification code.
// SignedCode is a detached signature over nonce || code.
type VerifyRequest struct {
	UUID       string `json:"uuid"`
	SignedCode string `json:"signed_code"`
}

// VerifyResponse carries the shared secret for subsequent basic-auth reports.
type VerifyResponse struct {
	Password string `json:"password"`
}

// ReportRequest is one signed metrics report.
type ReportRequest struct {
	UUID      string          `json:"uuid"`
	Metrics   json.RawMessage `json:"metrics"`
	Signature string          `json:"signature"`
	Timestamp string          `json:"timestamp"`
}
