// Package testserver is an in-process registry double for handshake and
// reporting tests. It implements the same wire protocol as the production
// registry, including signature checks against the enrolled public key.
package testserver

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"

	"satmon/internal/registrar"
	"satmon/internal/registry"
)

type account struct {
	uuid     string
	nonce    string
	code     string
	password string
	ring     openpgp.EntityList
	verified bool
	codeUsed bool
}

// Server is the registry double.
type Server struct {
	mu       sync.Mutex
	accounts map[string]*account // by fingerprint
	byUUID   map[string]*account

	reports     int
	forceStatus int

	http *httptest.Server
}

// New starts the double. Callers own Close.
func New() *Server {
	s := &Server{
		accounts: map[string]*account{},
		byUUID:   map[string]*account{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/info", s.handleInfo)
	s.http = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the double.
func (s *Server) URL() string { return s.http.URL }

// Close shuts the double down.
func (s *Server) Close() { s.http.Close() }

// Message returns the plaintext verification message for an enrolled
// fingerprint, as it would be broadcast over satellite (before encryption).
func (s *Server) Message(fingerprint string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[fingerprint]
	if !ok {
		return nil, false
	}
	msg := registrar.VerificationMessage{
		Code: acct.code,
		MAC:  registrar.MessageMAC(acct.nonce, acct.code),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Password returns the password issued to a verified account.
func (s *Server) Password(uuidStr string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byUUID[uuidStr]
	if !ok || !acct.verified {
		return "", false
	}
	return acct.password, true
}

// Reports returns how many reports were accepted.
func (s *Server) Reports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports
}

// ForceReportStatus makes /report answer with the given status until reset
// to zero.
func (s *Server) ForceReportStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceStatus = code
}

// RotatePassword invalidates the current password of an account, simulating
// a server-side credential reset.
func (s *Server) RotatePassword(uuidStr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.byUUID[uuidStr]; ok {
		acct.password = randomToken("pw")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Fingerprint == "" || req.PublicKey == "" || req.Satellite == "" {
		http.Error(w, "fingerprint, public_key and satellite are required", http.StatusBadRequest)
		return
	}
	ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(req.PublicKey))
	if err != nil {
		http.Error(w, "unparseable public key", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Enrollment is idempotent: a known fingerprint keeps its uuid but gets
	// a fresh nonce and code.
	acct, ok := s.accounts[req.Fingerprint]
	if !ok {
		acct = &account{uuid: uuid.NewString()}
		s.accounts[req.Fingerprint] = acct
		s.byUUID[acct.uuid] = acct
	}
	acct.ring = ring
	acct.nonce = randomToken("N")
	acct.code = randomToken("CODE")
	acct.codeUsed = false

	writeJSON(w, registry.RegisterResponse{UUID: acct.uuid, Nonce: acct.nonce})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req registry.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byUUID[req.UUID]
	if !ok {
		http.Error(w, "unknown uuid", http.StatusNotFound)
		return
	}
	if acct.codeUsed {
		http.Error(w, "code already used", http.StatusConflict)
		return
	}
	signed := acct.nonce + acct.code
	if _, err := openpgp.CheckArmoredDetachedSignature(acct.ring, strings.NewReader(signed), strings.NewReader(req.SignedCode), nil); err != nil {
		http.Error(w, "signature does not verify", http.StatusBadRequest)
		return
	}

	acct.codeUsed = true
	acct.verified = true
	acct.password = randomToken("pw")
	writeJSON(w, registry.VerifyResponse{Password: acct.password})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req registry.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forceStatus != 0 {
		http.Error(w, http.StatusText(s.forceStatus), s.forceStatus)
		return
	}

	user, pass, ok := r.BasicAuth()
	acct, found := s.byUUID[req.UUID]
	if !ok || !found || !acct.verified || user != acct.uuid || pass != acct.password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := openpgp.CheckArmoredDetachedSignature(acct.ring, strings.NewReader(string(req.Metrics)), strings.NewReader(req.Signature), nil); err != nil {
		http.Error(w, "report signature does not verify", http.StatusBadRequest)
		return
	}

	s.reports++
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"lightning-dir":       "/data/lightning",
		"num_active_channels": 4,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func randomToken(prefix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b[:]))
}
