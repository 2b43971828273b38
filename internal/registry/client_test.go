package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegister_DecodesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Fingerprint != "AABB" || req.Satellite != "G18" {
			t.Errorf("req=%+v", req)
		}
		_ = json.NewEncoder(w).Encode(RegisterResponse{UUID: "abc", Nonce: "N1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Register(context.Background(), RegisterRequest{Fingerprint: "AABB", Satellite: "G18"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.UUID != "abc" || resp.Nonce != "N1" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestPostJSON_StatusErrorCarriesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "code already used", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Verify(context.Background(), VerifyRequest{UUID: "abc"})
	se, ok := AsStatusError(err)
	if !ok {
		t.Fatalf("err=%v", err)
	}
	if se.Code != http.StatusConflict || se.Detail != "code already used" {
		t.Fatalf("se=%+v", se)
	}
}

func TestRegister_TransportErrorIsNotStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL)
	_, err := c.Register(context.Background(), RegisterRequest{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := AsStatusError(err); ok {
		t.Fatalf("transport error classified as status error: %v", err)
	}
}

func TestReport_BasicAuthAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "abc" || pass != "P" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	req := ReportRequest{UUID: "abc", Metrics: json.RawMessage(`{"lock":true}`)}

	status, err := c.Report(context.Background(), req, "P")
	if err != nil || status != http.StatusOK {
		t.Fatalf("status=%d err=%v", status, err)
	}

	status, err = c.Report(context.Background(), req, "wrong")
	if status != http.StatusUnauthorized {
		t.Fatalf("status=%d err=%v", status, err)
	}
}

func TestInfo_ValidServer(t *testing.T) {
	t.Parallel()

	valid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lightning-dir":       "/x",
			"num_active_channels": 2,
		})
	}))
	defer valid.Close()

	ok, err := NewClient(valid.URL).Info(context.Background())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	invalid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"hello": "world"})
	}))
	defer invalid.Close()

	ok, err = NewClient(invalid.URL).Info(context.Background())
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
