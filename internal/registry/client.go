// Package registry is a thin HTTP client for the remote monitoring registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	connectTimeout = 5 * time.Second
	totalTimeout   = 30 * time.Second
)

// StatusError is a non-2xx registry response. Anything else returned by the
// client is a transport error and worth retrying.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("registry: %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("registry: %d", e.Code)
}

// AsStatusError unwraps err into a StatusError, if it is one.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Client talks to the registry. Registrar and reporter hold separate clients;
// they have different auth contexts and must not share connections.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. https://host).
func NewClient(baseURL string) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

// Register enrolls the receiver and returns the account UUID plus the nonce
// for the pending verification. Enrollment is idempotent on the server side.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.postJSON(ctx, "/register", req, &resp, "", "")
	return resp, err
}

// Verify submits the signed verification code and returns the report password.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.postJSON(ctx, "/verify", req, &resp, "", "")
	return resp, err
}

// Report posts one signed metrics report with basic auth (uuid, password).
// The HTTP status is returned whenever a response was received, even on error.
func (c *Client) Report(ctx context.Context, req ReportRequest, password string) (int, error) {
	err := c.postJSON(ctx, "/report", req, nil, req.UUID, password)
	if err != nil {
		if se, ok := AsStatusError(err); ok {
			return se.Code, err
		}
		return 0, err
	}
	return http.StatusOK, nil
}

// Info probes the registry health endpoint. A server qualifies as valid when
// the response carries the lightning-dir and num_active_channels keys.
func (c *Client) Info(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "get /info")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return false, nil
	}
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return false, nil
	}
	_, hasDir := doc["lightning-dir"]
	_, hasChans := doc["num_active_channels"]
	return hasDir && hasChans, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any, user, pass string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return &StatusError{Code: res.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
