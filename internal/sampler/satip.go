package sampler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/config"
	"satmon/internal/metrics"
)

const (
	satipInfoPath  = "/cgi-bin/index.cgi?cmd=frontend_info"
	satipLoginPath = "/cgi-bin/login.cgi"
)

// SatIP samples a Sat-IP receiver by fetching its frontend-info document on
// each tick. The device serves a login page instead of JSON once the session
// expires; the adapter re-authenticates once before surfacing the failure.
type SatIP struct {
	cfg  *config.SatIPConfig
	base string
	http *http.Client
	log  *logrus.Entry
}

type satipFrontend struct {
	Frontend struct {
		SQ  string `json:"sq"`
		BER string `json:"ber"`
		LS  string `json:"ls"`
	} `json:"frontend"`
}

type satipInfoDoc struct {
	Frontends []satipFrontend `json:"frontends"`
}

// NewSatIP builds the adapter.
func NewSatIP(cfg *config.SatIPConfig, log *logrus.Entry) (*SatIP, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "cookie jar")
	}
	base := cfg.Address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &SatIP{
		cfg:  cfg,
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
			Jar:     jar,
		},
		log: log,
	}, nil
}

// Sample fetches and maps the frontend info.
func (s *SatIP) Sample(ctx context.Context) (metrics.Record, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return metrics.Record{}, err
	}
	if looksLikeLoginPage(body) {
		s.log.Debug("session expired; re-authenticating")
		if err := s.login(ctx); err != nil {
			return metrics.Record{}, err
		}
		if body, err = s.fetch(ctx); err != nil {
			return metrics.Record{}, err
		}
		if looksLikeLoginPage(body) {
			return metrics.Record{}, errors.Wrap(ErrUnreachable, "authentication rejected")
		}
	}

	var doc satipInfoDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return metrics.Record{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if len(doc.Frontends) == 0 {
		return metrics.Record{}, errors.Wrap(ErrMalformed, "no frontends in response")
	}
	fe := doc.Frontends[0].Frontend

	if fe.LS != "yes" {
		return metrics.Record{Lock: false}, nil
	}

	sq, err := strconv.ParseFloat(fe.SQ, 64)
	if err != nil {
		return metrics.Record{}, errors.Wrapf(ErrMalformed, "sq %q", fe.SQ)
	}
	ber, err := strconv.ParseFloat(fe.BER, 64)
	if err != nil {
		return metrics.Record{}, errors.Wrapf(ErrMalformed, "ber %q", fe.BER)
	}

	// sq (0..0xFFFF) maps linearly to dBm; ber (0..15) to percent. Neither
	// is clamped, so out-of-range device output stays detectable downstream.
	return metrics.Record{
		Lock:    true,
		Level:   metrics.FloatPtr((10*sq - 3440) / 48),
		Quality: metrics.FloatPtr(ber * 100 / 15),
	}, nil
}

func (s *SatIP) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+satipInfoPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	res, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUnreachable, "frontend info: %s", res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	return body, nil
}

func (s *SatIP) login(ctx context.Context) error {
	form := url.Values{
		"cmd":      {"login"},
		"username": {s.cfg.Username},
		"password": {s.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+satipLoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrUnreachable, "login: %s", res.Status)
	}
	return nil
}

// looksLikeLoginPage detects the HTML login form the device serves on an
// expired session, even under HTTP 200.
func looksLikeLoginPage(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "login")
}
