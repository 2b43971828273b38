package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"satmon/internal/identity"
	"satmon/internal/metrics"
	"satmon/internal/registry"
)

type stubSession struct {
	id      identity.Identity
	pwd     string
	ok      bool
	rearmed atomic.Int32
}

func (s *stubSession) Credentials() (identity.Identity, string, bool) {
	return s.id, s.pwd, s.ok
}

func (s *stubSession) Rearm() { s.rearmed.Add(1) }

type signerFunc func([]byte) (string, error)

func (f signerFunc) Sign(data []byte) (string, error) { return f(data) }

func testSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Time: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Record: metrics.Record{
			Lock:  true,
			Level: metrics.FloatPtr(-48.26),
			SNR:   metrics.FloatPtr(7.4),
		},
	}
}

func newTestReporter(t *testing.T, url string, session Session) (*Reporter, *metrics.Store) {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	store := metrics.NewStore()
	sign := signerFunc(func([]byte) (string, error) { return "SIG", nil })
	return New(registry.NewClient(url), sign, session, store, logrus.NewEntry(log)), store
}

func TestCanonicalDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Canonical(map[string]any{"snr": 7.4, "lock": true, "level": -48.26})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	b, err := Canonical(map[string]any{"level": -48.26, "lock": true, "snr": 7.4})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("insertion order leaked into encoding: %s vs %s", a, b)
	}
	if want := `{"level":-48.26,"lock":true,"snr":7.4}`; string(a) != want {
		t.Fatalf("encoding = %s, want %s", a, want)
	}
}

func TestCanonicalNoHTMLEscape(t *testing.T) {
	t.Parallel()

	out, err := Canonical(map[string]any{"note": "<raw>"})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if want := `{"note":"<raw>"}`; string(out) != want {
		t.Fatalf("encoding = %s, want %s", out, want)
	}
}

func TestReportPostsSignedSnapshot(t *testing.T) {
	t.Parallel()

	session := &stubSession{
		id:  identity.Identity{UUID: "uuid-1"},
		pwd: "secret",
		ok:  true,
	}

	var got registry.ReportRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "uuid-1" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}))
	defer srv.Close()

	rep, store := newTestReporter(t, srv.URL, session)

	snap := testSnapshot()
	if !rep.TryReport(context.Background(), snap) {
		t.Fatal("TryReport dropped the snapshot")
	}
	if store.ReportStatus() != http.StatusOK {
		t.Errorf("report status = %d, want 200", store.ReportStatus())
	}
	if got.UUID != "uuid-1" || got.Signature != "SIG" {
		t.Errorf("request = %+v", got)
	}
	if got.Timestamp != "2024-05-06T07:08:09Z" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}

	want, err := Canonical(snap.Record.Fields())
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if !bytes.Equal(got.Metrics, want) {
		t.Errorf("metrics payload = %s, want %s", got.Metrics, want)
	}
}

func TestReportUnauthorizedTriggersRearm(t *testing.T) {
	t.Parallel()

	session := &stubSession{id: identity.Identity{UUID: "uuid-1"}, pwd: "stale", ok: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rep, store := newTestReporter(t, srv.URL, session)
	rep.TryReport(context.Background(), testSnapshot())

	if store.ReportStatus() != http.StatusUnauthorized {
		t.Errorf("report status = %d, want 401", store.ReportStatus())
	}
	if session.rearmed.Load() != 1 {
		t.Errorf("rearm count = %d, want 1", session.rearmed.Load())
	}
}

func TestReportServerErrorNoRearm(t *testing.T) {
	t.Parallel()

	session := &stubSession{id: identity.Identity{UUID: "uuid-1"}, pwd: "secret", ok: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rep, store := newTestReporter(t, srv.URL, session)
	rep.TryReport(context.Background(), testSnapshot())

	if store.ReportStatus() != http.StatusServiceUnavailable {
		t.Errorf("report status = %d, want 503", store.ReportStatus())
	}
	if session.rearmed.Load() != 0 {
		t.Errorf("rearm count = %d, want 0", session.rearmed.Load())
	}
}

func TestReportSkipsUnregistered(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	rep, store := newTestReporter(t, srv.URL, &stubSession{ok: false})
	rep.TryReport(context.Background(), testSnapshot())

	if requests.Load() != 0 {
		t.Errorf("requests = %d, want 0", requests.Load())
	}
	if store.ReportStatus() != 0 {
		t.Errorf("report status = %d, want 0", store.ReportStatus())
	}
}

func TestReportDropsWhileInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))
	defer srv.Close()

	session := &stubSession{id: identity.Identity{UUID: "uuid-1"}, pwd: "secret", ok: true}
	rep, _ := newTestReporter(t, srv.URL, session)

	done := make(chan bool)
	go func() { done <- rep.TryReport(context.Background(), testSnapshot()) }()
	<-entered

	if rep.TryReport(context.Background(), testSnapshot()) {
		t.Error("second report should drop while the first is in flight")
	}

	close(release)
	if !<-done {
		t.Error("first report should have been sent")
	}
}
