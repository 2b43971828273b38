package reporter

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"satmon/internal/identity"
	"satmon/internal/metrics"
	"satmon/internal/registry"
)

// Signer produces the armored detached signature over the report payload.
type Signer interface {
	Sign(data []byte) (string, error)
}

// Session exposes the registration credentials and the re-enrollment trigger.
// The registrar satisfies it.
type Session interface {
	Credentials() (identity.Identity, string, bool)
	Rearm()
}

// Reporter sends one report per offered snapshot. It holds no queue: the
// registry only cares about the latest sample, so a snapshot that arrives
// while the previous report is still in flight is dropped.
type Reporter struct {
	client  *registry.Client
	signer  Signer
	session Session
	store   *metrics.Store
	log     *logrus.Entry

	busy atomic.Bool
}

// New builds a reporter around its own registry client.
func New(client *registry.Client, signer Signer, session Session, store *metrics.Store, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reporter{client: client, signer: signer, session: session, store: store, log: log}
}

// TryReport posts one snapshot, returning false when it was dropped because a
// previous report is still in flight. Unregistered receivers report nothing.
func (r *Reporter) TryReport(ctx context.Context, snap metrics.Snapshot) bool {
	if !r.busy.CompareAndSwap(false, true) {
		r.log.Debug("report in flight; dropping snapshot")
		return false
	}
	defer r.busy.Store(false)
	r.report(ctx, snap)
	return true
}

func (r *Reporter) report(ctx context.Context, snap metrics.Snapshot) {
	id, password, ok := r.session.Credentials()
	if !ok {
		return
	}

	payload, err := Canonical(snap.Record.Fields())
	if err != nil {
		r.log.WithError(err).Error("encode report")
		return
	}
	sig, err := r.signer.Sign(payload)
	if err != nil {
		r.log.WithError(err).Error("sign report")
		return
	}

	req := registry.ReportRequest{
		UUID:      id.UUID,
		Metrics:   payload,
		Signature: sig,
		Timestamp: snap.Time.UTC().Format(time.RFC3339),
	}
	status, err := r.client.Report(ctx, req, password)
	if status != 0 {
		r.store.SetReportStatus(status)
	}
	if err == nil {
		return
	}

	if status == http.StatusUnauthorized {
		// The stored password no longer works, e.g. the account was reset
		// server-side. A fresh handshake replaces the credentials; until it
		// finishes, Credentials() fails and reporting pauses.
		r.log.Warn("registry rejected the report password; re-enrolling")
		r.session.Rearm()
		return
	}
	r.log.WithError(err).Warn("report failed")
}
