// Package sampler produces uniform metric records from the supported
// demodulator kinds. One adapter is selected at startup and never switched.
package sampler

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/config"
	"satmon/internal/defs"
	"satmon/internal/metrics"
)

var (
	// ErrUnreachable: the receiver did not answer in time.
	ErrUnreachable = errors.New("receiver unreachable")
	// ErrMalformed: the receiver answered with something unparseable.
	ErrMalformed = errors.New("receiver response malformed")
	// ErrFatal: the sampler cannot recover (e.g. its subprocess exited).
	ErrFatal = errors.New("sampler failed permanently")
)

// Sampler produces one metric record per call.
type Sampler interface {
	Sample(ctx context.Context) (metrics.Record, error)
}

// FromConfig selects the adapter for the configured receiver kind. The SDR
// adapter consumes demodulator status lines from stdin, where the SDR
// receive chain pipes them.
func FromConfig(cfg config.Config, log *logrus.Entry) (Sampler, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	switch cfg.Receiver {
	case defs.KindStandalone:
		return NewSNMP(cfg.Standalone, log), nil
	case defs.KindUSB:
		return NewUSB(cfg.USB, log), nil
	case defs.KindSDR:
		return NewSDR(os.Stdin, log), nil
	case defs.KindSatIP:
		return NewSatIP(cfg.SatIP, log)
	}
	return nil, errors.Errorf("no sampler for receiver kind %q", cfg.Receiver)
}
