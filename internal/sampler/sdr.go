package sampler

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/metrics"
)

// SDR reads newline-delimited KEY=VALUE status pairs from a pipe shared with
// the software demodulation chain, e.g. FRAMELOCK=1, MER=7.4, SS=-42.1,
// VBER=0.002. Pairs accumulate until a full record is available.
type SDR struct {
	scanner *bufio.Scanner
	log     *logrus.Entry

	locked bool
	level  *float64
	snr    *float64
	ber    *float64
}

// NewSDR builds the adapter around the demodulator status pipe.
func NewSDR(r io.Reader, log *logrus.Entry) *SDR {
	return &SDR{scanner: bufio.NewScanner(r), log: log}
}

func (s *SDR) reset() {
	s.locked = false
	s.level, s.snr, s.ber = nil, nil, nil
}

// Sample consumes status pairs until one record is complete. Loss of frame
// lock drops the accumulated metrics and emits immediately.
func (s *SDR) Sample(ctx context.Context) (metrics.Record, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return metrics.Record{}, err
		}
		key, raw, ok := strings.Cut(strings.TrimSpace(s.scanner.Text()), "=")
		if !ok {
			continue
		}

		switch key {
		case "FRAMELOCK":
			if raw == "1" {
				s.locked = true
			} else {
				s.reset()
				return metrics.Record{Lock: false}, nil
			}
		case "SS":
			s.level = parsePipeFloat(raw)
		case "MER":
			s.snr = parsePipeFloat(raw)
		case "VBER":
			s.ber = parsePipeFloat(raw)
		}

		if s.locked && s.level != nil && s.snr != nil && s.ber != nil {
			rec := metrics.Record{Lock: true, Level: s.level, SNR: s.snr, BER: s.ber}
			s.reset()
			return rec, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return metrics.Record{}, errors.Wrap(ErrFatal, err.Error())
	}
	return metrics.Record{}, errors.Wrap(ErrFatal, "demodulator status pipe closed")
}

func parsePipeFloat(raw string) *float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return metrics.FloatPtr(v)
}
