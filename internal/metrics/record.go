// Package metrics holds the uniform receiver metric record, the snapshot
// store shared between the sample loop and its readers, and the textual
// rendering used for log files.
package metrics

import "math"

// Record is the uniform output of any sampler. All fields other than Lock
// are only meaningful (and only present) when Lock is true.
type Record struct {
	Lock    bool
	Level   *float64 // dBm
	SNR     *float64 // dB
	BER     *float64
	FER     *float64
	Quality *float64 // percent
	PktErr  *uint64  // cumulative
}

// FloatPtr returns a pointer to v. Convenience for building records.
func FloatPtr(v float64) *float64 { return &v }

// UintPtr returns a pointer to v.
func UintPtr(v uint64) *uint64 { return &v }

// Sanitize enforces the record invariants: without lock only the lock flag
// survives, and non-finite numeric values are dropped.
func (r Record) Sanitize() Record {
	if !r.Lock {
		return Record{Lock: false}
	}
	out := Record{Lock: true, PktErr: r.PktErr}
	out.Level = finiteOrNil(r.Level)
	out.SNR = finiteOrNil(r.SNR)
	out.BER = finiteOrNil(r.BER)
	out.FER = finiteOrNil(r.FER)
	out.Quality = finiteOrNil(r.Quality)
	return out
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// Fields returns the typed view: one entry per present field. This is what
// the local HTTP reader serializes.
func (r Record) Fields() map[string]any {
	out := map[string]any{"lock": r.Lock}
	if r.Level != nil {
		out["level"] = *r.Level
	}
	if r.SNR != nil {
		out["snr"] = *r.SNR
	}
	if r.BER != nil {
		out["ber"] = *r.BER
	}
	if r.FER != nil {
		out["fer"] = *r.FER
	}
	if r.Quality != nil {
		out["quality"] = *r.Quality
	}
	if r.PktErr != nil {
		out["pkt_err"] = *r.PktErr
	}
	return out
}
