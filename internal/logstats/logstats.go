// Package logstats analyzes receiver log files written by the monitor loop.
package logstats

import (
	"bufio"
	"math"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"

	"satmon/internal/metrics"
)

// Summary is a basic statistics snapshot of one log window.
type Summary struct {
	Count     int
	From      time.Time
	To        time.Time
	LockPct   float64
	AvgLevel  float64
	MinLevel  float64
	MaxLevel  float64
	AvgSNR    float64
	MinSNR    float64
	MaxSNR    float64
	P5SNR     float64 // low tail; the interesting end for a downlink
	AvgBER    float64
	MaxPktErr uint64
}

// ParseFile reads one receiver log. Unparseable lines (e.g. a truncated tail
// after a crash) are skipped.
func ParseFile(path string) ([]metrics.ParsedLine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open log")
	}
	defer file.Close()

	var entries []metrics.ParsedLine
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := metrics.ParseLine(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read log")
	}
	return entries, nil
}

// WindowStart maps a wall-clock "now" into the zone-less frame log
// timestamps are parsed in, then backs off by the window. Log lines carry no
// zone marker: they hold UTC wall time when the monitor ran with UTC
// rendering, local wall time otherwise.
func WindowStart(now time.Time, window time.Duration, utcLogs bool) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	if utcLogs {
		now = now.UTC()
	} else {
		now = now.Local()
	}
	wall := time.Date(now.Year(), now.Month(), now.Day(),
		now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
	return wall.Add(-window)
}

// Summarize computes summary statistics for entries in a time window.
func Summarize(entries []metrics.ParsedLine, since time.Time) Summary {
	filtered := make([]metrics.ParsedLine, 0, len(entries))
	for _, e := range entries {
		if e.Time.After(since) || e.Time.Equal(since) {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	var locked int
	var levels, snrs, bers []float64
	var maxPktErr uint64
	from := filtered[0].Time
	to := filtered[0].Time

	for _, e := range filtered {
		if e.Lock {
			locked++
		}
		if v, ok := e.Values["level"]; ok {
			levels = append(levels, v.Value)
		}
		if v, ok := e.Values["snr"]; ok {
			snrs = append(snrs, v.Value)
		}
		if v, ok := e.Values["ber"]; ok {
			bers = append(bers, v.Value)
		}
		if v, ok := e.Values["pkt_err"]; ok && uint64(v.Value) > maxPktErr {
			maxPktErr = uint64(v.Value)
		}
		if e.Time.Before(from) {
			from = e.Time
		}
		if e.Time.After(to) {
			to = e.Time
		}
	}

	s := Summary{
		Count:     len(filtered),
		From:      from,
		To:        to,
		LockPct:   100 * float64(locked) / float64(len(filtered)),
		MaxPktErr: maxPktErr,
	}
	s.AvgLevel, s.MinLevel, s.MaxLevel = spread(levels)
	s.AvgSNR, s.MinSNR, s.MaxSNR = spread(snrs)
	s.AvgBER, _, _ = spread(bers)

	sorted := append([]float64(nil), snrs...)
	sort.Float64s(sorted)
	s.P5SNR = percentile(sorted, 0.05)
	return s
}

func spread(values []float64) (avg, min, max float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	min = math.MaxFloat64
	max = -math.MaxFloat64
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return sum / float64(len(values)), min, max
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
