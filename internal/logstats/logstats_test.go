package logstats

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"satmon/internal/metrics"
)

func renderLines(t *testing.T, snaps []metrics.Snapshot) string {
	t.Helper()
	var b strings.Builder
	for _, s := range snaps {
		b.WriteString(metrics.Render(s, true))
		b.WriteString("\n")
	}
	return b.String()
}

func sampleSnapshots() []metrics.Snapshot {
	base := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)
	return []metrics.Snapshot{
		{Time: base, Record: metrics.Record{Lock: false}},
		{Time: base.Add(time.Second), Record: metrics.Record{
			Lock:   true,
			Level:  metrics.FloatPtr(-48.26),
			SNR:    metrics.FloatPtr(7.40),
			BER:    metrics.FloatPtr(3.00e-05),
			PktErr: metrics.UintPtr(4),
		}},
		{Time: base.Add(2 * time.Second), Record: metrics.Record{
			Lock:   true,
			Level:  metrics.FloatPtr(-50.00),
			SNR:    metrics.FloatPtr(9.00),
			BER:    metrics.FloatPtr(1.00e-05),
			PktErr: metrics.UintPtr(7),
		}},
	}
}

func TestParseFileSkipsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "receiver.log")
	content := renderLines(t, sampleSnapshots()) + "2024-05-06 07:00:03  Lo" // truncated tail
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Lock {
		t.Error("first entry should be unlocked")
	}
	if v := entries[1].Values["level"]; v.Value != -48.26 || v.Unit != "dBm" {
		t.Errorf("level = %+v", v)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "receiver.log")
	if err := os.WriteFile(path, []byte(renderLines(t, sampleSnapshots())), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	s := Summarize(entries, time.Time{})
	if s.Count != 3 {
		t.Fatalf("count = %d", s.Count)
	}
	if s.LockPct < 66 || s.LockPct > 67 {
		t.Errorf("lock pct = %.2f", s.LockPct)
	}
	if math.Abs(s.AvgLevel-(-49.13)) > 1e-9 {
		t.Errorf("avg level = %v", s.AvgLevel)
	}
	if s.MinSNR != 7.4 || s.MaxSNR != 9.0 {
		t.Errorf("snr min/max = %v/%v", s.MinSNR, s.MaxSNR)
	}
	if s.P5SNR != 7.4 {
		t.Errorf("p5 snr = %v", s.P5SNR)
	}
	if s.MaxPktErr != 7 {
		t.Errorf("max pkt err = %d", s.MaxPktErr)
	}
	if !s.From.Before(s.To) {
		t.Errorf("window %v..%v", s.From, s.To)
	}
}

func TestSummarizeWindow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "receiver.log")
	if err := os.WriteFile(path, []byte(renderLines(t, sampleSnapshots())), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	since := time.Date(2024, 5, 6, 7, 0, 2, 0, time.UTC)
	s := Summarize(entries, since)
	if s.Count != 1 {
		t.Fatalf("count = %d, want 1", s.Count)
	}
	if s.LockPct != 100 {
		t.Errorf("lock pct = %v", s.LockPct)
	}
}

func TestWindowStart(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("East", 2*3600)
	now := time.Date(2024, 5, 6, 10, 0, 30, 500, zone) // 08:00:30 UTC

	if got := WindowStart(now, 0, false); !got.IsZero() {
		t.Errorf("zero window start = %v, want zero time", got)
	}

	// UTC logs: the cutoff carries the UTC wall clock.
	got := WindowStart(now, time.Minute, true)
	want := time.Date(2024, 5, 6, 7, 59, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("utc window start = %v, want %v", got, want)
	}

	// Local-time logs: the cutoff carries the same wall clock the log lines
	// were rendered with, so a +02:00 zone must not skew the window.
	gotLocal := WindowStart(now, time.Minute, false)
	nowLocal := now.Local()
	wantLocal := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(),
		nowLocal.Hour(), nowLocal.Minute(), nowLocal.Second(), 0, time.UTC).Add(-time.Minute)
	if !gotLocal.Equal(wantLocal) {
		t.Errorf("local window start = %v, want %v", gotLocal, wantLocal)
	}
	if gotLocal.Location() != time.UTC {
		t.Errorf("window start location = %v, want the parser's zone-less frame", gotLocal.Location())
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil, time.Time{})
	if s.Count != 0 {
		t.Fatalf("count = %d", s.Count)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "receiver.log")
	if err := os.WriteFile(path, []byte(renderLines(t, sampleSnapshots())), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, entries); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(records))
	}
	if records[0][0] != "timestamp" || records[0][2] != "level_dbm" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][1] != "false" || records[1][2] != "" {
		t.Errorf("unlocked row = %v", records[1])
	}
	if records[2][1] != "true" || records[2][2] != "-48.26" {
		t.Errorf("locked row = %v", records[2])
	}
	if records[2][7] != "4" {
		t.Errorf("pkt_err cell = %q", records[2][7])
	}
}
