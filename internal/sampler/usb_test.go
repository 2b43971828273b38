package sampler

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestParseZapLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
		ok   bool
		lock bool
		want map[string]float64
	}{
		{
			name: "locked with metrics",
			line: "Lock   (0x1f) Signal= -48.26dBm C/N= 9.80dB postBER= 3.14x10^-5",
			ok:   true,
			lock: true,
			want: map[string]float64{"level": -48.26, "snr": 9.8, "ber": 3.14e-5},
		},
		{
			name: "quality percent",
			line: "Lock   (0x1f) Signal= -47.00dBm C/N= 10.00dB Quality= 96%",
			ok:   true,
			lock: true,
			want: map[string]float64{"level": -47, "snr": 10, "quality": 96},
		},
		{
			name: "comma decimal separator",
			line: "Lock   (0x1f) Signal= -48,26dBm C/N= 9,80dB",
			ok:   true,
			lock: true,
			want: map[string]float64{"level": -48.26, "snr": 9.8},
		},
		{
			name: "signal without lock",
			line: "       (0x00) Signal= -71.00dBm",
			ok:   true,
			lock: false,
		},
		{
			name: "per-layer line skipped",
			line: "  Layer A: Signal= -48.26dBm",
			ok:   false,
		},
		{
			name: "status line without signal",
			line: "Lock   (0x1f)",
			ok:   false,
		},
		{
			name: "blank",
			line: "   ",
			ok:   false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec, ok := ParseZapLine(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if rec.Lock != tc.lock {
				t.Fatalf("lock = %v, want %v", rec.Lock, tc.lock)
			}
			got := map[string]float64{}
			if rec.Level != nil {
				got["level"] = *rec.Level
			}
			if rec.SNR != nil {
				got["snr"] = *rec.SNR
			}
			if rec.BER != nil {
				got["ber"] = *rec.BER
			}
			if rec.Quality != nil {
				got["quality"] = *rec.Quality
			}
			if len(got) != len(tc.want) {
				t.Fatalf("parsed %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestParseUnitValue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		val  float64
		unit string
	}{
		{"-48.26dBm", -48.26, "dBm"},
		{"9.80dB", 9.8, "dB"},
		{"96%", 96, "%"},
		{"3.14x10^-5", 3.14e-5, ""},
		{"0", 0, ""},
	}
	for _, tc := range cases {
		v, unit, err := parseUnitValue(tc.raw)
		if err != nil {
			t.Errorf("parseUnitValue(%q): %v", tc.raw, err)
			continue
		}
		if v != tc.val || unit != tc.unit {
			t.Errorf("parseUnitValue(%q) = (%v, %q), want (%v, %q)", tc.raw, v, unit, tc.val, tc.unit)
		}
	}

	if _, _, err := parseUnitValue("garbage"); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestUSBSampleStream(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		"using demux 'dvb0.demux0'",
		"  Layer A: Signal= -48.26dBm",
		"Lock   (0x1f) Signal= -48.26dBm C/N= 9.80dB postBER= 3.14x10^-5",
	}, "\n")

	log, _ := logtest.NewNullLogger()
	u := &USB{
		started: true,
		wait:    func() error { return nil },
		scanner: bufio.NewScanner(strings.NewReader(stream)),
		log:     logrus.NewEntry(log),
	}

	rec, err := u.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !rec.Lock || rec.Level == nil || *rec.Level != -48.26 {
		t.Fatalf("unexpected record %+v", rec)
	}

	// Stream end means the subprocess went away.
	if _, err := u.Sample(context.Background()); !errors.Is(err, ErrFatal) {
		t.Fatalf("err = %v, want ErrFatal", err)
	}
}
