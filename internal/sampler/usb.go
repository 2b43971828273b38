package sampler

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/config"
	"satmon/internal/metrics"
)

// NoDriversCheckEnv bypasses the zap tool probe, for container use where the
// DVB drivers live on the host.
const NoDriversCheckEnv = "BLOCKSAT_NO_USB_DRIVERS_CHECK"

// USB samples through the external tuning tool, reading status lines from
// its stderr stream. The subprocess is started on the first sample and its
// exit is fatal.
type USB struct {
	cfg     *config.USBConfig
	log     *logrus.Entry
	started bool
	wait    func() error
	scanner *bufio.Scanner
}

// NewUSB builds the adapter. The zap subprocess starts on first use.
func NewUSB(cfg *config.USBConfig, log *logrus.Entry) *USB {
	return &USB{cfg: cfg, log: log}
}

func (u *USB) start(ctx context.Context) error {
	if os.Getenv(NoDriversCheckEnv) == "" {
		if _, err := exec.LookPath(u.cfg.ZapBinary); err != nil {
			return errors.Wrapf(ErrFatal, "%s not found", u.cfg.ZapBinary)
		}
	}

	cmd := exec.CommandContext(ctx, u.cfg.ZapBinary,
		"-c", u.cfg.ChannelConf,
		"-a", strconv.Itoa(u.cfg.Adapter),
		"-f", strconv.Itoa(u.cfg.Frontend),
		"-v", "blocksat-ch")
	// The C locale keeps the tool's diagnostic output parseable.
	cmd.Env = append(os.Environ(), "LC_ALL=C", "LANG=C")

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(ErrFatal, err.Error())
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(ErrFatal, err.Error())
	}
	u.started = true
	u.wait = cmd.Wait
	u.scanner = bufio.NewScanner(stderr)
	u.log.WithField("pid", cmd.Process.Pid).Info("zap running")
	return nil
}

// Sample blocks until the tool prints the next parseable status line.
func (u *USB) Sample(ctx context.Context) (metrics.Record, error) {
	if !u.started {
		if err := u.start(ctx); err != nil {
			return metrics.Record{}, err
		}
	}
	for u.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return metrics.Record{}, err
		}
		if rec, ok := ParseZapLine(u.scanner.Text()); ok {
			return rec, nil
		}
	}
	err := u.wait()
	return metrics.Record{}, errors.Wrapf(ErrFatal, "zap exited: %v", err)
}

var zapKeyMap = map[string]string{
	"Signal":  "level",
	"C/N":     "snr",
	"postBER": "ber",
	"Quality": "quality",
}

// ParseZapLine converts one stderr line from the tuning tool into a record.
// Lines without the Signal key-value pair, and the per-layer lines, carry no
// sample and yield ok=false.
func ParseZapLine(line string) (metrics.Record, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.Contains(line, "Layer") || !strings.Contains(line, "Signal") {
		return metrics.Record{}, false
	}

	rec := metrics.Record{Lock: strings.Contains(line, "Lock")}
	if !rec.Lock {
		return rec, true
	}

	elems := strings.Fields(line)
	for i, elem := range elems {
		if !strings.HasSuffix(elem, "=") || i+1 >= len(elems) {
			continue
		}
		key, ok := zapKeyMap[strings.TrimSuffix(elem, "=")]
		if !ok {
			continue
		}
		val, _, err := parseUnitValue(elems[i+1])
		if err != nil {
			continue
		}
		switch key {
		case "level":
			rec.Level = metrics.FloatPtr(val)
		case "snr":
			rec.SNR = metrics.FloatPtr(val)
		case "ber":
			rec.BER = metrics.FloatPtr(val)
		case "quality":
			rec.Quality = metrics.FloatPtr(val)
		}
	}
	return rec, true
}

// parseUnitValue parses values such as "-47.1dBm", "9.8dB", "100%", or
// "3.4x10^-5", returning the number and the unit suffix.
func parseUnitValue(raw string) (float64, string, error) {
	raw = strings.ReplaceAll(raw, "x10^", "e")
	raw = strings.ReplaceAll(raw, ",", ".")

	unit := ""
	switch {
	case strings.HasSuffix(raw, "dBm"):
		unit = "dBm"
	case strings.HasSuffix(raw, "dB"):
		unit = "dB"
	case strings.HasSuffix(raw, "%"):
		unit = "%"
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, unit), 64)
	if err != nil {
		return 0, "", errors.Wrapf(ErrMalformed, "value %q", raw)
	}
	return v, unit, nil
}
