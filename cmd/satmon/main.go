package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"

	"satmon/internal/config"
	"satmon/internal/defs"
	"satmon/internal/inbox"
	"satmon/internal/keyring"
	"satmon/internal/logstats"
	"satmon/internal/logwriter"
	"satmon/internal/metrics"
	"satmon/internal/monitor"
	"satmon/internal/registrar"
	"satmon/internal/registry"
	"satmon/internal/reporter"
	"satmon/internal/sampler"
)

const usage = `satmon - satellite receiver monitoring core

Usage:
  satmon monitor --cfg-dir <dir> [--receiver <kind>] [--log-file]
                 [--log-scrolling] [--log-interval <dur>]
                 [--monitoring-server] [--monitoring-port <n>]
                 [--report] [--report-dest <url>] [--report-hostname <s>]
                 [--report-passphrase <s>] [--utc]
  satmon stats --cfg-dir <dir> [--log <file>] [--window <dur>] [--utc]
  satmon export csv --cfg-dir <dir> [--log <file>] --out <file>
`

const defaultReportDest = "https://satellite.api.blockstream.space/monitoring"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "monitor":
		handleMonitor(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleMonitor(args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	cfgDir := fs.String("cfg-dir", defaultCfgDir(), "config directory")
	receiver := fs.String("receiver", "", "receiver kind override")
	logFile := fs.Bool("log-file", false, "append samples to a log file")
	scrolling := fs.Bool("log-scrolling", false, "one line per sample instead of overwriting")
	interval := fs.Duration("log-interval", monitor.DefaultInterval, "sample period")
	serveReader := fs.Bool("monitoring-server", false, "serve the current sample over HTTP")
	readerPort := fs.Uint("monitoring-port", defs.MonitorPort, "HTTP reader port")
	report := fs.Bool("report", false, "report samples to the monitoring registry")
	reportDest := fs.String("report-dest", defaultReportDest, "registry base URL")
	reportHostname := fs.String("report-hostname", "", "coarse receiver location for registration")
	reportPassphrase := fs.String("report-passphrase", "", "signing key passphrase (prompted when empty)")
	utc := fs.Bool("utc", false, "render timestamps in UTC")
	_ = fs.Parse(args)

	cfg, err := config.Load(*cfgDir)
	if err != nil {
		fatal(err)
	}
	if *receiver != "" {
		cfg.Receiver = *receiver
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	// In overwrite-echo mode the status line owns the terminal, so only
	// warnings get through.
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if !*scrolling {
		logrus.SetLevel(logrus.WarnLevel)
	}
	log := logrus.NewEntry(logrus.StandardLogger())

	smp, err := sampler.FromConfig(cfg, log)
	if err != nil {
		fatal(err)
	}

	store := metrics.NewStore()
	deps := monitor.Deps{
		Sampler: smp,
		Store:   store,
		Out:     os.Stdout,
	}
	if *logFile {
		deps.Writer = logwriter.New(config.LogDir(*cfgDir), log)
	}

	ctx, cancel := signalContext()
	defer cancel()

	regFailed := make(chan error, 1)
	if *report {
		defer memguard.Purge()

		keys, err := keyring.Open(config.GnupgDir(*cfgDir), log)
		if err != nil {
			fatal(err)
		}
		passphrase := *reportPassphrase
		if passphrase == "" {
			if passphrase, err = promptPassphrase(); err != nil {
				fatal(err)
			}
		}
		if err := keys.Unlock([]byte(passphrase)); err != nil {
			fatal(err)
		}

		box, err := inbox.Open(config.InboxDir(*cfgDir), log)
		if err != nil {
			fatal(err)
		}
		defer box.Close()

		reg := registrar.New(registry.NewClient(*reportDest), keys, box, registrar.Options{
			CfgDir:    *cfgDir,
			Address:   *reportHostname,
			Satellite: cfg.Satellite,
		}, log)
		go func() {
			if err := reg.Run(ctx); err != nil && ctx.Err() == nil {
				regFailed <- err
				cancel()
			}
		}()

		deps.Lock = reg
		deps.Reporter = reporter.New(registry.NewClient(*reportDest), keys, reg, store, log)
	}

	if *serveReader {
		srv := monitor.NewServer(store, uint16(*readerPort), log)
		go func() {
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("monitoring reader stopped")
			}
		}()
	}

	mon := monitor.New(deps, monitor.Options{
		Interval:  *interval,
		Echo:      true,
		Scrolling: *scrolling,
		UTC:       *utc,
	}, log)

	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	select {
	case err := <-regFailed:
		fmt.Fprintln(os.Stderr, err)
		closeWriter(deps.Writer)
		os.Exit(2)
	case err := <-monErr:
		closeWriter(deps.Writer)
		fatal(err)
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgDir := fs.String("cfg-dir", defaultCfgDir(), "config directory")
	logPath := fs.String("log", "", "receiver log file (latest when empty)")
	window := fs.Duration("window", 0, "time window (entire file when zero)")
	utc := fs.Bool("utc", false, "log was written with monitor --utc")
	_ = fs.Parse(args)

	path, err := resolveLogPath(*cfgDir, *logPath)
	if err != nil {
		fatal(err)
	}
	entries, err := logstats.ParseFile(path)
	if err != nil {
		fatal(err)
	}

	cutoff := logstats.WindowStart(time.Now(), *window, *utc)
	summary := logstats.Summarize(entries, cutoff)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}

	fmt.Fprintf(os.Stdout, "samples=%d from=%s to=%s\n",
		summary.Count, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "lock=%.1f%%\n", summary.LockPct)
	fmt.Fprintf(os.Stdout, "level avg=%.2fdBm min=%.2f max=%.2f\n",
		summary.AvgLevel, summary.MinLevel, summary.MaxLevel)
	fmt.Fprintf(os.Stdout, "snr avg=%.2fdB p5=%.2f min=%.2f max=%.2f\n",
		summary.AvgSNR, summary.P5SNR, summary.MinSNR, summary.MaxSNR)
	fmt.Fprintf(os.Stdout, "ber avg=%.2e pkt_err max=%d\n", summary.AvgBER, summary.MaxPktErr)
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	if args[0] != "csv" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", args[0])
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	cfgDir := fs.String("cfg-dir", defaultCfgDir(), "config directory")
	logPath := fs.String("log", "", "receiver log file (latest when empty)")
	out := fs.String("out", "", "output file")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}

	path, err := resolveLogPath(*cfgDir, *logPath)
	if err != nil {
		fatal(err)
	}
	entries, err := logstats.ParseFile(path)
	if err != nil {
		fatal(err)
	}

	file, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	defer file.Close()
	if err := logstats.WriteCSV(file, entries); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "exported %s\n", *out)
}

// resolveLogPath returns the explicit path, or the newest log under the
// config directory's log dir.
func resolveLogPath(cfgDir, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dir := config.LogDir(cfgDir)
	items, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read log dir: %w", err)
	}
	var logs []string
	for _, item := range items {
		if !item.IsDir() && strings.HasSuffix(item.Name(), ".log") {
			logs = append(logs, item.Name())
		}
	}
	if len(logs) == 0 {
		return "", fmt.Errorf("no receiver logs under %s", dir)
	}
	sort.Strings(logs)
	return filepath.Join(dir, logs[len(logs)-1]), nil
}

func defaultCfgDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".satmon"
	}
	return filepath.Join(home, ".satmon")
}

func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Signing key passphrase: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func closeWriter(w *logwriter.Writer) {
	if w == nil {
		return
	}
	_ = w.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
