// Package inbox reads the locally-held queue of satellite broadcast messages
// addressed to this receiver. The downstream decryption pipeline drops one
// file per message into the inbox directory; this package only consumes them.
package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Fallback rescan period, in case a write races the watcher setup.
const pollFallback = 10 * time.Second

// Dir is a directory-backed inbox. Messages already consumed in this process
// are skipped; duplicates across restarts are the registrar's problem and are
// explicitly permitted by the handshake.
type Dir struct {
	dir     string
	watcher *fsnotify.Watcher
	seen    map[string]bool
	log     *logrus.Entry
}

// Open prepares the inbox directory and starts watching it.
func Open(dir string, log *logrus.Entry) (*Dir, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create inbox dir")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "watch inbox dir")
	}
	return &Dir{dir: dir, watcher: watcher, seen: map[string]bool{}, log: log}, nil
}

// Next blocks until an unconsumed message is available or ctx ends.
func (d *Dir) Next(ctx context.Context) ([]byte, error) {
	for {
		if data, ok := d.scan(); ok {
			return data, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.watcher.Events:
		case err := <-d.watcher.Errors:
			d.log.WithError(err).Warn("inbox watcher error")
		case <-time.After(pollFallback):
		}
	}
}

func (d *Dir) scan() ([]byte, bool) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.WithError(err).Warn("inbox scan failed")
		return nil, false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if d.seen[name] {
			continue
		}
		d.seen[name] = true
		data, err := os.ReadFile(filepath.Join(d.dir, name))
		if err != nil {
			d.log.WithError(err).WithField("msg", name).Warn("skipping unreadable inbox message")
			continue
		}
		return data, true
	}
	return nil, false
}

// Close stops the watcher.
func (d *Dir) Close() error {
	return d.watcher.Close()
}
