// Package logwriter appends rendered receiver samples to a per-run log file.
package logwriter

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const nameLayout = "20060102-150405"

// Writer appends lines to logs/<start-time>.log under the config directory.
// The file is created lazily on the first append and only ever appended to.
type Writer struct {
	dir  string
	path string
	file *os.File
	log  *logrus.Entry
}

// New returns a writer that will create its file under dir on first use.
func New(dir string, log *logrus.Entry) *Writer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Writer{dir: dir, log: log}
}

// Path returns the log file path, or empty before the first append.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one line plus newline.
func (w *Writer) Append(line string) error {
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	if _, err := w.file.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "append log line")
	}
	return nil
}

func (w *Writer) open() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrap(err, "create log dir")
	}
	w.path = filepath.Join(w.dir, time.Now().Format(nameLayout)+".log")
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	w.file = f
	w.log.WithField("path", w.path).Info("saving receiver logs")
	return nil
}

// Close releases the underlying file, if open.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
