package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"satmon/internal/metrics"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 60 * time.Second

// Server is the local debugging surface: GET or HEAD on / returns the typed
// view of the current record as JSON. Unauthenticated, bound to all
// interfaces, and fully decoupled from the sample loop.
type Server struct {
	store *metrics.Store
	srv   *http.Server
	log   *logrus.Entry
}

// NewServer builds the reader on the given port.
func NewServer(store *metrics.Store, port uint16, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{store: store, log: log}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodHead {
			return
		}
		// Before the first publish there is no record to describe, not even
		// an unlocked one.
		fields := map[string]any{}
		if snap, ok := s.store.Snapshot(); ok {
			fields = snap.Record.Fields()
		}
		if err := json.NewEncoder(w).Encode(fields); err != nil {
			s.log.WithError(err).Debug("write reader response")
		}
	})
	return mux
}

// Run serves until the context ends, then shuts down with a bounded grace
// period for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("monitoring reader listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.srv.Shutdown(shutCtx)
}
