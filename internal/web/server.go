// Package web serves the operator UI, the JSON API and the live telemetry
// stream.
package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"path"
	"time"

	"fusion-telemetry/internal/anomaly"
	"fusion-telemetry/internal/command"
	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/metrics"
	"fusion-telemetry/internal/telemetry"
)

//go:embed assets/*
var embeddedAssets embed.FS

type Options struct {
	Status   *Status
	Logs     *LogBuffer
	Hub      *hub.Hub[telemetry.FusedEstimate]
	Commands CommandSubmitter
	Anomaly  *anomaly.Cell
	Metrics  *metrics.Metrics
	// ConfigPath, when set, lets /api/settings persist changes.
	ConfigPath string
	// WriteTimeout bounds one WebSocket frame write.
	WriteTimeout time.Duration
	// Debug enables chatty per-message logging.
	Debug bool
}

type server struct {
	status       *Status
	hub          *hub.Hub[telemetry.FusedEstimate]
	commands     CommandSubmitter
	anomaly      *anomaly.Cell
	metrics      *metrics.Metrics
	writeTimeout time.Duration
	debug        bool
}

func (s *server) debugf(format string, args ...any) {
	if s.debug {
		log.Printf("debug: "+format, args...)
	}
}

func Handler(opts Options) http.Handler {
	s := &server{
		status:       opts.Status,
		hub:          opts.Hub,
		commands:     opts.Commands,
		anomaly:      opts.Anomaly,
		metrics:      opts.Metrics,
		writeTimeout: opts.WriteTimeout,
		debug:        opts.Debug,
	}
	if s.status == nil {
		s.status = NewStatus()
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}

	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/anomaly", s.handleAnomaly)
	mux.Handle("/api/settings", SettingsStore{
		ConfigPath: opts.ConfigPath,
		Current:    s.status.Alpha,
		Apply: func(alpha float64) error {
			if s.commands == nil {
				return errNoCommandSink
			}
			return s.commands.Submit(command.SetAlpha{Alpha: alpha})
		},
	}.Handler())
	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}
	mux.HandleFunc("/ws", s.handleStream)
	s.attachDebug(mux)

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			if d := path.Dir(r.URL.Path); d == "/api" || d == "/assets" {
				http.NotFound(w, r)
				return
			}
		}
		if assetsFS == nil {
			http.Error(w, "ui unavailable; see /api/status", http.StatusServiceUnavailable)
			return
		}
		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.status.Snapshot(time.Now().UTC())
	if s.hub != nil {
		snap.Subscribers = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, snap)
}

// Serve binds listenAddr and serves h until ctx is done. A bind failure is
// returned immediately.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h)
}

func ServeListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	// No read or write timeout: stream connections are long-lived and
	// bound each frame write themselves.
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
		// Hijacked stream connections outlive Shutdown; deriving request
		// contexts from ctx ends them too.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	log.Printf("web listening addr=%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
