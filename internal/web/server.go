// Package web serves the admin API and the UI event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"efbgps/internal/clients"
	"efbgps/internal/efb"
	"efbgps/internal/gps"
	"efbgps/internal/sensor"
)

// Core is the part of efb.Service the web layer drives.
type Core interface {
	Status() efb.Status
	Clients() []clients.Client
	SetClientEnabled(key string, enabled bool) error
	ClearAllClients()
	DisableAllAndStop()
	ObserveLocation(fn func(sensor.Location)) (cancel func())
	ObserveSatellites(fn func([]sensor.Satellite)) (cancel func())
	ObserveClients(fn func([]clients.Client)) (cancel func())
}

// GPSStatus reports the receiver state for /api/status.
type GPSStatus interface {
	Snapshot() gps.Snapshot
}

type Options struct {
	DeviceName string
	Core       Core
	// GPS and Logs are optional.
	GPS  GPSStatus
	Logs *LogBuffer
}

type handlers struct {
	core       Core
	gps        GPSStatus
	logBuf     *LogBuffer
	deviceName string
	started    time.Time
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

func Handler(opts Options, logger zerolog.Logger) http.Handler {
	h := &handlers{
		core:       opts.Core,
		gps:        opts.GPS,
		logBuf:     opts.Logs,
		deviceName: opts.DeviceName,
		started:    time.Now().UTC(),
		log:        logger.With().Str("module", "web").Logger(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			// The admin UI is served from wherever the operator opens it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/about", h.about)
		r.Get("/logs", h.logs)
		r.Get("/clients", h.listClients)
		r.Delete("/clients", h.clearClients)
		r.Post("/clients/{key}/enable", h.setEnabled(true))
		r.Post("/clients/{key}/disable", h.setEnabled(false))
		r.Post("/stop", h.stop)
		r.Get("/stream", h.stream)
	})
	return r
}

func (h *handlers) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

func (h *handlers) listClients(w http.ResponseWriter, r *http.Request) {
	list := h.core.Clients()
	if list == nil {
		list = []clients.Client{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) clearClients(w http.ResponseWriter, r *http.Request) {
	h.core.ClearAllClients()
	writeOK(w)
}

func (h *handlers) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := url.PathUnescape(chi.URLParam(r, "key"))
		if err != nil {
			http.Error(w, "bad client key", http.StatusBadRequest)
			return
		}
		err = h.core.SetClientEnabled(key, enabled)
		switch {
		case errors.Is(err, clients.ErrUnknownClient):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, efb.ErrInvalidKey):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			writeOK(w)
		}
	}
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	h.core.DisableAllAndStop()
	writeOK(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{\"ok\":true}\n"))
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info().Str("module", "web").Str("addr", listenAddr).Msg("http listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
